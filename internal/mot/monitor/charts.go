package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pitchtrack/internal/httputil"
)

// handleTrailChart renders the trails of one stream as an HTML scatter
// chart in image coordinates.
func (s *Server) handleTrailChart(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.streamParam(w, r)
	if !ok {
		return
	}
	trails, ok := s.board.Trails(stream)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown stream %q", stream))
		return
	}

	var buf bytes.Buffer
	if err := renderTrailChart(&buf, stream, trails); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderTrailChart(buf *bytes.Buffer, stream string, trails []Trail) error {
	points := 0
	for _, tr := range trails {
		points += len(tr.Points)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Track trails", Width: "1200px", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Track trails", Subtitle: fmt.Sprintf("stream=%s tracks=%d points=%d", stream, len(trails), points)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "y (px)", NameLocation: "middle", NameGap: 30}),
	)
	for _, tr := range trails {
		data := make([]opts.ScatterData, 0, len(tr.Points))
		for _, p := range tr.Points {
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Frame}})
		}
		name := fmt.Sprintf("#%d", tr.TrackID)
		if tr.Class != "" {
			name = fmt.Sprintf("#%d %s", tr.TrackID, tr.Class)
		}
		scatter.AddSeries(name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}
	return scatter.Render(buf)
}
