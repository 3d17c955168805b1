package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pitchtrack/internal/httputil"
	"github.com/banshee-data/pitchtrack/internal/monitoring"
	"github.com/banshee-data/pitchtrack/internal/mot/l6kinematics"
	"github.com/banshee-data/pitchtrack/internal/mot/storage/sqlite"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ServerConfig contains the data sources exposed by the server. Only
// Board is required.
type ServerConfig struct {
	Board      *Board
	Gatherer   prometheus.Gatherer // nil uses prometheus.DefaultGatherer
	Store      *sqlite.Store       // Enables /api/runs and tailsql
	Kinematics map[string]*l6kinematics.Estimator
}

// Server is the HTTP front end of a Board.
type Server struct {
	board      *Board
	gatherer   prometheus.Gatherer
	store      *sqlite.Store
	kinematics map[string]*l6kinematics.Estimator
}

// NewServer creates a server over cfg.
func NewServer(cfg ServerConfig) *Server {
	g := cfg.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Server{
		board:      cfg.Board,
		gatherer:   g,
		store:      cfg.Store,
		kinematics: cfg.Kinematics,
	}
}

// AttachRoutes registers the server's handlers on mux, including the
// tsweb debug page under /debug/.
func (s *Server) AttachRoutes(mux *http.ServeMux) error {
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/streams", s.handleStreams)
	mux.HandleFunc("/api/tracks", s.handleTracks)
	mux.HandleFunc("/api/trails", s.handleTrails)
	mux.HandleFunc("/api/kinematics", s.handleKinematics)
	mux.HandleFunc("/api/runs", s.handleRuns)

	debug := tsweb.Debugger(mux)
	debug.Handle("trails", "Track trajectories (echarts)", http.HandlerFunc(s.handleTrailChart))
	if s.store != nil {
		tsql, err := tailsql.NewServer(tailsql.Options{
			RoutePrefix: "/debug/tailsql/",
		})
		if err != nil {
			return fmt.Errorf("create tailsql server: %w", err)
		}
		tsql.SetDB("sqlite://tracks.db", s.store.DB(), &tailsql.DBOptions{
			Label: "Track DB",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}
	return nil
}

// Start serves mux on addr until ctx is cancelled.
func Start(ctx context.Context, addr string, mux *http.ServeMux) error {
	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := srv.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

type streamSummary struct {
	Stream  string    `json:"stream"`
	Frame   int64     `json:"frame"`
	Frames  int64     `json:"frames"`
	Tracks  int       `json:"tracks"`
	Updated time.Time `json:"updated"`
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	out := []streamSummary{}
	for _, name := range s.board.Streams() {
		v, ok := s.board.Latest(name)
		if !ok {
			continue
		}
		out = append(out, streamSummary{
			Stream: name, Frame: v.Frame, Frames: v.Frames, Tracks: len(v.Tracks), Updated: v.Updated,
		})
	}
	httputil.WriteJSONOK(w, out)
}

// streamParam returns the stream query parameter, defaulting to the only
// stream when there is exactly one.
func (s *Server) streamParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		names := s.board.Streams()
		if len(names) != 1 {
			httputil.BadRequest(w, "missing 'stream' parameter")
			return "", false
		}
		stream = names[0]
	}
	return stream, true
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.streamParam(w, r)
	if !ok {
		return
	}
	v, ok := s.board.Latest(stream)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown stream %q", stream))
		return
	}
	httputil.WriteJSONOK(w, v)
}

func (s *Server) handleTrails(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.streamParam(w, r)
	if !ok {
		return
	}
	trails, ok := s.board.Trails(stream)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown stream %q", stream))
		return
	}
	httputil.WriteJSONOK(w, trails)
}

func (s *Server) handleKinematics(w http.ResponseWriter, r *http.Request) {
	if len(s.kinematics) == 0 {
		httputil.NotFound(w, "kinematics disabled")
		return
	}
	stream, ok := s.streamParam(w, r)
	if !ok {
		return
	}
	est, ok := s.kinematics[stream]
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown stream %q", stream))
		return
	}
	httputil.WriteJSONOK(w, est.Stats())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.NotFound(w, "no track store attached")
		return
	}
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		tracks, err := s.store.RunTracks(r.Context(), runID)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, tracks)
		return
	}
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}
