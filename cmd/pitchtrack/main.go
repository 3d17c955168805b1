// Command pitchtrack runs the multi-object tracker over JSONL detection
// files, one stream per file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/pitchtrack/internal/config"
	"github.com/banshee-data/pitchtrack/internal/monitoring"
	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
	"github.com/banshee-data/pitchtrack/internal/mot/l6kinematics"
	"github.com/banshee-data/pitchtrack/internal/mot/monitor"
	"github.com/banshee-data/pitchtrack/internal/mot/pipeline"
	"github.com/banshee-data/pitchtrack/internal/mot/storage/sqlite"
	"github.com/banshee-data/pitchtrack/internal/security"
	"github.com/banshee-data/pitchtrack/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a tuning config JSON file (default: built-in defaults)")
	outDir      = flag.String("out-dir", "", "Directory for <stream>.tracks.jsonl output (empty disables)")
	dbFile      = flag.String("db", "", "Path to the SQLite track store (empty disables)")
	listen      = flag.String("listen", "", "HTTP listen address for the monitor, e.g. :8082 (empty disables)")
	plotDir     = flag.String("plot", "", "Directory for per-stream trajectory PNGs (empty disables)")
	kinematics  = flag.Bool("kinematics", false, "Estimate player speed and distance")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options is the parsed command line.
type options struct {
	configFile string
	outDir     string
	dbFile     string
	listen     string
	plotDir    string
	kinematics bool
	inputs     []string
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] detections.jsonl...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		configFile: *configFile,
		outDir:     *outDir,
		dbFile:     *dbFile,
		listen:     *listen,
		plotDir:    *plotDir,
		kinematics: *kinematics,
		inputs:     flag.Args(),
	}
	if err := run(ctx, opts, prometheus.DefaultRegisterer); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pitchtrack: %v", err)
	}
}

// streamName derives a stream name from an input file path.
func streamName(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".jsonl", ".ndjson", ".json"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// closers collects finalisers, run in reverse registration order.
type closers struct {
	mu  sync.Mutex
	fns []func() error
}

func (c *closers) add(fn func() error) {
	c.mu.Lock()
	c.fns = append(c.fns, fn)
	c.mu.Unlock()
}

func (c *closers) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.fns = nil
	return errors.Join(errs...)
}

func run(ctx context.Context, opts options, reg prometheus.Registerer) (err error) {
	tuning, err := loadTuning(opts.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := pipeline.ConfigFromTuning(tuning)
	if err != nil {
		return err
	}

	var cleanup closers
	defer func() {
		if cerr := cleanup.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	streams := make(map[string]l1detections.Source, len(opts.inputs))
	for _, path := range opts.inputs {
		name := streamName(path)
		if _, dup := streams[name]; dup {
			return fmt.Errorf("duplicate stream name %q from %s", name, path)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open detections: %w", err)
		}
		cleanup.add(f.Close)
		streams[name] = l1detections.NewReader(f)
	}
	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}
	sort.Strings(names)

	var store *sqlite.Store
	if opts.dbFile != "" {
		store, err = sqlite.Open(opts.dbFile)
		if err != nil {
			return err
		}
		cleanup.add(store.Close)
	}

	estimators := make(map[string]*l6kinematics.Estimator)
	if opts.kinematics {
		kcfg := l6kinematics.ConfigFromTuning(tuning)
		for _, name := range names {
			est, err := l6kinematics.NewEstimator(kcfg)
			if err != nil {
				return fmt.Errorf("kinematics: %w", err)
			}
			estimators[name] = est
		}
	}

	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	metrics, err := monitoring.NewMetrics(reg)
	if err != nil {
		return err
	}
	board := monitor.NewBoard(tuning.GetTrailLength())

	var serverDone chan error
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if opts.listen != "" {
		mux := http.NewServeMux()
		srv := monitor.NewServer(monitor.ServerConfig{
			Board:      board,
			Store:      store,
			Kinematics: estimators,
		})
		if err := srv.AttachRoutes(mux); err != nil {
			return err
		}
		serverDone = make(chan error, 1)
		go func() { serverDone <- monitor.Start(serverCtx, opts.listen, mux) }()
	}

	factory := func(stream string) ([]pipeline.Sink, error) {
		var sinks []pipeline.Sink
		if opts.outDir != "" {
			path := filepath.Join(opts.outDir, security.SanitizeFilename(stream)+".tracks.jsonl")
			f, err := os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("create output: %w", err)
			}
			w := pipeline.NewJSONLWriter(f, stream)
			cleanup.add(func() error {
				if err := w.Flush(); err != nil {
					f.Close()
					return fmt.Errorf("flush %s: %w", path, err)
				}
				return f.Close()
			})
			sinks = append(sinks, w)
		}
		if store != nil {
			r, err := store.StartRun(ctx, stream, tuning)
			if err != nil {
				return nil, err
			}
			monitoring.Logf("[%s] recording run %s", stream, r.ID)
			cleanup.add(func() error { return r.Finish(context.Background()) })
			sinks = append(sinks, r)
		}
		if est, ok := estimators[stream]; ok {
			sinks = append(sinks, est)
		}
		return sinks, nil
	}

	monitoring.Logf("tracking %d stream(s): %s", len(names), strings.Join(names, ", "))
	if err := pipeline.RunStreams(ctx, streams, cfg, board.SinkFactory(factory), pipeline.WithMetrics(metrics)); err != nil {
		return err
	}

	for _, name := range names {
		v, _ := board.Latest(name)
		monitoring.Logf("[%s] %d frames, last frame %d, %d tracks on screen", name, v.Frames, v.Frame, len(v.Tracks))
		if est, ok := estimators[name]; ok {
			for _, st := range est.Stats() {
				monitoring.Logf("[%s] track %d: %.1f m, avg %.1f km/h, max %.1f km/h",
					name, st.TrackID, st.TotalDistance, st.AvgSpeed, st.MaxSpeed)
			}
		}
		if opts.plotDir != "" {
			trails, _ := board.Trails(name)
			path := filepath.Join(opts.plotDir, security.SanitizeFilename(name)+".png")
			if err := monitor.PlotTrails(trails, name, path); err != nil {
				return err
			}
			monitoring.Logf("[%s] wrote %s", name, path)
		}
	}

	if serverDone != nil {
		monitoring.Logf("tracking finished; monitor serving on %s until interrupted", opts.listen)
		select {
		case err := <-serverDone:
			return err
		case <-ctx.Done():
			stopServer()
			return <-serverDone
		}
	}
	return nil
}
