package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	flag "github.com/spf13/pflag"

	"media-packager/internal/hls"
	"media-packager/internal/packager"
	"media-packager/internal/platform/config"
	"media-packager/internal/platform/logger"
	"media-packager/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

var (
	flagJob             string
	flagInput           string
	flagOutput          string
	flagContainer       string
	flagSegmentDuration float64
	flagSingleFile      bool
	flagServe           bool
	flagHelp            bool
)

func init() {
	flag.StringVarP(&flagJob, "job", "j", "", "YAML job file")
	flag.StringVarP(&flagInput, "input", "i", "", "Input MP4 file (overrides the job file)")
	flag.StringVarP(&flagOutput, "output", "o", "", "Output directory (overrides the job file)")
	flag.StringVarP(&flagContainer, "container", "c", "", "Segment container, ts or fmp4")
	flag.Float64VarP(&flagSegmentDuration, "segment-duration", "d", 0, "Segment duration, in seconds")
	flag.BoolVarP(&flagSingleFile, "single-file", "", false, "Write one fMP4 file per stream addressed by byte ranges")
	flag.BoolVarP(&flagServe, "serve", "s", false, "Serve playlists, media and /metrics until interrupted")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `Packages an MP4 file into HLS renditions.

Usage: packager [OPTION]...

Options:
%s
Environment:
  PORT                 HTTP port in serve mode (default: 8080)
  SLIDING_WINDOW_SIZE  Live playlist window while packaging (default: job value)
  LOG_LEVEL            debug, info, warn or error (default: info)
  LOG_FORMAT           json or text (default: json)
  STRICT_LISTENERS     Panic on listener contract violations (default: false)
`

func main() {
	flag.Parse()
	if flagHelp {
		fmt.Printf(helpString, flag.CommandLine.FlagUsages())
		return
	}

	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.NewWithWriter(os.Stderr, logLevel, logFormat)

	job, err := loadJob()
	if err != nil {
		log.Error("invalid job", "error", err)
		os.Exit(2)
	}

	met := metrics.New()
	p, err := packager.New(job, packager.Options{Logger: log, Metrics: met})
	if err != nil {
		log.Error("build pipeline", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !flagServe {
		if err := p.Run(ctx); err != nil {
			log.Error("packaging failed", "error", err)
			os.Exit(1)
		}
		return
	}

	srv := &http.Server{Addr: ":" + port, Handler: router(p, job.OutputDir, log, met)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()
	log.Info("server starting", "port", port, "run_id", p.RunID, "output", job.OutputDir)

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("packaging failed", "error", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// loadJob reads the job file, if any, and applies flag and environment
// overrides.
func loadJob() (*config.Job, error) {
	job := config.DefaultJob()
	if flagJob != "" {
		var err error
		if job, err = config.LoadJob(flagJob); err != nil {
			return nil, err
		}
	}
	if flagInput != "" {
		job.Input = flagInput
	}
	if flagOutput != "" {
		job.OutputDir = flagOutput
	}
	if flagContainer != "" {
		job.Container = flagContainer
	}
	if flagSegmentDuration > 0 {
		job.SegmentDuration = flagSegmentDuration
	}
	if flag.CommandLine.Changed("single-file") {
		job.SingleFile = flagSingleFile
	}
	job.WindowSize = config.GetEnvInt("SLIDING_WINDOW_SIZE", job.WindowSize)
	job.Strict = config.GetEnvBool("STRICT_LISTENERS", job.Strict)
	return job, job.Validate()
}

func router(p *packager.Job, dir string, log *slog.Logger, met *metrics.Metrics) http.Handler {
	h := hls.NewHandler(p.Service(), log, met)
	repo := p.Repository()

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met, "/metrics"))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveStreams(repo.ActiveStreamCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(dir))))
	return r
}
