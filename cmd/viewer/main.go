package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camviewer/internal/control"
	"camviewer/internal/platform/config"
	"camviewer/internal/platform/logger"
	"camviewer/internal/platform/metrics"
	"camviewer/internal/playback"
	"camviewer/internal/render"
	"camviewer/internal/rtc"
	signalapi "camviewer/internal/signal"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	apiBaseURL := config.GetEnv("API_BASE_URL", "http://localhost:9000")
	apiToken := config.GetEnv("API_TOKEN", "")
	streamID := config.GetEnv("STREAM_ID", "")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	liveThreshold := config.GetEnvDuration("LIVE_THRESHOLD", playback.DefaultLiveThreshold)
	maxErrors := config.GetEnvInt("MAX_CONSECUTIVE_ERRORS", playback.DefaultMaxConsecutiveErrors)

	log := logger.New(logLevel, logFormat)

	if streamID == "" {
		log.Error("STREAM_ID is required")
		os.Exit(1)
	}

	met := metrics.New()
	api := signalapi.NewClient(apiBaseURL, apiToken, nil, logger.Component(log, "signal"))
	sink := render.NewSink(logger.Component(log, "render"), met)

	session := playback.NewSessionController(playback.SessionControllerConfig{
		API:        api,
		Transports: rtc.NewFactory(logger.Component(log, "rtc")),
		Surface:    sink,
		Logger:     logger.Component(log, "consumer"),
		Metrics:    met,
	})
	player := playback.NewSegmentPlayer(playback.SegmentPlayerConfig{
		IndexURL: func(f signalapi.SourceFilter) string {
			return api.SegmentIndexURL(streamID, f)
		},
		Surface:              sink,
		Logger:               logger.Component(log, "segments"),
		Metrics:              met,
		MaxConsecutiveErrors: maxErrors,
	})
	arbiter := playback.NewArbiter(playback.ArbiterConfig{
		StreamID:      streamID,
		Live:          session,
		Historical:    player,
		Surface:       sink,
		Dates:         playback.NewDateIndex(api, streamID, 0, nil),
		Logger:        logger.Component(log, "arbiter"),
		Metrics:       met,
		LiveThreshold: liveThreshold,
	})

	h := control.NewHandler(arbiter, session, player, sink, logger.Component(log, "control"))

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(nil).ServeHTTP(w, req)
	})
	r.Route("/session", func(r chi.Router) {
		h.Routes(r)
	})

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	arbiter.Start(startCtx)
	startCancel()

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("viewer starting",
		"port", port,
		"stream_id", streamID,
		"api_base_url", apiBaseURL,
		"live_threshold", liveThreshold.String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, closing session")

	// Session teardown first: the remote consumer must be released even
	// though the process is going away.
	arbiter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("viewer stopped")
}
