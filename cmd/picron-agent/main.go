package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/picron-io/picron-agent/internal/api"
	"github.com/picron-io/picron-agent/internal/config"
	"github.com/picron-io/picron-agent/internal/control"
	"github.com/picron-io/picron-agent/internal/device"
	"github.com/picron-io/picron-agent/internal/journal"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/remote"
	"github.com/picron-io/picron-agent/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to a JSON or YAML agent config (defaults apply when empty)")
	subject    = flag.String("subject", "", "Remote subject identifier (factory_medicine_id)")
	apiBase    = flag.String("api", "", "Backend base URL")
	devMode    = flag.Bool("dev", false, "Run against the simulated sensor with presence driven through the local API")
	listen     = flag.String("listen", "", "Listen address for the local status API")
	journalDB  = flag.String("journal", "", "Path to the sqlite cycle journal (disabled when empty)")
	logJSON    = flag.Bool("log-json", false, "Write JSON logs instead of console output")
	logLevel   = flag.String("log-level", "info", "Minimum log level")
)

// applyFlags overrides config values with any non-empty flag.
func applyFlags(cfg *config.AgentConfig) {
	overrides := []struct {
		flag *string
		dst  **string
	}{
		{subject, &cfg.Subject},
		{apiBase, &cfg.APIBase},
		{listen, &cfg.Listen},
		{journalDB, &cfg.Journal},
	}
	for _, o := range overrides {
		if *o.flag != "" {
			*o.dst = o.flag
		}
	}
}

func loadConfig() (*config.AgentConfig, error) {
	cfg := config.DefaultAgentConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadAgentConfig(*configFile); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GetSubject() == "" {
		return nil, errors.New("a subject is required: set it in the config or with -subject")
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	monitoring.SetOutput(os.Stderr, *logJSON, level)
	log := monitoring.Stage("main")
	log.Info().Str("version", version.Version).Str("git_sha", version.GitSHA).Msg("picron-agent starting")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	rig, err := device.Open(cfg, device.Options{Dev: *devMode})
	if err != nil {
		log.Error().Err(err).Msg("failed to open hardware")
		os.Exit(1)
	}
	defer rig.Close()

	pipeline := rig.Pipeline(cfg.Sampling)
	client := remote.NewClient(cfg.GetAPIBase(), nil, cfg.GetHTTPTimeout())
	loop := control.New(client, pipeline, rig.Presence, rig.Access, rig.Clock(), control.Options{
		Subject:        cfg.GetSubject(),
		PollInterval:   cfg.GetPollInterval(),
		ResetCountdown: cfg.GetResetCountdown(),
		PresencePoll:   cfg.Sampling.GetPresencePoll(),
		PublishLive:    cfg.GetPublishLive(),
	})
	pipeline.OnState = loop.ObservePhase

	var sim api.PresenceSwitch
	if rig.Switch != nil {
		sim = rig.Switch
	}
	mux := api.NewServer(loop, sim).ServeMux()

	if path := cfg.GetJournal(); path != "" {
		jdb, err := journal.Open(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to open cycle journal")
			rig.Close()
			os.Exit(1)
		}
		defer jdb.Close()
		loop.SetRecorder(jdb)
		if err := jdb.AttachAdminRoutes(mux); err != nil {
			log.Warn().Err(err).Msg("journal admin routes unavailable")
		}
		log.Info().Str("path", path).Msg("cycle journal enabled")
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("control loop stopped")
		}
		log.Info().Msg("control loop terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}
		go func() {
			log.Info().Str("addr", server.Addr).Msg("local api listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("local api failed")
				stop()
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("local api shutdown error")
			if err := server.Close(); err != nil {
				log.Warn().Err(err).Msg("local api force close error")
			}
		}
		log.Info().Msg("local api stopped")
	}()

	wg.Wait()
	log.Info().Msg("graceful shutdown complete")
}
