package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/api"
	"github.com/lorawan-server/lorawan-device-simulator/internal/config"
	"github.com/lorawan-server/lorawan-device-simulator/internal/device"
	"github.com/lorawan-server/lorawan-device-simulator/internal/gateway"
	"github.com/lorawan-server/lorawan-device-simulator/internal/integration"
	"github.com/lorawan-server/lorawan-device-simulator/internal/server"
	"github.com/lorawan-server/lorawan-device-simulator/internal/simulator"
	"github.com/lorawan-server/lorawan-device-simulator/internal/storage"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

func main() {
	var configPath = flag.String("config", config.DefaultFile, "path to the configuration file")
	var validateOnly = flag.Bool("validate", false, "validate the configuration and exit")
	var showConfig = flag.Bool("show-config", false, "print the configuration summary and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("load config")
	}
	setupLogging(cfg.Log)

	if *showConfig || *validateOnly {
		cfg.PrintConfigSummary()
		if *validateOnly {
			fmt.Println("configuration OK")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("open frame log")
	}
	defer store.Close()

	publisher, err := integration.New(cfg.Integration)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Integration.Backend).Msg("connect integration")
	}
	defer publisher.Close()

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("gateway config")
	}
	client, err := gateway.NewUDPClient(clientCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open gateway socket")
	}
	defer client.Close()

	identity, err := cfg.Device.Identity()
	if err != nil {
		log.Fatal().Err(err).Msg("device identity")
	}
	plan, err := lorawan.GetFrequencyPlan(cfg.Device.FrequencyPlan)
	if err != nil {
		log.Fatal().Err(err).Msg("frequency plan")
	}

	opts := []simulator.Option{
		simulator.WithFPort(uint8(cfg.Device.UplinkFPort)),
		simulator.WithUplinkInterval(cfg.Device.UplinkPeriod()),
		simulator.WithKeepaliveInterval(cfg.Device.KeepaliveInterval),
		simulator.WithJoinRetryInterval(cfg.Device.JoinRetryInterval),
		simulator.WithRadio(cfg.Device.RSSI, cfg.Device.LSNR),
		simulator.WithStore(store),
		simulator.WithPublisher(publisher),
		simulator.WithDebugLoRa(cfg.Debug.LoRa),
	}
	if cfg.Device.UplinkPayload != "" {
		opts = append(opts, simulator.WithPayloadGenerator(simulator.TextPayload(cfg.Device.UplinkPayload)))
	}
	sim := simulator.New(device.New(identity), client, plan, opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := client.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("gateway client stopped")
			cancel()
		}
	}()

	var restServer *api.RESTServer
	if cfg.API.Enabled {
		restServer = api.NewRESTServer(cfg, sim)
		go func() {
			if err := restServer.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("control API stopped")
				cancel()
			}
		}()
	}

	if np, ok := publisher.(*integration.NATSPublisher); ok && cfg.Integration.NATS.Commands {
		sub := server.NewNATSSubscriber(np.Conn(), sim, cfg.Integration.NATS.SubjectPrefix, identity.DevEUI)
		go func() {
			if err := sub.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("NATS command subscriber stopped")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		log.Info().Msg("context cancelled, shutting down")
	}

	cancel()
	<-done

	if restServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := restServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("control API shutdown")
		}
	}
	log.Info().Msg("device simulator stopped")
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if cfg.DSN == "" {
		log.Info().Int("frames", cfg.MemoryFrames).Msg("frame log kept in memory")
		return storage.NewMemoryStore(cfg.MemoryFrames), nil
	}

	store, err := storage.NewPostgresStore(ctx, cfg.DSN, storage.PostgresOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
