package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"aranyani/internal/alert"
	"aranyani/internal/auth"
	"aranyani/internal/camera"
	"aranyani/internal/config"
	"aranyani/internal/database"
	"aranyani/internal/detection"
	"aranyani/internal/device"
	"aranyani/internal/dispatch"
	"aranyani/internal/geo"
	"aranyani/internal/motion"
	"aranyani/internal/pipeline"
	"aranyani/internal/services"
	"aranyani/internal/telegram"
	"aranyani/internal/ws"
)

func main() {
	var (
		addrF = flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
		armF  = flag.Bool("arm", true, "Start the capture scheduler at boot")
		dbgF  = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[aranyani] ", log.Ltime)
	}

	cfg := config.Load()
	if *addrF != "" {
		cfg.HTTPAddr = *addrF
	}

	db, err := database.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}
	if err := cfg.ApplyOverrides(db); err != nil {
		logger.Printf("ignoring runtime overrides: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	// Change detection
	signer, err := motion.NewSigner(cfg.SignatureMode)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	detector := motion.NewChangeDetector(signer, cfg.Runtime.ChangeSensitivity)

	// Inference. A failed first load leaves the node in motion-only mode;
	// the sentinel retries lazily.
	runtime, err := detection.NewGRPCRuntime(detection.GRPCRuntimeConfig{Endpoint: cfg.ModelEndpoint})
	if err != nil {
		logger.Fatalf("failed to create model runtime: %v", err)
	}
	engine := detection.NewEngine(runtime, detection.EngineConfig{
		Artifact:       cfg.ModelArtifact,
		InputSize:      cfg.ModelInputSize,
		MinConfidence:  cfg.Runtime.MinConfidence,
		ExistenceFloor: float32(cfg.ExistenceFloor),
	})
	{
		loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := engine.Initialize(loadCtx); err != nil {
			logger.Printf("model not loaded, running motion-only: %v", err)
		}
		cancel()
	}

	policy := alert.NewPolicy(alert.Config{
		Cooldown: cfg.Runtime.Cooldown(),
		Excluded: cfg.Runtime.ExcludedLabels,
	})

	location, err := newLocationProvider(cfg.Location)
	if err != nil {
		logger.Fatalf("failed to create location provider: %v", err)
	}

	source, err := newFrameSource(cfg.Camera)
	if err != nil {
		logger.Fatalf("failed to open camera: %v", err)
	}
	defer source.Close()

	authenticator := auth.NewAuthenticator(auth.Config{
		Enabled:  cfg.Auth.Enabled,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		JWT: auth.JWTConfig{
			Secret: cfg.Auth.JWTSecret,
			Expiry: cfg.Auth.JWTExpiry,
		},
	})

	gateway, err := newGateway(cfg.Dispatch, authenticator.JWTManager())
	if err != nil {
		logger.Fatalf("failed to create dispatch gateway: %v", err)
	}
	defer gateway.Close()
	dispatcher := dispatch.NewDispatcher(gateway, db, cfg.Dispatch.Timeout)

	// Local announcers
	bus := pipeline.NewEventBus()
	defer bus.Close()

	hub := ws.NewAlertHub(cfg.NodeID)
	bus.Subscribe(hub)

	var (
		bot        *telegram.TelegramBot
		lowBattery []device.LowBatteryHandler
	)
	if cfg.Telegram.Enabled {
		bot = telegram.NewTelegramBot(telegram.Config{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			Enabled:  true,
		})
		notifier := telegram.NewNotifier(bot, cfg.NodeID, 8)
		defer notifier.Close()
		bus.Subscribe(notifier)
		lowBattery = append(lowBattery, notifier)
	}

	monitor := device.NewMonitor(device.NewSystemReader(), device.MonitorConfig{
		Interval:            cfg.Device.Interval,
		LowBatteryThreshold: cfg.Device.LowBatteryThreshold,
		Handlers:            lowBattery,
	})

	sentinel, err := pipeline.NewSentinel(pipeline.SentinelConfig{
		NodeID:             cfg.NodeID,
		Source:             source,
		Detector:           detector,
		Classifier:         engine,
		Policy:             policy,
		Location:           location,
		Dispatcher:         dispatcher,
		Bus:                bus,
		ModelRetryInterval: cfg.ModelRetryInterval,
	})
	if err != nil {
		logger.Fatalf("failed to create sentinel: %v", err)
	}
	scheduler := pipeline.NewScheduler(sentinel, pipeline.SchedulerConfig{
		Interval:     cfg.SamplingInterval,
		WarmupFrames: uint64(cfg.WarmupFrames),
	})

	// Operator snapshots share the cycle's capture guard
	snapshots := scheduler.Exclusive(source)

	var endpoints *services.Endpoints
	{
		endpoints = &services.Endpoints{
			Health: services.NewHealthService(engine, scheduler, monitor),
			Auth:   services.NewAuthService(authenticator),
			System: services.NewSystemService(cfg.NodeID, scheduler, sentinel, dispatcher, monitor),
			Config: services.NewConfigService(cfg.Runtime, db, services.Tunables{
				Detector:   detector,
				Classifier: engine,
				Policy:     policy,
			}),
			Alerts:    services.NewAlertsService(cfg.NodeID, db),
			Camera:    services.NewCameraService(snapshots),
			AlertFeed: ws.NewHandler(hub),
		}
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	if bot != nil {
		commands := telegram.NewCommandHandler(telegram.CommandHandlerConfig{
			Bot:        bot,
			Controller: scheduler,
			Status:     sentinel,
			Alerts:     db,
			Snapshots:  snapshots,
			Device:     monitor,
			NodeID:     cfg.NodeID,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := commands.StartPolling(ctx, 2*time.Second); err != nil {
				logger.Printf("telegram commands disabled: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pruneDispatches(ctx, db, cfg.Dispatch.RetentionDays, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	handleHTTPServer(ctx, cfg.HTTPAddr, endpoints, authenticator, &wg, errc, logger, *dbgF)

	if *armF {
		if err := scheduler.Start(); err != nil {
			logger.Printf("failed to arm scheduler: %v", err)
		}
	}
	logger.Printf("node %s ready (camera: %s, dispatch: %s, model: %v)", cfg.NodeID, source.Name(), gateway.Name(), engine.Ready())

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Printf("%v", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Printf("abandoning in-flight dispatches: %v", err)
	}
	hub.CloseAll()
	if err := engine.Dispose(); err != nil {
		logger.Printf("failed to release model: %v", err)
	}

	wg.Wait()
	logger.Println("exited")
}

func newFrameSource(cfg config.CameraConfig) (pipeline.FrameSource, error) {
	switch cfg.Source {
	case "http":
		return camera.NewHTTPSnapshotSource(cfg.URL, 10*time.Second)
	case "file":
		return camera.NewFileSource(cfg.File)
	case "ffmpeg":
		return camera.NewFFmpegSource(cfg.URL, cfg.Resolution)
	case "device":
		return camera.NewDeviceSource(cfg.Device)
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}

func newLocationProvider(cfg config.LocationConfig) (pipeline.LocationProvider, error) {
	switch cfg.Mode {
	case "static":
		return geo.NewStaticProvider(cfg.Lat, cfg.Lng), nil
	case "http":
		return geo.NewHTTPProvider(geo.HTTPProviderConfig{URL: cfg.URL, MaxAge: cfg.MaxAge})
	default:
		return nil, fmt.Errorf("unknown location mode %q", cfg.Mode)
	}
}

func newGateway(cfg config.DispatchConfig, tokens dispatch.TokenSource) (pipeline.Gateway, error) {
	switch cfg.Mode {
	case "http":
		return dispatch.NewHTTPGateway(dispatch.HTTPGatewayConfig{
			BaseURL: cfg.BackendURL,
			Timeout: cfg.Timeout,
			Tokens:  tokens,
		})
	case "kafka":
		return dispatch.NewKafkaGateway(dispatch.KafkaConfig{
			BootstrapServers: cfg.Kafka.BootstrapServers,
			SecurityProtocol: cfg.Kafka.SecurityProtocol,
			SASLMechanism:    cfg.Kafka.SASLMechanism,
			SASLUsername:     cfg.Kafka.SASLUsername,
			SASLPassword:     cfg.Kafka.SASLPassword,
			Topic:            cfg.Kafka.Topic,
			Acks:             cfg.Kafka.Acks,
			CompressionType:  cfg.Kafka.CompressionType,
		})
	default:
		return dispatch.NopGateway{}, nil
	}
}

// pruneDispatches deletes audit records older than the retention window
// at startup and every six hours
func pruneDispatches(ctx context.Context, db *database.Database, days int, logger *log.Logger) {
	if days <= 0 {
		return
	}

	prune := func() {
		n, err := db.DeleteOldDispatches(time.Now().AddDate(0, 0, -days))
		if err != nil {
			logger.Printf("failed to prune dispatch records: %v", err)
			return
		}
		if n > 0 {
			logger.Printf("pruned %d dispatch records older than %d days", n, days)
		}
	}

	prune()
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
