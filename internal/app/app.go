// Package app wires the signal pipeline's components together: it is
// the dependency-injection root, replacing what the teacher's own
// internal/di container does for its portfolio modules.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aifx/signalcore/internal/changedetect"
	"github.com/aifx/signalcore/internal/config"
	"github.com/aifx/signalcore/internal/database"
	"github.com/aifx/signalcore/internal/dispatch"
	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/eventbus"
	"github.com/aifx/signalcore/internal/httpapi"
	"github.com/aifx/signalcore/internal/indicators"
	"github.com/aifx/signalcore/internal/marketdata"
	"github.com/aifx/signalcore/internal/mlclient"
	"github.com/aifx/signalcore/internal/planner"
	"github.com/aifx/signalcore/internal/positions"
	"github.com/aifx/signalcore/internal/registry"
	"github.com/aifx/signalcore/internal/scheduler"
	"github.com/aifx/signalcore/internal/store"
	"github.com/aifx/signalcore/internal/synth"
)

// App owns every long-lived component of the signal pipeline and the
// goroutines that connect them.
type App struct {
	log zerolog.Logger
	cfg *config.Config

	signalsDB  *database.DB
	registryDB *database.DB
	positionDB *database.DB

	gateway    *marketdata.Gateway
	mlClient   *mlclient.Client
	store      *store.Store
	registry   *registry.Registry
	positions  *positions.Store
	monitor    *positions.Monitor
	scheduler  *scheduler.Scheduler
	bus        *eventbus.Bus
	planner    *planner.Planner
	dispatcher *dispatch.Dispatcher
	wsHub      *dispatch.WebSocketHub
	archiver   *store.Archiver
	httpServer *http.Server

	wg sync.WaitGroup
}

// New constructs every component and wires their dependencies, but
// starts nothing — call Run to begin serving.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	signalsDB, err := database.New(database.Config{Path: filepath.Join(cfg.DataDir, "signals.db"), Name: "signals"})
	if err != nil {
		return nil, fmt.Errorf("app: opening signals db: %w", err)
	}
	registryDB, err := database.New(database.Config{Path: filepath.Join(cfg.DataDir, "registry.db"), Name: "registry"})
	if err != nil {
		return nil, fmt.Errorf("app: opening registry db: %w", err)
	}
	positionDB, err := database.New(database.Config{Path: filepath.Join(cfg.DataDir, "positions.db"), Name: "positions"})
	if err != nil {
		return nil, fmt.Errorf("app: opening positions db: %w", err)
	}

	signalStore, err := store.New(signalsDB, log)
	if err != nil {
		return nil, fmt.Errorf("app: constructing signal store: %w", err)
	}
	reg, err := registry.New(ctx, registryDB, log)
	if err != nil {
		return nil, fmt.Errorf("app: constructing subscription registry: %w", err)
	}
	posStore, err := positions.New(positionDB, log)
	if err != nil {
		return nil, fmt.Errorf("app: constructing position store: %w", err)
	}

	primary := marketdata.NewHTTPProvider(cfg.PrimaryProviderName, cfg.PrimaryProviderBaseURL, identitySymbolMap, cfg.GatewayTimeout, cfg.GatewayRatePerSec, cfg.GatewayRateBurst)
	backup := marketdata.NewHTTPProvider(cfg.BackupProviderName, cfg.BackupProviderBaseURL, identitySymbolMap, cfg.GatewayTimeout, cfg.GatewayRatePerSec, cfg.GatewayRateBurst)
	gateway := marketdata.New(log, primary, backup)

	mlClient := mlclient.New(log, mlclient.Config{
		BaseURL:         cfg.MLBaseURL,
		Timeout:         cfg.MLTimeout,
		BreakerFailures: uint32(cfg.MLBreakerFailures),
		BreakerWindow:   cfg.MLBreakerWindow,
		BreakerCooldown: cfg.MLBreakerCooldown,
	})

	sched := scheduler.New(log, 256)

	var mirror eventbus.Mirror
	if cfg.ExternalBusAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.ExternalBusAddr})
		mirror = eventbus.NewRedisMirror(redisClient, cfg.ExternalBusTopic, log)
	}
	bus := eventbus.New(log, mirror)

	plan := planner.New(log, reg, signalStore)

	wsHub := dispatch.NewWebSocketHub(log)
	transports := map[domain.Transport]dispatch.Transport{
		domain.TransportWebSocket: dispatch.NewWebSocketTransport(wsHub),
		domain.TransportDiscord:   dispatch.NewDiscordTransport(discordWebhookResolver(cfg.DiscordWebhookBase), log),
		domain.TransportLine:      dispatch.NewLINETransport(cfg.LineChannelToken, identityResolver, log),
		domain.TransportEmail:     dispatch.NewEmailTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, identityResolver, log),
	}
	dispatcher := dispatch.New(log, transports, signalStore, cfg.DispatchWorkers, cfg.DispatchQueueSize)

	monitor := positions.NewMonitor(log, posStore, gateway, bus, cfg.DailySummaryCronSchedule)

	var archiver *store.Archiver
	if cfg.ArchiveS3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: loading aws config for archival: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg)
		archiver = store.NewArchiver(signalStore, log, s3Client, cfg.ArchiveS3Bucket)
	}

	a := &App{
		log:        log.With().Str("component", "app").Logger(),
		cfg:        cfg,
		signalsDB:  signalsDB,
		registryDB: registryDB,
		positionDB: positionDB,
		gateway:    gateway,
		mlClient:   mlClient,
		store:      signalStore,
		registry:   reg,
		positions:  posStore,
		monitor:    monitor,
		scheduler:  sched,
		bus:        bus,
		planner:    plan,
		dispatcher: dispatcher,
		wsHub:      wsHub,
		archiver:   archiver,
	}

	for _, pairStr := range cfg.TrackedPairs {
		for _, tfStr := range cfg.TrackedTimeframes {
			sched.Register(domain.Pair(pairStr), domain.Timeframe(tfStr))
		}
	}

	a.httpServer = httpapi.NewServer(httpapi.Dependencies{
		Log:       log,
		Scheduler: sched,
		Store:     signalStore,
		Registry:  reg,
		WSHub:     wsHub,
	}, cfg.Port)

	return a, nil
}

// identitySymbolMap accepts every well-formed Pair and renders it in the
// "EUR_USD" form most REST quote APIs expect.
func identitySymbolMap(pair domain.Pair) (string, bool) {
	if !pair.Valid() {
		return "", false
	}
	base, quote := string(pair)[0:3], string(pair)[4:7]
	return base + "_" + quote, true
}

// discordWebhookResolver treats a Discord subscriber's ID as the path
// suffix of a shared webhook base URL (no separate contacts table
// exists in this iteration of the registry — see DESIGN.md).
func discordWebhookResolver(base string) func(string) (string, bool) {
	return func(subscriberID string) (string, bool) {
		if base == "" || subscriberID == "" {
			return "", false
		}
		return base + "/" + subscriberID, true
	}
}

// identityResolver treats the subscriber ID itself as the transport
// destination (a LINE user ID or an email address, depending on the
// transport the caller wires it for).
func identityResolver(subscriberID string) (string, bool) {
	if subscriberID == "" {
		return "", false
	}
	return subscriberID, true
}

// Run starts every background goroutine (scheduler, dispatcher, position
// monitor, the synthesis pipeline, the delivery consumption loop, and
// the HTTP server) and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start()
	a.dispatcher.Start()
	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("app: starting position monitor: %w", err)
	}

	changeEvents := a.bus.Subscribe(eventbus.TopicSignalChange)

	a.wg.Add(1)
	go a.runSynthesisLoop(ctx)

	a.wg.Add(1)
	go a.runDeliveryLoop(ctx, changeEvents)

	if a.archiver != nil {
		a.wg.Add(1)
		go a.runArchivalLoop(ctx)
	}

	serveErr := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info().Str("addr", a.httpServer.Addr).Msg("http server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		a.log.Error().Err(err).Msg("http server failed")
	}
	return nil
}

// Stop gracefully shuts every component down, bounded by grace.
func (a *App) Stop(grace time.Duration) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	_ = a.httpServer.Shutdown(shutdownCtx)

	a.scheduler.Stop(grace)
	a.monitor.Stop()
	a.dispatcher.Stop(grace)

	a.wg.Wait()

	_ = a.signalsDB.Close()
	_ = a.registryDB.Close()
	_ = a.positionDB.Close()
}

// runSynthesisLoop consumes scheduler ticks and runs each through
// indicators -> ML prediction -> synthesis -> change detection ->
// persistence -> event publication (§27 data flow, steps 1-6).
func (a *App) runSynthesisLoop(ctx context.Context) {
	defer a.wg.Done()
	ticks := a.scheduler.Ticks()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			a.synthesize(ctx, tick)
		}
	}
}

func (a *App) synthesize(ctx context.Context, tick scheduler.Tick) {
	log := a.log.With().Str("pair", string(tick.Pair)).Str("timeframe", string(tick.Timeframe)).Logger()

	series, err := a.gateway.FetchBars(ctx, tick.Pair, tick.Timeframe, indicators.MinRequiredBars)
	if err != nil {
		log.Error().Err(err).Msg("fetching bars failed")
		return
	}

	ind, err := indicators.Compute(series)
	if err != nil {
		log.Warn().Err(err).Msg("computing indicators failed")
		return
	}

	var prediction *mlclient.Prediction
	if p, err := a.mlClient.Predict(ctx, tick.Pair, tick.Timeframe, series); err != nil {
		log.Warn().Err(err).Msg("ml prediction unavailable, falling back to technical-only")
	} else {
		prediction = p
	}

	signal, err := synth.Synthesize(tick.Pair, tick.Timeframe, series, ind, prediction, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("synthesizing signal failed")
		return
	}
	signal.ID = uuid.NewString()

	prior, err := a.store.GetLatest(ctx, tick.Pair, tick.Timeframe)
	if err != nil {
		log.Error().Err(err).Msg("reading prior signal failed")
		return
	}

	change := changedetect.Detect(prior, signal)
	if change != nil {
		change.ID = uuid.NewString()
	}

	if err := a.store.PutWithChange(ctx, signal, change); err != nil {
		log.Error().Err(err).Msg("persisting signal failed")
		return
	}

	if change != nil {
		a.bus.Publish(eventbus.SignalChangeEvent{Change: *change, Signal: signal})
	}
}

// runDeliveryLoop consumes signal.change events, plans deliveries, and
// submits jobs to the Dispatcher (§27 data flow, steps 7-9).
func (a *App) runDeliveryLoop(ctx context.Context, events <-chan eventbus.Event) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			changeEvent, ok := event.(eventbus.SignalChangeEvent)
			if !ok {
				continue
			}
			a.deliver(ctx, changeEvent)
		}
	}
}

func (a *App) deliver(ctx context.Context, event eventbus.SignalChangeEvent) {
	log := a.log.With().Str("pair", string(event.Change.Pair)).Str("timeframe", string(event.Change.Timeframe)).Logger()

	deliveries, err := a.planner.Plan(ctx, event.Change, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("planning deliveries failed")
		return
	}

	for _, d := range deliveries {
		job := dispatch.Job{
			SubscriberID: d.SubscriberID,
			Transport:    d.Transport,
			Change:       event.Change,
			Signal:       event.Signal,
		}
		if err := a.dispatcher.Submit(job); err != nil {
			log.Warn().Err(err).Str("subscriber_id", d.SubscriberID).Msg("dispatcher rejected delivery")
		}
	}
}

// runArchivalLoop periodically copies signals older than
// ArchiveAfterDays to S3 and flags them archived, once per day; the
// sqlite rows are kept.
func (a *App) runArchivalLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(a.cfg.ArchiveAfterDays) * 24 * time.Hour)
			if _, err := a.archiver.ArchiveOlderThan(ctx, cutoff); err != nil {
				a.log.Error().Err(err).Msg("signal archival run failed")
			}
		}
	}
}
