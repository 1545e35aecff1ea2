package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/bootstrap"
	"github.com/sawpanic/signalrun/internal/cache"
	"github.com/sawpanic/signalrun/internal/config"
	"github.com/sawpanic/signalrun/internal/deadtoken"
	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/net/ratelimit"
	"github.com/sawpanic/signalrun/internal/net/retry"
	"github.com/sawpanic/signalrun/internal/outcome"
	"github.com/sawpanic/signalrun/internal/persistence"
	"github.com/sawpanic/signalrun/internal/pipeline"
	"github.com/sawpanic/signalrun/internal/prices"
	"github.com/sawpanic/signalrun/internal/process"
	"github.com/sawpanic/signalrun/internal/providers"
	"github.com/sawpanic/signalrun/internal/queue"
	"github.com/sawpanic/signalrun/internal/registry"
	"github.com/sawpanic/signalrun/internal/reputation"
	"github.com/sawpanic/signalrun/internal/sentiment"
	"github.com/sawpanic/signalrun/internal/sheets"
	"github.com/sawpanic/signalrun/internal/store"
	"github.com/sawpanic/signalrun/internal/tables"
	"github.com/sawpanic/signalrun/internal/telemetry"
	"github.com/sawpanic/signalrun/internal/transport"
)

// Runner assembles and drives the whole pipeline.
type Runner struct {
	cfg   *config.Config
	runID string

	lc       *Lifecycle
	promReg  *prometheus.Registry
	metrics  *telemetry.Metrics
	store    *store.Store
	tracker  *outcome.Tracker
	engine   *prices.Engine
	ret      *prices.Retriever
	detector *deadtoken.Detector
	writer   *tables.Writer
	proc     *process.Processor
	coord    *pipeline.Coordinator
	q        *queue.Queue
	consumer *queue.Consumer
	repEng   *reputation.Engine
	trans    transport.Transport
	scraper  *bootstrap.Scraper
	pg       *persistence.DB
	ops      *OpsServer
}

// NewRunner wires every component from the loaded configuration.
func NewRunner(ctx context.Context, cfg *config.Config) (*Runner, error) {
	r := &Runner{
		cfg:     cfg,
		runID:   uuid.NewString(),
		lc:      NewLifecycle(),
		promReg: prometheus.NewRegistry(),
	}
	r.metrics = telemetry.New(r.promReg)

	var err error
	if r.store, err = store.New(cfg.DataRoot); err != nil {
		return nil, err
	}
	if r.tracker, err = outcome.NewTracker(r.store, cfg.Tracking.WindowDays, r.metrics); err != nil {
		return nil, err
	}

	provs, historical := buildProviders(cfg)
	limits := ratelimit.NewManager()
	breakers := retry.NewBreakerManager(retry.DefaultPolicy())
	for name, pc := range cfg.Providers {
		limits.AddProvider(name, pc.RequestsPerMin, pc.BurstCapacity)
		breakers.AddTarget(name, retry.BreakerConfig{
			ConsecutiveFailures: uint32(pc.FailureThreshold),
			Cooldown:            time.Duration(pc.CooldownSeconds) * time.Second,
		})
	}

	var redisTier *cache.RedisTier
	if cfg.Redis.Enabled {
		redisTier = cache.NewRedisTier(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Tracking.CacheTTL())
	}
	r.engine = prices.NewEngine(provs, prices.EngineOpts{
		Cache:    cache.NewTTLCache(cfg.Tracking.CacheCapacity, cfg.Tracking.CacheTTL()),
		Redis:    redisTier,
		Limits:   limits,
		Breakers: breakers,
		Metrics:  r.metrics,
	})
	if historical[0] == nil {
		historical[0], historical[1] = historical[1], nil
	}
	if historical[0] != nil {
		r.ret = prices.NewRetriever(historical[0], historical[1], r.store)
	}

	// The dead-token reader derives on-chain evidence from engine snapshots.
	if r.detector, err = deadtoken.NewDetector(deadtoken.NewSnapshotReader(r.engine), r.store); err != nil {
		return nil, err
	}

	var mirror tables.Mirror
	if cfg.Sheet.Enabled {
		mirror = sheets.NewClient(cfg.Sheet.WebhookURL, cfg.Sheet.SpreadsheetID, cfg.Sheet.Credential)
	}
	r.writer = tables.NewWriter(cfg.OutputRoot, mirror, r.metrics)

	reg := registry.New()
	r.proc = process.New(reg, sentiment.NewLexicon(),
		cfg.Pipeline.MinMessageLength, cfg.Pipeline.MaxEngagement, cfg.Pipeline.ConfidenceThreshold)
	r.coord = pipeline.New(pipeline.Opts{
		Registry:           reg,
		Engine:             r.engine,
		Retriever:          r.ret,
		Detector:           r.detector,
		Tracker:            r.tracker,
		Writer:             r.writer,
		Metrics:            r.metrics,
		AddressParallelism: cfg.Pipeline.AddressParallelism,
		EntryTimeout:       cfg.Pipeline.EntryPriceTimeoutDur(),
		WindowTimeout:      cfg.Pipeline.ATHWindowTimeoutDur(),
		WindowDays:         cfg.Tracking.ForwardATHDays,
	})

	r.q = queue.New(cfg.Pipeline.QueueCapacity, r.metrics)
	r.consumer = queue.NewConsumer(r.q, r.coord.Handle, r.metrics, r.lc.Fail)
	r.repEng = reputation.NewEngine(r.store, cfg.Reputation)

	if cfg.Transport.DryRun {
		r.trans = transport.NewFake()
	} else {
		if r.trans, err = transport.NewWSClient(cfg.Transport.WebsocketURL, cfg.Transport.AuthToken); err != nil {
			return nil, err
		}
	}
	r.scraper = bootstrap.NewScraper(r.trans, r.proc, r.coord.Handle, r.store, cfg.Pipeline.ScraperLimit, r.runID)

	if cfg.Postgres.Enabled {
		if r.pg, err = persistence.Open(ctx, cfg.Postgres.DSN); err != nil {
			// The mirror is optional; the pipeline runs without it.
			log.Warn().Err(err).Msg("postgres mirror unavailable")
			r.pg = nil
		}
	}

	r.ops = NewOpsServer(cfg.HTTPAddr, r.promReg, r.lc)
	return r, nil
}

// buildProviders constructs every configured provider plus the two
// historical sources, primary first.
func buildProviders(cfg *config.Config) ([]providers.Provider, [2]providers.Historical) {
	var provs []providers.Provider
	var cg *providers.CoinGecko
	var cc *providers.CryptoCompare

	for name, pc := range cfg.Providers {
		timeout := time.Duration(pc.TimeoutSeconds) * time.Second
		switch name {
		case "dexscreener":
			provs = append(provs, providers.NewDexScreener(pc.BaseURL, timeout))
		case "geckoterminal":
			provs = append(provs, providers.NewGeckoTerminal(pc.BaseURL, timeout))
		case "coingecko":
			cg = providers.NewCoinGecko(pc.BaseURL, pc.APIKey, timeout)
			provs = append(provs, cg)
		case "jupiter":
			provs = append(provs, providers.NewJupiter(pc.BaseURL, timeout))
		case "cryptocompare":
			cc = providers.NewCryptoCompare(pc.BaseURL, pc.APIKey, timeout)
		default:
			log.Warn().Str("provider", name).Msg("unknown provider in config, skipped")
		}
	}
	var hist [2]providers.Historical
	if cg != nil {
		hist[0] = cg
	}
	if cc != nil {
		hist[1] = cc
	}
	return provs, hist
}

// Run drives the process: start, bootstrap, realtime, shutdown. Returns
// nil on clean shutdown.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.lc.Starting(); err != nil {
		return err
	}
	log.Info().Str("run_id", r.runID).Msg("starting")

	r.ops.Start()
	r.lc.Defer("ops", func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.ops.Shutdown(sctx)
	})
	r.lc.Defer("transport", r.trans.Close)
	if r.pg != nil {
		r.lc.Defer("postgres", r.pg.Close)
	}

	// Checkpoints crossed while the process was down get marked before any
	// live update can race them.
	if err := r.tracker.Rescan(time.Now()); err != nil {
		log.Error().Err(err).Msg("checkpoint rescan failed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumerDone := make(chan error, 1)
	go func() { consumerDone <- r.consumer.Run(runCtx) }()

	go r.updateLoop(runCtx)

	// Bootstrap runs concurrently: cancelling it never blocks the
	// transition to realtime monitoring.
	go func() {
		if err := r.scraper.Run(runCtx, r.cfg.Channels); err != nil && !errs.IsCancelled(err) {
			log.Error().Err(err).Msg("bootstrap failed")
		}
	}()

	go r.subscribeLoop(runCtx)

	if err := r.lc.Running(); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-r.lc.Fatal():
		log.Error().Err(err).Msg("fatal pipeline error")
		runErr = err
	}

	cancel()
	select {
	case <-consumerDone:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("consumer did not drain in time")
	}

	if err := r.lc.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// subscribeLoop feeds realtime events through classification into the
// queue, reconnecting with a flat delay while the context lives.
func (r *Runner) subscribeLoop(ctx context.Context) {
	for ctx.Err() == nil {
		err := r.trans.Subscribe(ctx, func(ev models.MessageEvent) {
			msg := r.proc.Process(ev)
			if err := r.q.Put(ctx, msg); err != nil && !errs.IsCancelled(err) {
				log.Error().Err(err).Int64("message_id", ev.MessageID).Msg("enqueue failed")
			}
		})
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("subscription dropped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// updateLoop periodically refreshes active outcomes, completes elapsed
// windows and recomputes channel reputation.
func (r *Runner) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Tracking.UpdateInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.updateOnce(ctx)
		}
	}
}

func (r *Runner) updateOnce(ctx context.Context) {
	now := time.Now()

	for _, o := range r.tracker.ActiveOutcomes() {
		if ctx.Err() != nil {
			return
		}
		snap, err := r.engine.GetPrice(ctx, o.Address, o.Chain)
		if err != nil || snap == nil {
			continue
		}
		if err := r.tracker.UpdatePrice(o.ChannelID, o.Address, snap.PriceUSD, now); err != nil {
			log.Error().Err(err).Str("address", o.Address).Msg("price update failed")
			continue
		}
		if updated, ok := r.tracker.Active(o.ChannelID, o.Address); ok {
			if err := r.writer.WritePerformance(ctx, updated); err != nil {
				log.Error().Err(err).Str("address", o.Address).Msg("performance write failed")
			}
		}
	}

	expired, err := r.tracker.Expire(now)
	if err != nil {
		log.Error().Err(err).Msg("window expiry failed")
	}
	if r.pg != nil {
		for _, o := range expired {
			if err := r.pg.UpsertOutcome(ctx, o); err != nil {
				log.Warn().Err(err).Str("address", o.Address).Msg("postgres outcome mirror failed")
			}
		}
	}

	reps, err := r.repEng.Compute()
	if err != nil {
		log.Error().Err(err).Msg("reputation recompute failed")
		return
	}
	for _, rep := range reps {
		if r.pg != nil {
			if err := r.pg.UpsertReputation(ctx, rep); err != nil {
				log.Warn().Err(err).Str("channel", rep.ChannelID).Msg("postgres reputation mirror failed")
			}
		}
	}
	log.Info().Int("active", len(r.tracker.ActiveOutcomes())).Int("expired", len(expired)).Msg("tracking update pass done")
}

// Backfill runs the bootstrap scraper alone: used by the CLI backfill
// command.
func (r *Runner) Backfill(ctx context.Context, channels []config.ChannelConfig) error {
	return r.scraper.Run(ctx, channels)
}
