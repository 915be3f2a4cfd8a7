package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"session-core/internal/engine"
	"session-core/internal/events"
	"session-core/internal/gateway"
	"session-core/internal/health"
	"session-core/internal/market"
	"session-core/internal/monitor"
	"session-core/internal/persistence"
	"session-core/internal/risk"
	"session-core/internal/strategy"
	"session-core/pkg/cache"
	"session-core/pkg/config"
	"session-core/pkg/db"
	exchange "session-core/pkg/exchanges/common"
	"session-core/pkg/exchanges/oanda"
	"session-core/pkg/exchanges/paper"
	"session-core/pkg/i18n"
	"session-core/pkg/license"
)

const paperAccountID = "paper-001"

// stack is every long-lived component the commands share.
type stack struct {
	cfg       *config.Config
	database  *db.Database
	bus       *events.Bus
	metrics   *monitor.Metrics
	pool      *gateway.Manager
	quotes    *cache.QuoteCache
	writer    *persistence.TradeWriter
	engine    *engine.Engine
	streamer  exchange.PriceStreamer
	accountID string
	broker    string
	env       string
	tag       string
}

// buildStack opens the database, selects the broker and wires the engine.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf(i18n.Get("DBInitFailed"), err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf(i18n.Get("DBMigrationsFailed"), err)
	}

	st := &stack{
		cfg:       cfg,
		database:  database,
		bus:       events.NewBus(),
		quotes:    cache.NewQuoteCache(),
		accountID: cfg.OandaAccountID,
		tag:       license.InstanceTag(health.ServiceName),
	}
	log.Printf(i18n.Get("InstanceTag"), st.tag)

	var (
		factory gateway.Factory
		candles exchange.CandleSource
	)
	if cfg.DryRun {
		log.Println(i18n.Get("DryRunMode"))
		if st.accountID == "" {
			st.accountID = paperAccountID
		}
		pb := paper.New(paper.Config{InitialBalance: cfg.DryRunInitialBalance})
		pb.OpenAccount(st.accountID, cfg.DryRunInitialBalance)
		candles = &market.RandomWalk{Seed: time.Now().UnixNano(), Sink: pb.SetPrice}
		factory = gateway.SharedFactory(pb)
		st.streamer = pb
		st.broker, st.env = "paper", "dry-run"
	} else {
		token := cfg.OandaToken()
		st.env = cfg.OandaEnv
		if token == "" {
			database.Close()
			return nil, fmt.Errorf(i18n.Get("OandaTokenMissing"), st.env)
		}
		log.Printf(i18n.Get("OandaMode"), st.env)
		oc := oanda.Config{
			Token:     token,
			Live:      cfg.Live(),
			BaseURL:   cfg.OandaHost,
			StreamURL: cfg.OandaStreamHost,
			RateLimit: cfg.BrokerRateLimit,
			ClientTag: st.tag,
			// metrics is built after the pool it reports on
			Observe: func(op string, d time.Duration, err error) { st.metrics.ObserveBroker(op, d, err) },
		}
		client := oanda.NewClient(oc)
		candles = client
		st.streamer = client
		factory = gateway.OandaFactory(oc)
		st.broker = "oanda"
	}
	if st.accountID != "" {
		log.Printf(i18n.Get("DefaultAccount"), st.accountID)
	}

	st.pool = gateway.NewManager(factory, gateway.DefaultConfig())
	st.pool.Start(ctx)
	st.metrics = monitor.NewMetrics(st.pool)
	log.Println(i18n.Get("MetricsInit"))

	reg := strategy.DefaultRegistry()
	var presets []strategy.Preset
	if cfg.StrategyPresets != "" {
		presets, err = strategy.LoadPresets(cfg.StrategyPresets, reg)
		if err != nil {
			log.Printf(i18n.Get("PresetsFailed"), err)
		} else {
			log.Printf(i18n.Get("PresetsLoaded"), len(presets), cfg.StrategyPresets)
		}
	}

	queries := database.Queries()
	st.writer = persistence.NewTradeWriter(queries, 50, time.Second)

	st.engine, err = engine.New(engine.Config{
		Pool:             st.pool,
		Candles:          candles,
		Strategies:       reg,
		Presets:          presets,
		Risk:             risk.NewInMemory(risk.DefaultConfig()),
		Bus:              st.bus,
		Store:            queries,
		Trades:           st.writer,
		Metrics:          st.metrics,
		Quotes:           st.quotes,
		DefaultAccountID: st.accountID,
		ClientTag:        st.tag,
		MaxRunning:       cfg.MaxRunningSessions,
		MaxClosedTrades:  cfg.MaxClosedTrades,
		TxPageSize:       cfg.TxPageSize,
		MetricsInterval:  cfg.MetricsRefreshInterval,
		TxSyncInterval:   cfg.TxSyncInterval,
		BarPollMin:       cfg.BarPollMin,
		BarPollMax:       cfg.BarPollMax,
		ErrorBackoff:     cfg.ErrorBackoff,
		ErrorBackoffMax:  cfg.ErrorBackoffMax,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	})
	if err != nil {
		st.close(ctx)
		return nil, fmt.Errorf(i18n.Get("EngineInitFailed"), err)
	}
	log.Printf(i18n.Get("EngineInit"), cfg.MaxRunningSessions)
	return st, nil
}

// close stops the engine without flattening, flushes closed trades and
// releases the database.
func (st *stack) close(ctx context.Context) {
	if st.engine != nil {
		if err := st.engine.Shutdown(ctx); err != nil {
			log.Printf("⚠️ engine shutdown: %v", err)
		}
	}
	if st.writer != nil {
		if err := st.writer.Close(); err != nil {
			log.Printf("⚠️ closed trade flush: %v", err)
		}
	}
	if st.pool != nil {
		st.pool.Stop()
	}
	if err := st.database.Close(); err != nil {
		log.Printf("⚠️ database close: %v", err)
	}
}
