package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tradecore/api/grpcserver"
	"tradecore/config"
	"tradecore/domain/asset"
	"tradecore/domain/event"
	"tradecore/infra/eventlog"
	"tradecore/infra/kafka"
	"tradecore/infra/redis"
	"tradecore/infra/sequence"
	"tradecore/infra/store"
	"tradecore/jobs/broadcaster"
	"tradecore/jobs/publisher"
	"tradecore/pkg/logger"
	"tradecore/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.NewLogger(logger.WithLoggingLevel(logger.Level(cfg.LogLevel)))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Event log ----------------

	events, err := openEventLog(ctx, cfg.EventLog)
	if err != nil {
		return err
	}
	defer events.Close()
	codec := event.BinaryCodec{}

	// ---------------- Sequencer ----------------

	seq := sequence.New(events, codec, log)
	if err := seq.Recover(ctx); err != nil {
		return err
	}

	// ---------------- Engine ----------------

	engine := service.NewEngine(service.Config{
		Base:               asset.ID(cfg.Instrument.Base),
		Quote:              asset.ID(cfg.Instrument.Quote),
		Depth:              cfg.OrderBookDepth,
		Debug:              cfg.DebugMode,
		ReplayBatchSize:    cfg.ReplayBatchSize,
		CheckpointInterval: cfg.Snapshot.Interval,
	}, events, codec, log)
	if err := engine.Recover(ctx, cfg.Snapshot.Dir); err != nil {
		return err
	}

	// ---------------- Outbound ----------------

	archive, err := store.Open(cfg.ArchiveDir)
	if err != nil {
		return err
	}
	defer archive.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return fmt.Errorf("tick producer: %w", err)
	}
	ticks := broadcaster.New(producer, cfg.Kafka.TickTopic, engine.Outbox().Ticks, log)
	defer ticks.Close()

	// ---------------- Streams ----------------

	requests := kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.SequenceTopic, cfg.Kafka.GroupID+"-sequencer")
	defer requests.Close()
	sequenced := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TradeTopic)
	defer sequenced.Close()
	trades := kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.TradeTopic, cfg.Kafka.GroupID+"-engine")
	defer trades.Close()

	sequencing := service.NewSequencingLoop(
		service.NewKafkaSource(requests, codec, log, cfg.Kafka.BatchSize, cfg.Kafka.BatchWait),
		seq,
		service.NewKafkaSink(sequenced, codec, cfg.Instrument.Base+cfg.Instrument.Quote),
		log,
	)
	engineSource := service.NewKafkaSource(trades, codec, log, cfg.Kafka.BatchSize, cfg.Kafka.BatchWait)

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	health := grpcserver.New(log)

	// ---------------- Run ----------------

	g, gctx := errgroup.WithContext(ctx)
	pub := publisher.New(engine.Outbox(), log, cfg.PollInterval)

	g.Go(func() error { return sequencing.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx, engineSource) })
	g.Go(func() error { pub.RunOutcomes(gctx, rdb); return nil })
	g.Go(func() error { pub.RunNotifications(gctx, rdb); return nil })
	g.Go(func() error { pub.RunArchive(gctx, archive); return nil })
	g.Go(func() error { pub.RunOrderBook(gctx, engine, rdb); return nil })
	g.Go(func() error { ticks.Run(gctx, cfg.PollInterval); return nil })
	if cfg.Snapshot.Interval > 0 {
		g.Go(func() error { engine.RunCheckpoints(gctx, cfg.Snapshot.Dir, cfg.PollInterval); return nil })
	} else {
		log.Warn("checkpoints disabled, recovery replays the whole event log")
	}
	g.Go(func() error { return health.Serve(lis) })
	g.Go(func() error {
		<-gctx.Done()
		health.SetServing(false)
		health.Stop()
		return nil
	})

	health.SetServing(true)
	log.Info("exchange core started",
		logger.NewField("instrument", cfg.Instrument.Base+"/"+cfg.Instrument.Quote),
		logger.NewField("sequence_id", seq.Current()),
		logger.NewField("last_applied_id", engine.LastAppliedID()))

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err,
			logger.NewField("sequencer_halted", seq.Halted()),
			logger.NewField("engine_halted", engine.Halted()))
		return err
	}
	log.Info("exchange core stopped")
	return nil
}

func openEventLog(ctx context.Context, cfg config.EventLog) (eventlog.Log, error) {
	switch cfg.Driver {
	case "pebble":
		pl, err := eventlog.OpenPebble(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return pl, nil
	case "segment":
		sl, err := eventlog.OpenSegments(eventlog.SegmentConfig{Dir: cfg.Dir, SegmentSize: cfg.SegmentSize})
		if err != nil {
			return nil, err
		}
		return sl, nil
	case "postgres":
		pg, err := eventlog.OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate event log: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown event log driver %q", cfg.Driver)
	}
}
