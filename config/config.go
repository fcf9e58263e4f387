package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"tradecore/infra/eventlog"
	"tradecore/infra/redis"
)

// MustLoad loads the configuration from environment variables and .env file.
func MustLoad[T any](cfg T) {
	_ = godotenv.Load()

	env.Must(cfg, env.Parse(cfg))
}

// Load loads the configuration from environment variables and an optional .env file.
func Load[T any](cfg T) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return env.Parse(cfg)
}

// Config holds the configuration of the exchange core process.
type Config struct {
	Instrument Instrument `envPrefix:"INSTRUMENT_"`

	OrderBookDepth  int    `env:"ORDER_BOOK_DEPTH" envDefault:"100"`
	DebugMode       bool   `env:"DEBUG_MODE" envDefault:"false"`
	ReplayBatchSize int    `env:"REPLAY_BATCH_SIZE" envDefault:"10000"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	GRPCAddr        string `env:"GRPC_ADDR" envDefault:":50051"`
	ArchiveDir      string `env:"ARCHIVE_DIR" envDefault:"./data/archive"`

	PollInterval time.Duration `env:"PUBLISHER_POLL_INTERVAL" envDefault:"1ms"`

	EventLog EventLog       `envPrefix:"EVENTLOG_"`
	Kafka    Kafka          `envPrefix:"KAFKA_"`
	Redis    redis.Config   `envPrefix:"REDIS_"`
	Snapshot SnapshotConfig `envPrefix:"SNAPSHOT_"`
}

// Validate rejects settings the process cannot run with. A zero snapshot
// interval is allowed and disables checkpoints.
func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("PUBLISHER_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	case c.Snapshot.Interval < 0:
		return fmt.Errorf("SNAPSHOT_INTERVAL must not be negative, got %s", c.Snapshot.Interval)
	case c.ReplayBatchSize <= 0:
		return fmt.Errorf("REPLAY_BATCH_SIZE must be positive, got %d", c.ReplayBatchSize)
	case c.Kafka.BatchSize <= 0:
		return fmt.Errorf("KAFKA_BATCH_SIZE must be positive, got %d", c.Kafka.BatchSize)
	}
	return nil
}

// Instrument names the base and quote asset of the single traded pair.
type Instrument struct {
	Base  string `env:"BASE" envDefault:"BTC"`
	Quote string `env:"QUOTE" envDefault:"USD"`
}

// EventLog selects and configures the durable sequenced-event log.
// Driver is one of pebble, segment or postgres.
type EventLog struct {
	Driver      string            `env:"DRIVER" envDefault:"pebble"`
	Dir         string            `env:"DIR" envDefault:"./data/events"`
	SegmentSize int64             `env:"SEGMENT_SIZE" envDefault:"67108864"`
	Postgres    eventlog.PGConfig `envPrefix:"POSTGRES_"`
}

// Kafka holds the topics of the sequencing pipeline.
type Kafka struct {
	Brokers       []string      `env:"BROKERS" envDefault:"localhost:9092"`
	SequenceTopic string        `env:"SEQUENCE_TOPIC" envDefault:"sequence"`
	TradeTopic    string        `env:"TRADE_TOPIC" envDefault:"trade"`
	TickTopic     string        `env:"TICK_TOPIC" envDefault:"tick"`
	GroupID       string        `env:"GROUP_ID" envDefault:"tradecore"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"1000"`
	BatchWait     time.Duration `env:"BATCH_WAIT" envDefault:"10ms"`
}

// SnapshotConfig controls the periodic state checkpoint.
type SnapshotConfig struct {
	Dir      string        `env:"DIR" envDefault:"./data/snapshot"`
	Interval time.Duration `env:"INTERVAL" envDefault:"1m"`
}
