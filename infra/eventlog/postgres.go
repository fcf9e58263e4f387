package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig configures the PostgreSQL event log.
type PGConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	Database string `env:"DATABASE" envDefault:"exchange"`
	Username string `env:"USERNAME" envDefault:"postgres"`
	Password string `env:"PASSWORD" envDefault:""`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"`

	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"2h"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
}

func (c PGConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	sequence_id BIGINT PRIMARY KEY,
	previous_id BIGINT NOT NULL,
	data        BYTEA  NOT NULL,
	created_at  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS unique_events (
	unique_id   VARCHAR(64) PRIMARY KEY,
	sequence_id BIGINT NOT NULL,
	created_at  BIGINT NOT NULL
);`

// uniqueViolation is the SQLSTATE of a primary key conflict.
const uniqueViolation = "23505"

// PostgresLog stores the event log in PostgreSQL. Each Append is one transaction.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, cfg PGConfig) (*PostgresLog, error) {
	pgxConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgresql config: %w", err)
	}
	pgxConfig.MaxConns = cfg.MaxConns
	pgxConfig.MinConns = cfg.MinConns
	pgxConfig.MaxConnLifetime = cfg.MaxConnLifetime
	pgxConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	return openPostgres(ctx, pgxConfig)
}

func openPostgresDSN(ctx context.Context, dsn string) (*PostgresLog, error) {
	pgxConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgresql config: %w", err)
	}
	return openPostgres(ctx, pgxConfig)
}

func openPostgres(ctx context.Context, pgxConfig *pgxpool.Config) (*PostgresLog, error) {
	pool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgresql pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgresql: %w", err)
	}
	return &PostgresLog{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, schema)
	return err
}

func (l *PostgresLog) Append(ctx context.Context, records []Record, markers []Marker) error {
	if len(records) == 0 && len(markers) == 0 {
		return nil
	}
	if err := checkMarkers(markers); err != nil {
		return err
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, m := range markers {
		batch.Queue(`INSERT INTO unique_events (unique_id, sequence_id, created_at) VALUES ($1, $2, $3)`,
			m.UniqueID, m.SequenceID, m.CreatedAt)
	}
	for _, r := range records {
		batch.Queue(`INSERT INTO events (sequence_id, previous_id, data, created_at) VALUES ($1, $2, $3, $4)`,
			r.SequenceID, r.PreviousID, r.Data, r.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.TableName == "unique_events" {
			return fmt.Errorf("%w: %s", ErrDuplicateMarker, pgErr.Detail)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (l *PostgresLog) After(ctx context.Context, id int64, limit int) ([]Record, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := l.pool.Query(ctx,
		`SELECT sequence_id, previous_id, data, created_at FROM events WHERE sequence_id > $1 ORDER BY sequence_id LIMIT $2`,
		id, lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRecord)
}

func (l *PostgresLog) Last(ctx context.Context) (Record, bool, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT sequence_id, previous_id, data, created_at FROM events ORDER BY sequence_id DESC LIMIT 1`)
	if err != nil {
		return Record{}, false, err
	}
	r, err := pgx.CollectOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func (l *PostgresLog) HasMarker(ctx context.Context, uniqueID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM unique_events WHERE unique_id = $1)`, uniqueID).Scan(&exists)
	return exists, err
}

func (l *PostgresLog) Close() error {
	l.pool.Close()
	return nil
}

func scanRecord(row pgx.CollectableRow) (Record, error) {
	var r Record
	err := row.Scan(&r.SequenceID, &r.PreviousID, &r.Data, &r.CreatedAt)
	return r, err
}
