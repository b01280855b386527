package roomstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/PrajwalMundargi/codetogether-backend/internal/logging"
	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
	"github.com/PrajwalMundargi/codetogether-backend/internal/retry"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
    code          TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const purgeInterval = 10 * time.Minute

// Postgres is the lib/pq-backed room store.
type Postgres struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgres connects (with backoff), ensures the schema, and returns
// the store.
func NewPostgres(ctx context.Context, databaseURL string, ttl time.Duration) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Postgres{db: db, ttl: ttl}, nil
}

// Create inserts a room record.
func (p *Postgres) Create(ctx context.Context, code, passwordHash string) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rooms (code, password_hash) VALUES ($1, $2)`,
		code, passwordHash)
	metrics.RecordDBQuery("create_room", time.Since(start))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// Lookup fetches a room by code. Rows older than the TTL are deleted and
// reported as not found.
func (p *Postgres) Lookup(ctx context.Context, code string) (*Room, error) {
	start := time.Now()
	room := &Room{Code: code}
	err := p.db.QueryRowContext(ctx,
		`SELECT password_hash, created_at FROM rooms WHERE code = $1`,
		code).Scan(&room.PasswordHash, &room.CreatedAt)
	metrics.RecordDBQuery("lookup_room", time.Since(start))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup room: %w", err)
	}
	if time.Since(room.CreatedAt) > p.ttl {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM rooms WHERE code = $1`, code); err != nil {
			logging.Warn("expired room delete failed", zap.String("room", code), zap.Error(err))
		}
		return nil, ErrNotFound
	}
	return room, nil
}

// StartPurge deletes expired rooms on an interval until ctx is canceled.
func (p *Postgres) StartPurge(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				start := time.Now()
				res, err := p.db.ExecContext(ctx,
					`DELETE FROM rooms WHERE created_at < now() - $1::interval`,
					fmt.Sprintf("%d seconds", int(p.ttl.Seconds())))
				metrics.RecordDBQuery("purge_rooms", time.Since(start))
				if err != nil {
					logging.Warn("room purge failed", zap.Error(err))
					continue
				}
				if n, _ := res.RowsAffected(); n > 0 {
					logging.Info("purged expired rooms", zap.Int64("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes the database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}
