package points

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/animita-app/animitas-sub001/internal/core/model"
)

// Querier is the subset of *pgxpool.Pool the source needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

const selectMemorials = `SELECT id, lng, lat, COALESCE(name, ''), COALESCE(properties, '{}'::jsonb)
FROM memorials
ORDER BY id`

// Postgres reads memorials from a read-only table.
type Postgres struct {
	db      Querier
	closeFn func()
}

func NewPostgres(db Querier) *Postgres { return &Postgres{db: db} }

// OpenPostgres connects a small pool and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{db: pool, closeFn: pool.Close}, nil
}

func (s *Postgres) Name() string { return "postgres" }

func (s *Postgres) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Postgres) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

func (s *Postgres) Load(ctx context.Context) ([]model.Memorial, error) {
	rows, err := s.db.Query(ctx, selectMemorials)
	if err != nil {
		return nil, fmt.Errorf("query memorials: %w", err)
	}
	defer rows.Close()

	var out []model.Memorial
	for rows.Next() {
		var (
			m     model.Memorial
			props []byte
		)
		if err := rows.Scan(&m.ID, &m.Lng, &m.Lat, &m.Name, &props); err != nil {
			return nil, fmt.Errorf("scan memorial: %w", err)
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &m.Properties); err != nil {
				return nil, fmt.Errorf("memorial %s properties: %w", m.ID, err)
			}
			if len(m.Properties) == 0 {
				m.Properties = nil
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memorials: %w", err)
	}
	return out, nil
}
