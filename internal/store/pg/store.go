// Package pg implementa los repositorios de federación sobre PostgreSQL (pgx).
package pg

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/federation/internal/observability/logger"
	migrations "github.com/dropDatabas3/federation/migrations/postgres"
)

// Tablas de los dos keyspaces de tokens.
const (
	InternalTokenTable   = "oauth_access_token"
	ThirdPartyTokenTable = "third_pty_oauth_access_token"
)

type Store struct{ pool *pgxpool.Pool }

// Tuning mapea la sección storage.postgres de la config.
type Tuning struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func New(ctx context.Context, dsn string, t Tuning) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if t.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(t.MaxOpenConns)
	}
	// MaxIdleConns → MinConns (pgxpool)
	if t.MaxIdleConns > 0 {
		pcfg.MinConns = int32(t.MaxIdleConns)
	}
	if pcfg.MinConns > pcfg.MaxConns {
		pcfg.MinConns = pcfg.MaxConns
	}
	if t.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = t.ConnMaxLifetime
		pcfg.MaxConnIdleTime = t.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: pool: %w", err)
	}

	log := logger.L().With(logger.Component("store.pg"))
	if err := pool.Ping(ctx); err != nil {
		// Arranque no bloqueante: readyz reporta el estado real.
		log.Warn("pg pool startup ping failed", logger.Err(err))
	} else {
		log.Info("pg pool ready", logger.Int("max_conns", int(pcfg.MaxConns)))
	}
	return &Store{pool: pool}, nil
}

// Pool expone el pool interno.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// InternalTokens devuelve el keyspace de tokens internos.
func (s *Store) InternalTokens() *TokenStore { return NewTokenStore(s.pool, InternalTokenTable) }

// ThirdPartyTokens devuelve el keyspace de tokens de terceros.
func (s *Store) ThirdPartyTokens() *TokenStore { return NewTokenStore(s.pool, ThirdPartyTokenTable) }

// Profiles devuelve el repositorio de perfiles.
func (s *Store) Profiles() *ProfileRepo { return NewProfileRepo(s.pool) }

// Migrate aplica las migraciones embebidas: "up" en orden, "down" en orden inverso.
// steps <= 0 aplica todas.
func (s *Store) Migrate(ctx context.Context, direction string, steps int) ([]string, error) {
	suffix := "_up.sql"
	if direction == "down" {
		suffix = "_down.sql"
	} else if direction != "up" {
		return nil, fmt.Errorf("pg: unknown migration direction %q", direction)
	}

	files, err := fs.Glob(migrations.FS, "*"+suffix)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}
	if steps > 0 && steps < len(files) {
		files = files[:steps]
	}

	applied := make([]string, 0, len(files))
	for _, f := range files {
		b, err := fs.ReadFile(migrations.FS, f)
		if err != nil {
			return applied, err
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("pg: exec %s: %w", f, err)
		}
		applied = append(applied, f)
	}
	return applied, nil
}
