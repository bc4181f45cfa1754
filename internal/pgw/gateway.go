// Package pgw is the PostgreSQL gateway: it owns the database session
// and exposes the catalog and data queries the rest of the server runs.
//
// The session is a small pgx pool behind an RWMutex. Connect and
// Disconnect take the write half; every query takes a read lease only
// for the duration of a single call, so the poller never holds the
// session across a tick. The dry-run evaluator acquires one dedicated
// connection for its whole transaction protocol (see session.go).
package pgw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tabletrace/tabletrace/internal/change"
	"github.com/tabletrace/tabletrace/internal/config"
	"github.com/tabletrace/tabletrace/internal/logutil"
)

// ErrNotConnected is returned by every query issued while no session is
// open. Callers surface it; nothing here retries.
var ErrNotConnected = errors.New("not connected to database")

const connectTimeout = 15 * time.Second

// Gateway owns the database session and its connection state.
type Gateway struct {
	mu    sync.RWMutex
	pool  *pgxpool.Pool
	cfg   config.PgConfig
	state change.ConnState
}

func NewGateway() *Gateway {
	return &Gateway{state: change.Disconnected()}
}

// Connect opens a new session, releasing any prior one first. On
// failure the state becomes Error and the error is returned.
func (g *Gateway) Connect(ctx context.Context, cfg config.PgConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pool != nil {
		g.pool.Close()
		g.pool = nil
	}
	g.state = change.Connecting()

	zap.L().Info("connecting to PostgreSQL", logutil.Values(
		zap.String("host", cfg.Host),
		zap.Uint16("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.Bool("ssl", cfg.UseSSL),
	))

	pool, err := openPool(ctx, cfg)
	if err != nil {
		g.state = change.Errored(err.Error())
		zap.L().Error("PostgreSQL connection failed", zap.Error(err))
		return fmt.Errorf("connection failed: %w", err)
	}

	g.pool = pool
	g.cfg = cfg
	g.state = change.Connected()
	zap.L().Info("connected to PostgreSQL",
		zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return nil
}

// Disconnect closes the session. Idempotent.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pool != nil {
		g.pool.Close()
		g.pool = nil
	}
	g.cfg = config.PgConfig{}
	g.state = change.Disconnected()
	zap.L().Info("disconnected from PostgreSQL")
}

// TestConnection opens a throwaway session, runs a trivial probe and
// discards it.
func TestConnection(ctx context.Context, cfg config.PgConfig) error {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer pool.Close()

	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("connection probe failed: %w", err)
	}
	return nil
}

// State reports the current connection state.
func (g *Gateway) State() change.ConnState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gateway) IsConnected() bool {
	return g.State().IsConnected()
}

// lease returns the pool under a read lease. The pointer stays valid
// even if a concurrent Disconnect swaps it out; pgxpool drains closed
// pools safely.
func (g *Gateway) lease() (*pgxpool.Pool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.pool == nil || !g.state.IsConnected() {
		return nil, ErrNotConnected
	}
	return g.pool, nil
}

func openPool(ctx context.Context, cfg config.PgConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	// Queries are short and few; a handful of connections suffices,
	// and a small cap keeps the tool polite on shared databases.
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "tabletrace"
	if cfg.UseSSL && poolCfg.ConnConfig.TLSConfig != nil {
		// Self-signed certificates are the norm for the dev databases
		// this tool is pointed at.
		poolCfg.ConnConfig.TLSConfig.InsecureSkipVerify = true
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
