package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/ordersight/ordersight-backend/internal/platform/envutil"
	"github.com/ordersight/ordersight-backend/internal/platform/logger"
)

// ErrReconnecting is observed by Handle() waiters whose warmup gate was
// abandoned by a forced reconnect; they re-attach to the replacement gate.
var ErrReconnecting = errors.New("db: reconnecting")

// ErrNotReady is returned when warmup verification ultimately failed.
var ErrNotReady = errors.New("db: connection not ready")

type Config struct {
	Driver string // "postgres" (default) or "sqlite"
	DSN    string

	WarmupTimeout time.Duration // how long verification may take before the gate fails
	PingInterval  time.Duration // delay between verification attempts

	MaxOpenConns int
	MaxIdleConns int
}

func ConfigFromEnv() Config {
	driver := strings.ToLower(envutil.Str("DB_DRIVER", "postgres"))
	dsn := envutil.Str("DATABASE_DSN", "")
	if dsn == "" && driver == "postgres" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			envutil.Str("POSTGRES_USER", "postgres"),
			envutil.Str("POSTGRES_PASSWORD", ""),
			envutil.Str("POSTGRES_HOST", "localhost"),
			envutil.Str("POSTGRES_PORT", "5432"),
			envutil.Str("POSTGRES_NAME", "ordersight"),
			envutil.Str("POSTGRES_SSLMODE", "disable"),
		)
	}
	if dsn == "" && driver == "sqlite" {
		dsn = "ordersight.db"
	}
	return Config{
		Driver:        driver,
		DSN:           dsn,
		WarmupTimeout: envutil.Duration("DB_WARMUP_TIMEOUT", 30*time.Second),
		PingInterval:  envutil.Duration("DB_WARMUP_PING_INTERVAL", 500*time.Millisecond),
		MaxOpenConns:  envutil.Int("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:  envutil.Int("DB_MAX_IDLE_CONNS", 5),
	}
}

// warmupGate is the warmup future: done closes once verification finishes,
// after which err tells waiters what happened.
type warmupGate struct {
	done chan struct{}
	err  error
}

// Gateway owns the shared GORM handle. Construction establishes the
// connection; a background verification round-trip then opens the warmup
// gate. Handle() waits on the gate by default; cheap single-row readers may
// skip the wait and use the already-established (unverified) connection.
type Gateway struct {
	log *logger.Logger
	cfg Config

	mu   sync.RWMutex
	db   *gorm.DB
	gate *warmupGate

	reconnecting bool
}

func NewGateway(baseLog *logger.Logger, cfg Config) (*Gateway, error) {
	g := &Gateway{
		log: baseLog.With("component", "DBGateway"),
		cfg: cfg,
	}
	handle, err := g.open()
	if err != nil {
		return nil, err
	}
	g.db = handle
	g.gate = &warmupGate{done: make(chan struct{})}
	go g.verify(g.gate, handle)
	return g, nil
}

func (g *Gateway) open() (*gorm.DB, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	var dial gorm.Dialector
	switch g.cfg.Driver {
	case "sqlite":
		dial = sqlite.Open(g.cfg.DSN)
	default:
		dial = postgres.Open(g.cfg.DSN)
	}
	handle, err := gorm.Open(dial, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", g.cfg.Driver, err)
	}
	if sqlDB, err := handle.DB(); err == nil {
		if g.cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(g.cfg.MaxOpenConns)
		}
		if g.cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(g.cfg.MaxIdleConns)
		}
	}

	// Every query error flows through ObserveError, so a broken socket
	// anywhere in the repos triggers the reconnect without each call site
	// having to report it.
	observe := func(tx *gorm.DB) {
		if tx.Error != nil {
			g.ObserveError(tx.Error)
		}
	}
	_ = handle.Callback().Create().After("gorm:create").Register("observe_conn_error", observe)
	_ = handle.Callback().Query().After("gorm:query").Register("observe_conn_error", observe)
	_ = handle.Callback().Update().After("gorm:update").Register("observe_conn_error", observe)
	_ = handle.Callback().Delete().After("gorm:delete").Register("observe_conn_error", observe)
	_ = handle.Callback().Row().After("gorm:row").Register("observe_conn_error", observe)
	_ = handle.Callback().Raw().After("gorm:raw").Register("observe_conn_error", observe)

	return handle, nil
}

// verify confirms readiness with a trivial round trip. The connection itself
// already exists; this only closes the warmup gate once a query succeeds.
func (g *Gateway) verify(gate *warmupGate, handle *gorm.DB) {
	deadline := time.Now().Add(g.cfg.WarmupTimeout)
	interval := g.cfg.PingInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	var lastErr error
	for {
		var one int
		lastErr = handle.Raw("SELECT 1").Scan(&one).Error
		if lastErr == nil {
			g.log.Debug("warmup verification succeeded")
			close(gate.done)
			return
		}
		if time.Now().After(deadline) {
			g.log.Error("warmup verification failed", "error", lastErr)
			gate.err = fmt.Errorf("%w: %v", ErrNotReady, lastErr)
			close(gate.done)
			return
		}
		time.Sleep(interval)
	}
}

// Handle returns the shared handle, by default after warmup verification.
// With skipWarmupWait the handle is returned immediately; the caller accepts
// a small chance of one extra retry instead of stalling simple reads behind
// a multi-second warmup.
func (g *Gateway) Handle(ctx context.Context, skipWarmupWait bool) (*gorm.DB, error) {
	for {
		g.mu.RLock()
		handle, gate := g.db, g.gate
		g.mu.RUnlock()
		if handle == nil || gate == nil {
			return nil, ErrNotReady
		}
		if skipWarmupWait {
			return handle, nil
		}
		select {
		case <-gate.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if gate.err == nil {
			return handle, nil
		}
		if errors.Is(gate.err, ErrReconnecting) {
			// A forced reconnect replaced the gate; wait on the new one.
			continue
		}
		return nil, gate.err
	}
}

// Reconnect tears down the current handle and rebuilds it together with a
// fresh warmup gate. Waiters parked on the old gate move to the new one.
func (g *Gateway) Reconnect() error {
	g.mu.Lock()
	if g.reconnecting {
		g.mu.Unlock()
		return nil
	}
	g.reconnecting = true
	oldGate := g.gate
	oldDB := g.db
	g.mu.Unlock()

	g.log.Warn("forcing reconnect")
	handle, err := g.open()

	g.mu.Lock()
	g.reconnecting = false
	if err != nil {
		g.mu.Unlock()
		g.log.Error("reconnect failed", "error", err)
		return err
	}
	g.db = handle
	newGate := &warmupGate{done: make(chan struct{})}
	g.gate = newGate
	g.mu.Unlock()

	if oldGate != nil {
		select {
		case <-oldGate.done:
		default:
			oldGate.err = ErrReconnecting
			close(oldGate.done)
		}
	}
	if oldDB != nil {
		if sqlDB, derr := oldDB.DB(); derr == nil {
			_ = sqlDB.Close()
		}
	}
	go g.verify(newGate, handle)
	return nil
}

// ObserveError inspects a query error and triggers an async reconnect when it
// indicates the connection itself (not the query) is broken. Returns true if
// a reconnect was kicked off.
func (g *Gateway) ObserveError(err error) bool {
	if !IsFatalConnError(err) {
		return false
	}
	go func() { _ = g.Reconnect() }()
	return true
}

func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return
	}
	if sqlDB, err := g.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	g.db = nil
}

// IsFatalConnError distinguishes connection-level failures (class 08, broken
// sockets) from query-level errors; only the former warrant a reconnect.
func IsFatalConnError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08")
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "unexpected eof"),
		strings.Contains(msg, "bad connection"):
		return true
	}
	return false
}
