// Package pgtest boots one throwaway Postgres container for a test
// binary and hands each test an isolated schema sandbox.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tabletrace/tabletrace/internal/config"
)

type options struct {
	image    string
	dbName   string
	user     string
	password string
	gooseUp  bool
	gooseFS  fs.FS
}

type Option func(*options)

func WithImage(i string) Option    { return func(o *options) { o.image = i } }
func WithDBName(n string) Option   { return func(o *options) { o.dbName = n } }
func WithUser(u string) Option     { return func(o *options) { o.user = u } }
func WithPassword(p string) Option { return func(o *options) { o.password = p } }

// WithGooseUp applies the migrations in migFS to the fresh container.
func WithGooseUp(migFS fs.FS) Option {
	return func(o *options) {
		o.gooseUp = true
		o.gooseFS = migFS
	}
}

var (
	once       sync.Once
	pg         *postgres.PostgresContainer
	mu         sync.Mutex
	connString string
	baseCfg    config.PgConfig
)

func boot(ctx context.Context, o *options) error {
	var onceErr error
	once.Do(func() {
		if o.image == "" {
			o.image = "docker.io/postgres:16-alpine"
		}
		if o.dbName == "" {
			o.dbName = "app"
		}
		if o.user == "" {
			o.user = "postgres"
		}
		if o.password == "" {
			o.password = "pass"
		}

		container, err := postgres.Run(ctx,
			o.image,
			postgres.WithDatabase(o.dbName),
			postgres.WithUsername(o.user),
			postgres.WithPassword(o.password),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			onceErr = err
			return
		}
		pg = container

		host, _ := container.Host(ctx)
		port, _ := container.MappedPort(ctx, "5432/tcp")
		connString = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			o.user, o.password, host, port.Port(), o.dbName,
		)
		baseCfg = config.PgConfig{
			Host:     host,
			Port:     uint16(port.Int()),
			User:     o.user,
			Password: o.password,
			Database: o.dbName,
			UseSSL:   false,
		}

		if o.gooseUp {
			if o.gooseFS == nil {
				onceErr = fmt.Errorf("WithGooseUp requires a non-nil fs.FS")
				return
			}
			db, err := sql.Open("pgx", connString)
			if err != nil {
				onceErr = err
				return
			}
			defer db.Close()

			goose.SetBaseFS(o.gooseFS)
			if err := goose.SetDialect("postgres"); err != nil {
				onceErr = err
				return
			}
			if err := goose.Up(db, "."); err != nil {
				onceErr = err
				return
			}
		}
	})
	return onceErr
}

// ConnString is the admin DSN of the booted container.
func ConnString() string { return connString }

// BaseConfig is the container's connection config for the gateway.
func BaseConfig() config.PgConfig { return baseCfg }

func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return pg.Terminate(ctx)
}
