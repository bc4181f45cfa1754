// Package app wires the components together and runs the HTTP server.
package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tabletrace/tabletrace/internal/api"
	"github.com/tabletrace/tabletrace/internal/config"
	"github.com/tabletrace/tabletrace/internal/logutil"
	"github.com/tabletrace/tabletrace/internal/pgw"
	"github.com/tabletrace/tabletrace/internal/watch"
)

type Server struct {
	httpServer *http.Server
	gw         *pgw.Gateway
	poller     *watch.Poller
	syncLogs   func()
}

func NewServer(configPath string) (*Server, error) {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return nil, err
	}
	syncLogs, err := logutil.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	gw := pgw.NewGateway()
	poller := watch.NewPoller(gw, watch.Config{
		Interval:        time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		MaxRowsPerTable: cfg.MaxRowsPerTable,
	})

	handlers := &api.Handlers{
		GW:       gw,
		Poller:   poller,
		Profiles: config.NewProfileStore(cfg.ProfilesPath),
		Hub:      api.NewHub(),
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: api.SetupRoutes(handlers),
		},
		gw:       gw,
		poller:   poller,
		syncLogs: syncLogs,
	}, nil
}

// Run serves until SIGINT/SIGTERM, then shuts down the HTTP server,
// stops the watcher and drops the database connection.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.poller.Stop()
	s.poller.Clear()
	s.gw.Disconnect()
	s.syncLogs()
	return err
}
