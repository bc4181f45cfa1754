package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/tabletrace/tabletrace/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to tabletrace.yaml (optional)")
	flag.Parse()

	srv, err := app.NewServer(*configPath)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	if err := srv.Run(); err != nil {
		zap.L().Fatal("server exited", zap.Error(err))
	}
}
