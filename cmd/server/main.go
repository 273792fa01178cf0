// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/lexiwars/backend/internal/auth"
	"github.com/lexiwars/backend/internal/database"
	"github.com/lexiwars/backend/internal/handlers"
	"github.com/lexiwars/backend/internal/hub"
	"github.com/lexiwars/backend/internal/registry"
	"github.com/lexiwars/backend/internal/store"
	"github.com/lexiwars/backend/internal/words"
)

func main() {
	if err := auth.Init(); err != nil {
		log.Fatalf("failed to initialize auth: %v", err)
	}
	database.ConnectDB()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	dictPath := os.Getenv("DICTIONARY_PATH")
	if dictPath == "" {
		dictPath = "assets/words.txt"
	}
	dict, err := words.Load(dictPath)
	if err != nil {
		log.Fatalf("failed to load dictionary %s: %v", dictPath, err)
	}
	logger.Infof("Loaded dictionary with %d words", dict.Len())

	gateway, err := store.ConnectRedis(logger)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	eventHub := hub.New(logger)
	reg := registry.New(eventHub, gateway, dict, nil, logger)
	reg.ResultsFn = func(ctx context.Context, stats []store.PlayerStat) {
		if err := database.ApplyGameResults(ctx, stats); err != nil {
			logger.Warnf("failed to apply game results: %v", err)
		}
	}

	gateway.OnDegraded = reg.NotifyDegraded

	server := handlers.NewServer(reg, eventHub, gateway, logger)

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
