package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"carvo/config"
	"carvo/internal/store"
	"carvo/internal/util"

	"go.uber.org/zap"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|up-by-one|up-to|down|down-to|redo|reset|status|version")
	flag.Parse()

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.Component("migrate").With(zap.String("cmd", *cmd))

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	// Extra positional args are passed through, e.g. the target of up-to.
	if err := store.Migrate(context.Background(), db.GetDB().DB, *cmd, flag.Args()...); err != nil {
		logger.Error("Migration failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		db.Close()
		os.Exit(1)
	}

	logger.Info("Migration complete")
}
