// Command mdkd runs the demo host daemon: an mdk.Core backed by
// Postgres (or an in-process store when -dsn is empty) behind a small
// status/debug HTTP surface, fanning rollback notifications out over
// NATS when -nats is set.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/suhailsaqan/mdk/internal/mdkd"
	"github.com/suhailsaqan/mdk/mdk"
	"github.com/suhailsaqan/mdk/mdkconfig"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/storage/memstore"
	"github.com/suhailsaqan/mdk/storage/pgstore"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dsn := flag.String("dsn", "", "Postgres DSN; empty uses an in-process memstore")
	natsURL := flag.String("nats", "", "NATS URL for rollback fan-out; empty disables it")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	var store storage.Storage
	if *dsn == "" {
		store = memstore.New()
		logger.Info("using in-process memstore")
	} else {
		ctx := context.Background()
		pg, err := pgstore.Open(ctx, *dsn)
		if err != nil {
			logger.Fatal("open postgres store", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	}

	core, err := mdk.New(store, mlsengine.NewKeystore(), mdkconfig.DefaultConfig(), nil, logger)
	if err != nil {
		logger.Fatal("construct core", zap.Error(err))
	}

	daemon, err := mdkd.New(core, mdkd.Config{Addr: *addr, NATSURL: *natsURL}, logger)
	if err != nil {
		logger.Fatal("construct daemon", zap.Error(err))
	}
	defer daemon.Close()
	core.Callback = daemon

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mdkd listening", zap.String("addr", *addr))
	if err := mdkd.ListenAndServe(ctx, daemon); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}
