package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avralex/bourse/params"
	"github.com/avralex/bourse/pkg/api"
	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/util"
	"github.com/avralex/bourse/pkg/venue/book"
	"github.com/avralex/bourse/pkg/venue/engine"
	"github.com/avralex/bourse/pkg/venue/identity"
	"github.com/avralex/bourse/pkg/venue/instrument"
	"github.com/avralex/bourse/pkg/venue/ledger"
	"github.com/avralex/bourse/pkg/venue/orderstore"
	"github.com/avralex/bourse/pkg/venue/tradelog"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	db, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer db.Close()
	sugar.Infow("storage_opened", "dir", cfg.Node.DataDir)

	instruments := instrument.New(db)
	orders := orderstore.New(db)
	trades := tradelog.New(db)
	bal := ledger.New(db)
	bookView := book.New(db)
	ident := identity.New(db)

	eng := engine.New(db, instruments, orders, trades, bal, cfg.Venue.QuoteAsset, util.RealClock{}, sugar)

	admin, created, err := ident.EnsureAdmin(cfg.Node.AdminName)
	if err != nil {
		sugar.Fatalw("admin_bootstrap_failed", "err", err)
	}
	if created {
		// Printed once so the operator can collect the initial credential.
		sugar.Infow("admin_created", "name", admin.Name, "api_key", admin.APIKey)
	}

	server := api.NewServer(api.Config{
		CORSOrigins:  cfg.API.CORSOrigins,
		HistoryLimit: cfg.Venue.HistoryLimit,
	}, eng, orders, trades, bal, bookView, instruments, ident, sugar)

	httpServer := &http.Server{
		Addr:    cfg.API.Listen,
		Handler: server.Handler(),
	}

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	sugar.Infow("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
