package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vpnpanel/internal/cert"
	"vpnpanel/internal/config"
	"vpnpanel/internal/httpapi"
	"vpnpanel/internal/logging"
	"vpnpanel/internal/notify"
	"vpnpanel/internal/signer"
	"vpnpanel/internal/store"
	"vpnpanel/internal/store/memory"
	"vpnpanel/internal/store/postgres"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var st store.Store
	var closer func()

	if cfg.DatabaseURL != "" {
		pg, err := postgres.NewStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to init postgres store", zap.Error(err))
		}
		st = pg
		closer = pg.Close
		logger.Info("using postgres store")
	} else {
		st = memory.NewStore()
		logger.Warn("using memory store, data is lost on restart")
	}

	if closer != nil {
		defer closer()
	}

	sg := signer.NewScript(cfg.SignerScript, cfg.SignerTimeout(), logger.Named("signer"))
	certs := cert.NewService(st, sg, logger.Named("cert"))

	var notifier notify.Notifier
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		logger.Info("using smtp notifier", zap.String("host", cfg.SMTPHost))
	} else {
		notifier = notify.NewLog(logger.Named("notify"))
		logger.Warn("no smtp host configured, expiry warnings are only logged")
	}

	sweeper := cert.NewSweeper(st, certs, notifier, cfg.WarnWindow(), logger.Named("sweeper"))
	go sweeper.Run(rootCtx, cfg.WarnInterval(), cfg.ReapInterval(), cfg.ReportInterval())

	srv := httpapi.NewServer(cfg, st, certs, logger.Named("http"))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vpnpanel listening", zap.String("addr", cfg.ListenAddr()))
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	cancelRoot()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
}
