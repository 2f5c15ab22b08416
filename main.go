package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Painter/ai"
	"Painter/bot"
	"Painter/core"
	"Painter/holder"
	"Painter/lib/keystore"
	"Painter/lib/sl"
	"Painter/storage"

	"github.com/joho/godotenv"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	conf := core.MustLoad(*configPath)
	log := setupLogger(conf.Env)
	log.With(
		slog.String("config", *configPath),
		slog.String("env", conf.Env),
		slog.String("storage", conf.Storage.Driver),
		slog.String("generator", conf.Generator.Backend),
		sl.Secret(conf.Telegram.Token),
	).Info("starting painter bot")

	// TLS must be usable before anything else starts
	cert, err := keystore.Load(keystore.Options{
		Path:     conf.TLS.Keystore,
		Password: conf.TLS.KeystorePassword,
		Alias:    conf.TLS.KeyAlias,
		CertFile: conf.TLS.CertFile,
		KeyFile:  conf.TLS.KeyFile,
	})
	if err != nil {
		log.Error("loading tls certificate", sl.Err(err))
		os.Exit(1)
	}

	store, err := openStorage(conf, log)
	if err != nil {
		log.Error("opening storage", sl.Err(err))
		os.Exit(1)
	}
	state := holder.NewStateManager(store, log)

	tgBot, err := bot.NewTgBot(conf, log)
	if err != nil {
		log.Error("creating telegram", sl.Err(err))
		_ = state.Close()
		os.Exit(1)
	}
	if conf.Telegram.RegisterWebhook {
		if err := tgBot.RegisterWebhook(conf.WebhookURL(), conf.Telegram.Certificate, conf.Telegram.MaxConnections); err != nil {
			log.Error("registering webhook", sl.Err(err))
		}
	}

	conversation := holder.NewConversation(state, tgBot, newGenerator(conf, log), log)
	dispatcher := bot.NewDispatcher(conversation.OnMessage, conf.Queue.Size, log)
	gateway := bot.NewGateway(conf.Telegram.Token, dispatcher, log)

	addr := net.JoinHostPort(conf.Telegram.Listen, conf.Telegram.Port)
	srv := bot.NewServer(addr, gateway.Router(), cert)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.With(slog.String("addr", addr)).Info("webhook listening")
		serveErr <- bot.Serve(srv)
	}()

	select {
	case <-ctx.Done():
		log.Info("received signal, shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("server stopped with error", sl.Err(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", sl.Err(err))
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Error("pending messages abandoned", sl.Err(err))
	}
	if err := state.Close(); err != nil {
		log.Error("closing storage", sl.Err(err))
	}

	log.Info("shutdown complete")
}

func openStorage(conf *core.Config, log *slog.Logger) (storage.StateStorage, error) {
	switch conf.Storage.Driver {
	case core.StorageMongo:
		mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%s",
			conf.Mongo.User, conf.Mongo.Password,
			conf.Mongo.Host, conf.Mongo.Port)
		store, err := storage.NewMongoStorage(mongoURI, conf.Mongo.Database, log)
		if err != nil {
			log.With(
				slog.String("db", conf.Mongo.Database),
				slog.String("user", conf.Mongo.User),
				slog.String("host", conf.Mongo.Host),
			).Error("falling back to memory", sl.Err(err))
			return storage.NewMemoryStorage(), nil
		}
		log.Info("using MongoDB storage")
		return store, nil
	case core.StorageSQLite:
		store, err := storage.NewSQLiteStorage(conf.SQLite.Path)
		if err != nil {
			return nil, err
		}
		log.With(slog.String("path", conf.SQLite.Path)).Info("using SQLite storage")
		return store, nil
	default:
		log.Info("using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
}

func newGenerator(conf *core.Config, log *slog.Logger) core.Generator {
	if conf.Generator.Backend == core.BackendWebUI {
		return ai.NewWebUIGenerator(conf, log)
	}
	return ai.NewProcessGenerator(conf, log)
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal, envDev:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
