package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studybuddy/internal/api"
	"studybuddy/internal/chat"
	"studybuddy/internal/commands"
	"studybuddy/internal/config"
	"studybuddy/internal/filestore"
	"studybuddy/internal/http"
	"studybuddy/internal/presence"
	"studybuddy/internal/push"
	"studybuddy/internal/storage"
	"studybuddy/internal/users"
	"studybuddy/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Username to register in the user directory via the running server's admin API")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	directory := users.NewDirectory(ctx, bbStorage)
	registry := presence.NewRegistry()
	hub := ws.NewHub(registry)
	notifier := push.NewNotifier(bbStorage, push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubject,
	})

	coordinator := chat.New(chat.Config{
		Store:    bbStorage,
		Users:    directory,
		Emitter:  hub,
		Presence: registry,
		Blobs:    files,
		Notifier: notifier,
	})

	wsServer := ws.NewServer(hub, coordinator)
	apiHandlers := api.New(bbStorage, directory, files, notifier, cfg.BaseURL)

	apiServer := http.NewAPIServer(apiHandlers, wsServer, cfg.WSPath, cfg.APIAddr)
	adminServer := http.NewAdminServer(api.NewAdminHandler(directory), cfg.AdminAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
