package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relaychat/go-relaychat/internal/api"
	"github.com/relaychat/go-relaychat/internal/auth"
	"github.com/relaychat/go-relaychat/internal/config"
	"github.com/relaychat/go-relaychat/internal/server"
	"github.com/relaychat/go-relaychat/internal/stats"
	"github.com/relaychat/go-relaychat/internal/store"
	"github.com/relaychat/go-relaychat/internal/types"
	"github.com/teris-io/shortid"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[relaychat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	db := store.NewMemStore()
	if err := seedDefaultRoom(db); err != nil {
		logger.Fatal("seed default room:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	tokenSvc := auth.NewTokenService(logger, db, cfg.SigningKey, cfg.TokenTTL, cfg.CleanupInterval)

	connManager, err := server.NewConnectionManager(logger, db, tokenSvc, statsUpdater,
		cfg.TypingTimeout, cfg.HeartbeatInterval)
	if err != nil {
		logger.Fatal("new connection manager:", err)
	}

	srv := api.NewRelayApp(mux, logger, connManager, db, tokenSvc, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	tokenSvc.Run()
	defer tokenSvc.Stop()

	go connManager.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down connection manager...")
	if err := connManager.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("connection manager shutdown:", err)
	}

	logger.Println("shutdown complete")
}

// seedDefaultRoom creates the system account and the public room every fresh
// deployment starts with.
func seedDefaultRoom(db store.Repository) error {
	pwdHash, err := auth.HashPassword(shortid.MustGenerate())
	if err != nil {
		return err
	}

	system, err := db.CreateAccount(store.CreateAccountParams{
		Username:     "system",
		Email:        "system@localhost",
		PasswordHash: pwdHash,
		Role:         types.RoleAdmin,
	})
	if err != nil {
		return err
	}

	roomId, err := shortid.Generate()
	if err != nil {
		return err
	}

	_, err = db.CreateRoom(store.CreateRoomParams{
		Id:         roomId,
		Name:       "general",
		Visibility: types.VisibilityPublic,
		OwnerId:    system.Id,
	})
	return err
}
