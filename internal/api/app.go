package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/relaychat/go-relaychat/internal/auth"
	"github.com/relaychat/go-relaychat/internal/config"
	"github.com/relaychat/go-relaychat/internal/server"
	"github.com/relaychat/go-relaychat/internal/store"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

type RelayApp struct {
	log            *log.Logger
	db             store.Repository
	cm             *server.ConnectionManager
	tokens         *auth.TokenService
	mux            *http.Server
	allowedOrigins []string
	limiter        *ipRateLimiter
	// generateShortId is swapped out in tests
	generateShortId func() (string, error)
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, cm *server.ConnectionManager,
	db store.Repository, tokenSvc *auth.TokenService, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:             logger,
		db:              db,
		cm:              cm,
		tokens:          tokenSvc,
		allowedOrigins:  cfg.AllowedOrigins,
		limiter:         newIpRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst, 2*time.Minute),
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /auth/register", s.rateLimitMiddleware(s.register))
	mux.HandleFunc("POST /auth/login", s.rateLimitMiddleware(s.login))
	mux.Handle("POST /auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /auth/profile", s.authMiddleware(s.profile))
	mux.Handle("PUT /auth/status", s.authMiddleware(s.updateStatus))
	mux.Handle("GET /messages", s.authMiddleware(s.listRooms))
	mux.Handle("GET /messages/{roomId}", s.authMiddleware(s.getMessages))
	mux.Handle("POST /messages/{roomId}", s.authMiddleware(s.createMessage))
	mux.Handle("PUT /messages/{roomId}/{messageId}", s.authMiddleware(s.updateMessage))
	mux.Handle("DELETE /messages/{roomId}/{messageId}", s.authMiddleware(s.deleteMessage))
	mux.Handle("POST /rooms", s.authMiddleware(s.createRoom))
	mux.Handle("POST /rooms/{roomId}/members", s.authMiddleware(s.addMember))
	mux.Handle("DELETE /rooms/{roomId}/members", s.authMiddleware(s.removeMember))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	s.limiter.Stop()
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}
