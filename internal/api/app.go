package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatrelay/internal/blob"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/relay"
	"github.com/npezzotti/go-chatrelay/internal/translate"
)

const (
	uploadPrefix = "/uploads/"
	// multipart framing on top of the image itself
	uploadOverhead = 64 << 10
	jsonBodyLimit  = 1 << 20
)

// RelayApp is the HTTP surface in front of the relay: accounts, history,
// uploads, translation, and the websocket endpoint.
type RelayApp struct {
	log            *log.Logger
	db             database.Repository
	srv            *http.Server
	relay          *relay.Relay
	blobs          blob.Store
	translator     translate.Translator
	signingKey     []byte
	allowedOrigins []string
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, r *relay.Relay, db database.Repository,
	blobs blob.Store, translator translate.Translator, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		db:             db,
		relay:          r,
		blobs:          blobs,
		translator:     translator,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", limitBody(jsonBodyLimit, s.createAccount))
	mux.HandleFunc("POST /api/auth/login", limitBody(jsonBodyLimit, s.login))
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("DELETE /api/account", s.authMiddleware(s.deleteAccount))
	mux.HandleFunc("GET /api/presence", s.authMiddleware(s.getPresence))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.HandleFunc("GET /api/private-messages/{userId1}/{userId2}", s.authMiddleware(s.getPrivateMessages))
	mux.HandleFunc("DELETE /api/private-messages/{id}", s.authMiddleware(s.deletePrivateMessage))
	mux.HandleFunc("POST /api/upload-image", s.authMiddleware(limitBody(blob.MaxSize+uploadOverhead, s.uploadImage)))
	mux.HandleFunc("POST /api/translate", s.authMiddleware(limitBody(jsonBodyLimit, s.translate)))
	mux.Handle("GET "+uploadPrefix, http.StripPrefix(uploadPrefix, http.FileServer(http.Dir(cfg.UploadDir))))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = s.accessLog(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
