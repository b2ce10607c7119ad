package httpapi

import (
	"net/http"

	"tablestore/internal/auth"
	"tablestore/internal/config"
	"tablestore/internal/logging"
	"tablestore/internal/model"
	"tablestore/internal/store"
)

const changesPath = "/api/changes"

type Server struct {
	cfg    config.Config
	store  store.Store
	auth   *auth.Service
	log    logging.Logger
	tables model.TableSet
	mux    *http.ServeMux
	bus    *eventBus
}

func NewServer(cfg config.Config, st store.Store, authSvc *auth.Service, log logging.Logger) (*Server, error) {
	tables, err := cfg.TableSet()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		cfg:    cfg,
		store:  st,
		auth:   authSvc,
		log:    log,
		tables: tables,
		mux:    http.NewServeMux(),
		bus:    newEventBus(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = bodyLimitMiddleware(s.cfg.HTTP.MaxBodyBytes, h)
	h = timeoutMiddleware(s.cfg.HTTP.RequestTimeout, h)
	h = recoverMiddleware(s.log, h)
	h = corsMiddleware(s.cfg.HTTP.AllowedOrigins, h)
	h = requestIDMiddleware(h)
	h = loggingMiddleware(s.log, h)
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/ready", s.handleReady)

	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/google", s.handleGoogleLogin)
	s.mux.HandleFunc("GET /api/auth/me", s.requireAuth(s.handleMe))
	s.mux.HandleFunc("PUT /api/auth/profile", s.requireAuth(s.handleUpdateProfile))
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	s.mux.HandleFunc("GET "+changesPath, s.handleChanges)

	s.mux.HandleFunc("GET /api/{table}", s.handleListDocuments)
	s.mux.HandleFunc("POST /api/{table}", s.guardWrite(s.handleReplaceDocuments))
	s.mux.HandleFunc("PUT /api/{table}/{id}", s.guardWrite(s.handleUpsertDocument))
	s.mux.HandleFunc("DELETE /api/{table}/{id}", s.guardWrite(s.handleDeleteDocument))
}

// CloseStreams ends open change streams. http.Server.Shutdown does not cancel
// in-flight requests, so register this with RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.bus.Close()
}

// guardWrite puts collection writes behind the auth gate when configured.
func (s *Server) guardWrite(h http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Collections.RequireAuthForWrites {
		return s.requireAuth(h)
	}
	return h
}
