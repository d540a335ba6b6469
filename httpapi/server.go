// Package httpapi exposes the operational HTTP surface: Prometheus
// metrics, a health probe and a small JSON API for minting aliases and
// inspecting the audit trail.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soteria-mail/soteria/alias"
	"github.com/soteria-mail/soteria/audit"
)

// AuditLister reads back recorded verdicts. Implemented by *audit.Store.
type AuditLister interface {
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Server is the HTTP API server.
type Server struct {
	addr       string
	apiKey     string
	codec      *alias.Codec
	ownDomains []string
	auditLog   AuditLister
	server     *http.Server
}

// ServerOptions holds configuration options for the HTTP API server.
type ServerOptions struct {
	Addr       string
	APIKey     string
	Codec      *alias.Codec
	OwnDomains []string
	AuditLog   AuditLister
}

// New creates a new HTTP API server.
func New(options ServerOptions) (*Server, error) {
	if options.Addr == "" {
		return nil, fmt.Errorf("listen address is required for HTTP API server")
	}
	return &Server{
		addr:       options.Addr,
		apiKey:     options.APIKey,
		codec:      options.Codec,
		ownDomains: options.OwnDomains,
		auditLog:   options.AuditLog,
	}, nil
}

// Start runs the HTTP API server until ctx is cancelled. Startup and
// serve failures are reported on errChan.
func Start(ctx context.Context, options ServerOptions, errChan chan error) {
	server, err := New(options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	log.Printf("Starting HTTP API server on %s", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("Shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP API server: %v", err)
		}
	}()

	return s.server.ListenAndServe()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)

	// Unauthenticated probes.
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/aliases", s.handleGenerateAlias).Methods("POST")
	v1.HandleFunc("/audit", s.handleListAudit).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("HTTP API: %s %s from %s completed in %v", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			// No key configured, API is open. Intended for localhost-only
			// deployments.
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("HTTP API: Error encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Request/Response types

type GenerateAliasRequest struct {
	OtherDomain string `json:"other_domain"`
	OwnDomain   string `json:"own_domain,omitempty"`
}

// Handler functions

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerateAlias(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if s.codec == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Alias generation not available")
		return
	}

	var req GenerateAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	ownDomain := req.OwnDomain
	if ownDomain == "" {
		if len(s.ownDomains) == 0 {
			s.writeError(w, http.StatusBadRequest, "own_domain is required")
			return
		}
		ownDomain = s.ownDomains[0]
	}

	address, err := s.codec.GenerateAddress(req.OtherDomain, ownDomain)
	if err != nil {
		log.Printf("HTTP API: Error generating alias: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to generate alias")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"alias":        address,
		"other_domain": req.OtherDomain,
	})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Audit trail not enabled")
		return
	}

	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if l, err := strconv.Atoi(limitParam); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := s.auditLog.List(r.Context(), limit)
	if err != nil {
		log.Printf("HTTP API: Error listing audit entries: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list audit entries")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
