package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

// loggingMiddleware logs one line per request at debug level for
// health checks and info level otherwise
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := s.logger.Info
		if r.URL.Path == "/health" {
			log = s.logger.Debug
		}
		log("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireAuth rejects requests for which valid returns false. A route whose
// credential is not configured (open == true) is left public.
func (s *Server) requireAuth(scope string, open bool, valid func(r *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if open {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !valid(r) {
				s.logger.Warn("unauthorized request",
					"scope", scope,
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				s.sendError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// apiAuth protects the management endpoints with api_key or api_key_hash
func (s *Server) apiAuth() func(http.Handler) http.Handler {
	open := s.config.APIKey == "" && s.config.APIKeyHash == ""
	return s.requireAuth("api", open, func(r *http.Request) bool {
		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		return s.validAPIKey(strings.TrimPrefix(key, "Bearer "))
	})
}

// cronAuth requires "Authorization: Bearer <cron secret>" exactly
func (s *Server) cronAuth() func(http.Handler) http.Handler {
	return s.requireAuth("cron", s.config.CronSecret == "", func(r *http.Request) bool {
		return secretEqual(r.Header.Get("Authorization"), "Bearer "+s.config.CronSecret)
	})
}

func (s *Server) validAPIKey(key string) bool {
	if key == "" {
		return false
	}
	if s.config.APIKey != "" && secretEqual(key, s.config.APIKey) {
		return true
	}
	if s.config.APIKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.config.APIKeyHash), []byte(key)) == nil
	}
	return false
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
