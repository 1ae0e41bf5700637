package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 128
	// analyst used for every request when auth is disabled
	anonymousAnalyst = "system"
	limiterIdleTTL   = time.Hour
)

// requestIDMiddleware propagates or generates X-Request-ID and logs request timing
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := sanitizeRequestID(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(WithRequestID(r.Context(), requestID)))

		a.logger.Debugw("request_completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// sanitizeRequestID keeps only alphanumerics, dashes and underscores
func sanitizeRequestID(id string) string {
	if len(id) > maxRequestIDLength {
		id = id[:maxRequestIDLength]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, id)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers for the configured origins
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.API.AllowedOrigins {
			if origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if a.config.API.TLS {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jwtAuthMiddleware authenticates the bearer token and stores the analyst in the context
func (a *API) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Auth.Enabled {
			next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), anonymousAnalyst)))
			return
		}

		token, err := bearerToken(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crits"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized", err, a.logger)
			return
		}
		claims, err := validateJWT(token, a.config.Auth.JWTSecret, a.config.Auth.Issuer)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crits", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized", err, a.logger)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), claims.Subject)))
	})
}

// importRateLimit throttles CSV imports per analyst
func (a *API) importRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		analyst, _ := GetUsername(r.Context())

		a.importLimitersMu.Lock()
		entry, ok := a.importLimiters[analyst]
		if !ok {
			entry = &limiterEntry{
				limiter: rate.NewLimiter(rate.Limit(a.config.API.ImportRate), a.config.API.ImportBurst),
			}
			a.importLimiters[analyst] = entry
		}
		entry.lastSeen = time.Now()
		// Capture the limiter while holding the lock; cleanup may drop the entry
		limiter := entry.limiter
		a.importLimitersMu.Unlock()

		if !limiter.Allow() {
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusTooManyRequests, "Too many import requests", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupImportLimiters periodically drops limiters of idle analysts
func (a *API) cleanupImportLimiters() {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.importLimitersMu.Lock()
			for analyst, entry := range a.importLimiters {
				if time.Since(entry.lastSeen) > limiterIdleTTL {
					delete(a.importLimiters, analyst)
				}
			}
			a.importLimitersMu.Unlock()
		case <-a.stopCh:
			return
		}
	}
}
