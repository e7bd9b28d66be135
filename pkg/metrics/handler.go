// HTTP handler for the Prometheus metrics endpoint
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"crypto/subtle"
	"net/http"
	"strconv"
)

// contentType is the Prometheus text exposition content type
const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Gatherer produces the exposition text.
type Gatherer interface {
	Gather() string
}

// HandlerConfig holds optional basic auth credentials.
type HandlerConfig struct {
	Username string
	Password string
}

// Handler serves g on GET and HEAD.
func Handler(g Gatherer, cfg HandlerConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r, cfg) {
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body := g.Gather()
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(body))
	})
}

// checkAuth verifies basic auth if configured
func checkAuth(w http.ResponseWriter, r *http.Request, cfg HandlerConfig) bool {
	if cfg.Username == "" && cfg.Password == "" {
		return true
	}

	username, password, ok := r.BasicAuth()
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) == 1
	if !ok || !userOK || !passOK {
		w.Header().Set("WWW-Authenticate", `Basic realm="Crane Metrics"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}
