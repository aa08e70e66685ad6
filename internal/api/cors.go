// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig controls which browser origins may reach the server.
type CORSConfig struct {
	// AllowedOrigins lists exact origins, "*" or "*.suffix" patterns.
	AllowedOrigins []string

	// AllowedMethods defaults to GET, POST and OPTIONS.
	AllowedMethods []string

	// AllowedHeaders defaults to Content-Type, Authorization and Last-Event-ID.
	AllowedHeaders []string

	// MaxAge is how long in seconds a preflight result may be cached.
	MaxAge int
}

// CORS wraps next with cross-origin headers for allowed origins. With no
// allowed origins it returns next unchanged.
func CORS(config CORSConfig, next http.Handler) http.Handler {
	if len(config.AllowedOrigins) == 0 {
		return next
	}
	if len(config.AllowedMethods) == 0 {
		config.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(config.AllowedHeaders) == 0 {
		config.AllowedHeaders = []string{"Content-Type", "Authorization", "Last-Event-ID"}
	}
	if config.MaxAge == 0 {
		config.MaxAge = 600
	}

	methods := strings.Join(config.AllowedMethods, ", ")
	headers := strings.Join(config.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !originAllowed(origin, config.AllowedOrigins) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", maxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		switch {
		case a == "*", a == origin:
			return true
		case strings.HasPrefix(a, "*."):
			if strings.HasSuffix(origin, a[1:]) {
				return true
			}
		}
	}
	return false
}
