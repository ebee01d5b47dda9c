package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/httputil"
	"github.com/ignite/dispatch/internal/pkg/logger"
)

// KeyStore resolves API keys presented by clients. Keys are stored hashed;
// the raw token never touches the database.
type KeyStore interface {
	APIKeyByTokenHash(ctx context.Context, tokenHash string) (*domain.APIKey, error)
	TouchAPIKey(ctx context.Context, id string) error
}

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// HashToken derives the stored lookup hash from a raw API token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuth authenticates requests with a bearer API token. The resolved
// key is placed on the request context for handlers.
func APIKeyAuth(keys KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httputil.Error(w, http.StatusUnauthorized, "missing API key")
				return
			}

			key, err := keys.APIKeyByTokenHash(r.Context(), HashToken(token))
			if err != nil {
				httputil.InternalError(w, err)
				return
			}
			if key == nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			if err := keys.TouchAPIKey(r.Context(), key.ID); err != nil {
				logger.Warn("touch api key failed", "key_id", key.ID, "error", err.Error())
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	// SMTP gateway and older clients send the raw key header.
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// requestKey returns the authenticated API key, or nil outside the auth
// middleware.
func requestKey(r *http.Request) *domain.APIKey {
	key, _ := r.Context().Value(apiKeyContextKey).(*domain.APIKey)
	return key
}

// requestTeamID returns the authenticated team id.
func requestTeamID(r *http.Request) int64 {
	if key := requestKey(r); key != nil {
		return key.TeamID
	}
	return 0
}
