package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-dashboard-session/token/jwt"
)

// maxBodySize bounds request bodies; every body this API accepts is small.
const maxBodySize = 16 << 10

type contextKey string

const contextKeyClaims contextKey = "claims"

func withClaims(ctx context.Context, claims *jwt.VerifiedClaims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// ClaimsFromContext returns the claims RequireAuth verified for the request.
func ClaimsFromContext(ctx context.Context) (*jwt.VerifiedClaims, bool) {
	claims, ok := ctx.Value(contextKeyClaims).(*jwt.VerifiedClaims)
	return claims, ok
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	raw := strings.TrimSpace(parts[1])
	return raw, raw != ""
}

// readTokenBody reads a body holding a single token, sent either as plain text
// or as a JSON string.
func readTokenBody(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(body))
	if strings.HasPrefix(value, `"`) {
		var quoted string
		if err := json.Unmarshal([]byte(value), &quoted); err != nil {
			return "", err
		}
		value = strings.TrimSpace(quoted)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
