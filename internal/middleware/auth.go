package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Dan9191/underwriting-service/internal/config"
	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/Dan9191/underwriting-service/internal/utils"
	"github.com/gorilla/mux"
)

type contextKey string

const userIDKey contextKey = "userID"

// AuthMiddleware admits requests carrying a valid admin bearer token
func AuthMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				deny(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			claims, err := utils.ParseToken(cfg.JWTSecret, tokenString)
			if err != nil {
				deny(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			if claims.Role != models.RoleAdmin {
				deny(w, http.StatusForbidden, "Admin role required")
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				deny(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated user id
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": message})
}
