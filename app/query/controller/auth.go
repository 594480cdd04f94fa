package controller

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/verus-network/vrscx/pkg/utils"
)

const sessionTTL = 12 * time.Hour

type loginRequest struct {
	Password string `json:"password"`
}

// Login checks the admin password against the bcrypt hash and issues a
// short-lived bearer token.
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	if len(c.App.AdminHash) == 0 {
		writeError(w, http.StatusServiceUnavailable, "admin auth not configured")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"password\": \"...\"}")
		return
	}
	if !utils.CheckPassword(c.App.AdminHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	claims := jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(sessionTTL).Unix(),
		"iat":  time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.App.JWTSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// validBearer checks the Authorization header for a valid admin token.
func (c *Controller) validBearer(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	raw := strings.TrimPrefix(authHeader, "Bearer ")
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) { return c.App.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	role, _ := claims["role"].(string)
	return role == "admin"
}

// RequireAdmin middleware
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.validBearer(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}
