package fakebackend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userKey contextKey = "fakebackendUser"

type claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Token signs an HS256 token for u, the way POST /auth/login does.
func (s *Server) Token(u User) string {
	c := claims{
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		panic("fakebackend: sign token: " + err.Error())
	}
	return signed
}

// userForToken verifies tokenString and returns the stored user.
func (s *Server) userForToken(tokenString string) (User, bool) {
	if tokenString == "" {
		return User{}, false
	}
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return User{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[c.Subject]
	if !ok {
		return User{}, false
	}
	return *u, true
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// requireUser rejects requests without a valid bearer token.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.userForToken(bearer(r))
		if !ok {
			jsonError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

// requireRole allows only users with one of roles.
func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := currentUser(r)
			for _, role := range roles {
				if u.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			jsonError(w, "Forbidden", http.StatusForbidden)
		})
	}
}

func currentUser(r *http.Request) User {
	u, _ := r.Context().Value(userKey).(User)
	return u
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	var found *User
	for _, u := range s.users {
		if strings.EqualFold(u.Email, body.Email) && u.Password == body.Password {
			found = u
			break
		}
	}
	var u User
	if found != nil {
		u = *found
	}
	s.mu.Unlock()
	if found == nil {
		jsonError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": s.Token(u), "user": u})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Password == "" {
		jsonError(w, "email and password are required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, body.Email) {
			s.mu.Unlock()
			jsonError(w, "Email already registered", http.StatusConflict)
			return
		}
	}
	s.mu.Unlock()
	u := s.AddUser(User{Name: body.Name, Email: body.Email, Password: body.Password, Role: body.Role})
	writeJSON(w, http.StatusCreated, map[string]any{"token": s.Token(u), "user": u})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": currentUser(r)})
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	id := currentUser(r).ID
	s.mu.Lock()
	u := s.users[id]
	if body.Name != "" {
		u.Name = body.Name
	}
	if body.Email != "" {
		u.Email = body.Email
	}
	out := *u
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"user": out})
}
