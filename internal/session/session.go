// Package session holds the signed-in identity and persists it to the local
// store. Components receive the *Store explicitly instead of reading ambient
// state.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/apierr"
	"github.com/wolfman30/homepro-connect/internal/localstore"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

// Role is the account type.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// User is the persisted user record.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u *User) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID       json.RawMessage `json:"id"`
		MongoID  json.RawMessage `json:"_id"`
		Name     string          `json:"name"`
		Username string          `json:"username"`
		Email    string          `json:"email"`
		Role     Role            `json:"role"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id := apiclient.FlexibleID(wire.ID)
	if id == "" {
		id = apiclient.FlexibleID(wire.MongoID)
	}
	name := wire.Name
	if name == "" {
		name = wire.Username
	}
	*u = User{ID: id, Name: name, Email: wire.Email, Role: wire.Role}
	return nil
}

// Session is a snapshot of the signed-in state. The zero value means signed
// out.
type Session struct {
	Token              string
	User               User
	RealtimeCredential string
	GoogleTokens       json.RawMessage
}

// HasToken reports whether a bearer token is held.
func (s Session) HasToken() bool { return s.Token != "" }

// Theme is the persisted colour scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// RegisterRequest is the signup form.
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

// ProfileUpdate carries the editable profile fields. Empty fields are left
// unchanged by the server.
type ProfileUpdate struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password,omitempty"`
}

// Authenticator is the subset of the API client the session needs.
type Authenticator interface {
	Login(ctx context.Context, creds apiclient.Credentials) (*apiclient.AuthResponse, error)
	Register(ctx context.Context, reg apiclient.Registration) (*apiclient.AuthResponse, error)
	Me(ctx context.Context) (json.RawMessage, error)
	UpdateMe(ctx context.Context, update any) (json.RawMessage, error)
}

// Store owns the session. It is safe for concurrent use and satisfies
// apiclient.TokenSource.
type Store struct {
	mu      sync.RWMutex
	current Session

	local  localstore.Store
	auth   Authenticator
	logger *logging.Logger
}

// New builds a Store. The authenticator may be attached later with
// SetAuthenticator since the API client itself reads tokens from the Store.
func New(local localstore.Store, auth Authenticator, logger *logging.Logger) *Store {
	if local == nil {
		panic("session: local store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{local: local, auth: auth, logger: logger}
}

// SetAuthenticator attaches the API client.
func (s *Store) SetAuthenticator(auth Authenticator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = auth
}

func (s *Store) authenticator(op string) (Authenticator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.auth == nil {
		return nil, fmt.Errorf("session: %s: no authenticator configured", op)
	}
	return s.auth, nil
}

// Restore reloads the session from the local store. A missing or unreadable
// user record leaves the user empty but keeps the token.
func (s *Store) Restore(ctx context.Context) error {
	token, _, err := s.local.Get(ctx, localstore.KeyToken)
	if err != nil {
		return fmt.Errorf("session: restore token: %w", err)
	}
	var user User
	if _, err := localstore.GetJSON(ctx, s.local, localstore.KeyUser, &user); err != nil {
		return fmt.Errorf("session: restore user: %w", err)
	}
	var google json.RawMessage
	if _, err := localstore.GetJSON(ctx, s.local, localstore.KeyGoogleTokens, &google); err != nil {
		return fmt.Errorf("session: restore google tokens: %w", err)
	}
	credential, _, err := s.local.Get(ctx, localstore.KeyRealtimeToken)
	if err != nil {
		return fmt.Errorf("session: restore realtime token: %w", err)
	}
	if token != "" {
		user = fillFromClaims(user, token)
		if credential == "" {
			credential = token
		}
	} else {
		credential = ""
	}

	s.mu.Lock()
	s.current = Session{Token: token, User: user, RealtimeCredential: credential, GoogleTokens: google}
	s.mu.Unlock()
	if token != "" {
		s.logger.Debug("session: restored", "user_id", user.ID, "role", user.Role)
	}
	return nil
}

// Login signs in and persists token then user.
func (s *Store) Login(ctx context.Context, email, password string) (Session, error) {
	const op = "session.login"
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, apierr.Validation(op, "Email and password are required.")
	}
	auth, err := s.authenticator(op)
	if err != nil {
		return Session{}, err
	}
	resp, err := auth.Login(ctx, apiclient.Credentials{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.establish(ctx, op, resp, User{Email: email})
}

// Register creates an account and signs it in.
func (s *Store) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	const op = "session.register"
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return Session{}, apierr.Validation(op, "Email and password are required.")
	}
	role := req.Role
	if role == "" {
		role = RoleCustomer
	}
	auth, err := s.authenticator(op)
	if err != nil {
		return Session{}, err
	}
	resp, err := auth.Register(ctx, apiclient.Registration{
		Name: strings.TrimSpace(req.Name), Email: email, Password: req.Password, Role: string(role),
	})
	if err != nil {
		return Session{}, err
	}
	return s.establish(ctx, op, resp, User{Name: req.Name, Email: email, Role: role})
}

func (s *Store) establish(ctx context.Context, op string, resp *apiclient.AuthResponse, hint User) (Session, error) {
	if resp == nil || resp.Token == "" {
		msg := "Login failed."
		if resp != nil && resp.Message != "" {
			msg = resp.Message
		}
		return Session{}, apierr.AuthRequired(op, msg)
	}
	var user User
	if len(resp.User) > 0 {
		if err := json.Unmarshal(resp.User, &user); err != nil {
			s.logger.Warn("session: user record undecodable", "error", err)
		}
	}
	user = fillFromClaims(user, resp.Token)
	if user.Email == "" {
		user.Email = hint.Email
	}
	if user.Name == "" {
		user.Name = hint.Name
	}
	if user.Role == "" {
		user.Role = hint.Role
	}
	if user.Role == "" {
		user.Role = RoleCustomer
	}

	credential := resp.RealtimeToken
	if credential == "" {
		credential = resp.Token
	}
	sess := Session{Token: resp.Token, User: user, RealtimeCredential: credential, GoogleTokens: resp.GoogleTokens}

	// token is written before user; a crash between the two leaves a token
	// with no user record, which Restore tolerates.
	err := s.local.Set(ctx, localstore.KeyToken, sess.Token)
	if err != nil {
		return Session{}, fmt.Errorf("session: persist token: %w", err)
	}
	if err := localstore.SetJSON(ctx, s.local, localstore.KeyUser, sess.User); err != nil {
		return Session{}, fmt.Errorf("session: persist user: %w", err)
	}
	if resp.RealtimeToken != "" {
		err = s.local.Set(ctx, localstore.KeyRealtimeToken, resp.RealtimeToken)
	} else {
		err = s.local.Delete(ctx, localstore.KeyRealtimeToken)
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: persist realtime token: %w", err)
	}
	if len(sess.GoogleTokens) > 0 && string(sess.GoogleTokens) != "null" {
		if err := s.local.Set(ctx, localstore.KeyGoogleTokens, string(sess.GoogleTokens)); err != nil {
			return Session{}, fmt.Errorf("session: persist google tokens: %w", err)
		}
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.logger.Info("session: signed in", "user_id", user.ID, "role", user.Role)
	return sess, nil
}

// Logout forgets the identity but keeps unrelated preferences such as theme.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.current = Session{}
	s.mu.Unlock()
	if err := s.local.Delete(ctx, localstore.KeyToken, localstore.KeyUser, localstore.KeyGoogleTokens, localstore.KeyRealtimeToken); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

// Clear wipes every persisted key.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = Session{}
	s.mu.Unlock()
	if err := s.local.Clear(ctx); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// Token returns the bearer token or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Token
}

// User returns the signed-in user, the zero User when signed out.
func (s *Store) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.User
}

// Session returns a copy of the current session.
func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) IsLoggedIn() bool { return s.Token() != "" }

// RequireToken returns the token or an AuthRequired error for op.
func (s *Store) RequireToken(op string) (string, error) {
	token := s.Token()
	if token == "" {
		return "", apierr.AuthRequired(op, "Please log in to continue.")
	}
	return token, nil
}

// RealtimeCredential is the credential for the realtime handshake.
func (s *Store) RealtimeCredential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.RealtimeCredential
}

// Theme returns the stored theme. Anything other than "dark" is light.
func (s *Store) Theme(ctx context.Context) Theme {
	v, _, err := s.local.Get(ctx, localstore.KeyTheme)
	if err != nil {
		s.logger.Warn("session: theme read failed", "error", err)
	}
	if Theme(v) == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

// SetTheme persists the theme.
func (s *Store) SetTheme(ctx context.Context, theme Theme) error {
	if theme != ThemeDark && theme != ThemeLight {
		return apierr.Validation("session.theme", fmt.Sprintf("unknown theme %q", theme))
	}
	return s.local.Set(ctx, localstore.KeyTheme, string(theme))
}

// Profile fetches the server's view of the user and refreshes the local
// record.
func (s *Store) Profile(ctx context.Context) (User, error) {
	const op = "session.profile"
	if _, err := s.RequireToken(op); err != nil {
		return User{}, err
	}
	auth, err := s.authenticator(op)
	if err != nil {
		return User{}, err
	}
	raw, err := auth.Me(ctx)
	if err != nil {
		return User{}, err
	}
	return s.refreshUser(ctx, raw)
}

// UpdateProfile saves profile changes and refreshes the local record.
func (s *Store) UpdateProfile(ctx context.Context, update ProfileUpdate) (User, error) {
	const op = "session.update_profile"
	if _, err := s.RequireToken(op); err != nil {
		return User{}, err
	}
	auth, err := s.authenticator(op)
	if err != nil {
		return User{}, err
	}
	raw, err := auth.UpdateMe(ctx, update)
	if err != nil {
		return User{}, err
	}
	return s.refreshUser(ctx, raw)
}

func (s *Store) refreshUser(ctx context.Context, raw json.RawMessage) (User, error) {
	var fresh User
	if err := json.Unmarshal(raw, &fresh); err != nil {
		return User{}, apierr.Transport("session.profile", fmt.Errorf("decode user: %w", err))
	}
	s.mu.Lock()
	prev := s.current.User
	if fresh.ID == "" {
		fresh.ID = prev.ID
	}
	if fresh.Role == "" {
		fresh.Role = prev.Role
	}
	if fresh.Name == "" {
		fresh.Name = prev.Name
	}
	if fresh.Email == "" {
		fresh.Email = prev.Email
	}
	s.current.User = fresh
	s.mu.Unlock()
	if err := localstore.SetJSON(ctx, s.local, localstore.KeyUser, fresh); err != nil {
		return fresh, fmt.Errorf("session: persist user: %w", err)
	}
	return fresh, nil
}

// fillFromClaims fills empty user fields from the token's claims. The token
// is not verified; the backend does that.
func fillFromClaims(u User, token string) User {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return u
	}
	str := func(keys ...string) string {
		for _, k := range keys {
			switch v := claims[k].(type) {
			case string:
				if v != "" {
					return v
				}
			case float64:
				return fmt.Sprintf("%.0f", v)
			}
		}
		return ""
	}
	if u.ID == "" {
		u.ID = str("sub", "id", "userId")
	}
	if u.Email == "" {
		u.Email = str("email")
	}
	if u.Name == "" {
		u.Name = str("name", "username")
	}
	if u.Role == "" {
		u.Role = Role(str("role"))
	}
	return u
}
