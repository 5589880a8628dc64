// Package localstore persists the small amount of client state that must
// survive restarts: the bearer token, the user record, Google tokens and the
// theme preference.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Well-known keys.
const (
	KeyToken         = "token"
	KeyUser          = "user"
	KeyGoogleTokens  = "googleTokens"
	KeyTheme         = "theme"
	KeyRealtimeToken = "realtimeToken"
	KeyReminders     = "reminders"
)

// Store is a string key/value store. Each single-key operation is atomic; a
// sequence of Set calls is not.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}

// GetJSON decodes the value under key into out. It reports false when the key
// is absent or holds something that does not decode, matching the lenient
// read the UI has always done.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, nil
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("localstore: marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}
