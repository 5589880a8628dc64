package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "state.json"))
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"redis":  NewRedisStore(client, "homepro:"),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, KeyToken)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, KeyToken, "tok-1"))
			require.NoError(t, s.Set(ctx, KeyTheme, "dark"))

			v, ok, err := s.Get(ctx, KeyToken)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "tok-1", v)

			require.NoError(t, s.Delete(ctx, KeyToken))
			_, ok, err = s.Get(ctx, KeyToken)
			require.NoError(t, err)
			assert.False(t, ok)

			v, ok, _ = s.Get(ctx, KeyTheme)
			assert.True(t, ok)
			assert.Equal(t, "dark", v)

			require.NoError(t, s.Clear(ctx))
			_, ok, _ = s.Get(ctx, KeyTheme)
			assert.False(t, ok)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type user struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	require.NoError(t, SetJSON(ctx, s, KeyUser, user{Name: "Ada", Email: "ada@example.com"}))

	var got user
	ok, err := GetJSON(ctx, s, KeyUser, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Name)

	require.NoError(t, s.Set(ctx, KeyUser, "{not json"))
	ok, err = GetJSON(ctx, s, KeyUser, &got)
	require.NoError(t, err)
	assert.False(t, ok, "corrupt value reads as absent")
}

func TestRedisClearKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set("other:token", "keep"))
	s := NewRedisStore(client, "homepro:")
	require.NoError(t, s.Set(ctx, KeyToken, "tok"))
	require.NoError(t, s.Clear(ctx))

	assert.False(t, mr.Exists("homepro:token"))
	assert.True(t, mr.Exists("other:token"))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, KeyToken, "persisted"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := second.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", v)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, _, err = s.Get(context.Background(), KeyToken)
	assert.Error(t, err)
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}
