package session

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/consultadmin/internal/security/secretbox"
)

// runStoreContract ejercita la semántica común a todos los backends.
func runStoreContract(t *testing.T, st Store, isolated bool) {
	t.Helper()
	ctx := context.Background()
	repo := st.For("sid-a")

	_, err := repo.Get(ctx, KeyAccessToken)
	require.True(t, IsNotFound(err), "empty session must report not found, got %v", err)

	u := User{ID: "42", FullName: "Ada Admin", PhoneNumber: "+5491100000000", Status: "active"}
	require.NoError(t, SaveLogin(ctx, repo, "A1", "R1", u))

	access, refresh, err := LoadTokens(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, "A1", access)
	require.Equal(t, "R1", refresh)

	got, err := LoadUser(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, u, *got)

	// refresh sin rotación: sólo cambia el access token
	require.NoError(t, repo.Set(ctx, KeyAccessToken, "A2"))
	access, refresh, err = LoadTokens(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, "A2", access)
	require.Equal(t, "R1", refresh)

	if isolated {
		other := st.For("sid-b")
		_, err := other.Get(ctx, KeyAccessToken)
		require.True(t, IsNotFound(err), "sessions must not leak between sids")
	}

	require.NoError(t, repo.Delete(ctx, KeyRefreshToken))
	_, err = repo.Get(ctx, KeyRefreshToken)
	require.True(t, IsNotFound(err))

	require.NoError(t, repo.Clear(ctx))
	for _, k := range AllKeys {
		_, err := repo.Get(ctx, k)
		require.True(t, IsNotFound(err), "key %s must be cleared", k)
	}

	require.Error(t, repo.Set(ctx, Key("bogus"), "x"))
	require.NoError(t, st.Ping(ctx))
}

func TestMemoryStore_Contract(t *testing.T) {
	st := NewMemoryStore(time.Hour)
	defer st.Close()
	runStoreContract(t, st, true)
}

func TestMemoryStore_Expires(t *testing.T) {
	st := NewMemoryStore(20 * time.Millisecond)
	repo := st.For("x")
	require.NoError(t, repo.Set(context.Background(), KeyAccessToken, "A1"))
	time.Sleep(40 * time.Millisecond)
	_, err := repo.Get(context.Background(), KeyAccessToken)
	require.True(t, IsNotFound(err))
}

func TestMemoryStore_RefreshRenewsWholeSession(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(150 * time.Millisecond)
	defer st.Close()
	repo := st.For("x")
	require.NoError(t, SaveLogin(ctx, repo, "A1", "R1", User{ID: "7"}))

	// un refresh a mitad del TTL reescribe sólo el access token
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, repo.Set(ctx, KeyAccessToken, "A2"))

	time.Sleep(100 * time.Millisecond)
	access, refresh, err := LoadTokens(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, "A2", access)
	require.Equal(t, "R1", refresh)
	u, err := LoadUser(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, "7", u.ID)

	// sin actividad vence la sesión entera
	time.Sleep(200 * time.Millisecond)
	for _, k := range AllKeys {
		_, err := repo.Get(ctx, k)
		require.True(t, IsNotFound(err), "key %s", k)
	}
}

func TestFileStore_Contract(t *testing.T) {
	st := NewFileStore(filepath.Join(t.TempDir(), "nested", "session.json"), nil)
	runStoreContract(t, st, false)
}

func TestFileStore_Sealed(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i * 3)
	}
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "session.json")
	st := NewFileStore(path, box)
	runStoreContract(t, st, false)

	ctx := context.Background()
	require.NoError(t, st.Set(ctx, KeyAccessToken, "secret-token"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, secretbox.IsSealed(b))
	require.False(t, strings.Contains(string(b), "secret-token"), "token must not be stored in clear")

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0o600 && os.PathSeparator == '/' {
		t.Fatalf("expected 0600 perms, got %v", info.Mode().Perm())
	}

	// Sin clave no se puede leer un archivo sellado.
	plain := NewFileStore(path, nil)
	_, err = plain.Get(ctx, KeyAccessToken)
	require.Error(t, err)
}

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	st := NewRedisStore(RedisConfig{Addr: mr.Addr(), Prefix: "test:", TTL: time.Hour})
	defer st.Close()
	runStoreContract(t, st, true)
}

func TestRedisStore_TTLAndHashedKey(t *testing.T) {
	mr := miniredis.RunT(t)
	st := NewRedisStore(RedisConfig{Addr: mr.Addr(), Prefix: "test:", TTL: time.Minute})
	defer st.Close()

	require.NoError(t, st.For("plain-sid").Set(context.Background(), KeyAccessToken, "A1"))

	key := "test:sess:" + hashSID("plain-sid")
	require.True(t, mr.Exists(key))
	require.Equal(t, time.Minute, mr.TTL(key))
	for _, k := range mr.Keys() {
		require.NotContains(t, k, "plain-sid")
	}

	mr.FastForward(2 * time.Minute)
	_, err := st.For("plain-sid").Get(context.Background(), KeyAccessToken)
	require.True(t, IsNotFound(err))
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := OpenPostgres(ctx, PostgresConfig{DSN: dsn, TTL: time.Hour})
	require.NoError(t, err)
	defer st.Close()

	runStoreContract(t, st, true)

	_, err = st.PurgeExpired(ctx)
	require.NoError(t, err)
}

func TestSaveLogin_RejectsEmptyAccess(t *testing.T) {
	st := NewMemoryStore(0)
	err := SaveLogin(context.Background(), st.For("s"), " ", "R1", User{})
	require.Error(t, err)
}
