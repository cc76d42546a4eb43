package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	sessionerrors "github.com/jrsteele09/parrot-session/internal/errors"
	"github.com/jrsteele09/parrot-session/sessions"
	"github.com/jrsteele09/parrot-session/storage"
	"github.com/jrsteele09/parrot-session/storage/redisstore"
	"github.com/jrsteele09/parrot-session/users"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPrefix = "parrot:session:"

func setupStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client, testPrefix), mr
}

func TestStore_Key(t *testing.T) {
	s, _ := setupStore(t)
	require.Equal(t, "parrot:session:auth_token", s.Key("auth_token"))
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s, mr := setupStore(t)

	require.NoError(t, s.Set(ctx, "auth_token", "abc"))
	v, err := s.Get(ctx, "auth_token")
	require.NoError(t, err)
	require.Equal(t, "abc", v)

	stored, err := mr.Get(testPrefix + "auth_token")
	require.NoError(t, err)
	require.Equal(t, "abc", stored)

	require.NoError(t, s.Set(ctx, "auth_token", "def"))
	v, err = s.Get(ctx, "auth_token")
	require.NoError(t, err)
	require.Equal(t, "def", v)

	require.NoError(t, s.Delete(ctx, "auth_token"))
	require.False(t, mr.Exists(testPrefix+"auth_token"))
}

func TestStore_MissingKey(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	_, err := s.Get(ctx, "refresh_token")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, s.Delete(ctx, "refresh_token"))
}

func TestStore_ServerUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := setupStore(t)
	mr.Close()

	_, err := s.Get(ctx, "auth_token")
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrNotFound)
	require.Error(t, s.Set(ctx, "auth_token", "abc"))
}

func TestStore_SessionRecord(t *testing.T) {
	ctx := context.Background()
	s, mr := setupStore(t)
	require.NoError(t, s.Set(ctx, "device_id", "device-1"))
	repo := sessions.NewRepo(s)

	want := &sessions.Session{
		User:         users.User{ID: "42", Name: "Ravi Kumar", Email: "ravi@example.com", Role: users.RoleEmployee},
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}
	require.NoError(t, repo.Save(ctx, want))
	got, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, repo.Clear(ctx))
	require.False(t, mr.Exists(testPrefix+sessions.KeyAccessToken))
	require.False(t, mr.Exists(testPrefix+sessions.KeyRefreshToken))
	require.False(t, mr.Exists(testPrefix+sessions.KeyUserData))
	require.True(t, mr.Exists(testPrefix+"device_id"))

	_, err = repo.Load(ctx)
	require.ErrorIs(t, err, sessionerrors.ErrNoSession)
}
