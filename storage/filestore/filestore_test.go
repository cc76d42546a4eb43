package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sessionerrors "github.com/jrsteele09/parrot-session/internal/errors"
	"github.com/jrsteele09/parrot-session/storage"
	"github.com/jrsteele09/parrot-session/storage/filestore"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetDelete(t *testing.T) {
	for _, secret := range []string{"", "device-secret"} {
		t.Run("secret="+secret, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", "session.json")
			s, err := filestore.New(path, secret)
			require.NoError(t, err)

			_, err = s.Get(ctx, "auth_token")
			require.ErrorIs(t, err, storage.ErrNotFound)

			require.NoError(t, s.Set(ctx, "auth_token", "abc"))
			require.NoError(t, s.Set(ctx, "refresh_token", "def"))

			v, err := s.Get(ctx, "auth_token")
			require.NoError(t, err)
			require.Equal(t, "abc", v)

			require.NoError(t, s.Delete(ctx, "auth_token"))
			require.NoError(t, s.Delete(ctx, "auth_token"))
			_, err = s.Get(ctx, "auth_token")
			require.ErrorIs(t, err, storage.ErrNotFound)

			v, err = s.Get(ctx, "refresh_token")
			require.NoError(t, err)
			require.Equal(t, "def", v)
		})
	}
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := filestore.New(path, "device-secret")
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "user_data", `{"id":"1"}`))

	second, err := filestore.New(path, "device-secret")
	require.NoError(t, err)
	v, err := second.Get(ctx, "user_data")
	require.NoError(t, err)
	require.Equal(t, `{"id":"1"}`, v)
}

func TestStore_SealedFileIsNotPlainText(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := filestore.New(path, "device-secret")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "auth_token", "very-secret-token"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "very-secret-token")
}

func TestStore_WrongSecretIsCorrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := filestore.New(path, "device-secret")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "auth_token", "abc"))

	other, err := filestore.New(path, "another-secret")
	require.NoError(t, err)
	_, err = other.Get(ctx, "auth_token")
	require.ErrorIs(t, err, sessionerrors.ErrCorruptRecord)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := filestore.New("", "")
	require.Error(t, err)
}

func TestStore_CorruptDocumentIsReplacedOnWrite(t *testing.T) {
	for _, secret := range []string{"", "device-secret"} {
		t.Run("secret="+secret, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "session.json")
			require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0600))

			s, err := filestore.New(path, secret)
			require.NoError(t, err)

			_, err = s.Get(ctx, "auth_token")
			require.ErrorIs(t, err, sessionerrors.ErrCorruptRecord)

			require.NoError(t, s.Delete(ctx, "auth_token"))
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NotEqual(t, "{garbage", string(raw))

			_, err = s.Get(ctx, "auth_token")
			require.ErrorIs(t, err, storage.ErrNotFound)

			require.NoError(t, s.Set(ctx, "auth_token", "abc"))
			v, err := s.Get(ctx, "auth_token")
			require.NoError(t, err)
			require.Equal(t, "abc", v)
		})
	}
}

func TestStore_RotatedSecretCanBeOverwritten(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	old, err := filestore.New(path, "old-secret")
	require.NoError(t, err)
	require.NoError(t, old.Set(ctx, "auth_token", "abc"))

	rotated, err := filestore.New(path, "new-secret")
	require.NoError(t, err)
	require.NoError(t, rotated.Set(ctx, "refresh_token", "def"))

	_, err = rotated.Get(ctx, "auth_token")
	require.ErrorIs(t, err, storage.ErrNotFound)
	v, err := rotated.Get(ctx, "refresh_token")
	require.NoError(t, err)
	require.Equal(t, "def", v)
}
