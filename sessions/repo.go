package sessions

import (
	"context"
	"encoding/json"
	"strings"

	sessionerrors "github.com/jrsteele09/parrot-session/internal/errors"
	"github.com/jrsteele09/parrot-session/storage"
	"github.com/jrsteele09/parrot-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var sessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUserData}

// Repo persists a Session as three independent entries of a storage.Store.
// A session is only ever reported when all three entries are present and
// parse; anything less is cleared.
type Repo struct {
	store storage.Store
}

func NewRepo(store storage.Store) *Repo {
	return &Repo{store: store}
}

// Save writes all three entries concurrently. If any write fails the
// remaining entries are removed so no partial record survives.
func (r *Repo) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return errors.New("[Repo.Save] nil session")
	}
	userData, err := json.Marshal(s.User)
	if err != nil {
		return errors.Wrap(err, "[Repo.Save] Marshal user")
	}

	values := map[string]string{
		KeyAccessToken:  s.AccessToken,
		KeyRefreshToken: s.RefreshToken,
		KeyUserData:     string(userData),
	}

	g, gctx := errgroup.WithContext(ctx)
	for key, value := range values {
		g.Go(func() error {
			return r.store.Set(gctx, key, value)
		})
	}
	if err := g.Wait(); err != nil {
		if clearErr := r.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			log.Err(clearErr).Msg("sessions: failed to clear partial record")
		}
		return errors.Wrap(err, "[Repo.Save] Set")
	}
	return nil
}

// SaveUser rewrites the user entry of an existing record.
func (r *Repo) SaveUser(ctx context.Context, u users.User) error {
	userData, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "[Repo.SaveUser] Marshal")
	}
	if err := r.store.Set(ctx, KeyUserData, string(userData)); err != nil {
		return errors.Wrap(err, "[Repo.SaveUser] Set")
	}
	return nil
}

// Load restores the persisted session. A missing, unreadable or invalid
// entry clears all three keys and returns ErrNoSession.
func (r *Repo) Load(ctx context.Context) (*Session, error) {
	s, err := r.load(ctx)
	if err == nil {
		return s, nil
	}

	if !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Msg("sessions: discarding persisted record")
	}
	if clearErr := r.Clear(ctx); clearErr != nil {
		log.Err(clearErr).Msg("sessions: failed to clear persisted record")
	}
	return nil, errors.Wrap(sessionerrors.ErrNoSession, err.Error())
}

func (r *Repo) load(ctx context.Context) (*Session, error) {
	values := make(map[string]string, len(sessionKeys))
	for _, key := range sessionKeys {
		v, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, sessionerrors.Wrapf(err, "read %s", key)
		}
		if strings.TrimSpace(v) == "" {
			return nil, sessionerrors.Wrapf(sessionerrors.ErrCorruptRecord, "empty %s", key)
		}
		values[key] = v
	}

	var u users.User
	if err := json.Unmarshal([]byte(values[KeyUserData]), &u); err != nil {
		return nil, sessionerrors.Wrapf(sessionerrors.ErrCorruptRecord, "parse %s: %v", KeyUserData, err)
	}
	if err := u.Validate(); err != nil {
		return nil, sessionerrors.Wrapf(sessionerrors.ErrCorruptRecord, "validate %s: %v", KeyUserData, err)
	}

	return &Session{
		User:         u,
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}, nil
}

// Clear removes all three entries. Every key is attempted even when one fails.
func (r *Repo) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range sessionKeys {
		if err := r.store.Delete(ctx, key); err != nil {
			errs = append(errs, sessionerrors.Wrapf(err, "delete %s", key))
		}
	}
	return sessionerrors.Join(errs...)
}
