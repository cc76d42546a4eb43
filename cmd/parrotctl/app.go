package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jrsteele09/parrot-session/api"
	"github.com/jrsteele09/parrot-session/auth"
	"github.com/jrsteele09/parrot-session/events"
	"github.com/jrsteele09/parrot-session/internal/config"
	"github.com/jrsteele09/parrot-session/storage"
	"github.com/jrsteele09/parrot-session/storage/filestore"
	"github.com/jrsteele09/parrot-session/storage/redisstore"
	"github.com/jrsteele09/parrot-session/storage/storefake"
	"github.com/jrsteele09/parrot-session/users"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// app is the wired session client used by every command.
type app struct {
	config  config.Config
	client  *api.Client
	bus     *events.Bus
	manager *auth.Manager
	closers []func() error
}

func newApp(c config.Config, out io.Writer) (*app, error) {
	store, closeStore, err := newStore(c)
	if err != nil {
		return nil, err
	}

	client := api.New(c.GetAPIBaseURL(), api.WithTimeout(c.GetRequestTimeout()))
	bus := events.NewBus()
	manager, err := auth.NewManager(client, store, bus,
		auth.WithNavigator(&terminalNavigator{out: out}),
		auth.WithRefreshSkew(c.GetRefreshSkew()),
		auth.WithRefreshLimit(rate.Limit(c.GetRefreshRate()), c.GetRefreshBurst()),
		auth.WithRefreshTimeout(c.GetRequestTimeout()),
		auth.WithDeviceType(c.GetDeviceType()),
	)
	if err != nil {
		_ = closeStore()
		return nil, errors.Wrap(err, "[newApp]")
	}

	a := &app{config: c, client: client, bus: bus, manager: manager, closers: []func() error{closeStore}}
	a.bus.Subscribe(events.SessionEnded, func(events.Topic) {
		log.Debug().Msg("session ended")
	})
	return a, nil
}

func (a *app) Close() {
	a.manager.Close()
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			log.Err(err).Msg("Failed to close resource")
		}
	}
}

// restore loads the persisted session, returning an error when signed out.
func (a *app) restore(ctx context.Context) error {
	if _, err := a.manager.Initialize(ctx); err != nil {
		return errors.Wrap(err, "not signed in, run `parrotctl login`")
	}
	return nil
}

func newStore(c config.StorageConfig) (storage.Store, func() error, error) {
	noop := func() error { return nil }

	switch c.GetStorageBackend() {
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		return redisstore.New(rdb, c.GetRedisPrefix()), rdb.Close, nil
	case config.StorageMemory:
		log.Warn().Msg("Using in-memory storage, the session will not outlive this process")
		return storefake.NewFakeStore(), noop, nil
	default:
		fs, err := filestore.New(c.GetStoragePath(), c.GetStorageSecret())
		if err != nil {
			return nil, nil, errors.Wrap(err, "[newStore] filestore")
		}
		return fs, noop, nil
	}
}

// terminalNavigator reports navigation requests on the terminal.
type terminalNavigator struct {
	out io.Writer
}

var _ auth.Navigator = (*terminalNavigator)(nil)

func (n *terminalNavigator) RoleHome(role users.RoleType) {
	fmt.Fprintf(n.out, "Signed in. Opening the %s dashboard.\n", role)
}

func (n *terminalNavigator) Login() {
	fmt.Fprintln(n.out, "Session ended. Please sign in again.")
}
