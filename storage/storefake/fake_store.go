package storefake

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/parrot-session/storage"
)

var _ storage.Store = (*FakeStore)(nil)

// ErrInjected is returned for operations on keys configured with Fail.
var ErrInjected = errors.New("injected storage failure")

type FakeStore struct {
	values   map[string]string
	failSet  map[string]bool
	failGet  map[string]bool
	setCalls int
	lock     sync.RWMutex
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		values:  make(map[string]string),
		failSet: make(map[string]bool),
		failGet: make(map[string]bool),
	}
}

func (fs *FakeStore) Get(_ context.Context, key string) (string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	if fs.failGet[key] {
		return "", ErrInjected
	}
	v, ok := fs.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (fs *FakeStore) Set(_ context.Context, key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.setCalls++
	if fs.failSet[key] {
		return ErrInjected
	}
	fs.values[key] = value
	return nil
}

func (fs *FakeStore) Delete(_ context.Context, key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	delete(fs.values, key)
	return nil
}

// FailSet makes every Set of key fail until cleared with fail=false.
func (fs *FakeStore) FailSet(key string, fail bool) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.failSet[key] = fail
}

// FailGet makes every Get of key fail until cleared with fail=false.
func (fs *FakeStore) FailGet(key string, fail bool) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.failGet[key] = fail
}

// Has reports whether key currently holds a value.
func (fs *FakeStore) Has(key string) bool {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	_, ok := fs.values[key]
	return ok
}

// SetCalls returns the number of Set calls made, including failed ones.
func (fs *FakeStore) SetCalls() int {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.setCalls
}

// Len returns the number of stored keys.
func (fs *FakeStore) Len() int {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return len(fs.values)
}
