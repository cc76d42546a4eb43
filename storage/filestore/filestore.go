package filestore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	sessionerrors "github.com/jrsteele09/parrot-session/internal/errors"
	"github.com/jrsteele09/parrot-session/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var _ storage.Store = (*Store)(nil)

const (
	keySalt = "parrot-session-store/v1"
	keyInfo = "device storage"
)

// Store keeps every key in a single JSON document on disk. When created with
// a secret the document is sealed with XChaCha20-Poly1305 under a key
// derived from the secret with HKDF-SHA256.
type Store struct {
	path string
	aead cipher.AEAD
	mu   sync.Mutex
}

func New(path, secret string) (*Store, error) {
	if path == "" {
		return nil, errors.New("[filestore.New] path is required")
	}
	s := &Store{path: path}
	if secret == "" {
		return s, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(keySalt), []byte(keyInfo)), key); err != nil {
		return nil, errors.Wrap(err, "[filestore.New] derive key")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.New] chacha20poly1305.NewX")
	}
	s.aead = aead
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return "", err
	}
	v, ok := doc[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.readForWrite()
	if err != nil {
		return err
	}
	doc[key] = value
	return s.write(doc)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, discarded, err := s.readForWrite()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok && !discarded {
		return nil
	}
	delete(doc, key)
	return s.write(doc)
}

// readForWrite returns the document to modify. A corrupt document cannot be
// partially recovered, so it is discarded and writes start from an empty one.
func (s *Store) readForWrite() (doc map[string]string, discarded bool, err error) {
	doc, err = s.read()
	if errors.Is(err, sessionerrors.ErrCorruptRecord) {
		log.Warn().Err(err).Str("path", s.path).Msg("filestore: discarding corrupt document")
		return map[string]string{}, true, nil
	}
	return doc, false, err
}

func (s *Store) read() (map[string]string, error) {
	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.read] ReadFile")
	}

	if s.aead != nil {
		if blob, err = s.open(blob); err != nil {
			return nil, err
		}
	}

	doc := map[string]string{}
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, errors.Wrap(sessionerrors.ErrCorruptRecord, "[filestore.read] "+err.Error())
	}
	return doc, nil
}

func (s *Store) write(doc map[string]string) error {
	blob, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "[filestore.write] Marshal")
	}
	if s.aead != nil {
		if blob, err = s.seal(blob); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "[filestore.write] MkdirAll")
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "[filestore.write] CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.write] Write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[filestore.write] Sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[filestore.write] Close")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "[filestore.write] Rename")
	}
	return nil
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "[filestore.seal] rand.Read")
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *Store) open(blob []byte) ([]byte, error) {
	if len(blob) < s.aead.NonceSize() {
		return nil, errors.Wrap(sessionerrors.ErrCorruptRecord, "[filestore.open] short file")
	}
	nonce, sealed := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(sessionerrors.ErrCorruptRecord, "[filestore.open] "+err.Error())
	}
	return plain, nil
}
