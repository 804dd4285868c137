// Package store persists the two opaque engine state blobs between sessions.
//
// A Store wraps a Backend (plain files or a SQLite database) and bootstraps
// missing blobs from the credential engine on first use.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/engine"
)

// Kind selects one of the persisted blobs.
type Kind int

const (
	KindClientState Kind = iota
	KindServersState
)

// String returns the name used as the storage key.
func (k Kind) String() string {
	switch k {
	case KindClientState:
		return "client_state"
	case KindServersState:
		return "servers_state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Kinds lists every persisted kind.
var Kinds = []Kind{KindClientState, KindServersState}

// ErrNotFound is returned by a Backend when a kind has never been written.
var ErrNotFound = errors.New("state not found")

// Backend is raw blob storage. Implementations report absent kinds with
// ErrNotFound and wrap every other failure in common.ErrIO.
type Backend interface {
	fmt.Stringer
	Read(ctx context.Context, kind Kind) ([]byte, error)
	// Write replaces the blob atomically.
	Write(ctx context.Context, kind Kind, data []byte) error
	Delete(ctx context.Context, kind Kind) error
	Close() error
}

// Store loads and saves engine state.
type Store struct {
	backend Backend
	factory engine.StateFactory
	log     common.Logger
}

// New creates a store. factory creates blobs that do not exist yet.
func New(backend Backend, factory engine.StateFactory, log common.Logger) *Store {
	if log == nil {
		log = common.NopLogger{}
	}
	return &Store{backend: backend, factory: factory, log: log}
}

// Open creates the backend named by kind ("file" or "sqlite") in dir.
func Open(kind, dir string) (Backend, error) {
	if err := common.EnsurePrivateDir(dir); err != nil {
		return nil, fmt.Errorf("%w: state directory: %w", common.ErrIO, err)
	}
	switch kind {
	case common.StoreBackendFile, "":
		return NewFileBackend(dir), nil
	case common.StoreBackendSQLite:
		return OpenSQLite(filepath.Join(dir, common.StateDBFileName))
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", common.ErrInvalidConfig, kind)
	}
}

func (s *Store) String() string {
	return s.backend.String()
}

// Load returns the blob for kind. A kind that was never saved is created
// through the engine and persisted, so repeated loads return the same blob.
func (s *Store) Load(ctx context.Context, kind Kind) (string, error) {
	data, err := s.backend.Read(ctx, kind)
	switch {
	case err == nil:
		if len(data) == 0 {
			return "", fmt.Errorf("%w: %s is empty", common.ErrParse, kind)
		}
		return string(data), nil
	case errors.Is(err, ErrNotFound):
		return s.bootstrap(ctx, kind)
	default:
		return "", err
	}
}

// Save replaces the blob for kind. After a failed save the previous blob
// must not be assumed valid.
func (s *Store) Save(ctx context.Context, kind Kind, blob string) error {
	if blob == "" {
		return fmt.Errorf("%w: refusing to save empty %s", common.ErrParse, kind)
	}
	return s.backend.Write(ctx, kind, []byte(blob))
}

// Reset removes every persisted blob.
func (s *Store) Reset(ctx context.Context) error {
	for _, kind := range Kinds {
		if err := s.backend.Delete(ctx, kind); err != nil {
			return err
		}
	}
	s.log.Info("Cleared persisted state in %s", s.backend)
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// LoadClientState returns the client state, creating it when absent.
func (s *Store) LoadClientState(ctx context.Context) (engine.ClientState, error) {
	blob, err := s.Load(ctx, KindClientState)
	return engine.ClientState(blob), err
}

// SaveClientState persists the client state.
func (s *Store) SaveClientState(ctx context.Context, state engine.ClientState) error {
	return s.Save(ctx, KindClientState, string(state))
}

// LoadServersState returns the servers state, creating it when absent.
func (s *Store) LoadServersState(ctx context.Context) (engine.ServersState, error) {
	blob, err := s.Load(ctx, KindServersState)
	return engine.ServersState(blob), err
}

// SaveServersState persists the servers state.
func (s *Store) SaveServersState(ctx context.Context, state engine.ServersState) error {
	return s.Save(ctx, KindServersState, string(state))
}

func (s *Store) bootstrap(ctx context.Context, kind Kind) (string, error) {
	var (
		blob string
		err  error
	)
	switch kind {
	case KindClientState:
		var cs engine.ClientState
		cs, err = s.factory.NewClientState(ctx)
		blob = string(cs)
	case KindServersState:
		var ss engine.ServersState
		ss, err = s.factory.NewServersState(ctx)
		blob = string(ss)
	default:
		return "", fmt.Errorf("%w: unknown state kind %s", common.ErrIllegalState, kind)
	}
	if err != nil {
		return "", fmt.Errorf("create %s: %w", kind, err)
	}
	if err := s.Save(ctx, kind, blob); err != nil {
		return "", err
	}
	s.log.Debug("Initialized %s in %s", kind, s.backend)
	return blob, nil
}
