// Package registry manages versioned estimators with a single mutable
// "current production" pointer.
//
// The registry is implemented on top of the artifact store: each version's
// serialized estimator and entry metadata are immutable objects, and the
// current pointer is a small separate object updated atomically. All pointer
// mutations are linearized through a mutex plus an optional compare-and-set
// keyed on the version a promotion decision was computed against, so
// concurrent runs can never repoint "current" based on a stale baseline.
//
// Layout inside the artifact store:
//
//	registry/manifest            ordered version list (append-only)
//	registry/entries/{version}   immutable entry metadata
//	registry/models/{version}    immutable serialized estimator
//	registry/current             the mutable pointer object
package registry

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fyrsmithlabs/traind/internal/artifact"
	"github.com/fyrsmithlabs/traind/internal/train"
)

// Errors for registry operations.
var (
	ErrVersionNotFound = errors.New("version not found in registry")
	ErrConflict        = errors.New("current pointer changed since decision")
	ErrEmpty           = errors.New("registry is empty")
)

// Entry is the immutable metadata record for one registered estimator.
type Entry struct {
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	MetricValue float64   `json:"metric_value"`
	StorageKey  string    `json:"storage_key"`
}

// manifest is the append-only version index.
type manifest struct {
	Versions []int64 `json:"versions"`
}

// pointer is the current-production pointer object.
type pointer struct {
	Version int64 `json:"version"`
}

// Registry is a versioned estimator store with one current pointer.
type Registry struct {
	mu    sync.Mutex
	store *artifact.Store
}

// New creates a registry backed by the given artifact store.
func New(store *artifact.Store) *Registry {
	return &Registry{store: store}
}

// Put appends a new immutable entry for the estimator and returns its
// version. Versions increase monotonically; an existing version is never
// overwritten.
func (r *Registry) Put(est *train.Estimator, metricValue float64) (int64, error) {
	data, err := est.Encode()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.loadManifest()
	if err != nil {
		return 0, err
	}

	var version int64 = 1
	if n := len(m.Versions); n > 0 {
		version = m.Versions[n-1] + 1
	}

	key := modelKey(version)
	if _, err := r.store.Put(key, data); err != nil {
		return 0, fmt.Errorf("failed to store model: %w", err)
	}

	entry := Entry{
		Version:     version,
		CreatedAt:   time.Now().UTC(),
		MetricValue: metricValue,
		StorageKey:  key,
	}
	if _, err := r.store.PutJSON(entryKey(version), entry); err != nil {
		return 0, fmt.Errorf("failed to store entry: %w", err)
	}

	m.Versions = append(m.Versions, version)
	if _, err := r.store.PutJSON("registry/manifest", m); err != nil {
		return 0, fmt.Errorf("failed to update manifest: %w", err)
	}

	return version, nil
}

// Current returns the entry referenced by the current pointer, or ErrEmpty
// if nothing has been promoted yet.
func (r *Registry) Current() (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked()
}

// Get returns the entry for a version.
func (r *Registry) Get(version int64) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry(version)
}

// GetEstimator loads and decodes the estimator stored for a version.
func (r *Registry) GetEstimator(version int64) (*train.Estimator, error) {
	entry, err := r.Get(version)
	if err != nil {
		return nil, err
	}
	data, err := r.store.Get(entry.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load model for version %d: %w", version, err)
	}
	return train.Decode(data)
}

// Promote atomically repoints "current" to version. Rollback is a Promote
// to an older existing version; promotion is the pointer's only transition.
func (r *Registry) Promote(version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promoteLocked(version)
}

// PromoteFrom promotes version only if the current pointer still references
// expected (0 for an empty pointer). It fails with ErrConflict when another
// run promoted in between, so a decision computed against a superseded
// baseline never wins.
func (r *Registry) PromoteFrom(expected, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if entry, err := r.currentLocked(); err == nil {
		current = entry.Version
	} else if !errors.Is(err, ErrEmpty) {
		return err
	}

	if current != expected {
		return fmt.Errorf("%w: expected %d, found %d", ErrConflict, expected, current)
	}
	return r.promoteLocked(version)
}

// List returns all entries in version order.
func (r *Registry) List() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.loadManifest()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(m.Versions))
	for _, v := range m.Versions {
		entry, err := r.entry(v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (r *Registry) promoteLocked(version int64) error {
	if _, err := r.entry(version); err != nil {
		return err
	}
	if _, err := r.store.PutJSON("registry/current", pointer{Version: version}); err != nil {
		return fmt.Errorf("failed to update current pointer: %w", err)
	}
	return nil
}

func (r *Registry) currentLocked() (*Entry, error) {
	var p pointer
	err := r.store.GetJSON("registry/current", &p)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	return r.entry(p.Version)
}

func (r *Registry) entry(version int64) (*Entry, error) {
	var entry Entry
	err := r.store.GetJSON(entryKey(version), &entry)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *Registry) loadManifest() (*manifest, error) {
	var m manifest
	err := r.store.GetJSON("registry/manifest", &m)
	if errors.Is(err, artifact.ErrNotFound) {
		return &manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func entryKey(version int64) string {
	return "registry/entries/" + strconv.FormatInt(version, 10)
}

func modelKey(version int64) string {
	return "registry/models/" + strconv.FormatInt(version, 10)
}
