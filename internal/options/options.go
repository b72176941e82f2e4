// Package options holds the per-profile plugin settings and the typed
// accessor they are read through.
package options

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Setting keys as stored per profile.
const (
	KeyPluginEnabled                   = "PluginEnabled"
	KeySnapshotsEnabled                = "SnapshotsEnabled"
	KeyNotificationsEnabled            = "NotificationsEnabled"
	KeyOptimizedSolverParameterEnabled = "OptimizedSolverParameterEnabled"
	KeyDownSampleFactor                = "DownSampleFactor"
	KeySearchRadius                    = "SearchRadius"
	KeyMaxObjects                      = "MaxObjects"
	KeyHasMigratedProperties           = "HasMigratedProperties"
)

// PluginOptions is a snapshot of the plugin settings, read once per event.
type PluginOptions struct {
	PluginEnabled                   bool    `json:"plugin_enabled" mapstructure:"plugin_enabled"`
	SnapshotsEnabled                bool    `json:"snapshots_enabled" mapstructure:"snapshots_enabled"`
	NotificationsEnabled            bool    `json:"notifications_enabled" mapstructure:"notifications_enabled"`
	OptimizedSolverParameterEnabled bool    `json:"optimized_solver_parameter_enabled" mapstructure:"optimized_solver_parameter_enabled"`
	DownSampleFactor                int     `json:"down_sample_factor" mapstructure:"down_sample_factor"`
	SearchRadius                    float64 `json:"search_radius" mapstructure:"search_radius"`
	MaxObjects                      int     `json:"max_objects" mapstructure:"max_objects"`
}

// DefaultPluginOptions returns the shipped defaults.
func DefaultPluginOptions() PluginOptions {
	return PluginOptions{
		PluginEnabled:                   true,
		SnapshotsEnabled:                false,
		NotificationsEnabled:            true,
		OptimizedSolverParameterEnabled: true,
		DownSampleFactor:                2,
		SearchRadius:                    10,
		MaxObjects:                      500,
	}
}

// Accessor reads and writes typed settings by key. Getters return def when
// the key is missing or cannot be parsed.
type Accessor interface {
	GetBool(key string, def bool) bool
	GetInt32(key string, def int32) int32
	GetFloat64(key string, def float64) float64
	GetString(key, def string) string
	GetGUID(key string, def uuid.UUID) uuid.UUID

	SetBool(key string, v bool) error
	SetInt32(key string, v int32) error
	SetFloat64(key string, v float64) error
	SetString(key, v string) error
	SetGUID(key string, v uuid.UUID) error
}

// Store layers the plugin defaults over an Accessor.
type Store struct {
	acc      Accessor
	defaults PluginOptions
}

// NewStore returns a store reading through acc with the given defaults.
func NewStore(acc Accessor, defaults PluginOptions) *Store {
	return &Store{acc: acc, defaults: defaults}
}

// Accessor returns the underlying accessor.
func (s *Store) Accessor() Accessor { return s.acc }

// Defaults returns the fallback values.
func (s *Store) Defaults() PluginOptions { return s.defaults }

// Snapshot reads every setting once.
func (s *Store) Snapshot() PluginOptions {
	d := s.defaults
	return PluginOptions{
		PluginEnabled:                   s.acc.GetBool(KeyPluginEnabled, d.PluginEnabled),
		SnapshotsEnabled:                s.acc.GetBool(KeySnapshotsEnabled, d.SnapshotsEnabled),
		NotificationsEnabled:            s.acc.GetBool(KeyNotificationsEnabled, d.NotificationsEnabled),
		OptimizedSolverParameterEnabled: s.acc.GetBool(KeyOptimizedSolverParameterEnabled, d.OptimizedSolverParameterEnabled),
		DownSampleFactor:                int(s.acc.GetInt32(KeyDownSampleFactor, int32(d.DownSampleFactor))),
		SearchRadius:                    s.acc.GetFloat64(KeySearchRadius, d.SearchRadius),
		MaxObjects:                      int(s.acc.GetInt32(KeyMaxObjects, int32(d.MaxObjects))),
	}
}

// Save writes every field of o.
func (s *Store) Save(o PluginOptions) error {
	writes := []func() error{
		func() error { return s.SetPluginEnabled(o.PluginEnabled) },
		func() error { return s.SetSnapshotsEnabled(o.SnapshotsEnabled) },
		func() error { return s.SetNotificationsEnabled(o.NotificationsEnabled) },
		func() error { return s.SetOptimizedSolverParameterEnabled(o.OptimizedSolverParameterEnabled) },
		func() error { return s.SetDownSampleFactor(o.DownSampleFactor) },
		func() error { return s.SetSearchRadius(o.SearchRadius) },
		func() error { return s.SetMaxObjects(o.MaxObjects) },
	}
	for _, w := range writes {
		if err := w(); err != nil {
			return fmt.Errorf("save plugin options: %w", err)
		}
	}
	return nil
}

// Typed setters, one per option key.
func (s *Store) SetPluginEnabled(v bool) error { return s.acc.SetBool(KeyPluginEnabled, v) }
func (s *Store) SetSnapshotsEnabled(v bool) error { return s.acc.SetBool(KeySnapshotsEnabled, v) }
func (s *Store) SetNotificationsEnabled(v bool) error {
	return s.acc.SetBool(KeyNotificationsEnabled, v)
}
func (s *Store) SetOptimizedSolverParameterEnabled(v bool) error {
	return s.acc.SetBool(KeyOptimizedSolverParameterEnabled, v)
}
func (s *Store) SetDownSampleFactor(v int) error { return s.acc.SetInt32(KeyDownSampleFactor, int32(v)) }
func (s *Store) SetSearchRadius(v float64) error { return s.acc.SetFloat64(KeySearchRadius, v) }
func (s *Store) SetMaxObjects(v int) error { return s.acc.SetInt32(KeyMaxObjects, int32(v)) }

// Set parses value for one of the option keys and stores it.
func (s *Store) Set(key, value string) error {
	switch key {
	case KeyPluginEnabled, KeySnapshotsEnabled, KeyNotificationsEnabled, KeyOptimizedSolverParameterEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return s.acc.SetBool(key, b)
	case KeyDownSampleFactor, KeyMaxObjects:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return s.acc.SetInt32(key, int32(n))
	case KeySearchRadius:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return s.acc.SetFloat64(key, f)
	default:
		return fmt.Errorf("unknown option %q", key)
	}
}

// Migrate writes the defaults into the profile once. It reports whether the
// migration ran.
func (s *Store) Migrate(logger *slog.Logger) (bool, error) {
	if s.acc.GetBool(KeyHasMigratedProperties, false) {
		return false, nil
	}
	if logger != nil {
		logger.Debug("performing one-time migration of plugin configuration for this profile")
	}
	if err := s.Save(s.defaults); err != nil {
		return false, err
	}
	if err := s.acc.SetBool(KeyHasMigratedProperties, true); err != nil {
		return false, fmt.Errorf("mark migrated: %w", err)
	}
	return true, nil
}

// MemoryAccessor keeps settings in memory. It is safe for concurrent use.
type MemoryAccessor struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryAccessor returns an empty in-memory accessor.
func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{values: make(map[string]string)}
}

func (m *MemoryAccessor) get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryAccessor) set(key, v string) error {
	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryAccessor) GetBool(key string, def bool) bool {
	return ParseBool(m.get(key))(def)
}

func (m *MemoryAccessor) GetInt32(key string, def int32) int32 {
	return ParseInt32(m.get(key))(def)
}

func (m *MemoryAccessor) GetFloat64(key string, def float64) float64 {
	return ParseFloat64(m.get(key))(def)
}

func (m *MemoryAccessor) GetString(key, def string) string {
	if v, ok := m.get(key); ok {
		return v
	}
	return def
}

func (m *MemoryAccessor) GetGUID(key string, def uuid.UUID) uuid.UUID {
	return ParseGUID(m.get(key))(def)
}

func (m *MemoryAccessor) SetBool(key string, v bool) error {
	return m.set(key, strconv.FormatBool(v))
}

func (m *MemoryAccessor) SetInt32(key string, v int32) error {
	return m.set(key, strconv.FormatInt(int64(v), 10))
}

func (m *MemoryAccessor) SetFloat64(key string, v float64) error {
	return m.set(key, strconv.FormatFloat(v, 'g', -1, 64))
}

func (m *MemoryAccessor) SetString(key, v string) error { return m.set(key, v) }

func (m *MemoryAccessor) SetGUID(key string, v uuid.UUID) error {
	return m.set(key, v.String())
}

// The Parse helpers turn a raw stored value into a typed one, falling back
// to a default. Accessors backed by text storage share them.

func ParseBool(raw string, ok bool) func(bool) bool {
	return func(def bool) bool {
		if !ok {
			return def
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return def
		}
		return v
	}
}

func ParseInt32(raw string, ok bool) func(int32) int32 {
	return func(def int32) int32 {
		if !ok {
			return def
		}
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return def
		}
		return int32(v)
	}
}

func ParseFloat64(raw string, ok bool) func(float64) float64 {
	return func(def float64) float64 {
		if !ok {
			return def
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return def
		}
		return v
	}
}

func ParseGUID(raw string, ok bool) func(uuid.UUID) uuid.UUID {
	return func(def uuid.UUID) uuid.UUID {
		if !ok {
			return def
		}
		v, err := uuid.Parse(raw)
		if err != nil {
			return def
		}
		return v
	}
}
