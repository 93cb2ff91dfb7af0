package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/mzyy94/monpatch/internal/ddc"
)

// Settings holds the host-side configuration of the tool.
type Settings struct {
	VendorID       uint16 `json:"vendorId"`
	ProductID      uint16 `json:"productId"`
	DevicePath     string `json:"devicePath,omitempty"` // overrides vendor/product lookup
	Generation     string `json:"generation"`           // "legacy" or "bridge"
	ReadTimeoutMs  int    `json:"readTimeoutMs"`
	DrainTimeoutMs int    `json:"drainTimeoutMs"`
	ChunkDelayMs   int    `json:"chunkDelayMs"`
	RetryDelayMs   int    `json:"retryDelayMs"`
	HeartbeatSec   int    `json:"heartbeatSec"`
	ListenPort     int    `json:"listenPort"`
	ProfilePath    string `json:"profilePath,omitempty"` // empty = built-in profile
	LastSplit      *int   `json:"lastSplit,omitempty"`   // restored after deployment by serve
}

// DefaultSettings returns the settings for the 28MQ780 over legacy framing.
func DefaultSettings() Settings {
	t := ddc.DefaultTiming()
	return Settings{
		VendorID:       ddc.VendorID,
		ProductID:      ddc.ProductID,
		Generation:     ddc.Legacy.String(),
		ReadTimeoutMs:  int(t.ReadTimeout / time.Millisecond),
		DrainTimeoutMs: int(t.DrainTimeout / time.Millisecond),
		ChunkDelayMs:   int(t.ChunkDelay / time.Millisecond),
		RetryDelayMs:   int(t.RetryDelay / time.Millisecond),
		HeartbeatSec:   1,
		ListenPort:     8080,
	}
}

// Validate reports every setting the tool cannot run with.
func (s Settings) Validate() error {
	var errs *multierror.Error
	if _, err := ddc.ParseGeneration(s.Generation); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.DevicePath == "" && (s.VendorID == 0 || s.ProductID == 0) {
		errs = multierror.Append(errs, fmt.Errorf("vendor and product ids are required without a device path"))
	}
	if s.ReadTimeoutMs <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("readTimeoutMs must be positive, got %d", s.ReadTimeoutMs))
	}
	if s.HeartbeatSec <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("heartbeatSec must be positive, got %d", s.HeartbeatSec))
	}
	for _, d := range []struct {
		name string
		v    int
	}{
		{"drainTimeoutMs", s.DrainTimeoutMs},
		{"chunkDelayMs", s.ChunkDelayMs},
		{"retryDelayMs", s.RetryDelayMs},
	} {
		if d.v < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s must not be negative, got %d", d.name, d.v))
		}
	}
	if s.ListenPort < 1 || s.ListenPort > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("listenPort %d out of range", s.ListenPort))
	}
	return errs.ErrorOrNil()
}

// Timing converts the millisecond fields to protocol delays.
func (s Settings) Timing() ddc.Timing {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return ddc.Timing{
		ReadTimeout:  ms(s.ReadTimeoutMs),
		DrainTimeout: ms(s.DrainTimeoutMs),
		ChunkDelay:   ms(s.ChunkDelayMs),
		RetryDelay:   ms(s.RetryDelayMs),
	}
}

// Store provides thread-safe settings persistence backed by a JSON file.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a Store that persists settings to dataDir/settings.json.
// A missing or invalid file leaves the defaults in place.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     filepath.Join(dataDir, "settings.json"),
		settings: DefaultSettings(),
	}
	s.load()
	return s, nil
}

// NewMemoryStore creates a Store without file persistence.
func NewMemoryStore() *Store {
	return &Store{settings: DefaultSettings()}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.settings
	if c.LastSplit != nil {
		mode := *c.LastSplit
		c.LastSplit = &mode
	}
	return c
}

// Update replaces the settings and persists them.
func (s *Store) Update(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

// RememberSplit records the last split mode a user selected.
func (s *Store) RememberSplit(mode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.LastSplit = &mode
	return s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		slog.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return
	}
	s.settings = settings
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
