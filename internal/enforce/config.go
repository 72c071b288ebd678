package enforce

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/capwatch/internal/model"
)

// Mode selects how enforcement decisions are applied.
type Mode string

const (
	ModeDisabled Mode = "disabled" // fast bypass, no violations computed
	ModeSoft     Mode = "soft"     // observe and record, never block
	ModeHard     Mode = "hard"     // block per thresholds and categories
)

// Config holds all enforcement parameters. Mutation happens only through
// an explicit administrative reload, never from a request handler.
type Config struct {
	Mode                  Mode                    `yaml:"mode"`
	BlockThresholds       map[model.Severity]bool `yaml:"block_thresholds"`
	AlwaysBlockCategories []model.Category        `yaml:"always_block_categories"`
}

// DefaultConfig returns the starting posture: observe-only, with a hard-mode
// threshold shape that would block critical violations once promoted.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeSoft,
		BlockThresholds: map[model.Severity]bool{
			model.SevCritical: true,
			model.SevHigh:     false,
			model.SevMedium:   false,
			model.SevLow:      false,
		},
	}
}

// ShouldBlock applies the threshold/category rule for hard mode.
func (c *Config) ShouldBlock(v *model.Violation) bool {
	if c.Mode != ModeHard {
		return false
	}
	if c.BlockThresholds[v.Severity] {
		return true
	}
	for _, cat := range c.AlwaysBlockCategories {
		if cat == v.Category {
			return true
		}
	}
	return false
}

// LoadConfig loads enforcement configuration from a YAML file.
// Empty path falls back to ~/.capwatch/enforcement.yaml.
// Missing file returns defaults. Invalid YAML or values return an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads enforcement configuration and returns the
// SHA-256 of the raw YAML bytes, stamped into runtime violations so every
// record names the config it was decided under.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		path = filepath.Join(home, ".capwatch", "enforcement.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("failed to read enforcement config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse enforcement config: %w", err)
	}

	switch cfg.Mode {
	case ModeDisabled, ModeSoft, ModeHard:
	default:
		return nil, "", fmt.Errorf("unknown enforcement mode %q", cfg.Mode)
	}
	for sev := range cfg.BlockThresholds {
		if !model.ValidSeverity(sev) {
			return nil, "", fmt.Errorf("unknown severity %q in block_thresholds", sev)
		}
	}

	h := sha256.Sum256(data)
	return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
}

// ConfigSource supplies the active enforcement config. Injected into the
// enforcer so tests can supply isolated configs.
type ConfigSource interface {
	Current() (*Config, string)
}

// AtomicSource is a ConfigSource backed by an atomic pointer. Swaps are
// observed by the next CheckAuthority call without a restart.
type AtomicSource struct {
	v atomic.Pointer[configWithHash]
}

type configWithHash struct {
	cfg  *Config
	hash string
}

// NewAtomicSource creates a source holding the given config.
func NewAtomicSource(cfg *Config, hash string) *AtomicSource {
	s := &AtomicSource{}
	s.Swap(cfg, hash)
	return s
}

// Current returns the active config and its hash. Never blocks.
func (s *AtomicSource) Current() (*Config, string) {
	cw := s.v.Load()
	return cw.cfg, cw.hash
}

// Swap atomically installs a new config.
func (s *AtomicSource) Swap(cfg *Config, hash string) {
	s.v.Store(&configWithHash{cfg: cfg, hash: hash})
}
