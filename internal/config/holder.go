package config

import (
	"fmt"
	"sync"
)

// Holder keeps the current Config and swaps it on Reload. Readers get a
// pointer to an immutable value; a failed reload keeps the old config.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
	cli  CLIFlags
}

// NewHolder wraps cfg, remembering the YAML path to reload from.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// WithCLI records CLI overrides that are re-applied on every reload.
func (h *Holder) WithCLI(flags CLIFlags) *Holder {
	h.mu.Lock()
	h.cli = flags
	h.mu.Unlock()
	return h
}

// Get returns the current config. Callers must not modify it.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-reads the YAML file and the environment.
func (h *Holder) Reload() error {
	h.mu.RLock()
	path, flags := h.path, h.cli
	h.mu.RUnlock()

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return fmt.Errorf("config reload: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)
	if err := validate(&cfg); err != nil {
		return fmt.Errorf("config reload: %w", err)
	}

	h.mu.Lock()
	h.cfg = &cfg
	h.mu.Unlock()
	return nil
}
