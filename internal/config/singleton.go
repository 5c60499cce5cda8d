package config

import (
	"fmt"
	"sync"
)

// The global singleton is kept only for cmd/gateway's composition
// root (spec.md §9: singletons are allowed only there). Every other
// package takes a *Config, or a narrow sub-config, by constructor
// injection instead of calling GetConfig itself.
var (
	globalConfig *Config
	configMutex  sync.RWMutex
	initOnce     sync.Once
)

// Initialize loads path with environment overrides and stores it as
// the global config. Only the first call does anything; later calls
// are no-ops, matching the teacher's sync.Once-guarded Initialize.
func Initialize(path string) error {
	var initErr error
	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		configMutex.Lock()
		globalConfig = cfg
		configMutex.Unlock()
	})
	return initErr
}

// GetConfig returns the global config, or nil if Initialize has not
// succeeded yet.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig overwrites the global config directly. For tests only.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// ReloadConfig reloads path and swaps it in only if loading and
// validation succeed; a failed reload leaves the running config
// untouched.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	configMutex.Lock()
	globalConfig = cfg
	configMutex.Unlock()
	return nil
}

// MustGetConfig panics if Initialize has not yet succeeded.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
