package config

import (
	"sync"
	"testing"
)

func resetGlobalConfig() {
	globalConfig = nil
	initOnce = *new(sync.Once)
}

func TestInitializeSetsGlobalConfig(t *testing.T) {
	resetGlobalConfig()
	path := writeTestConfigFile(t, testYAML)

	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected a non-nil config after Initialize")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
}

func TestInitializeSecondCallIsIgnored(t *testing.T) {
	resetGlobalConfig()
	path1 := writeTestConfigFile(t, testYAML)
	path2 := writeTestConfigFile(t, `
server:
  port: 1111
providers:
  claude:
    kind: http
    endpoint: https://api.example.com/claude
`)

	if err := Initialize(path1); err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}
	if err := Initialize(path2); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if GetConfig().Server.Port != 9090 {
		t.Errorf("expected the first Initialize to win, got port %d", GetConfig().Server.Port)
	}
}

func TestGetConfigReturnsNilBeforeInitialize(t *testing.T) {
	resetGlobalConfig()
	if GetConfig() != nil {
		t.Error("expected a nil config before Initialize")
	}
}

func TestMustGetConfigPanicsBeforeInitialize(t *testing.T) {
	resetGlobalConfig()
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected MustGetConfig to panic before Initialize")
		}
	}()
	MustGetConfig()
}

func TestSetConfigOverridesGlobal(t *testing.T) {
	resetGlobalConfig()
	cfg := validTestConfig()
	SetConfig(cfg)
	if GetConfig() != cfg {
		t.Error("expected SetConfig to be visible through GetConfig")
	}
}

func TestReloadConfigKeepsLastGoodOnFailure(t *testing.T) {
	resetGlobalConfig()
	good := writeTestConfigFile(t, testYAML)
	if err := Initialize(good); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	bad := writeTestConfigFile(t, `
providers: {}
`)
	if err := ReloadConfig(bad); err == nil {
		t.Fatal("expected ReloadConfig to reject a config with no providers")
	}
	if GetConfig().Server.Port != 9090 {
		t.Error("expected the last-good config to survive a failed reload")
	}
}

func TestReloadConfigSwapsInOnSuccess(t *testing.T) {
	resetGlobalConfig()
	first := writeTestConfigFile(t, testYAML)
	if err := Initialize(first); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	second := writeTestConfigFile(t, `
server:
  port: 4242
providers:
  claude:
    kind: http
    endpoint: https://api.example.com/claude
`)
	if err := ReloadConfig(second); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if GetConfig().Server.Port != 4242 {
		t.Errorf("expected reloaded port 4242, got %d", GetConfig().Server.Port)
	}
}
