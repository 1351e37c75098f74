package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MissingEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.EndpointURL = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing endpoint URL")
	}
}

func TestValidate_NonHTTPEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.EndpointURL = "ftp://example.com/webhook"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for non-http endpoint scheme")
	}
}

func TestValidate_NegativeRetries(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.MaxRetries = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative maxRetries")
	}
}

func TestValidate_ZeroRetriesIsValid(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.MaxRetries = 0
	cfg.Relay.BaseRetryDelayMs = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxRetries=0 and baseRetryDelayMs=0 should be valid: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Widget.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Widget.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidBackend(t *testing.T) {
	cfg := Defaults()
	cfg.History.Backend = "postgres"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestValidate_ValidBackends(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite", "redis"} {
		cfg := Defaults()
		cfg.History.Backend = backend
		if err := Validate(cfg); err != nil {
			t.Fatalf("backend %q should be valid: %v", backend, err)
		}
	}
}

func TestValidate_SQLiteRequiresDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.History.Backend = "sqlite"
	cfg.History.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for sqlite backend without dbPath")
	}
}

func TestValidate_RedisRequiresAddr(t *testing.T) {
	cfg := Defaults()
	cfg.History.Backend = "redis"
	cfg.History.Redis.Addr = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for redis backend without addr")
	}
}

func TestValidate_AuthRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Widget.Auth.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled auth without credentials")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Relay.EndpointURL = "https://example.com/webhook/chat"
	original.Relay.MaxRetries = 5

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Relay.EndpointURL != "https://example.com/webhook/chat" {
		t.Errorf("endpointUrl: got %q", loaded.Relay.EndpointURL)
	}
	if loaded.Relay.MaxRetries != 5 {
		t.Errorf("maxRetries: got %d", loaded.Relay.MaxRetries)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"relay":{"endpointUrl":""}}`), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty endpoint")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("CHATRELAY_TEST_ENDPOINT", "https://hooks.example.com/chat")

	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"relay":{"endpointUrl":"${CHATRELAY_TEST_ENDPOINT}"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.EndpointURL != "https://hooks.example.com/chat" {
		t.Errorf("expected substituted endpoint, got %q", cfg.Relay.EndpointURL)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("CR_TEST_VAR", "value")
	if got := ExpandEnvVars("x=${CR_TEST_VAR}"); got != "x=value" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("CR_TEST_UNSET")
	if got := ExpandEnvVars("x=${CR_TEST_UNSET:-fallback}"); got != "x=fallback" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("CR_TEST_VAR", "real")
	if got := ExpandEnvVars("${CR_TEST_VAR:-fallback}"); got != "real" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("CR_TEST_UNSET")
	if got := ExpandEnvVars("${CR_TEST_UNSET}"); got != "${CR_TEST_UNSET}" {
		t.Errorf("got %q", got)
	}
}

// --- Accessors ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "relay.maxRetries")
	if err != nil {
		t.Fatal(err)
	}
	if val.(float64) != 3 {
		t.Errorf("relay.maxRetries: got %v", val)
	}

	val, err = GetByPath(cfg, "history.backend")
	if err != nil {
		t.Fatal(err)
	}
	if val.(string) != "sqlite" {
		t.Errorf("history.backend: got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(Defaults(), "no.such.key"); err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "relay.maxRetries", "7"); err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.MaxRetries != 7 {
		t.Errorf("expected 7, got %d", cfg.Relay.MaxRetries)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "metrics.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics.enabled true")
	}
}

func TestSetByPath_EmptyPath(t *testing.T) {
	if err := SetByPath(Defaults(), "", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Widget.Auth.PasswordHash = "deadbeefdeadbeef"
	cfg.History.Redis.Password = "supersecretpassword"

	s := Sanitize(cfg)
	if s.Widget.Auth.PasswordHash != "***" {
		t.Errorf("passwordHash not masked: %q", s.Widget.Auth.PasswordHash)
	}
	if s.History.Redis.Password == "supersecretpassword" {
		t.Error("redis password not masked")
	}
	// Original untouched.
	if cfg.Widget.Auth.PasswordHash != "deadbeefdeadbeef" {
		t.Error("Sanitize mutated the original config")
	}
}

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, want := range []string{"relay.endpointUrl", "relay.maxRetries", "widget.port", "history.backend", "general.logLevel"} {
		if _, ok := paths[want]; !ok {
			t.Errorf("expected path %s in listing", want)
		}
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Relay.EndpointURL == "" {
		t.Fatal("default endpoint should not be empty")
	}
}
