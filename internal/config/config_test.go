package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadGatewayConfigDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.Port != 8090 {
		t.Fatalf("port = %d", cfg.Port)
	}
	if cfg.FrameTokenTTL != time.Hour {
		t.Fatalf("ttl = %v", cfg.FrameTokenTTL)
	}
	if cfg.ProxySecret == "" {
		t.Fatalf("dev must get a fallback proxy secret")
	}
	if !cfg.RateLimitEnabled {
		t.Fatalf("rate limiting should default on")
	}
}

func TestLoadGatewayConfigMergesEnvironmentFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment = test\nport = 9000\nlog_level = debug\n")
	writeFile(t, filepath.Join(root, "config/test/gateway.ini"),
		"port = 9100\nproxy_secret = s3cret\nframe_token_ttl = 30m\nmodule_urls = metube=http://metube.internal:8081,pdf=http://pdf.internal:8082\n")

	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Environment != "test" {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.Port != 9100 {
		t.Fatalf("env file must override settings: port = %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
	if cfg.FrameTokenTTL != 30*time.Minute {
		t.Fatalf("ttl = %v", cfg.FrameTokenTTL)
	}
	if cfg.ModuleBaseURLs["metube"] != "http://metube.internal:8081" {
		t.Fatalf("module_urls = %v", cfg.ModuleBaseURLs)
	}
}

func TestLoadGatewayConfigEnvOverrides(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment = dev\nport = 9000\n")
	t.Setenv("IAHOME_PORT", "9999")
	t.Setenv("IAHOME_PROXY_SECRET", "env-secret")
	t.Setenv("IAHOME_MODULE_URL_METUBE", "http://override:1234")

	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("env var must beat file: port = %d", cfg.Port)
	}
	if cfg.ProxySecret != "env-secret" {
		t.Fatalf("proxy secret = %q", cfg.ProxySecret)
	}
	if cfg.ModuleBaseURLs["metube"] != "http://override:1234" {
		t.Fatalf("per-module env override missing: %v", cfg.ModuleBaseURLs)
	}
}

func TestLoadGatewayConfigRequiresSecretOutsideDev(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment = live\n")
	if _, err := LoadGatewayConfig(root); err == nil {
		t.Fatalf("expected error for missing proxy secret in live")
	}
}

func TestLoadGatewayConfigRejectsBadTTL(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment = dev\nframe_token_ttl = soon\n")
	if _, err := LoadGatewayConfig(root); err == nil {
		t.Fatalf("expected error for invalid frame_token_ttl")
	}
}

func TestLoadGatewayConfigHooks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"),
		"environment = dev\nhooks_enabled = true\nhooks_script_path = /usr/local/bin/hook.sh\nhooks_script_args = --audit,--json\nhooks_timeout = 5s\n")

	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if !cfg.Hooks.Enabled || cfg.Hooks.ScriptPath != "/usr/local/bin/hook.sh" {
		t.Fatalf("hooks = %+v", cfg.Hooks)
	}
	if len(cfg.Hooks.ScriptArgs) != 2 || cfg.Hooks.Timeout != 5*time.Second {
		t.Fatalf("hooks = %+v", cfg.Hooks)
	}
}
