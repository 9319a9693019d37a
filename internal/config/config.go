package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/iahome/access-gateway/internal/hooks"
	"github.com/iahome/access-gateway/internal/modules"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/gateway.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// GatewayConfig describes runtime options for the daemon. Values come from
// config/setting.ini overlaid with config/<env>/gateway.ini, with IAHOME_*
// environment variables taking precedence over both.
type GatewayConfig struct {
	Environment string
	ListenAddr  string
	Port        int

	LogFile  string
	LogLevel string

	// Ledger and grant storage. When PostgresDSN is set it serves both
	// tables; otherwise the SQLite paths are used.
	LedgerPath  string
	GrantsPath  string
	PostgresDSN string

	// Postgres pool tuning
	PGMaxOpen         int
	PGMaxIdle         int
	PGLifetimeMinutes int
	PGIdleTimeMinutes int

	// Frame gateway
	ProxySecret    string
	FrameTokenTTL  time.Duration
	ModuleBaseURLs map[string]string
	ModulesFile    string

	// Pricing
	PricingFile string

	// Rate limiting for frame requests
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   float64
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	Hooks hooks.Config
}

// LoadGatewayConfig reads the current environment and loads the appropriate
// gateway config file.
func LoadGatewayConfig(root string) (GatewayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return GatewayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return GatewayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := GatewayConfig{
		Environment: s.Environment,
		ListenAddr:  firstNonEmpty(os.Getenv("IAHOME_LISTEN_ADDR"), merged["listen_addr"], "0.0.0.0"),
		Port:        parseOptionalInt(firstNonEmpty(os.Getenv("IAHOME_PORT"), merged["port"]), 8090),
		LogFile:     firstNonEmpty(os.Getenv("IAHOME_LOG_FILE"), merged["log_file"]),
		LogLevel:    firstNonEmpty(os.Getenv("IAHOME_LOG_LEVEL"), merged["log_level"], "info"),
		LedgerPath:  firstNonEmpty(os.Getenv("IAHOME_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		GrantsPath:  firstNonEmpty(os.Getenv("IAHOME_GRANTS_PATH"), merged["grants_path"], DefaultGrantsPath()),
		PostgresDSN: firstNonEmpty(os.Getenv("IAHOME_POSTGRES_DSN"), merged["postgres_dsn"]),
		ProxySecret: firstNonEmpty(os.Getenv("IAHOME_PROXY_SECRET"), merged["proxy_secret"]),
		ModulesFile: firstNonEmpty(os.Getenv("IAHOME_MODULES_FILE"), merged["modules_file"]),
		PricingFile: firstNonEmpty(os.Getenv("IAHOME_PRICING_FILE"), merged["pricing_file"]),
	}

	if cfg.ProxySecret == "" {
		if strings.EqualFold(cfg.Environment, "dev") {
			cfg.ProxySecret = "iahome-dev-secret"
		} else {
			return GatewayConfig{}, errors.New("proxy_secret (IAHOME_PROXY_SECRET) is required outside dev")
		}
	}

	cfg.PGMaxOpen = parseOptionalInt(firstNonEmpty(os.Getenv("IAHOME_PG_MAX_OPEN"), merged["pg_max_open"]), 20)
	cfg.PGMaxIdle = parseOptionalInt(firstNonEmpty(os.Getenv("IAHOME_PG_MAX_IDLE"), merged["pg_max_idle"]), 5)
	cfg.PGLifetimeMinutes = parseOptionalInt(firstNonEmpty(os.Getenv("IAHOME_PG_LIFETIME_MINUTES"), merged["pg_lifetime_minutes"]), 30)
	cfg.PGIdleTimeMinutes = parseOptionalInt(firstNonEmpty(os.Getenv("IAHOME_PG_IDLE_MINUTES"), merged["pg_idle_minutes"]), 10)

	ttl := firstNonEmpty(os.Getenv("IAHOME_FRAME_TOKEN_TTL"), merged["frame_token_ttl"], "1h")
	dur, err := time.ParseDuration(ttl)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("invalid frame_token_ttl %q: %w", ttl, err)
	}
	cfg.FrameTokenTTL = dur

	// Per-module URL overrides: IAHOME_MODULE_URL_<NAME> beats the
	// module_urls map from the INI file.
	cfg.ModuleBaseURLs = parseMap(firstNonEmpty(os.Getenv("IAHOME_MODULE_URLS"), merged["module_urls"]))
	for _, id := range modules.All() {
		envKey := "IAHOME_MODULE_URL_" + strings.ToUpper(string(id))
		if v := os.Getenv(envKey); strings.TrimSpace(v) != "" {
			if cfg.ModuleBaseURLs == nil {
				cfg.ModuleBaseURLs = map[string]string{}
			}
			cfg.ModuleBaseURLs[string(id)] = strings.TrimSpace(v)
		}
	}

	cfg.RateLimitEnabled = parseOptionalBool(firstNonEmpty(os.Getenv("IAHOME_RATELIMIT_ENABLED"), merged["ratelimit_enabled"]), true)
	cfg.RateLimitRPS = parseOptionalFloat(firstNonEmpty(os.Getenv("IAHOME_RATELIMIT_RPS"), merged["ratelimit_rps"]), 25)
	cfg.RateLimitBurst = parseOptionalFloat(firstNonEmpty(os.Getenv("IAHOME_RATELIMIT_BURST"), merged["ratelimit_burst"]), 100)
	cfg.RedisAddr = firstNonEmpty(os.Getenv("IAHOME_REDIS_ADDR"), merged["redis_addr"])
	cfg.RedisPassword = firstNonEmpty(os.Getenv("IAHOME_REDIS_PASSWORD"), merged["redis_password"])
	cfg.RedisDB = parseOptionalInt(firstNonEmpty(os.Getenv("IAHOME_REDIS_DB"), merged["redis_db"]), 0)

	hookArgs := firstNonEmpty(os.Getenv("IAHOME_HOOK_SCRIPT_ARGS"), merged["hooks_script_args"])
	hookEnv := firstNonEmpty(os.Getenv("IAHOME_HOOK_SCRIPT_ENV"), merged["hooks_script_env"])
	cfg.Hooks = hooks.Config{
		Enabled:    parseBool(firstNonEmpty(os.Getenv("IAHOME_HOOKS_ENABLED"), merged["hooks_enabled"])),
		ScriptPath: firstNonEmpty(os.Getenv("IAHOME_HOOK_SCRIPT"), merged["hooks_script_path"]),
		ScriptArgs: parseCSV(hookArgs),
		Env:        parseMap(hookEnv),
	}
	if v := firstNonEmpty(os.Getenv("IAHOME_HOOK_TIMEOUT"), merged["hooks_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid hooks_timeout %q: %w", v, err)
		}
		cfg.Hooks.Timeout = dur
	}
	if err := cfg.Hooks.Validate(); err != nil {
		return GatewayConfig{}, err
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("IAHOME_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultLedgerPath returns the fallback ledger location under the user's
// home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".iahome", "ledger.db")
}

// DefaultGrantsPath returns the fallback grant database path.
func DefaultGrantsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "grants.db"
	}
	return filepath.Join(home, ".iahome", "grants.db")
}
