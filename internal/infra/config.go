package infra

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"mep_go/internal/domain"
)

// BrokerAccount is one tenant's broker login. The password may be a
// "${VAR}" reference resolved from the environment at load time.
type BrokerAccount struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Account  string `yaml:"account"`
}

// Config holds every application setting. Sensitive values can be supplied
// through environment variables after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Broker struct {
		Env      string `yaml:"env"`
		RestURL  string `yaml:"rest_url"`
		WSURL    string `yaml:"ws_url"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Account  string `yaml:"account"`

		// Per-tenant credentials; tenants absent here fall back to the
		// process-level user above.
		Accounts map[string]BrokerAccount `yaml:"accounts"`
	} `yaml:"broker"`

	Quotes struct {
		PrimaryAttempts  int `yaml:"primary_attempts"`
		PrimaryDelayMS   int `yaml:"primary_delay_ms"`
		FallbackWaitMS   int `yaml:"fallback_wait_ms"`
		FallbackStepMS   int `yaml:"fallback_step_ms"`
		BondCacheTTLMin  int `yaml:"bond_cache_ttl_min"`
		QuoteMaxAgeSec   int `yaml:"quote_max_age_sec"`
		RefreshThrottleS int `yaml:"refresh_throttle_s"`
	} `yaml:"quotes"`

	Sessions struct {
		TTLHours        int `yaml:"ttl_hours"`
		CleanupEveryMin int `yaml:"cleanup_every_min"`
	} `yaml:"sessions"`

	Trading struct {
		CommissionPct float64 `yaml:"commission_pct"`
		DeviationPct  float64 `yaml:"deviation_pct"`
	} `yaml:"trading"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Quotes.PrimaryAttempts <= 0 {
		c.Quotes.PrimaryAttempts = 3
	}
	if c.Quotes.PrimaryDelayMS <= 0 {
		c.Quotes.PrimaryDelayMS = 400
	}
	if c.Quotes.FallbackWaitMS <= 0 {
		c.Quotes.FallbackWaitMS = 2000
	}
	if c.Quotes.FallbackStepMS <= 0 {
		c.Quotes.FallbackStepMS = 200
	}
	if c.Quotes.BondCacheTTLMin <= 0 {
		c.Quotes.BondCacheTTLMin = 12 * 60
	}
	if c.Quotes.QuoteMaxAgeSec <= 0 {
		c.Quotes.QuoteMaxAgeSec = 30
	}
	if c.Quotes.RefreshThrottleS <= 0 {
		c.Quotes.RefreshThrottleS = 60
	}
	if c.Sessions.TTLHours <= 0 {
		c.Sessions.TTLHours = 8
	}
	if c.Sessions.CleanupEveryMin <= 0 {
		c.Sessions.CleanupEveryMin = 10
	}
	if c.Trading.CommissionPct == 0 {
		c.Trading.CommissionPct = 0.005
	}
	if c.Trading.DeviationPct == 0 {
		c.Trading.DeviationPct = 0.10
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.db"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch domain.Environment(c.Broker.Env) {
	case domain.EnvRemarkets, domain.EnvLive:
	default:
		return fmt.Errorf("invalid broker env: %q", c.Broker.Env)
	}
	if c.Broker.RestURL == "" || (!hasPrefix(c.Broker.RestURL, "http://") && !hasPrefix(c.Broker.RestURL, "https://")) {
		return fmt.Errorf("invalid broker REST URL: %s", c.Broker.RestURL)
	}
	if c.Broker.WSURL == "" || (!hasPrefix(c.Broker.WSURL, "ws://") && !hasPrefix(c.Broker.WSURL, "wss://")) {
		return fmt.Errorf("invalid broker WS URL: %s", c.Broker.WSURL)
	}
	if c.Trading.CommissionPct < 0 || c.Trading.CommissionPct >= 1 {
		return fmt.Errorf("commission must be in [0, 1): %v", c.Trading.CommissionPct)
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

var envRefPattern = regexp.MustCompile(`^\$\{([A-Z0-9_]+)\}$`)

// expandEnvRef resolves "${VAR}" values to the named environment variable,
// leaving plain strings untouched.
func expandEnvRef(value string) string {
	m := envRefPattern.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	return os.Getenv(m[1])
}

// overrideWithEnv lets environment variables replace file values so
// credentials never have to live in the YAML.
func overrideWithEnv(cfg *Config) {
	if user := os.Getenv("MEPGO_BROKER_USER"); user != "" {
		cfg.Broker.User = user
	}
	if pass := os.Getenv("MEPGO_BROKER_PASSWORD"); pass != "" {
		cfg.Broker.Password = pass
	}
	if account := os.Getenv("MEPGO_BROKER_ACCOUNT"); account != "" {
		cfg.Broker.Account = account
	}
	if env := os.Getenv("MEPGO_BROKER_ENV"); env != "" {
		cfg.Broker.Env = env
	}
	cfg.Broker.Password = expandEnvRef(cfg.Broker.Password)
	for tenant, acct := range cfg.Broker.Accounts {
		acct.Password = expandEnvRef(acct.Password)
		cfg.Broker.Accounts[tenant] = acct
	}
}

// DefaultCredentials builds the credentials configured at process level.
// Tenants may still log in with their own credentials at runtime.
func (c *Config) DefaultCredentials() domain.Credentials {
	return domain.Credentials{
		User:     c.Broker.User,
		Password: c.Broker.Password,
		Account:  c.Broker.Account,
		Env:      domain.Environment(c.Broker.Env),
	}
}

// TenantCredentials resolves a tenant's configured broker login, falling
// back to the process-level credentials when the tenant has no entry.
func (c *Config) TenantCredentials(tenant string) domain.Credentials {
	acct, ok := c.Broker.Accounts[tenant]
	if !ok {
		return c.DefaultCredentials()
	}
	return domain.Credentials{
		User:     acct.User,
		Password: acct.Password,
		Account:  acct.Account,
		Env:      domain.Environment(c.Broker.Env),
	}
}
