package config

import (
	"fmt"
	"os"
	"time"

	"github.com/bloXroute-Labs/rpcrelay"
	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/bloXroute-Labs/rpcrelay/httpclient"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the gateway configuration. Values come from Default, then the
// YAML file, then the environment. Grants maps an identity to role names,
// e.g. {"alice": ["Relay", "FreeRelay"]}.
type Config struct {
	Allowlist        []string            `yaml:"allowlist" env:"RPC_RELAY_ALLOWLIST" envSeparator:","`
	Cost             rpcrelay.CostModel  `yaml:"cost"`
	BootstrapAdmins  []string            `yaml:"bootstrap-admins" env:"RPC_RELAY_BOOTSTRAP_ADMINS" envSeparator:","`
	Controllers      []string            `yaml:"controllers" env:"RPC_RELAY_CONTROLLERS" envSeparator:","`
	Grants           map[string][]string `yaml:"grants"`
	OpenRelay        bool                `yaml:"open-relay" env:"RPC_RELAY_OPEN_RELAY"`
	AccountsPath     string              `yaml:"accounts-path" env:"RPC_RELAY_ACCOUNTS_PATH"`
	LedgerURL        string              `yaml:"ledger-url" env:"RPC_RELAY_LEDGER_URL"`
	ReceiptTTL       time.Duration       `yaml:"receipt-ttl" env:"RPC_RELAY_RECEIPT_TTL"`
	ForwardTimeout   time.Duration       `yaml:"forward-timeout" env:"RPC_RELAY_FORWARD_TIMEOUT"`
	MaxPayloadBytes  int64               `yaml:"max-payload-bytes" env:"RPC_RELAY_MAX_PAYLOAD_BYTES"`
	MaxResponseBytes uint64              `yaml:"max-response-bytes" env:"RPC_RELAY_MAX_RESPONSE_BYTES"`
	LogBufferSize    int                 `yaml:"log-buffer-size" env:"RPC_RELAY_LOG_BUFFER_SIZE"`
	IPBlockList      []string            `yaml:"ip-block-list" env:"RPC_RELAY_IP_BLOCK_LIST" envSeparator:","`
	AccountBlockList []string            `yaml:"account-block-list" env:"RPC_RELAY_ACCOUNT_BLOCK_LIST" envSeparator:","`
}

func Default() *Config {
	return &Config{
		Allowlist:        append([]string(nil), rpcrelay.DefaultAllowlistHosts...),
		Cost:             rpcrelay.DefaultCostModel(),
		ReceiptTTL:       rpcrelay.DefaultReceiptTTL,
		ForwardTimeout:   30 * time.Second,
		MaxPayloadBytes:  rpcrelay.DefaultMaxPayloadBytes,
		MaxResponseBytes: httpclient.DefaultMaxResponseBytes,
		LogBufferSize:    rpcrelay.DefaultLogBufferSize,
	}
}

// Load reads path (optional) over the defaults and applies environment
// overrides, including those from a .env file in the working directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every granted role name is known.
func (c *Config) Validate() error {
	for id, roles := range c.Grants {
		if id == "" {
			return fmt.Errorf("grants: empty identity")
		}
		for _, name := range roles {
			if _, err := common.ParseRole(name); err != nil {
				return fmt.Errorf("grants for %s: %w", id, err)
			}
		}
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("max-payload-bytes must be positive, got %d", c.MaxPayloadBytes)
	}
	if c.MaxResponseBytes == 0 {
		return fmt.Errorf("max-response-bytes must be positive")
	}
	return nil
}

// RoleGrants resolves Grants into roles. Call Validate first.
func (c *Config) RoleGrants() map[common.Identity][]common.Role {
	out := make(map[common.Identity][]common.Role, len(c.Grants))
	for id, names := range c.Grants {
		for _, name := range names {
			role, err := common.ParseRole(name)
			if err != nil {
				continue
			}
			out[common.Identity(id)] = append(out[common.Identity(id)], role)
		}
	}
	return out
}

func Identities(ids []string) []common.Identity {
	out := make([]common.Identity, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, common.Identity(id))
		}
	}
	return out
}

// Set turns a list into a lookup set, skipping empty entries.
func Set(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item != "" {
			out[item] = struct{}{}
		}
	}
	return out
}
