package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkConfig describes a single chain the gateway can route swaps
// through: which family it belongs to (§4.4 of spec.md), how to reach its
// RPC endpoint, and the router/program it targets.
type NetworkConfig struct {
	Name           string `yaml:"name"`
	Family         string `yaml:"family"` // "account-nonce" or "signature-hash"
	RPCURL         string `yaml:"rpcUrl"`
	ChainID        int64  `yaml:"chainId,omitempty"`        // account-nonce family only
	RouterAddress  string `yaml:"routerAddress,omitempty"`  // account-nonce family only
	ProgramID      string `yaml:"programId,omitempty"`      // signature-hash family only
	PoolFeeBps     uint64 `yaml:"poolFeeBps,omitempty"`      // signature-hash family pool fee, e.g. 30 == 0.3%
	SignerKind     string `yaml:"signerKind"`               // "software" or "hardware"
	SoftwareKeyEnv string `yaml:"softwareKeyEnv,omitempty"`  // env var holding a raw hex signing key (account-nonce) or hex ed25519 key (signature-hash)

	// SoftwareKeystorePath/SoftwareKeystorePassphraseEnv, when set, take
	// precedence over SoftwareKeyEnv for the account-nonce family: the key
	// is decrypted from an Ethereum v3 keystore file instead of read raw
	// from the environment.
	SoftwareKeystorePath           string `yaml:"softwareKeystorePath,omitempty"`
	SoftwareKeystorePassphraseEnv  string `yaml:"softwareKeystorePassphraseEnv,omitempty"`

	HardwareDevice string `yaml:"hardwareDevice,omitempty"` // transport identifier for a hardware signer
}

// RateLimitConfig configures one named token bucket, applied per client
// identifier.
type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// ObservabilityConfig mirrors middleware.ObservabilityConfig on the wire.
type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

// CoordinationConfig tunes C1/C2/C3, mirroring coordination.Config.
type CoordinationConfig struct {
	MaxNonceGap  uint64        `yaml:"maxNonceGap"`
	MaxNonceAge  time.Duration `yaml:"maxNonceAge"`
	QuoteTTL     time.Duration `yaml:"quoteTTL"`
	ReapInterval time.Duration `yaml:"reapInterval"`
}

// ReqAuthConfig configures the HMAC authenticator gating the external
// coordination API (C6). Secrets maps API key -> shared secret; in
// production both sides of a key/secret pair come from a secrets manager,
// not from a checked-in file.
// FamilyScopes, when set for an API key, restricts that key to the listed
// chain families' nonce routes (/chains/{family}/nonce/...); an unscoped key
// may act on any family. A key that submits requests through swapd's
// account-nonce lane has no business also touching a signature-hash lease.
type ReqAuthConfig struct {
	Enabled              bool                `yaml:"enabled"`
	Secrets              map[string]string   `yaml:"secrets"`
	FamilyScopes         map[string][]string `yaml:"familyScopes,omitempty"`
	AllowedTimestampSkew time.Duration       `yaml:"allowedTimestampSkew"`
	NonceTTL             time.Duration       `yaml:"nonceTTL"`
	NonceCapacity        int                 `yaml:"nonceCapacity"`
	PersistencePath      string              `yaml:"persistencePath,omitempty"`
}

// Config is the gateway process's full configuration.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Networks      []NetworkConfig     `yaml:"networks"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Coordination  CoordinationConfig  `yaml:"coordination"`
	ReqAuth       ReqAuthConfig       `yaml:"reqAuth"`
	CORSOrigins   []string            `yaml:"corsOrigins"`
}

// Load reads and validates a YAML config file. An empty path returns
// defaults suitable for local development only.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddress: "127.0.0.1:8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Observability: ObservabilityConfig{
			ServiceName:   "swapgateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "gateway",
		},
		Coordination: CoordinationConfig{
			MaxNonceGap:  16,
			MaxNonceAge:  2 * time.Minute,
			QuoteTTL:     30 * time.Second,
			ReapInterval: 5 * time.Second,
		},
		ReqAuth: ReqAuthConfig{
			Enabled:              true,
			AllowedTimestampSkew: 2 * time.Minute,
			NonceTTL:             10 * time.Minute,
			NonceCapacity:        4096,
		},
		CORSOrigins: []string{"*"},
	}
}

// Validate checks the config for internal consistency. It does not dial any
// network; adapter construction fails independently at startup.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address is required")
	}
	seen := make(map[string]struct{}, len(cfg.Networks))
	for i, n := range cfg.Networks {
		name := strings.TrimSpace(n.Name)
		if name == "" {
			return fmt.Errorf("networks[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("networks[%d]: duplicate network name %q", i, name)
		}
		seen[name] = struct{}{}
		switch n.Family {
		case "account-nonce", "signature-hash":
		default:
			return fmt.Errorf("networks[%d].family must be account-nonce or signature-hash, got %q", i, n.Family)
		}
		if strings.TrimSpace(n.RPCURL) == "" {
			return fmt.Errorf("networks[%d].rpcUrl is required", i)
		}
		switch n.SignerKind {
		case "software", "hardware":
		default:
			return fmt.Errorf("networks[%d].signerKind must be software or hardware, got %q", i, n.SignerKind)
		}
	}
	if cfg.ReqAuth.Enabled && len(cfg.ReqAuth.Secrets) == 0 {
		return fmt.Errorf("reqAuth.secrets must not be empty when reqAuth.enabled is true")
	}
	return nil
}

// NetworkByName finds a network config by name.
func (cfg Config) NetworkByName(name string) (*NetworkConfig, error) {
	for i := range cfg.Networks {
		if cfg.Networks[i].Name == name {
			return &cfg.Networks[i], nil
		}
	}
	return nil, fmt.Errorf("network %s not configured", name)
}
