// Package config loads process configuration for the trust engine from the
// environment, grouped by concern the way the rest of the pack does it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/garl-protocol/trust-engine/internal/reputation"
)

// Config is the root configuration struct.
// Top-level groups: Server, Storage, Signing, RateLimit, Webhook, Trust.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Signing   SigningConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Trust     TrustConfig
}

// ServerConfig groups HTTP networking settings.
type ServerConfig struct {
	Host            string `envconfig:"HOST" default:"0.0.0.0"`
	Port            int    `envconfig:"PORT" default:"8080"`
	CORSOrigins     string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	ReadAuthEnabled bool   `envconfig:"READ_AUTH_ENABLED" default:"false"`
	AdminToken      string `envconfig:"ADMIN_TOKEN"`
}

// CORSOriginList splits the configured origin string on commas.
func (s ServerConfig) CORSOriginList() []string {
	parts := strings.Split(s.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// StorageConfig groups persistence settings.
type StorageConfig struct {
	Path string `envconfig:"DB_PATH" default:"./garl.db"`
}

// SigningConfig groups certificate-signing key material settings.
type SigningConfig struct {
	PrivateKeyHex string `envconfig:"SIGNING_PRIVATE_KEY_HEX"`
	// AllowEphemeral permits generating (and persisting to storage) a key
	// when none is configured. Production deployments should set
	// SIGNING_PRIVATE_KEY_HEX instead so the identity survives a
	// storage wipe.
	AllowEphemeral bool `envconfig:"SIGNING_ALLOW_EPHEMERAL" default:"true"`
}

// RateLimitConfig groups write-path throttling settings.
type RateLimitConfig struct {
	TracesPerAgentPerMinute   int           `envconfig:"RATE_TRACES_PER_AGENT_PER_MINUTE" default:"120"`
	RegistrationsPerIPPerHour int           `envconfig:"RATE_REGISTRATIONS_PER_IP_PER_HOUR" default:"20"`
	Window                    time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
}

// WebhookConfig groups outbound event-delivery settings.
type WebhookConfig struct {
	QueueSize      int           `envconfig:"WEBHOOK_QUEUE_SIZE" default:"1024"`
	DeliverTimeout time.Duration `envconfig:"WEBHOOK_DELIVER_TIMEOUT" default:"5s"`
	MaxRetries     int           `envconfig:"WEBHOOK_MAX_RETRIES" default:"3"`
}

// TrustConfig groups reputation-engine tuning that is safe to override
// without a code change but otherwise defaults to the values fixed by the
// scoring contract. DecayThreshold is not passed to reputation.Config: the
// engine's dormancy window is fixed at 24h (decayDormancySeconds in
// internal/reputation/decay.go).
type TrustConfig struct {
	EMAAlpha              float64       `envconfig:"TRUST_EMA_ALPHA" default:"0.3"`
	DecayThreshold        time.Duration `envconfig:"TRUST_DECAY_THRESHOLD" default:"24h"`
	DecayRatePerDay       float64       `envconfig:"TRUST_DECAY_RATE_PER_DAY" default:"0.001"`
	AnomalyMinTraces      int           `envconfig:"TRUST_ANOMALY_MIN_TRACES" default:"10"`
	AnomalyClearThreshold int           `envconfig:"TRUST_ANOMALY_CLEAR_THRESHOLD" default:"50"`
	MaxEndorsementBonus   float64       `envconfig:"TRUST_MAX_ENDORSEMENT_BONUS" default:"2.0"`
	LowTraceThreshold     int           `envconfig:"TRUST_LOW_TRACE_THRESHOLD" default:"5"`
}

// ToReputationConfig builds the scoring engine's Config from the loaded
// environment settings, leaving anything not exposed here at
// reputation.DefaultConfig's value.
func (t TrustConfig) ToReputationConfig() reputation.Config {
	cfg := reputation.DefaultConfig()
	cfg.Alpha = t.EMAAlpha
	cfg.LowTraceThreshold = t.LowTraceThreshold
	cfg.DecayRatePerDay = t.DecayRatePerDay
	cfg.AnomalyMinTraces = t.AnomalyMinTraces
	cfg.AnomalyClearThreshold = t.AnomalyClearThreshold
	cfg.MaxEndorsementBonus = t.MaxEndorsementBonus
	return cfg
}

// Load reads configuration from the process environment, applying defaults
// for anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Signing.PrivateKeyHex == "" && !cfg.Signing.AllowEphemeral {
		return nil, fmt.Errorf("load config: SIGNING_PRIVATE_KEY_HEX is required when SIGNING_ALLOW_EPHEMERAL=false")
	}
	return &cfg, nil
}
