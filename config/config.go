package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/nucproto/nuc/validator"
)

// Config holds process-wide configuration for the gateway binary.
type Config struct {
	// LogLevel is NILLION_LOG_LEVEL (spec.md §6): trace, debug, info, warn,
	// error, or silent.
	LogLevel string

	// Port is the HTTP listen port.
	Port int

	// UpstreamRPCURL is the JSON-RPC endpoint the gateway proxies to once a
	// request's NUC envelope validates.
	UpstreamRPCURL string

	// GatewayAudienceDID is this gateway's own DID string: invocations
	// presented to it must be addressed here.
	GatewayAudienceDID string

	// RootIssuerDIDs is the set of DID strings trusted as chain roots.
	RootIssuerDIDs []string

	// AuthServerURL is the base URL of the authorization-server external
	// collaborator (about/health/nucs/payments/subscriptions/revocations).
	AuthServerURL string

	// PayerBroadcastURL is the blockchain broadcast endpoint the payer
	// external collaborator posts MsgPayFor transactions to.
	PayerBroadcastURL string

	// MaxChainLength, MaxPolicyWidth, MaxPolicyDepth bound the chain
	// validator's structural limits.
	MaxChainLength int
	MaxPolicyWidth int
	MaxPolicyDepth int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded if present (dev convenience).
func Load() (*Config, error) {
	_ = godotenv.Load() // no-op if .env absent (production uses real env vars)

	cfg := &Config{
		LogLevel:           getEnv("NILLION_LOG_LEVEL", "info"),
		Port:               getEnvInt("PORT", 8080),
		UpstreamRPCURL:     getEnv("UPSTREAM_RPC_URL", "https://sepolia.base.org"),
		GatewayAudienceDID: getEnv("GATEWAY_AUDIENCE_DID", ""),
		RootIssuerDIDs:     splitCSV(getEnv("ROOT_ISSUER_DIDS", "")),
		AuthServerURL:      getEnv("AUTH_SERVER_URL", ""),
		PayerBroadcastURL:  getEnv("PAYER_BROADCAST_URL", ""),
		MaxChainLength:     getEnvInt("MAX_CHAIN_LENGTH", validator.DefaultMaxChainLength),
		MaxPolicyWidth:     getEnvInt("MAX_POLICY_WIDTH", validator.DefaultMaxPolicyWidth),
		MaxPolicyDepth:     getEnvInt("MAX_POLICY_DEPTH", validator.DefaultMaxPolicyDepth),
	}

	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error", "silent":
	default:
		return nil, fmt.Errorf("NILLION_LOG_LEVEL must be one of trace|debug|info|warn|error|silent, got %q", cfg.LogLevel)
	}

	if cfg.GatewayAudienceDID == "" {
		return nil, fmt.Errorf("GATEWAY_AUDIENCE_DID env var is required")
	}
	if len(cfg.RootIssuerDIDs) == 0 {
		return nil, fmt.Errorf("ROOT_ISSUER_DIDS env var is required (comma-separated did: strings)")
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
