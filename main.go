package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/nucproto/nuc/config"
	"github.com/nucproto/nuc/did"
	"github.com/nucproto/nuc/gateway"
	"github.com/nucproto/nuc/proxy"
	"github.com/nucproto/nuc/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))

	rootIssuers := make([]did.DID, 0, len(cfg.RootIssuerDIDs))
	for _, s := range cfg.RootIssuerDIDs {
		d, err := did.Parse(s)
		if err != nil {
			slog.Error("invalid ROOT_ISSUER_DIDS entry", "did", s, "err", err)
			os.Exit(1)
		}
		rootIssuers = append(rootIssuers, d)
	}
	audience, err := did.Parse(cfg.GatewayAudienceDID)
	if err != nil {
		slog.Error("invalid GATEWAY_AUDIENCE_DID", "err", err)
		os.Exit(1)
	}

	rpcProxy, err := proxy.NewRPC(cfg.UpstreamRPCURL)
	if err != nil {
		slog.Error("failed to create RPC proxy", "err", err)
		os.Exit(1)
	}

	params := validator.DefaultParams(rootIssuers...)
	params.MaxChainLength = cfg.MaxChainLength
	params.MaxPolicyWidth = cfg.MaxPolicyWidth
	params.MaxPolicyDepth = cfg.MaxPolicyDepth
	params.Requirements = validator.TokenRequirements{
		Kind:     validator.RequireInvocation,
		Audience: audience,
	}

	mw := gateway.NewMiddleware(gateway.MiddlewareConfig{
		Params: params,
		Next:   rpcProxy,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("gateway starting",
		"addr", addr,
		"upstream", cfg.UpstreamRPCURL,
		"audience", cfg.GatewayAudienceDID,
		"root_issuers", len(rootIssuers),
	)

	if err := http.ListenAndServe(addr, mw); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// levelTrace and levelSilent extend slog's four standard levels to cover
// NILLION_LOG_LEVEL's full range (spec.md §6): trace is one tier more
// verbose than Debug, and silent is one tier above Error so it drops every
// record instead of merely collapsing into error-level logging.
const (
	levelTrace  = slog.LevelDebug - 4
	levelSilent = slog.LevelError + 4
)

func logLevel(name string) slog.Level {
	switch name {
	case "trace":
		return levelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent":
		return levelSilent
	default:
		return slog.LevelInfo
	}
}
