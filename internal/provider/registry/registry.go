// Package registry wires the enabled provider adapters. It sits above both
// the adapter packages and the shared throttle plumbing, so neither imports
// the other.
package registry

import (
	"context"
	"log/slog"

	"github.com/cloudarb/cloudarb/internal/config"
	"github.com/cloudarb/cloudarb/internal/provider"
	"github.com/cloudarb/cloudarb/internal/provider/aws"
	"github.com/cloudarb/cloudarb/internal/provider/azure"
	"github.com/cloudarb/cloudarb/internal/provider/gcp"
	"github.com/cloudarb/cloudarb/internal/provider/lambdalabs"
	"github.com/cloudarb/cloudarb/internal/provider/runpod"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/adapter"
)

// BuildAdapters constructs the enabled adapters behind the shared throttle
// wrapper. A provider whose construction fails is skipped with a warning
// rather than failing startup; the remaining providers still feed the table.
func BuildAdapters(ctx context.Context, cfg config.AdaptersConfig, catalog *store.Catalog) []*provider.Throttled {
	var out []*provider.Throttled

	add := func(inner adapter.Adapter, ac config.AdapterConfig) {
		out = append(out, provider.Throttle(inner, ac))
	}

	if cfg.AWS.Enabled {
		if a, err := aws.New(ctx, cfg.AWS.Regions, catalog); err != nil {
			slog.Warn("provider: aws adapter disabled", "error", err)
		} else {
			add(a, cfg.AWS.AdapterConfig)
		}
	}
	if cfg.GCP.Enabled {
		if a, err := gcp.New(ctx, cfg.GCP.Regions, cfg.GCP.APIKey, catalog); err != nil {
			slog.Warn("provider: gcp adapter disabled", "error", err)
		} else {
			add(a, cfg.GCP.AdapterConfig)
		}
	}
	if cfg.Azure.Enabled {
		add(azure.New(cfg.Azure.Regions, catalog), cfg.Azure.AdapterConfig)
	}
	if cfg.LambdaLabs.Enabled {
		add(lambdalabs.New(cfg.LambdaLabs.APIKey, catalog), cfg.LambdaLabs.AdapterConfig)
	}
	if cfg.RunPod.Enabled {
		add(runpod.New(cfg.RunPod.APIKey, catalog), cfg.RunPod.AdapterConfig)
	}

	return out
}
