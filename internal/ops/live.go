package ops

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/config"
	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/live"
	"github.com/hpungsan/snapkeep/internal/reqfile"
)

// Live layer modes.
const (
	LiveModeSim = "sim"
	LiveModeWS  = "ws"
)

// NewLive builds the live layer selected by cfg.Live.
//
// The simulator starts with every request-file item defined and connected. The
// gateway client subscribes to the same items so connection events arrive for them.
func NewLive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (live.Layer, error) {
	items := requestItems(cfg, logger)

	switch cfg.Live.Mode {
	case "", LiveModeSim:
		sim := live.NewSim()
		sim.Define(items...)
		return sim, nil

	case LiveModeWS:
		if cfg.Live.URL == "" {
			return nil, errors.NewInvalidRequest("live.url is required for ws mode")
		}
		gw, err := live.DialGateway(ctx, cfg.Live.URL, live.WithGatewayLogger(logger))
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if len(items) > 0 {
			if err := gw.Subscribe(items); err != nil {
				gw.Close() //nolint:errcheck
				return nil, errors.NewInternal(err)
			}
		}
		return gw, nil

	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown live mode %q (want %s or %s)", cfg.Live.Mode, LiveModeSim, LiveModeWS))
	}
}

// requestItems returns the macro-substituted item names of the configured request
// file. A missing or broken request file yields no items.
func requestItems(cfg *config.Config, logger *slog.Logger) []string {
	if cfg.RequestFile == "" {
		return nil
	}
	if _, err := os.Stat(cfg.RequestFile); err != nil {
		logger.Warn("request file not readable", "path", cfg.RequestFile, "error", err)
		return nil
	}

	var changeable []string
	for k := range cfg.Macros {
		changeable = append(changeable, k)
	}
	names, err := reqfile.Parse(cfg.RequestFile, reqfile.Options{Changeable: changeable})
	if err != nil {
		logger.Warn("request file has errors", "path", cfg.RequestFile, "error", err)
		return nil
	}
	for i, name := range names {
		names[i] = capture.SubstituteMacros(name, cfg.Macros)
	}
	return names
}
