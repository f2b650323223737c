package main

import (
	"fmt"
	"os"

	"github.com/born-ml/accelnet/internal/backend/host"
	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/config"
	"go.uber.org/zap"
)

// openWorkspace creates the accelerator named by device.backend.
func openWorkspace(cfg *config.Config, log *zap.Logger) (compute.Workspace, error) {
	switch cfg.Device.Backend {
	case config.BackendHost:
		opts := []host.Option{host.WithLogger(log.Named("host"))}
		if cfg.Device.KernelDir != "" {
			opts = append(opts, host.WithDir(os.DirFS(cfg.Device.KernelDir)))
		}
		return host.New(opts...), nil
	case config.BackendWebGPU:
		return openWebGPU(cfg, log.Named("webgpu"))
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", compute.ErrConfiguration, cfg.Device.Backend)
	}
}
