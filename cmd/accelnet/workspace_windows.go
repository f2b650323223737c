//go:build windows

package main

import (
	"os"

	"github.com/born-ml/accelnet/internal/backend/webgpu"
	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/config"
	"go.uber.org/zap"
)

func openWebGPU(cfg *config.Config, log *zap.Logger) (compute.Workspace, error) {
	opts := []webgpu.Option{webgpu.WithLogger(log)}
	if cfg.Device.KernelDir != "" {
		opts = append(opts, webgpu.WithDir(os.DirFS(cfg.Device.KernelDir)))
	}
	return webgpu.New(opts...)
}
