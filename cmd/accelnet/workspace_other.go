//go:build !windows

package main

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/config"
	"go.uber.org/zap"
)

func openWebGPU(*config.Config, *zap.Logger) (compute.Workspace, error) {
	return nil, fmt.Errorf("%w: the webgpu backend is only built on windows", compute.ErrConfiguration)
}
