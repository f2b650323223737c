// Package config loads the YAML configuration of the accelnet command.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/model"
	"github.com/born-ml/accelnet/internal/tensor"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in device.backend.
const (
	BackendHost   = "host"
	BackendWebGPU = "webgpu"
)

// Config is the full configuration file.
type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		// Format is "json" or "console".
		Format string `yaml:"format"`
	} `yaml:"logger"`
	Device struct {
		Backend string `yaml:"backend"`
		// KernelDir overrides the embedded kernel programs when set.
		KernelDir string `yaml:"kernelDir"`
	} `yaml:"device"`
	Model  Model `yaml:"model"`
	Params struct {
		// Path to a raw float32 parameter stream. Random parameters are
		// drawn when empty.
		Path string `yaml:"path"`
	} `yaml:"params"`
	Verify struct {
		Tolerance float32 `yaml:"tolerance"`
		ShowDiffs bool    `yaml:"showDiffs"`
		// Seed of the input and parameter generator; 0 derives one from
		// the clock.
		Seed uint64 `yaml:"seed"`
	} `yaml:"verify"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
}

// Model is the network and input geometry.
type Model struct {
	Batch      int     `yaml:"batch"`
	Height     int     `yaml:"height"`
	Width      int     `yaml:"width"`
	Channels   []int   `yaml:"channels"`
	KernelSize int     `yaml:"kernelSize"`
	Stride     int     `yaml:"stride"`
	Padding    int     `yaml:"padding"`
	Eps        float32 `yaml:"eps"`
	ReLU       float32 `yaml:"relu"`
}

// Default returns the demonstration configuration: the six-stage network on
// a 64x64 RGB input, run on the host accelerator.
func Default() *Config {
	var c Config
	c.Logger.Verbosity = "info"
	c.Logger.Format = "json"
	c.Device.Backend = BackendHost
	s := model.DefaultSchedule()
	c.Model = Model{
		Batch:      1,
		Height:     64,
		Width:      64,
		Channels:   s.Channels,
		KernelSize: s.KernelSize,
		Stride:     s.Stride,
		Padding:    s.Padding,
		Eps:        s.Eps,
		ReLU:       s.ReLU,
	}
	c.Verify.Tolerance = 1e-3
	return &c
}

// LoadConfig reads path over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Schedule returns the model schedule.
func (c *Config) Schedule() model.Schedule {
	return model.Schedule{
		Channels:   c.Model.Channels,
		KernelSize: c.Model.KernelSize,
		Stride:     c.Model.Stride,
		Padding:    c.Model.Padding,
		Eps:        c.Model.Eps,
		ReLU:       c.Model.ReLU,
	}
}

// InputShape returns the NCHW input shape.
func (c *Config) InputShape() tensor.Shape {
	channels := 0
	if len(c.Model.Channels) > 0 {
		channels = c.Model.Channels[0]
	}
	return tensor.Shape{c.Model.Batch, channels, c.Model.Height, c.Model.Width}
}

// Validate rejects unusable configurations.
func (c *Config) Validate() error {
	var errs []error
	switch c.Device.Backend {
	case BackendHost, BackendWebGPU:
	default:
		errs = append(errs, fmt.Errorf("device.backend %q must be %q or %q", c.Device.Backend, BackendHost, BackendWebGPU))
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logger.format %q must be %q or %q", c.Logger.Format, "json", "console"))
	}
	if c.Model.Batch <= 0 || c.Model.Height <= 0 || c.Model.Width <= 0 {
		errs = append(errs, fmt.Errorf("model batch, height and width must be positive, got %d, %d, %d",
			c.Model.Batch, c.Model.Height, c.Model.Width))
	}
	if c.Verify.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("verify.tolerance %g must be positive", c.Verify.Tolerance))
	}
	s := c.Schedule()
	if err := s.Validate(); err != nil {
		errs = append(errs, err)
	} else if _, err := s.Shapes(c.InputShape()); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w: %w", compute.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
