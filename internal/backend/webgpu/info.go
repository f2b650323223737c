package webgpu

import (
	"github.com/born-ml/accelnet/internal/compute"
	"github.com/go-webgpu/webgpu/wgpu"
)

// deviceInfo converts adapter info into a DeviceInfo. Adapters that report
// no device name fall back to their description.
func deviceInfo(info *wgpu.AdapterInfoGo) compute.DeviceInfo {
	d := compute.DeviceInfo{Kind: compute.WebGPU}
	if info == nil {
		return d
	}
	d.Name = info.Device
	if d.Name == "" {
		d.Name = info.Description
	}
	d.Vendor = info.Vendor
	return d
}
