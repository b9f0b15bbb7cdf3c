package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using the running kernel.
type RealDetector struct {
	kernelArch   func() (string, error)
	platformInfo func(ctx context.Context) (string, string, string, error)
}

// NewDetector creates a new platform detector.
func NewDetector() *RealDetector {
	return &RealDetector{
		kernelArch:   host.KernelArch,
		platformInfo: host.PlatformInformationWithContext,
	}
}

// Detect returns the host architecture and, on Linux, distribution details.
//
// An architecture outside amd64/arm64 is an error wrapping
// ErrUnsupportedArch. Distribution detection failures are not errors.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	raw, err := d.kernelArch()
	if err != nil {
		return nil, fmt.Errorf("query kernel architecture: %w", err)
	}

	arch, err := NormalizeArch(raw)
	if err != nil {
		return nil, err
	}

	info := &Info{
		OS:      runtime.GOOS,
		Arch:    arch,
		ArchRaw: raw,
	}

	if !info.IsLinux() {
		return info, nil
	}

	platform, family, version, err := d.platformInfo(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	platform = normalizePlatform(platform)
	if platform != "" {
		info.Platform = platform
		info.Family = mapFamily(family)
		info.Version = normalizePlatform(version)
	}

	return info, nil
}

// DetectArch returns only the normalized host architecture. Distribution
// details are not read.
func (d *RealDetector) DetectArch(_ context.Context) (string, error) {
	raw, err := d.kernelArch()
	if err != nil {
		return "", fmt.Errorf("query kernel architecture: %w", err)
	}
	return NormalizeArch(raw)
}
