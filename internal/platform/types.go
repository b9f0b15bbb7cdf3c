// Package platform detects the host the installer runs on.
//
// Architecture comes from the running kernel (the equivalent of `uname -m`)
// rather than from GOARCH, so an amd64 build running under emulation still
// reports the real machine. Linux distribution details are best effort and
// only read for the debug host report.
package platform

import "context"

// Supported architecture names, as they appear in release bundle names.
const (
	ArchAMD64 = "amd64"
	ArchARM64 = "arm64"
)

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyGentoo  = "gentoo"  // Gentoo
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux"
	Arch     string // "amd64", "arm64" (normalized)
	ArchRaw  string // kernel machine name (e.g., "x86_64", "aarch64")
	Platform string // distro ID (Linux only, e.g., "ubuntu", "fedora")
	Family   string // canonical family (e.g., "debian", "rhel")
	Version  string // distro version (Linux only, e.g., "22.04")
}

// LogFields returns key-value pairs for a diagnostic log line.
func (i *Info) LogFields() []any {
	fields := []any{"os", i.OS, "arch", i.Arch, "kernel_arch", i.ArchRaw}
	if i.Platform != "" {
		fields = append(fields, "distro", i.Platform, "family", i.Family, "distro_version", i.Version)
	}
	return fields
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
