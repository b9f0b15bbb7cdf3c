package acquire

import (
	"fmt"
	"os/exec"
	"strings"
)

// Tools whose presence enables verification.
const (
	SignatureTool = "cosign"
	SBOMTool      = "bom"
)

// Mode controls how the acquirer is chosen.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
	ModeNever  Mode = "never"
)

// ParseMode parses a verification mode. An empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeAlways, ModeNever:
		return m, nil
	default:
		return "", fmt.Errorf("invalid verification mode %q (want auto, always or never)", s)
	}
}

// Capabilities reports which verification tools the host carries.
type Capabilities struct {
	Signature bool
	SBOM      bool
}

// LookPathFunc resolves a command on PATH.
type LookPathFunc func(file string) (string, error)

// Probe checks PATH for the signature and SBOM tools. A nil lookPath uses
// exec.LookPath.
func Probe(lookPath LookPathFunc) Capabilities {
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	has := func(tool string) bool {
		_, err := lookPath(tool)
		return err == nil
	}

	return Capabilities{
		Signature: has(SignatureTool),
		SBOM:      has(SBOMTool),
	}
}

// Select returns the acquirer for caps under mode.
func Select(caps Capabilities, mode Mode, d Downloader, v BlobVerifier) Acquirer {
	switch mode {
	case ModeAlways:
		return NewVerifiedAcquirer(d, v, true)
	case ModeNever:
		return NewDirectAcquirer(d)
	}

	if caps.Signature {
		return NewVerifiedAcquirer(d, v, caps.SBOM)
	}
	return NewDirectAcquirer(d)
}
