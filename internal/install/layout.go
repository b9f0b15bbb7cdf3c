package install

import (
	"fmt"
	"path/filepath"
)

// Paths are the installation directories, each overridable through the
// environment variable named in its tag.
type Paths struct {
	DestDir                      string `env:"DESTDIR"`
	Prefix                       string `env:"PREFIX"`
	EtcDir                       string `env:"ETCDIR"`
	LibexecDir                   string `env:"LIBEXECDIR"`
	LibexecCrioDir               string `env:"LIBEXEC_CRIO_DIR"`
	BinDir                       string `env:"BINDIR"`
	ManDir                       string `env:"MANDIR"`
	OCIDir                       string `env:"OCIDIR"`
	BashInstallDir               string `env:"BASHINSTALLDIR"`
	FishInstallDir               string `env:"FISHINSTALLDIR"`
	ZshInstallDir                string `env:"ZSHINSTALLDIR"`
	OptCNIBinDir                 string `env:"OPT_CNI_BIN_DIR"`
	CNIDir                       string `env:"CNIDIR"`
	ContainersDir                string `env:"CONTAINERS_DIR"`
	ContainersRegistriesConfDDir string `env:"CONTAINERS_REGISTRIES_CONFD_DIR"`
	SystemdDir                   string `env:"SYSTEMDDIR"`
	CrioConfD                    string `env:"CRIO_CONF_D"`
}

// WithDefaults fills every empty directory. Derived directories follow
// their parent, so overriding PREFIX moves BINDIR unless BINDIR is set.
func (p Paths) WithDefaults() Paths {
	def := func(v *string, fallback string) {
		if *v == "" {
			*v = fallback
		}
	}

	def(&p.Prefix, "/usr/local")
	def(&p.EtcDir, "/etc")
	def(&p.LibexecDir, "/usr/libexec")
	def(&p.LibexecCrioDir, filepath.Join(p.LibexecDir, "crio"))
	def(&p.BinDir, filepath.Join(p.Prefix, "bin"))
	def(&p.ManDir, filepath.Join(p.Prefix, "share/man"))
	def(&p.OCIDir, filepath.Join(p.Prefix, "share/oci-umount/oci-umount.d"))
	def(&p.BashInstallDir, filepath.Join(p.Prefix, "share/bash-completion/completions"))
	def(&p.FishInstallDir, filepath.Join(p.Prefix, "share/fish/completions"))
	def(&p.ZshInstallDir, filepath.Join(p.Prefix, "share/zsh/site-functions"))
	def(&p.OptCNIBinDir, "/opt/cni/bin")
	def(&p.CNIDir, filepath.Join(p.EtcDir, "cni/net.d"))
	def(&p.ContainersDir, filepath.Join(p.EtcDir, "containers"))
	def(&p.ContainersRegistriesConfDDir, filepath.Join(p.ContainersDir, "registries.conf.d"))
	def(&p.SystemdDir, filepath.Join(p.Prefix, "lib/systemd/system"))
	def(&p.CrioConfD, filepath.Join(p.EtcDir, "crio/crio.conf.d"))

	return p
}

// Layout maps manifest dir keys to absolute destination directories.
type Layout map[string]string

// NewLayout resolves p, applying defaults and the DESTDIR prefix.
func NewLayout(p Paths) Layout {
	p = p.WithDefaults()

	dest := func(dir string) string {
		if p.DestDir == "" {
			return filepath.Clean(dir)
		}
		return filepath.Join(p.DestDir, dir)
	}

	return Layout{
		"bindir":             dest(p.BinDir),
		"libexeccriodir":     dest(p.LibexecCrioDir),
		"optcnibindir":       dest(p.OptCNIBinDir),
		"cnidir":             dest(p.CNIDir),
		"etcdir":             dest(p.EtcDir),
		"ocidir":             dest(p.OCIDir),
		"crioconfd":          dest(p.CrioConfD),
		"containersdir":      dest(p.ContainersDir),
		"registriesconfddir": dest(p.ContainersRegistriesConfDDir),
		"man5dir":            dest(filepath.Join(p.ManDir, "man5")),
		"man8dir":            dest(filepath.Join(p.ManDir, "man8")),
		"bashdir":            dest(p.BashInstallDir),
		"fishdir":            dest(p.FishInstallDir),
		"zshdir":             dest(p.ZshInstallDir),
		"systemddir":         dest(p.SystemdDir),
	}
}

// Dir returns the directory for key.
func (l Layout) Dir(key string) (string, error) {
	dir, ok := l[key]
	if !ok {
		return "", fmt.Errorf("unknown layout key %q", key)
	}
	return dir, nil
}
