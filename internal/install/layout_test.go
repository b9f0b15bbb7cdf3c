package install

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayoutDefaults(t *testing.T) {
	l := NewLayout(Paths{})

	want := map[string]string{
		"bindir":             "/usr/local/bin",
		"libexeccriodir":     "/usr/libexec/crio",
		"optcnibindir":       "/opt/cni/bin",
		"cnidir":             "/etc/cni/net.d",
		"etcdir":             "/etc",
		"ocidir":             "/usr/local/share/oci-umount/oci-umount.d",
		"crioconfd":          "/etc/crio/crio.conf.d",
		"containersdir":      "/etc/containers",
		"registriesconfddir": "/etc/containers/registries.conf.d",
		"man5dir":            "/usr/local/share/man/man5",
		"man8dir":            "/usr/local/share/man/man8",
		"bashdir":            "/usr/local/share/bash-completion/completions",
		"fishdir":            "/usr/local/share/fish/completions",
		"zshdir":             "/usr/local/share/zsh/site-functions",
		"systemddir":         "/usr/local/lib/systemd/system",
	}

	assert.Equal(t, Layout(want), l)
}

func TestNewLayoutOverrides(t *testing.T) {
	l := NewLayout(Paths{
		DestDir: "/tmp/stage",
		Prefix:  "/usr",
		EtcDir:  "/opt/etc",
		BinDir:  "/sbin",
	})

	tests := []struct {
		key  string
		want string
	}{
		{"bindir", "/tmp/stage/sbin"},
		{"man8dir", "/tmp/stage/usr/share/man/man8"},
		{"systemddir", "/tmp/stage/usr/lib/systemd/system"},
		{"cnidir", "/tmp/stage/opt/etc/cni/net.d"},
		{"registriesconfddir", "/tmp/stage/opt/etc/containers/registries.conf.d"},
		{"libexeccriodir", "/tmp/stage/usr/libexec/crio"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := l.Dir(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := l.Dir("nope")
	require.Error(t, err)
}
