package install

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

func fakeRunner(enabled bool, restoreErr error, calls *[]call) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		switch name {
		case "selinuxenabled":
			if enabled {
				return nil, nil
			}
			return nil, errors.New("exit status 1")
		case "restorecon":
			if restoreErr != nil {
				return []byte("restorecon: permission denied"), restoreErr
			}
			return nil, nil
		}
		return nil, errors.New("unexpected command " + name)
	}
}

func TestSELinuxLabeler(t *testing.T) {
	paths := []string{"/usr/local/bin/crio", "/usr/local/bin/pinns"}

	t.Run("enabled", func(t *testing.T) {
		var calls []call
		l := NewSELinuxLabeler(fakeRunner(true, nil, &calls))

		require.NoError(t, l.Label(context.Background(), paths))
		require.Len(t, calls, 2)
		assert.Equal(t, call{name: "restorecon", args: append([]string{"-F"}, paths...)}, calls[1])
	})

	t.Run("disabled", func(t *testing.T) {
		var calls []call
		l := NewSELinuxLabeler(fakeRunner(false, nil, &calls))

		require.NoError(t, l.Label(context.Background(), paths))
		require.Len(t, calls, 1)
		assert.Equal(t, "selinuxenabled", calls[0].name)
	})

	t.Run("restorecon_fails", func(t *testing.T) {
		var calls []call
		l := NewSELinuxLabeler(fakeRunner(true, errors.New("exit status 255"), &calls))

		err := l.Label(context.Background(), paths)

		var ierr *InstallError
		require.ErrorAs(t, err, &ierr)
		assert.Contains(t, err.Error(), "permission denied")
	})

	t.Run("nothing_to_label", func(t *testing.T) {
		var calls []call
		l := NewSELinuxLabeler(fakeRunner(true, nil, &calls))

		require.NoError(t, l.Label(context.Background(), nil))
		assert.Empty(t, calls)
	})
}
