package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"igcollector/pkg/config"
)

func TestSealOpenRoundTrip(t *testing.T) {
	v, err := New("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := v.Seal("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "hunter2")

	opened, err := v.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", opened)
}

func TestSealIsNonDeterministic(t *testing.T) {
	v, err := New("pass")
	require.NoError(t, err)

	a, err := v.Seal("secret")
	require.NoError(t, err)
	b, err := v.Seal("secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenAcrossInstances(t *testing.T) {
	first, err := New("shared")
	require.NoError(t, err)
	second, err := New("shared")
	require.NoError(t, err)

	sealed, err := first.Seal("pw")
	require.NoError(t, err)
	opened, err := second.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "pw", opened)

	wrong, err := New("other")
	require.NoError(t, err)
	_, err = wrong.Open(sealed)
	assert.Error(t, err)
}

func TestEmptyValues(t *testing.T) {
	v, err := New("pass")
	require.NoError(t, err)

	sealed, err := v.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := v.Open("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestOpenMalformed(t *testing.T) {
	v, err := New("pass")
	require.NoError(t, err)

	for _, in := range []string{"plaintext", "v1$nosep", "v1$!!$!!"} {
		_, err := v.Open(in)
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestNewRequiresPassphrase(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestOpenFileBackendGeneratesKey(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "keys", "vault.key")
	cfg := config.VaultConfig{Backend: "file", KeyFile: keyFile}

	first, err := Open(cfg)
	require.NoError(t, err)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	sealed, err := first.Seal("pw")
	require.NoError(t, err)

	second, err := Open(cfg)
	require.NoError(t, err)
	opened, err := second.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "pw", opened)
}

func TestOpenEnvOverrides(t *testing.T) {
	t.Setenv(PassphraseEnv, "from-env")
	v, err := Open(config.VaultConfig{Backend: "keyring"})
	require.NoError(t, err)
	assert.Equal(t, []byte("from-env"), v.passphrase)
}

func TestOpenEnvBackendRequiresVariable(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	_, err := Open(config.VaultConfig{Backend: "env"})
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestOpenKeyringBackend(t *testing.T) {
	keyring.MockInit()
	t.Setenv(PassphraseEnv, "")

	first, err := Open(config.VaultConfig{Backend: "keyring"})
	require.NoError(t, err)

	stored, err := keyring.Get(keyringService, keyringUser)
	require.NoError(t, err)
	assert.Equal(t, []byte(stored), first.passphrase)

	second, err := Open(config.VaultConfig{Backend: "keyring"})
	require.NoError(t, err)
	assert.Equal(t, first.passphrase, second.passphrase)
}
