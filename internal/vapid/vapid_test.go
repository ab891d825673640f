package vapid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webchat-push-bot/config"
)

func TestResolve_UsesConfiguredKeys(t *testing.T) {
	keys, err := Resolve(config.PushConfig{PublicKey: "pub", PrivateKey: "priv"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Keys{PublicKey: "pub", PrivateKey: "priv"}, keys)
}

func TestResolve_RejectsHalfConfiguredKeys(t *testing.T) {
	_, err := Resolve(config.PushConfig{PublicKey: "pub"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestResolve_GeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapidKey.json")

	first, err := Resolve(config.PushConfig{KeyFile: path}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotEmpty(t, first.PublicKey)
	assert.NotEmpty(t, first.PrivateKey)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := Resolve(config.PushConfig{KeyFile: path}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, first, second, "keys must be reused once persisted")
}

func TestResolve_MalformedFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapidKey.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Resolve(config.PushConfig{KeyFile: path}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrMalformedKeyFile)
}

func TestLoad_IncompleteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapidKey.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"publicKey":"only"}`), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMalformedKeyFile)
}

func TestOptions(t *testing.T) {
	opts := Options(Keys{PublicKey: "pub", PrivateKey: "priv"}, config.PushConfig{Subject: "mailto:a@b.c", TTL: 1})
	assert.Equal(t, "pub", opts.VAPIDPublicKey)
	assert.Equal(t, "priv", opts.VAPIDPrivateKey)
	assert.Equal(t, "mailto:a@b.c", opts.Subscriber)
	assert.Equal(t, 1, opts.TTL)
}
