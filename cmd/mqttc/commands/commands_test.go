package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseConnectFlags(t *testing.T, args ...string) (*connectFlags, *pflag.FlagSet) {
	t.Helper()
	var f connectFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.register(fs)
	require.NoError(t, fs.Parse(args))
	return &f, fs
}

func TestReadPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x01, 0x02}, 0o600))

	got, err := readPayload("hello", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = readPayload("", path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, got)

	_, err = readPayload("hello", path)
	assert.Error(t, err)

	_, err = readPayload("", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConnectFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		f, fs := parseConnectFlags(t)
		logger, err := f.logger()
		require.NoError(t, err)

		opts, err := f.options(fs, logger)
		require.NoError(t, err)
		// servers, protocol version and logger
		assert.Len(t, opts, 3)
	})

	t.Run("explicit flags", func(t *testing.T) {
		f, fs := parseConnectFlags(t,
			"-s", "tcp://a:1883", "-s", "ws://b/mqtt",
			"-i", "cli", "-u", "alice", "-P", "secret",
			"-k", "15", "--clean-start=false", "--timeout", "2s",
		)
		assert.Equal(t, []string{"tcp://a:1883", "ws://b/mqtt"}, f.servers)

		logger, err := f.logger()
		require.NoError(t, err)
		opts, err := f.options(fs, logger)
		require.NoError(t, err)
		assert.Len(t, opts, 8)
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mqttc.yaml")
		require.NoError(t, os.WriteFile(path, []byte("servers: [tcp://broker:1883]\nclient_id: from-file\n"), 0o600))

		f, fs := parseConnectFlags(t, "--config", path)
		logger, err := f.logger()
		require.NoError(t, err)
		opts, err := f.options(fs, logger)
		require.NoError(t, err)
		assert.NotEmpty(t, opts)
	})

	t.Run("missing config file", func(t *testing.T) {
		f, fs := parseConnectFlags(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := f.options(fs, nil)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad logger settings", func(t *testing.T) {
		f, _ := parseConnectFlags(t, "--log-level", "loud")
		_, err := f.logger()
		assert.Error(t, err)

		f, _ = parseConnectFlags(t, "--log-format", "xml")
		_, err = f.logger()
		assert.Error(t, err)
	})

	t.Run("no session dir", func(t *testing.T) {
		f, _ := parseConnectFlags(t)
		opt, closeStore, err := f.openStore(nil)
		require.NoError(t, err)
		assert.Nil(t, opt)
		closeStore()
	})
}
