package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/converge/pkg/transports"
)

func TestRunner_Run(t *testing.T) {
	r := NewRunner(zerolog.Nop(), false)
	ctx := context.Background()

	t.Run("exit status is reported, not returned", func(t *testing.T) {
		res, err := r.Run(ctx, transports.Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}})
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "out\n", res.Stdout)
		assert.Equal(t, "err", res.Output())
		assert.False(t, res.Success())
	})

	t.Run("stdin is forwarded", func(t *testing.T) {
		res, err := r.Run(ctx, transports.Command{Name: "cat", Stdin: []byte("0 3 * * * /usr/bin/backup\n")})
		require.NoError(t, err)
		assert.True(t, res.Success())
		assert.Equal(t, "0 3 * * * /usr/bin/backup\n", res.Stdout)
	})

	t.Run("missing command", func(t *testing.T) {
		_, err := r.Run(ctx, transports.Command{Name: "definitely-not-a-real-tool-xyz"})
		require.ErrorIs(t, err, transports.ErrCommandNotFound)
	})
}

func TestFS_WriteFileKeepsMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sshd_config")
	require.NoError(t, os.WriteFile(path, []byte("Port 22\n"), 0o600))

	fsys := FS{}
	ctx := context.Background()

	require.NoError(t, fsys.WriteFile(ctx, path, []byte("Port 2222\n"), 0o644))

	data, err := fsys.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "Port 2222\n", string(data))

	info, err := fsys.Stat(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFS_MissingFile(t *testing.T) {
	fsys := FS{}
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jail.local")

	_, err := fsys.ReadFile(ctx, path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoError(t, fsys.Remove(ctx, path))

	require.NoError(t, fsys.WriteFile(ctx, path, []byte("[sshd]\n"), 0o640))
	info, err := fsys.Stat(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), info.Mode)
}

func TestFS_Glob(t *testing.T) {
	fsys := FS{}
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{"60-hardening.conf", "50-cloud-init.conf", "README"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	matches, err := fsys.Glob(ctx, filepath.Join(dir, "*.conf"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "50-cloud-init.conf"),
		filepath.Join(dir, "60-hardening.conf"),
	}, matches)

	matches, err = fsys.Glob(ctx, filepath.Join(dir, "missing", "*.conf"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
