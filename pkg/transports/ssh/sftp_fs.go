package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/converge/pkg/transports"
)

// sftpFS implements transports.FS over the client's SFTP subsystem.
type sftpFS struct {
	client *Client
}

func notExist(err error, p string) error {
	if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	return err
}

// ReadFile implements transports.FS.
func (f *sftpFS) ReadFile(_ context.Context, p string) ([]byte, error) {
	sc, err := f.client.sftpClient()
	if err != nil {
		return nil, err
	}

	file, err := sc.Open(p)
	if err != nil {
		return nil, notExist(err, p)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &TransportError{Op: "sftp-read", Err: err, IsTemporary: true}
	}
	return data, nil
}

// Stat implements transports.FS.
func (f *sftpFS) Stat(_ context.Context, p string) (transports.FileInfo, error) {
	sc, err := f.client.sftpClient()
	if err != nil {
		return transports.FileInfo{}, err
	}

	info, err := sc.Stat(p)
	if err != nil {
		return transports.FileInfo{}, notExist(err, p)
	}
	return transports.FileInfo{Mode: info.Mode().Perm(), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Remove implements transports.FS.
func (f *sftpFS) Remove(_ context.Context, p string) error {
	sc, err := f.client.sftpClient()
	if err != nil {
		return err
	}
	if err := sc.Remove(p); err != nil && !errors.Is(notExist(err, p), fs.ErrNotExist) {
		return &TransportError{Op: "sftp-remove", Err: err}
	}
	return nil
}

// Glob implements transports.FS.
func (f *sftpFS) Glob(_ context.Context, pattern string) ([]string, error) {
	sc, err := f.client.sftpClient()
	if err != nil {
		return nil, err
	}
	matches, err := sc.Glob(pattern)
	if err != nil {
		return nil, &TransportError{Op: "sftp-glob", Err: err}
	}
	sort.Strings(matches)
	return matches, nil
}

// WriteFile implements transports.FS. The content goes to a temporary file
// next to the target, which is then renamed over it with the
// posix-rename extension.
func (f *sftpFS) WriteFile(_ context.Context, p string, data []byte, perm fs.FileMode) error {
	sc, err := f.client.sftpClient()
	if err != nil {
		return err
	}

	if info, err := sc.Stat(p); err == nil {
		perm = info.Mode().Perm()
	}

	dir := path.Dir(p)
	if err := sc.MkdirAll(dir); err != nil {
		return &TransportError{Op: "sftp-mkdir", Err: err}
	}

	tmpPath := path.Join(dir, "."+path.Base(p)+".converge-"+uuid.New().String()[:8])
	start := time.Now()

	tmp, err := sc.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return &TransportError{Op: "sftp-write", Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	cleanup := func() { _ = sc.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return &TransportError{Op: "sftp-write", Err: err, IsTemporary: true}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &TransportError{Op: "sftp-write", Err: err, IsTemporary: true}
	}
	if err := sc.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return &TransportError{Op: "sftp-chmod", Err: err}
	}
	if err := sc.PosixRename(tmpPath, p); err != nil {
		cleanup()
		return &TransportError{Op: "sftp-rename", Err: err}
	}

	f.client.logger.Debug().
		Str("path", p).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("file written")

	return nil
}
