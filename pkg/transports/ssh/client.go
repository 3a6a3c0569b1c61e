// Package ssh provides host access to a remote machine: commands run in SSH
// sessions and files are read and written over SFTP.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/converge/pkg/transports"
)

// exitCommandNotFound is the status POSIX shells use for unknown commands.
const exitCommandNotFound = 127

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "sftp-write")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the operation may succeed if retried.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Client is a connection to one remote host. It implements
// transports.Runner; FS returns the matching transports.FS.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
	done   chan struct{}
}

// NewClient creates a client. Connect must be called before use.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Address()).Logger(),
	}, nil
}

// Connect establishes the SSH connection and the SFTP subsystem.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	c.logger.Debug().Msg("establishing SSH connection")

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resCh := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		resCh <- dialResult{client, err}
	}()

	var client *ssh.Client
	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case res := <-resCh:
		if res.err != nil {
			return &TransportError{Op: "connect", Err: res.err, IsTemporary: true}
		}
		client = res.client
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return &TransportError{Op: "sftp-init", Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}

	c.client = client
	c.sftp = sftpClient
	c.done = make(chan struct{})

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(client, c.done)
	}

	c.logger.Info().Str("user", c.config.User).Msg("SSH connection established")
	return nil
}

// Close closes the SFTP subsystem and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	close(c.done)

	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
	}
	errs = append(errs, c.client.Close())
	c.client, c.sftp = nil, nil

	if err := errors.Join(errs...); err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) keepAlive(client *ssh.Client, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Warn().Err(err).Msg("keep-alive failed")
				return
			}
		}
	}
}

func (c *Client) sshClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

func (c *Client) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp == nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("not connected")}
	}
	return c.sftp, nil
}

// Run implements transports.Runner. The command line is shell-quoted, so
// arguments reach the remote program unchanged.
func (c *Client) Run(ctx context.Context, cmd transports.Command) (transports.Result, error) {
	client, err := c.sshClient()
	if err != nil {
		return transports.Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return transports.Result{}, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != nil {
		session.Stdin = bytes.NewReader(cmd.Stdin)
	}

	line := cmd.String()
	if c.config.Sudo {
		line = "sudo -n " + line
	}

	start := time.Now()
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- session.Run(line)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return transports.Result{}, &TransportError{Op: "exec", Err: ctx.Err()}
	case runErr = <-doneCh:
	}

	result := transports.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	c.logger.Debug().
		Str("command", line).
		Dur("duration", result.Duration).
		Err(runErr).
		Msg("command completed")

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			if result.ExitCode == exitCommandNotFound {
				return result, fmt.Errorf("%s: %w", cmd.Name, transports.ErrCommandNotFound)
			}
			return result, nil
		}
		return result, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	}

	return result, nil
}

// FS returns SFTP-backed file access on the remote host.
func (c *Client) FS() transports.FS {
	return &sftpFS{client: c}
}

// Connect dials the target and returns it as a transports.Host.
func Connect(ctx context.Context, config *Config, logger zerolog.Logger) (*transports.Host, error) {
	client, err := NewClient(config, logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return &transports.Host{
		Name:   config.Target(),
		Runner: client,
		FS:     client.FS(),
		Close:  client.Close,
	}, nil
}
