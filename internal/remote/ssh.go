package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHExecutor runs command lines over a lazily dialled SSH connection that is
// reused until Close.
type SSHExecutor struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	ConnectTimeout              time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

func (e *SSHExecutor) Exec(ctx context.Context, cmdline string) (Result, error) {
	client, err := e.connect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	session, err := client.NewSession()
	if err != nil {
		e.reset()
		return Result{}, fmt.Errorf("%w: new session: %v", ErrUnavailable, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmdline) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case runErr = <-done:
	}

	res := Result{Stdout: truncate(stdout.String()), Stderr: truncate(stderr.String())}
	if runErr == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	e.reset()
	return res, fmt.Errorf("%w: %v", ErrUnavailable, runErr)
}

// Close drops the cached connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func (e *SSHExecutor) reset() {
	_ = e.Close()
}

func (e *SSHExecutor) connect(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	address, err := e.address()
	if err != nil {
		return nil, err
	}
	config, err := e.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: e.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e.client = ssh.NewClient(clientConn, chans, reqs)
	return e.client, nil
}

func (e *SSHExecutor) address() (string, error) {
	host := strings.TrimSpace(e.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}
	if e.Port != "" {
		return net.JoinHostPort(host, e.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (e *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	if e.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := e.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if e.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := e.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            e.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.ConnectTimeout,
	}, nil
}

func (e *SSHExecutor) signer() (ssh.Signer, error) {
	if e.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}
	privateKey, err := os.ReadFile(e.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(e.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, e.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (e *SSHExecutor) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(e.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}
