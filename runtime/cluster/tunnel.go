package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"
)

// tunnelConn is a connection relayed by socat on the far end of an ssh session.
type tunnelConn struct {
	io.ReadCloser
	io.WriteCloser
	cancel context.CancelFunc
}

var _ net.Conn = (*tunnelConn)(nil)

func (c *tunnelConn) Close() error {
	c.cancel()
	return errors.Join(c.ReadCloser.Close(), c.WriteCloser.Close())
}

func (c *tunnelConn) LocalAddr() net.Addr {
	return nil
}

func (c *tunnelConn) RemoteAddr() net.Addr {
	return nil
}

// Deadlines are not supported on pipes and are ignored.
func (c *tunnelConn) SetDeadline(t time.Time) error {
	return nil
}

func (c *tunnelConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (c *tunnelConn) SetWriteDeadline(t time.Time) error {
	return nil
}

// parseSSHTarget splits user@host[:port] into its ssh arguments.
func parseSSHTarget(target string) (destination, port string, err error) {
	user, hostport, ok := strings.Cut(target, "@")
	if !ok || user == "" || hostport == "" {
		return "", "", fmt.Errorf("invalid ssh target '%s', expected user@host[:port]", target)
	}
	host, port, _ := strings.Cut(hostport, ":")
	if port == "" {
		port = "22"
	}
	return user + "@" + host, port, nil
}

// dialSSH opens a connection to addr as seen from the ssh target.
func dialSSH(ctx context.Context, network, sshTarget, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	destination, port, err := parseSSHTarget(sshTarget)
	if err != nil {
		return nil, err
	}

	// The tunnel must outlive the dial context.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	cmd := exec.CommandContext(
		ctx,
		"ssh", destination, "-p", port, "-o", "BatchMode=yes", "--",
		"socat", "stdio", fmt.Sprintf("%s:%s", network, addr),
	)
	cmd.Stderr = os.Stderr

	in, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	out, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ssh tunnel: %w", err)
	}

	return &tunnelConn{ReadCloser: in, WriteCloser: out, cancel: cancel}, nil
}
