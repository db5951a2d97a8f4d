// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package bulk

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/utils"
)

// Client talks to a bulk Server.
type Client struct {
	Addr        string
	DialTimeout time.Duration
}

// NewClient returns a client for the server at addr.
func NewClient(addr string) *Client {
	return &Client{Addr: addr, DialTimeout: 10 * time.Second}
}

func (c *Client) dial(ctx context.Context, jobID string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	if err := WriteToken(conn, jobID); err != nil {
		stop()
		_ = conn.Close()
		return nil, err
	}
	return &ctxConn{Conn: conn, stop: stop}, nil
}

// Pull downloads the payload of a PULL_FROM_STORE job into w and returns
// the number of bytes received. It returns once the server has closed the
// connection, after the job state is final.
func (c *Client) Pull(ctx context.Context, jobID string, w io.Writer) (int64, error) {
	conn, err := c.dial(ctx, jobID)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	size, err := readSize(conn)
	if err != nil {
		return 0, err
	}
	n, err := utils.CopyNPooled(w, conn, size)
	if err != nil {
		return n, fmt.Errorf("receive payload: %w", err)
	}
	_, _ = io.Copy(io.Discard, conn)
	return n, nil
}

// Push uploads size bytes from r for a PUSH_TO_STORE job. It returns once
// the server has closed the connection.
func (c *Client) Push(ctx context.Context, jobID string, r io.Reader, size int64) error {
	conn, err := c.dial(ctx, jobID)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeSize(conn, size); err != nil {
		return err
	}
	if _, err := utils.CopyNPooled(conn, r, size); err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	if cw, ok := conn.(*ctxConn).Conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	_, _ = io.Copy(io.Discard, conn)
	return ctx.Err()
}

// ctxConn closes the connection when the dial context is cancelled.
type ctxConn struct {
	net.Conn
	stop func() bool
}

func (c *ctxConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
