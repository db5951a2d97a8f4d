// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
)

// minThroughputBytesPerSecond is the slowest transfer rate tolerated before a
// connection deadline fires. Deadlines grow with the bytes already moved.
const minThroughputBytesPerSecond = 4000

// Listener wraps a net.Listener and hands out Conns with idle deadlines.
type Listener struct {
	net.Listener
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{
		Conn:         c,
		ReadTimeout:  l.ReadTimeout,
		WriteTimeout: l.WriteTimeout,
	}, nil
}

// Conn sets a fresh deadline before every read and write. The deadline is
// the timeout multiplied by how many minimum-throughput windows have already
// been transferred, so long bulk streams are not cut off.
type Conn struct {
	net.Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	bytesRead    int64
	bytesWritten int64
}

func scaledDeadline(timeout time.Duration, transferred int64) time.Time {
	window := int64(float64(minThroughputBytesPerSecond) * timeout.Seconds())
	if window <= 0 {
		window = 1
	}
	return time.Now().Add(timeout * time.Duration(transferred/window+1))
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.ReadTimeout != 0 {
		if err := c.Conn.SetReadDeadline(scaledDeadline(c.ReadTimeout, c.bytesRead)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	c.bytesRead += int64(n)
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.WriteTimeout != 0 {
		if err := c.Conn.SetWriteDeadline(scaledDeadline(c.WriteTimeout, c.bytesWritten)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	c.bytesWritten += int64(n)
	return n, err
}

// NewListener listens on addr. A zero timeout disables deadlines.
func NewListener(addr string, timeout time.Duration) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		Listener:     listener,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}, nil
}

// DetectedHostAddress returns the first non-loopback address, preferring IPv4.
func DetectedHostAddress() string {
	netInterfaces, err := net.Interfaces()
	if err != nil {
		logger.Info().Msgf("failed to detect net interfaces: %v", err)
		return ""
	}

	if addr := selectAddress(netInterfaces, true); addr != "" {
		return addr
	}
	if addr := selectAddress(netInterfaces, false); addr != "" {
		return addr
	}
	return "localhost"
}

func selectAddress(netInterfaces []net.Interface, ipv4 bool) string {
	for _, iface := range netInterfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			logger.Info().Msgf("get interface addresses: %v", err)
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ipv4 && ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
			// link-local v6 needs a zone id, skip it
			if !ipv4 && ipNet.IP.To4() == nil && ipNet.IP.To16() != nil && !ipNet.IP.IsLinkLocalUnicast() {
				return ipNet.IP.String()
			}
		}
	}
	return ""
}

func JoinHostPort(host string, port int) string {
	portStr := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + portStr
	}
	return net.JoinHostPort(host, portStr)
}

// AdvertiseAddr replaces an unspecified host in listenAddr with host.
func AdvertiseAddr(listenAddr, host string) string {
	h, p, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	if h == "" || h == "0.0.0.0" || h == "::" {
		h = host
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return listenAddr
	}
	return JoinHostPort(h, port)
}
