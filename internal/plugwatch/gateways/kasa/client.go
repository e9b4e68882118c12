// Package kasa speaks the local TP-Link Kasa smart-home protocol: JSON
// commands over TCP, framed with a length prefix and obfuscated with an
// autokey XOR cipher.
package kasa

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/haukened/plugwatch/internal/plugwatch/domain"
)

// DefaultPort is the device's local control port.
const DefaultPort = "9999"

// Error message constants for consistent error handling
const (
	errAddressRequired = "device address is required"
	errDial            = "%w: connect %s: %w"
	errExchange        = "%w: %s: %w"
	errDecode          = "%w: %s: decode response: %w"
	errNoSysinfo       = "%w: %s: response has no get_sysinfo section"
	errDeviceCode      = "%w: %s: device returned err_code %d: %s"
	errRelayState      = "%w: %s: unexpected relay_state %d"
)

var sysinfoRequest = []byte(`{"system":{"get_sysinfo":{}}}`)

// DialFunc defines a function type for establishing a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a Client.
type Options struct {
	// Address is host or host:port; the port defaults to 9999.
	Address string
	// Timeout bounds one request when ctx carries no deadline. Zero means 2s.
	Timeout time.Duration
	// Dial is injected for testing purposes.
	Dial DialFunc
}

// SysInfo is the subset of get_sysinfo plugwatch uses.
type SysInfo struct {
	Alias      string `json:"alias"`
	Model      string `json:"model"`
	DeviceID   string `json:"deviceId"`
	RelayState int    `json:"relay_state"`
	ErrCode    int    `json:"err_code"`
	ErrMsg     string `json:"err_msg"`
}

// Client queries a single plug. Each request uses a fresh connection since
// the device closes idle sockets quickly.
type Client struct {
	address string
	timeout time.Duration
	dial    DialFunc
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errAddressRequired)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	return &Client{
		address: NormalizeAddress(opts.Address),
		timeout: opts.Timeout,
		dial:    opts.Dial,
	}, nil
}

// NormalizeAddress appends DefaultPort when addr carries no port.
func NormalizeAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultPort)
}

// Address returns the host:port the client dials.
func (c *Client) Address() string { return c.address }

// SysInfo issues get_sysinfo. Every failure wraps domain.ErrDeviceUnreachable.
func (c *Client) SysInfo(ctx context.Context) (SysInfo, error) {
	raw, err := c.exchange(ctx, sysinfoRequest)
	if err != nil {
		return SysInfo{}, err
	}

	var resp struct {
		System struct {
			GetSysinfo *SysInfo `json:"get_sysinfo"`
		} `json:"system"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return SysInfo{}, fmt.Errorf(errDecode, domain.ErrDeviceUnreachable, c.address, err)
	}
	info := resp.System.GetSysinfo
	if info == nil {
		return SysInfo{}, fmt.Errorf(errNoSysinfo, domain.ErrDeviceUnreachable, c.address)
	}
	if info.ErrCode != 0 {
		return SysInfo{}, fmt.Errorf(errDeviceCode, domain.ErrDeviceUnreachable, c.address, info.ErrCode, info.ErrMsg)
	}
	return *info, nil
}

// ReadState returns the relay state as On or Off.
func (c *Client) ReadState(ctx context.Context) (domain.PlugState, error) {
	info, err := c.SysInfo(ctx)
	if err != nil {
		return domain.PlugUnknown, err
	}
	switch info.RelayState {
	case 1:
		return domain.PlugOn, nil
	case 0:
		return domain.PlugOff, nil
	default:
		return domain.PlugUnknown, fmt.Errorf(errRelayState, domain.ErrDeviceUnreachable, c.address, info.RelayState)
	}
}

// exchange sends one request frame and returns the decrypted reply.
func (c *Client) exchange(ctx context.Context, payload []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf(errDial, domain.ErrDeviceUnreachable, c.address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// unblock pending I/O as soon as ctx is cancelled
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := WriteFrame(conn, payload); err != nil {
		return nil, fmt.Errorf(errExchange, domain.ErrDeviceUnreachable, c.address, contextErr(ctx, err))
	}
	reply, err := ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf(errExchange, domain.ErrDeviceUnreachable, c.address, contextErr(ctx, err))
	}
	return reply, nil
}

// contextErr prefers the context's error when it caused err.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
