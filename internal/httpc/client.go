// Package httpc provides a shared HTTP client with timeouts suited to
// tool calls made mid-conversation. A lookup that hangs blocks the
// assistant's reply, so everything here fails fast.
package httpc

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a whole request. Tool calls run inside a
	// conversational turn, so this is short.
	DefaultTimeout = 5 * time.Second

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 3 * time.Second
)

// Client is the shared HTTP client for outbound tool lookups.
// Use this instead of http.DefaultClient, which has no timeout at all.
var Client = &http.Client{
	Timeout: DefaultTimeout,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: DefaultConnectTimeout,
		}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 3 * time.Second,
	},
}
