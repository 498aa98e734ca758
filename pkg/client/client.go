// Package client talks to a cross-pool gene store: it fetches one gene
// payload or submits one. It performs no retries; callers decide what a
// failure means.
package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds a single HTTP exchange when no other deadline applies.
const DefaultTimeout = 30 * time.Second

// Client performs the two exchange operations over a Transport.
type Client struct {
	transport Transport
	logger    *slog.Logger
}

// Config holds client configuration
type Config struct {
	URL      string
	Timeout  time.Duration
	Logger   *slog.Logger // optional
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CACert     string `mapstructure:"ca_cert"`
	ClientCert string `mapstructure:"client_cert"`
	ClientKey  string `mapstructure:"client_key"`
	ServerName string `mapstructure:"server_name"`
	SkipVerify bool   `mapstructure:"skip_verify"`
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		URL:     "http://localhost:8080/xpol",
		Timeout: DefaultTimeout,
	}
}

// New creates a client speaking HTTP to config.URL.
func New(config Config) (*Client, error) {
	t, err := NewHTTPTransport(config)
	if err != nil {
		return nil, err
	}
	return NewWithTransport(t, config.Logger), nil
}

// NewWithTransport creates a client over an arbitrary transport.
func NewWithTransport(t Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{transport: t, logger: logger}
}

// FetchOne asks the store for one gene payload. An empty payload means the
// store had nothing eligible and is not an error.
func (c *Client) FetchOne(ctx context.Context) ([]byte, error) {
	body, status, err := c.transport.Do(ctx, url.Values{FieldTodo: {TodoGet}})
	if err != nil {
		return nil, &TransportError{Op: OpFetch, Err: err}
	}
	if status != http.StatusOK {
		return nil, &TransportError{Op: OpFetch, Status: status}
	}
	c.logger.Debug("fetched genes", "bytes", len(body))
	return body, nil
}

// SubmitOne hands payload to the store. Anything but the literal
// acknowledgment is a failure.
func (c *Client) SubmitOne(ctx context.Context, payload []byte) error {
	form := url.Values{FieldTodo: {TodoPut}, FieldData: {string(payload)}}
	body, status, err := c.transport.Do(ctx, form)
	if err != nil {
		return &TransportError{Op: OpSubmit, Err: err}
	}
	if status != http.StatusOK {
		return &TransportError{Op: OpSubmit, Status: status, Body: snippet(body)}
	}
	if string(body) != Ack {
		return &TransportError{Op: OpSubmit, Status: status, Body: snippet(body)}
	}
	c.logger.Debug("submitted genes", "bytes", len(payload))
	return nil
}

func snippet(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
