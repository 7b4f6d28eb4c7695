package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stls "github.com/loykin/svcmgr/internal/tls"
)

// Client talks to the svcmgr daemon's control API.
type Client struct {
	baseURL string
	client  *http.Client
	tls     *tls.Config
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	TLS     *TLSClientConfig
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 2 * time.Minute,
	}
}

// TLSConfig returns a client configuration for a daemon serving HTTPS with
// the certificate in caFile, for instance the tls_ca.crt written by
// auto_generate.
func TLSConfig(caFile string) Config {
	c := DefaultConfig()
	c.BaseURL = "https://127.0.0.1:8080/api"
	c.TLS = &TLSClientConfig{CACert: caFile}
	return c
}

// New creates a new API client. A TLS setup failure is logged and the client
// falls back to the default transport.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := &http.Client{Timeout: config.Timeout}
	var tlsCfg *tls.Config
	if t := config.TLS; t != nil {
		cfg, err := stls.ClientConfig(t.CACert, t.ClientCert, t.ClientKey, t.ServerName, t.SkipVerify)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			tlsCfg = cfg
			hc.Transport = &http.Transport{TLSClientConfig: cfg}
		}
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  hc,
		tls:     tlsCfg,
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// List returns every registered service in registration order.
func (c *Client) List(ctx context.Context) ([]ServiceEntry, error) {
	var out []ServiceEntry
	if err := c.do(ctx, http.MethodGet, "/services", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns the status of name; unknown names come back as state "unknown".
func (c *Client) Status(ctx context.Context, name string) (ServiceStatus, error) {
	var st ServiceStatus
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(name), &st)
	return st, err
}

func (c *Client) Start(ctx context.Context, name string) (ServiceStatus, error) {
	return c.action(ctx, name, "start")
}

func (c *Client) Stop(ctx context.Context, name string) (ServiceStatus, error) {
	return c.action(ctx, name, "stop")
}

func (c *Client) Restart(ctx context.Context, name string) (ServiceStatus, error) {
	return c.action(ctx, name, "restart")
}

func (c *Client) Enable(ctx context.Context, name string) (ServiceStatus, error) {
	return c.action(ctx, name, "enable")
}

func (c *Client) Disable(ctx context.Context, name string) (ServiceStatus, error) {
	return c.action(ctx, name, "disable")
}

// ResetRestartCount zeroes the restart counter of name.
func (c *Client) ResetRestartCount(ctx context.Context, name string) (ServiceStatus, error) {
	return c.action(ctx, name, "reset")
}

func (c *Client) StartAll(ctx context.Context) error { return c.do(ctx, http.MethodPost, "/start-all", nil) }
func (c *Client) StopAll(ctx context.Context) error  { return c.do(ctx, http.MethodPost, "/stop-all", nil) }
func (c *Client) Reload(ctx context.Context) error   { return c.do(ctx, http.MethodPost, "/reload", nil) }

func (c *Client) action(ctx context.Context, name, verb string) (ServiceStatus, error) {
	c.logger.Debug("service action", "name", name, "action", verb)
	var st ServiceStatus
	err := c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(name)+"/"+verb, &st)
	return st, err
}

// do sends a bodyless request and decodes a 2xx JSON response into out when
// out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er ErrorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
