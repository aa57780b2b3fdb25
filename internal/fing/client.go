package fing

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Agent API paths.
const (
	devicesPath   = "/1/devices"
	agentInfoPath = "/1/agent/info"
)

// Client defaults.
const (
	DefaultPort = 49090

	// maxBodySize caps a response body. A large network is a few hundred KB.
	maxBodySize = 8 << 20

	dialTimeout = 10 * time.Second
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ClientConfig identifies one Fing agent.
type ClientConfig struct {
	Host   string
	Port   int
	APIKey string

	// UseTLS selects https. InsecureSkipVerify accepts the agent's self-signed certificate.
	UseTLS             bool
	InsecureSkipVerify bool
}

func (c ClientConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidConfig)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	return nil
}

func (c ClientConfig) address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Upstream is the raw agent API. Implementations return response bodies.
type Upstream interface {
	Devices(ctx context.Context) ([]byte, error)
	AgentInfo(ctx context.Context) ([]byte, error)
}

// UpstreamFactory builds an Upstream. It is called at most once per API.
type UpstreamFactory func(cfg ClientConfig) (Upstream, error)

// AgentClient performs HTTP calls against a Fing agent's local API.
type AgentClient struct {
	cfg     ClientConfig
	baseURL url.URL
	http    *http.Client
}

// NewAgentClient validates cfg and builds the HTTP transport.
func NewAgentClient(cfg ClientConfig) (*AgentClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	scheme := "http"
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
		TLSHandshakeTimeout: dialTimeout,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.UseTLS {
		scheme = "https"
		transport.TLSClientConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // agents ship self-signed certificates
		}
	}

	return &AgentClient{
		cfg:     cfg,
		baseURL: url.URL{Scheme: scheme, Host: cfg.address()},
		http:    &http.Client{Transport: transport},
	}, nil
}

// Devices fetches the device list.
func (c *AgentClient) Devices(ctx context.Context) ([]byte, error) {
	return c.get(ctx, devicesPath)
}

// AgentInfo fetches the agent description.
func (c *AgentClient) AgentInfo(ctx context.Context) ([]byte, error) {
	return c.get(ctx, agentInfoPath)
}

// Close releases idle connections.
func (c *AgentClient) Close() {
	c.http.CloseIdleConnections()
}

func (c *AgentClient) get(ctx context.Context, path string) ([]byte, error) {
	u := c.baseURL
	u.Path = path
	u.RawQuery = url.Values{"auth": {c.cfg.APIKey}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fing: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error repeats the URL, which carries the API key.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("fing: connection to %s failed: %w", c.baseURL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("fing: connection to %s failed reading body: %w", c.baseURL.Host, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: response larger than %d bytes", ErrMalformedPayload, maxBodySize)
	}
	return body, nil
}

// DefaultUpstreamFactory builds an AgentClient.
func DefaultUpstreamFactory(cfg ClientConfig) (Upstream, error) {
	return NewAgentClient(cfg)
}

// Option configures an API.
type Option func(*API)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *API) { a.policy = p }
}

// WithUpstreamFactory replaces the HTTP client, typically with a fake in tests.
func WithUpstreamFactory(f UpstreamFactory) Option {
	return func(a *API) { a.factory = f }
}

// WithLogger sets the logger for the API and, unless it has its own, the retry policy.
func WithLogger(l Logger) Option {
	return func(a *API) { a.logger = l }
}

// API is the retrying shim the rest of the bridge talks to.
//
// The upstream client is built on first use inside the attempt's worker
// goroutine. A construction error is kept and returned by every later call.
// All methods are safe for concurrent use.
type API struct {
	cfg     ClientConfig
	factory UpstreamFactory
	policy  RetryPolicy
	logger  Logger

	once     sync.Once
	upstream Upstream
	initErr  error
}

// NewAPI creates an API for one agent. It performs no I/O.
func NewAPI(cfg ClientConfig, opts ...Option) *API {
	a := &API{
		cfg:     cfg,
		factory: DefaultUpstreamFactory,
		policy:  DefaultRetryPolicy(),
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.policy.Logger == nil {
		a.policy.Logger = a.logger
	}
	a.policy = a.policy.withDefaults()
	classify := a.policy.Classify
	a.policy.Classify = func(err error) Classification {
		if errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMalformedPayload) {
			return Classification{Decision: Fatal, Reason: "config"}
		}
		return classify(err)
	}
	return a
}

// Config returns the agent configuration.
func (a *API) Config() ClientConfig {
	return a.cfg
}

// client returns the upstream, building it on first call.
func (a *API) client() (Upstream, error) {
	a.once.Do(func() {
		a.logger.Debug("initialising fing agent client", "address", a.cfg.address(), "tls", a.cfg.UseTLS)
		a.upstream, a.initErr = a.factory(a.cfg)
		if a.initErr != nil {
			a.initErr = fmt.Errorf("fing: creating agent client: %w", a.initErr)
		}
	})
	return a.upstream, a.initErr
}

// FetchDevices fetches and normalises the device list under the retry policy.
func (a *API) FetchDevices(ctx context.Context) (DeviceCollection, error) {
	raw, err := Call(ctx, a.policy, func(ctx context.Context) ([]byte, error) {
		up, err := a.client()
		if err != nil {
			return nil, err
		}
		return up.Devices(ctx)
	})
	if err != nil {
		return DeviceCollection{}, err
	}

	devices, err := DecodeDevices(raw)
	if err != nil {
		return DeviceCollection{}, err
	}
	a.logger.Debug("fetched devices", "shape", devices.Shape.String(), "count", devices.Len())
	return devices, nil
}

// FetchAgent fetches and normalises the agent description under the retry policy.
// A null payload returns a nil Agent and no error.
func (a *API) FetchAgent(ctx context.Context) (*Agent, error) {
	raw, err := Call(ctx, a.policy, func(ctx context.Context) ([]byte, error) {
		up, err := a.client()
		if err != nil {
			return nil, err
		}
		return up.AgentInfo(ctx)
	})
	if err != nil {
		return nil, err
	}
	return DecodeAgent(raw)
}

// TestConnection reports whether one device-list call succeeds.
func (a *API) TestConnection(ctx context.Context) bool {
	if _, err := a.FetchDevices(ctx); err != nil {
		a.logger.Debug("connection test failed", "address", a.cfg.address(), "error", err)
		return false
	}
	return true
}

// Close releases the upstream client's resources if it was built.
func (a *API) Close() {
	a.once.Do(func() { a.initErr = errors.New("fing: client closed") })
	if c, ok := a.upstream.(interface{ Close() }); ok {
		c.Close()
	}
}
