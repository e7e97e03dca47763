package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"licensecli/internal/config"
	"licensecli/internal/infrastructure"
)

const maxBodyBytes = 1 << 20

// Request types understood by the license endpoint.
const (
	TypeInit    = "init"
	TypeCheck   = "check"
	TypeLicense = "license"
)

// InitResult is the outcome of a successful init call. SessionID may be
// empty: the server is allowed to omit it.
type InitResult struct {
	SessionID string
	Message   string
}

// SessionStatus is the server's verdict on a stored session.
type SessionStatus struct {
	Valid   bool
	Message string
}

// LicenseOutcome is the server's verdict on a license key.
type LicenseOutcome struct {
	Success bool
	Message string
	Expiry  string
	Banned  bool
}

// Client speaks the three-call license protocol. It never retries.
type Client struct {
	cfg        config.ProtocolConfig
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the transport-level client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = infrastructure.WithComponent(logger, "protocol_client") }
}

// WithTracer sets the tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// NewClient builds a client with the configured timeouts and optional
// certificate pins.
func NewClient(cfg config.ProtocolConfig, opts ...Option) (*Client, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid protocol endpoint %q", cfg.Endpoint)
	}

	c := &Client{
		cfg:    cfg,
		tracer: otel.Tracer("licensecli/protocol"),
		logger: infrastructure.WithComponent(nil, "protocol_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newHTTPClient(cfg, endpoint.Hostname())
	}
	return c, nil
}

func newHTTPClient(cfg config.ProtocolConfig, host string) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
	if len(cfg.Pins) > 0 {
		transport.TLSClientConfig = NewPinner(cfg.Pins).TLSConfig(host)
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   cfg.CallTimeout,
	}
}

// Init performs the handshake. A server-declared failure is a ProtocolError.
func (c *Client) Init(ctx context.Context) (InitResult, error) {
	form := c.credentials(TypeInit, true)
	resp, err := c.post(ctx, TypeInit, form)
	if err != nil {
		return InitResult{}, err
	}
	if !resp.Success() {
		return InitResult{}, &ProtocolError{Op: TypeInit, Message: resp.Message()}
	}

	result := InitResult{SessionID: resp.SessionID()}
	if result.SessionID == "" {
		c.logger.WarnContext(ctx, "Init succeeded without a session id")
	}
	return result, nil
}

// CheckSession asks whether sessionID is still valid.
func (c *Client) CheckSession(ctx context.Context, sessionID string) (SessionStatus, error) {
	if sessionID == "" {
		return SessionStatus{}, ErrNoSession
	}
	form := c.credentials(TypeCheck, true)
	form.Set("sessionid", sessionID)

	resp, err := c.post(ctx, TypeCheck, form)
	if err != nil {
		return SessionStatus{}, err
	}
	status := SessionStatus{Valid: resp.Success()}
	if !status.Valid {
		status.Message = resp.Message()
	}
	return status, nil
}

// VerifyLicense submits a license key bound to hwid under sessionID.
func (c *Client) VerifyLicense(ctx context.Context, sessionID, licenseKey, hwid string) (LicenseOutcome, error) {
	if sessionID == "" {
		return LicenseOutcome{}, ErrNoSession
	}
	form := c.credentials(TypeLicense, false)
	form.Set("key", licenseKey)
	form.Set("hwid", hwid)
	form.Set("sessionid", sessionID)

	resp, err := c.post(ctx, TypeLicense, form)
	if err != nil {
		return LicenseOutcome{}, err
	}
	outcome := LicenseOutcome{
		Success: resp.Success(),
		Banned:  resp.Banned(),
	}
	if outcome.Success {
		outcome.Expiry = resp.Expiry()
	} else {
		outcome.Message = resp.Message()
	}
	return outcome, nil
}

// credentials builds the common form fields. The license call omits hash.
func (c *Client) credentials(requestType string, withHash bool) url.Values {
	form := url.Values{}
	form.Set("type", requestType)
	form.Set("name", c.cfg.AppName)
	form.Set("ownerid", c.cfg.OwnerID)
	form.Set("ver", c.cfg.Version)
	if withHash {
		form.Set("hash", c.cfg.AppHash)
	}
	return form
}

func (c *Client) post(ctx context.Context, op string, form url.Values) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "protocol."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("protocol.type", op)),
	)
	defer span.End()

	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.WarnContext(ctx, "Protocol request failed",
			slog.String("type", op),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()))
		return Response{}, &NetworkError{Op: op, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		return Response{}, &NetworkError{Op: op, StatusCode: res.StatusCode, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		span.SetStatus(codes.Error, res.Status)
		c.logger.WarnContext(ctx, "Protocol request rejected",
			slog.String("type", op),
			slog.Int("status", res.StatusCode))
		return Response{}, &NetworkError{Op: op, StatusCode: res.StatusCode, Body: string(body)}
	}

	resp := ParseResponse(body)
	c.logger.DebugContext(ctx, "Protocol request completed",
		slog.String("type", op),
		slog.Bool("success", resp.Success()),
		slog.Duration("latency", time.Since(start)))
	return resp, nil
}
