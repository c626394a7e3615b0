// Package apiclient is the resilient HTTP client for the booking API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/events"
	"slotbook/internal/metrics"
	"slotbook/internal/session"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	defaultProbeTimeout   = 2 * time.Second
	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 4 << 20
)

// BreakerSettings configures the per-endpoint circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	OnStateChange    func(name string, from, to gobreaker.State)
}

// Options configures a Client.
type Options struct {
	ProbeTimeout      time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	Breaker           BreakerSettings
	HTTPClient        *http.Client
	Events            *events.EventBus
}

// Request describes one API call. Body is JSON-encoded once and replayed on
// every attempt.
type Request struct {
	Op     string
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// NoAuth sends the request without session credentials or
	// rejection handling.
	NoAuth bool
}

// Response is a fully read response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Endpoint string
}

// Client sends requests through the active endpoint, failing over to the
// next reachable one once per request.
type Client struct {
	endpoints *EndpointSet
	http      *http.Client
	session   session.Authorizer
	limiter   *rate.Limiter
	bus       *events.EventBus
	logger    *zerolog.Logger

	probeTimeout   time.Duration
	requestTimeout time.Duration
}

// NewClient constructs a client over the ordered endpoint list. The first
// endpoint starts active.
func NewClient(urls []string, opts Options, logger *zerolog.Logger) (*Client, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Breaker.FailureThreshold == 0 {
		opts.Breaker.FailureThreshold = 5
	}
	if opts.Breaker.OpenTimeout <= 0 {
		opts.Breaker.OpenTimeout = 30 * time.Second
	}
	if opts.Breaker.OnStateChange == nil {
		opts.Breaker.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Info().Str("endpoint", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	set, err := newEndpointSet(urls, opts.Breaker)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoints:      set,
		http:           opts.HTTPClient,
		bus:            opts.Events,
		logger:         logger,
		probeTimeout:   opts.ProbeTimeout,
		requestTimeout: opts.RequestTimeout,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// UseSession attaches the session used to authorize requests.
func (c *Client) UseSession(a session.Authorizer) {
	c.session = a
}

// Endpoints exposes the endpoint set for status reporting.
func (c *Client) Endpoints() *EndpointSet {
	return c.endpoints
}

// Do sends the request and decodes a successful JSON response into out.
// Non-2xx responses are mapped onto the apperr taxonomy.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return apperr.FromStatus(req.Op, resp.Status, errorMessage(resp))
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apperr.Wrap(apperr.KindServer, req.Op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// retryBudget tracks the retries already spent on one request.
type retryBudget struct {
	failedOver bool
}

// Send performs the request with at most one endpoint failover and at most
// one credential retry, and returns the raw response.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Op == "" {
		req.Op = req.Method + " " + req.Path
	}

	var body []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", req.Op, err)
		}
		body = data
	}

	budget := &retryBudget{}
	resp, token, err := c.sendWithFailover(ctx, req, body, budget)
	if err != nil {
		return nil, classifyTransport(req.Op, err)
	}

	if resp.Status != http.StatusUnauthorized || req.NoAuth || c.session == nil {
		return resp, nil
	}

	c.logger.Debug().Str("op", req.Op).Msg("credentials rejected, refreshing")
	var retried *Response
	err = c.session.HandleRejection(ctx, token, func(ctx context.Context) error {
		r, _, err := c.sendWithFailover(ctx, req, body, budget)
		if err != nil {
			return classifyTransport(req.Op, err)
		}
		if r.Status == http.StatusUnauthorized {
			return session.ErrRejected
		}
		retried = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return retried, nil
}

func (c *Client) sendWithFailover(ctx context.Context, req Request, body []byte, budget *retryBudget) (*Response, string, error) {
	idx, ep := c.endpoints.Active()
	resp, token, err := c.attempt(ctx, ep, req, body)
	if err == nil || budget.failedOver || !isNetworkFailure(ctx, err) {
		return resp, token, err
	}

	budget.failedOver = true
	c.endpoints.record(idx, err, time.Now())
	c.logger.Warn().Err(err).Str("endpoint", ep.BaseURL).Str("op", req.Op).Msg("endpoint failed, probing fallbacks")

	next, ok := c.failover(ctx, idx)
	if !ok {
		metrics.IncFailover("exhausted")
		return nil, "", err
	}
	metrics.IncFailover("switched")
	return c.attempt(ctx, c.endpoints.get(next), req, body)
}

// failover probes the other endpoints in list order and activates the
// first reachable one.
func (c *Client) failover(ctx context.Context, failed int) (int, bool) {
	for _, i := range c.endpoints.others(failed) {
		ep := c.endpoints.get(i)
		if ep.breaker.State() == gobreaker.StateOpen {
			continue
		}
		if err := c.Probe(ctx, i); err != nil {
			continue
		}
		c.activate(i, "failover")
		return i, true
	}
	return 0, false
}

func (c *Client) activate(i int, reason string) {
	if !c.endpoints.setActive(i) {
		return
	}
	base := c.endpoints.get(i).BaseURL
	c.logger.Info().Str("endpoint", base).Str("reason", reason).Msg("active endpoint switched")
	_ = c.bus.PublishJSON(events.EndpointSwitched, map[string]string{"endpoint": base, "reason": reason})
}

func (c *Client) attempt(ctx context.Context, ep *Endpoint, req Request, body []byte) (*Response, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
	}

	actx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	target := ep.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.Method, target, reader)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindServer, req.Op, err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	var token string
	if !req.NoAuth && c.session != nil {
		token, err = c.session.Authorize(httpReq)
		if err != nil {
			return nil, "", err
		}
	}

	started := time.Now()
	resp, err := ep.breaker.Execute(func() (*Response, error) {
		return c.roundTrip(httpReq, ep.BaseURL)
	})
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case resp.Status >= 500:
		outcome = "server_error"
	case resp.Status >= 400:
		outcome = "client_error"
	}
	metrics.ObserveRequest(ep.BaseURL, outcome, time.Since(started))

	return resp, token, err
}

func (c *Client) roundTrip(req *http.Request, base string) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data, Endpoint: base}, nil
}

// Probe runs a short health check against endpoint i and records the result.
func (c *Client) Probe(ctx context.Context, i int) error {
	ep := c.endpoints.get(i)

	pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	err := c.probe(pctx, ep.BaseURL)
	c.endpoints.record(i, err, time.Now())
	metrics.IncProbe(ep.BaseURL, err == nil)
	if err != nil {
		c.logger.Debug().Err(err).Str("endpoint", ep.BaseURL).Msg("probe failed")
	}
	return err
}

func (c *Client) probe(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// isNetworkFailure reports whether err is a reachability failure of the
// endpoint rather than an application error or caller cancellation.
func isNetworkFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, ok := apperr.As(err); ok {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func classifyTransport(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(apperr.KindTimeout, op, err)
	}
	return apperr.Wrap(apperr.KindNetwork, op, err)
}

func errorMessage(resp *Response) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(resp.Body))
	if msg == "" {
		msg = http.StatusText(resp.Status)
	}
	return msg
}
