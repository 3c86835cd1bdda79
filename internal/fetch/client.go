package fetch

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/coachpo/stockwatch/errs"
)

// Policy tunes the warm-up and per-request retry behaviour.
type Policy struct {
	WarmupAttempts     uint
	WarmupForbiddenMin time.Duration
	WarmupForbiddenMax time.Duration
	WarmupRetryDelay   time.Duration

	RetryAttempts     uint
	RetryForbiddenMin time.Duration
	RetryForbiddenMax time.Duration
	RetryDelay        time.Duration
}

// DefaultPolicy mirrors the storefront's tolerance: long waits on 403, short waits otherwise.
func DefaultPolicy() Policy {
	return Policy{
		WarmupAttempts:     10,
		WarmupForbiddenMin: 5 * time.Second,
		WarmupForbiddenMax: 10 * time.Second,
		WarmupRetryDelay:   2 * time.Second,
		RetryAttempts:      3,
		RetryForbiddenMin:  2 * time.Second,
		RetryForbiddenMax:  5 * time.Second,
		RetryDelay:         time.Second,
	}
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Profiles          []string
	Factory           TransportFactory
	RequestTimeout    time.Duration
	WarmupTimeout     time.Duration
	RequestsPerSecond float64
	Policy            Policy
	Logger            *log.Logger
}

// Client is the storefront HTTP adapter shared by discovery and verification.
// After Init the session identity is fixed.
type Client struct {
	baseURL  string
	profiles []string
	factory  TransportFactory
	timeout  time.Duration
	warmup   time.Duration
	policy   Policy
	limiter  *rate.Limiter
	logger   *log.Logger

	transport atomic.Pointer[transportHolder]
	degraded  atomic.Bool

	randMu sync.Mutex
	rand   *rand.Rand
}

type transportHolder struct {
	t       Transport
	headers map[string]string
}

// NewClient validates options and returns an uninitialised client. Call Init before use.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("base url required"))
	}
	if opts.Factory == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("transport factory required"))
	}
	profilesCopy := append([]string(nil), opts.Profiles...)
	if len(profilesCopy) == 0 {
		profilesCopy = []string{"chrome_110"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	warmup := opts.WarmupTimeout
	if warmup <= 0 {
		warmup = 15 * time.Second
	}
	policy := opts.Policy
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	if policy.WarmupAttempts == 0 {
		policy.WarmupAttempts = 10
	}
	if policy.RetryAttempts == 0 {
		policy.RetryAttempts = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	now := uint64(time.Now().UnixNano())
	return &Client{
		baseURL:  opts.BaseURL,
		profiles: profilesCopy,
		factory:  opts.Factory,
		timeout:  timeout,
		warmup:   warmup,
		policy:   policy,
		limiter:  limiter,
		logger:   logger,
		rand:     rand.New(rand.NewPCG(now, now>>1)),
	}, nil
}

// Init warms up a session against the site root. Each attempt uses a fresh session
// with a randomly chosen profile. If every attempt fails the client stays degraded:
// it keeps serving requests with the last session and Init returns an error.
func (c *Client) Init(ctx context.Context) error {
	attempt := uint(0)
	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		profile := c.pickProfile()
		c.logger.Printf("fetch: warm-up attempt %d/%d with profile %s", attempt, c.policy.WarmupAttempts, profile)

		t, err := c.factory(profile)
		if err != nil {
			last = err
			return struct{}{}, backoff.Permanent(err)
		}
		c.transport.Store(&transportHolder{t: t, headers: DefaultHeaders(profile)})

		resp, err := c.do(ctx, c.baseURL, c.warmup)
		switch {
		case err != nil:
			c.logger.Printf("fetch: warm-up failed: %v", err)
			last = err
			return struct{}{}, err
		case resp.Status == 200:
			return struct{}{}, nil
		case resp.Status == 403:
			c.logger.Printf("fetch: warm-up 403 (attempt %d/%d), retrying", attempt, c.policy.WarmupAttempts)
			last = statusError(resp.Status)
			return struct{}{}, &backoff.RetryAfterError{Duration: c.jitter(c.policy.WarmupForbiddenMin, c.policy.WarmupForbiddenMax)}
		default:
			c.logger.Printf("fetch: warm-up status %d, retrying", resp.Status)
			last = statusError(resp.Status)
			return struct{}{}, last
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.policy.WarmupRetryDelay)),
		backoff.WithMaxTries(c.policy.WarmupAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		c.degraded.Store(true)
		if last == nil {
			last = err
		}
		c.logger.Printf("CRITICAL fetch: could not initialise a valid session after %d attempts: %v", attempt, last)
		return errs.New(component, errs.CodeUnavailable, errs.WithMessage("session warm-up exhausted"), errs.WithCause(last))
	}
	c.degraded.Store(false)
	c.logger.Printf("fetch: session initialised with profile %s", c.Profile())
	return nil
}

// Degraded reports whether the last Init exhausted its attempts.
func (c *Client) Degraded() bool { return c.degraded.Load() }

// Profile returns the active identity, or "" before Init.
func (c *Client) Profile() string {
	h := c.transport.Load()
	if h == nil {
		return ""
	}
	return h.t.Profile()
}

// Get performs one GET of rawURL with params appended. A non-positive timeout uses
// the configured request timeout. Any HTTP status is returned as a Response; only
// transport failures produce an error.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (*Response, error) {
	target, err := withParams(rawURL, params)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	return c.do(ctx, target, timeout)
}

// GetWithRetry performs Get until it yields 200, up to the policy's attempt count. 403
// waits a randomised interval, anything else a flat delay. The final failure is returned
// as an errs envelope carrying the last HTTP status.
func (c *Client) GetWithRetry(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (*Response, error) {
	var last error
	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		resp, err := c.Get(ctx, rawURL, params, timeout)
		if err != nil {
			last = err
			return nil, err
		}
		if resp.Status == 200 {
			return resp, nil
		}
		last = statusError(resp.Status)
		if resp.Status == 403 {
			return nil, &backoff.RetryAfterError{Duration: c.jitter(c.policy.RetryForbiddenMin, c.policy.RetryForbiddenMax)}
		}
		return nil, last
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.policy.RetryDelay)),
		backoff.WithMaxTries(c.policy.RetryAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if last != nil {
			return nil, last
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, target string, timeout time.Duration) (*Response, error) {
	h := c.transport.Load()
	if h == nil {
		return nil, errs.New(component, errs.CodeUnavailable, errs.WithMessage("client not initialised"))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errs.New(component, errs.CodeRateLimited, errs.WithMessage("rate limiter wait"), errs.WithCause(err))
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return h.t.Get(reqCtx, target, h.headers)
}

func (c *Client) pickProfile() string {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return c.profiles[c.rand.IntN(len(c.profiles))]
}

// jitter returns a uniformly random duration in [lo, hi].
func (c *Client) jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return lo + time.Duration(c.rand.Int64N(int64(hi-lo)+1))
}

func statusError(status int) error {
	code := errs.CodeUpstream
	switch status {
	case 403:
		code = errs.CodeForbidden
	case 404:
		code = errs.CodeNotFound
	case 429:
		code = errs.CodeRateLimited
	}
	return errs.New(component, code, errs.WithHTTP(status), errs.WithMessage(fmt.Sprintf("unexpected status %d", status)))
}

func withParams(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errs.New(component, errs.CodeInvalid, errs.WithMessage("parse url"), errs.WithCause(err))
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
