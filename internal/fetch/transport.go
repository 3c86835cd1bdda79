// Package fetch performs outbound storefront requests under a fixed browser identity.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"

	"github.com/coachpo/stockwatch/errs"
)

const (
	component = "fetch"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 10 << 20
)

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// Transport issues a single GET with the given headers. Implementations carry one
// session (cookies plus TLS fingerprint) for their whole lifetime.
type Transport interface {
	Get(ctx context.Context, rawURL string, header map[string]string) (*Response, error)
	Profile() string
}

// TransportFactory builds a fresh session for a profile name.
type TransportFactory func(profile string) (Transport, error)

// ImpersonatingFactory returns a factory producing tls-client sessions that mimic
// the named browser profile.
func ImpersonatingFactory(timeout time.Duration) TransportFactory {
	return func(profile string) (Transport, error) {
		return NewImpersonatingTransport(profile, timeout)
	}
}

// StandardFactory returns a factory producing plain net/http sessions.
func StandardFactory(timeout time.Duration) TransportFactory {
	return func(profile string) (Transport, error) {
		return NewStandardTransport(profile, timeout)
	}
}

type impersonatingTransport struct {
	profile string
	client  tls_client.HttpClient
}

// NewImpersonatingTransport builds a tls-client session using one of the
// profiles.MappedTLSClients entries, e.g. "chrome_110" or "safari_15_6_1".
func NewImpersonatingTransport(profile string, timeout time.Duration) (Transport, error) {
	clientProfile, ok := profiles.MappedTLSClients[profile]
	if !ok {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unknown tls profile %q", profile)))
	}
	seconds := int(timeout / time.Second)
	if seconds <= 0 {
		seconds = 60
	}
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(seconds),
		tls_client.WithClientProfile(clientProfile),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	)
	if err != nil {
		return nil, errs.New(component, errs.CodeUnavailable, errs.WithMessage("create tls client"), errs.WithCause(err))
	}
	return &impersonatingTransport{profile: profile, client: client}, nil
}

func (t *impersonatingTransport) Profile() string { return t.profile }

func (t *impersonatingTransport) Get(ctx context.Context, rawURL string, header map[string]string) (*Response, error) {
	req, err := fhttp.NewRequestWithContext(ctx, fhttp.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("build request"), errs.WithCause(err))
	}
	order := make([]string, 0, len(header))
	for k, v := range header {
		req.Header.Set(k, v)
		order = append(order, strings.ToLower(k))
	}
	req.Header[fhttp.HeaderOrderKey] = orderedHeaderKeys(order)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errs.New(component, errs.CodeNetwork, errs.WithMessage("GET "+rawURL), errs.WithCause(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.New(component, errs.CodeNetwork, errs.WithHTTP(resp.StatusCode), errs.WithMessage("read body"), errs.WithCause(err))
	}
	return &Response{Status: resp.StatusCode, Body: body, Header: http.Header(resp.Header)}, nil
}

type standardTransport struct {
	profile string
	client  *http.Client
}

// NewStandardTransport builds a net/http session with its own cookie jar. The profile
// only selects the User-Agent family.
func NewStandardTransport(profile string, timeout time.Duration) (Transport, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errs.New(component, errs.CodeUnavailable, errs.WithMessage("create cookie jar"), errs.WithCause(err))
	}
	return &standardTransport{
		profile: profile,
		client:  &http.Client{Timeout: timeout, Jar: jar},
	}, nil
}

func (t *standardTransport) Profile() string { return t.profile }

func (t *standardTransport) Get(ctx context.Context, rawURL string, header map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("build request"), errs.WithCause(err))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errs.New(component, errs.CodeNetwork, errs.WithMessage("GET "+rawURL), errs.WithCause(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.New(component, errs.CodeNetwork, errs.WithHTTP(resp.StatusCode), errs.WithMessage("read body"), errs.WithCause(err))
	}
	return &Response{Status: resp.StatusCode, Body: body, Header: resp.Header}, nil
}
