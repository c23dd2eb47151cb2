package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/castfetch/castfetch/pkg/logging"
)

const (
	retryMinWait     = 100 * time.Millisecond
	retryMaxWait     = 3000 * time.Millisecond // do not backoff further than 3 seconds
	retrySleepJitter = 500                     // (will add 0-500 additional milliseconds), multiplied by time.Millisecond in backoffFunc

	// DefaultUserAgent poses as a desktop browser; some podcast hosts serve a
	// different (or no) file to unknown agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; WOW64; Trident/7.0) like Gecko"
)

type Options struct {
	// ConnectTimeout bounds dialing. Zero means 30s.
	ConnectTimeout time.Duration
	// MaxRetries is the number of transport-level retries for 429/5xx and
	// transient dial errors. Timeouts are never retried here.
	MaxRetries int
	UserAgent  string
	// ResolveOverrides maps host:port to ip:port, see --resolve.
	ResolveOverrides map[string]string
}

type UserAgentTransport struct {
	Transport http.RoundTripper
	UserAgent string
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	userAgent := t.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	return t.Transport.RoundTrip(req)
}

// NewHTTPClient returns a standard *http.Client backed by retryablehttp. The
// client carries no overall Timeout: a podcast episode may legitimately take
// far longer than any fixed bound, so stalls are detected per read instead.
func NewHTTPClient(opts Options) *http.Client {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	baseTransport := http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: transportDialContext(&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}, opts.ResolveOverrides),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	transport := &UserAgentTransport{Transport: &baseTransport, UserAgent: opts.UserAgent}

	retryClient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport:     transport,
			CheckRedirect: checkRedirectFunc,
		},
		Logger:       nil,
		RetryWaitMin: retryMinWait,
		RetryWaitMax: retryMaxWait,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   RetryPolicy,
		Backoff:      backoffFunc,
	}

	return retryClient.StandardClient()
}

// RetryPolicy defers to retryablehttp.DefaultRetryPolicy except for timeouts.
// A timeout is handed back to the caller untouched: whether it is worth
// another attempt depends on how many bytes reached the disk, and only the
// transfer retry controller knows that.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if IsTimeout(err) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// IsTimeout reports whether err stems from a bounded wait being exceeded.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// backoffFunc is a wrapper around retryablehttp.DefaultBackoff that adds a random jitter.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}

// checkRedirectFunc logs redirects; feed enclosures are very often behind
// one or more tracking redirects.
func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	logger := logging.GetLogger()
	event := logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String())
	if req.Response != nil {
		event = event.Int("status", req.Response.StatusCode)
	}
	event.Msg("Redirect")
	return nil
}

// transportDialContext is a wrapper around net.Dialer that allows for overriding DNS lookups via the values passed to
// `--resolve` argument.
func transportDialContext(dialer *net.Dialer, overrides map[string]string) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addrOverride := overrides[addr]; addrOverride != "" {
			logger := logging.GetLogger()
			logger.Debug().Str("addr", addr).Str("override", addrOverride).Msg("DNS Override")
			addr = addrOverride
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

// GetSchemeHostKey returns scheme+host, used to group URLs that belong to
// the same series host.
func GetSchemeHostKey(urlString string) (string, error) {
	parsedURL, err := url.Parse(urlString)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s", parsedURL.Scheme, parsedURL.Host), err
}
