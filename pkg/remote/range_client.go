package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/castfetch/castfetch/pkg/client"
	"github.com/castfetch/castfetch/pkg/logging"
)

// DefaultIdleTimeout is how long a request may go without receiving headers
// or body bytes before it is abandoned with a TimeoutError.
const DefaultIdleTimeout = 30 * time.Second

var errIdleTimeout = errors.New("no data received within idle timeout")

// RangeClient issues GET requests, optionally ranged, and turns responses
// into Metadata. It holds no per-request state.
type RangeClient struct {
	httpClient  *http.Client
	idleTimeout time.Duration
}

func NewRangeClient(httpClient *http.Client, idleTimeout time.Duration) *RangeClient {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &RangeClient{httpClient: httpClient, idleTimeout: idleTimeout}
}

// Body is a streaming response body. Reads that stall longer than the idle
// timeout fail with a *TimeoutError.
type Body struct {
	Metadata Metadata
	reader   *idleTimeoutReader
}

func (b *Body) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *Body) Close() error {
	return b.reader.Close()
}

// FetchMetadata performs an unranged GET, keeps the headers and drops the body.
func (c *RangeClient) FetchMetadata(ctx context.Context, url string) (Metadata, error) {
	body, err := c.FetchBody(ctx, url, 0)
	if err != nil {
		return Metadata{}, err
	}
	_ = body.Close()
	return body.Metadata, nil
}

// FetchBody performs a GET. When start > 0 the request carries
// "Range: bytes=<start>-" and the response must be a 206 whose Content-Range
// begins at exactly start, otherwise a *RangeMismatchError is returned and
// nothing should be written.
func (c *RangeClient) FetchBody(ctx context.Context, url string, start int64) (*Body, error) {
	logger := logging.FromContext(ctx)
	reqCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(c.idleTimeout, func() { cancel(errIdleTimeout) })
	abort := func() {
		timer.Stop()
		cancel(nil)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		abort()
		return nil, &ConnectionError{URL: url, Err: err}
	}
	if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classify(reqCtx, url, err)
		abort()
		return nil, err
	}
	timer.Reset(c.idleTimeout)

	md := metadataFromResponse(resp)
	if md.FinalURL != "" && md.FinalURL != url {
		logger.Debug().Str("url", url).Str("redirect_url", md.FinalURL).Msg("Redirect")
	}

	if err := checkResponse(url, start, md); err != nil {
		_ = resp.Body.Close()
		abort()
		return nil, err
	}

	return &Body{
		Metadata: md,
		reader: &idleTimeoutReader{
			rc:      resp.Body,
			ctx:     reqCtx,
			cancel:  cancel,
			timer:   timer,
			timeout: c.idleTimeout,
			url:     url,
		},
	}, nil
}

func checkResponse(url string, start int64, md Metadata) error {
	if md.StatusCode < 200 || md.StatusCode > 299 {
		return errUnexpectedStatus(url, md.StatusCode)
	}
	if start == 0 {
		return nil
	}
	if md.StatusCode != http.StatusPartialContent {
		return &RangeMismatchError{URL: url, Requested: start, Reported: -1, Reason: fmt.Sprintf("server ignored range request (status %d)", md.StatusCode)}
	}
	if md.ContentRange == nil {
		return &RangeMismatchError{URL: url, Requested: start, Reported: -1, Reason: "missing or malformed Content-Range"}
	}
	if md.ContentRange.Start != start {
		return &RangeMismatchError{URL: url, Requested: start, Reported: md.ContentRange.Start, Reason: "Content-Range start differs"}
	}
	return nil
}

// classify maps a transport error onto the failure taxonomy. A stalled
// exchange is a timeout; anything the server or resolver rejected outright is
// a connection error.
func classify(ctx context.Context, url string, err error) error {
	if errors.Is(context.Cause(ctx), errIdleTimeout) {
		return &TimeoutError{URL: url, Err: errIdleTimeout}
	}
	if client.IsTimeout(err) {
		return &TimeoutError{URL: url, Err: err}
	}
	return &ConnectionError{URL: url, Err: err}
}

type idleTimeoutReader struct {
	rc      io.ReadCloser
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
	url     string
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	if err == nil || err == io.EOF {
		return n, err
	}
	// Once headers have arrived the connection was good; a body that stops
	// short is an incomplete stream, not a rejection, unless the caller
	// cancelled.
	if errors.Is(context.Cause(r.ctx), errIdleTimeout) {
		return n, &TimeoutError{URL: r.url, Err: errIdleTimeout}
	}
	if r.ctx.Err() != nil {
		return n, &ConnectionError{URL: r.url, Err: r.ctx.Err()}
	}
	return n, &TimeoutError{URL: r.url, Err: err}
}

func (r *idleTimeoutReader) Close() error {
	r.timer.Stop()
	err := r.rc.Close()
	r.cancel(nil)
	return err
}
