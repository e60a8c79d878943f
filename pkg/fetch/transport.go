package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"carindex/pkg/utils"
)

// Transport abstracts how a site is fetched. Adapters depend on this
// interface only; the concrete implementation (plain, impersonating, cached)
// is chosen per site at wiring time.
type Transport interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
	Post(ctx context.Context, rawURL, contentType string, body []byte) ([]byte, error)
	Close() error
}

// PlainTransport is a straightforward HTTP client wrapper: one attempt per
// request, typed errors for non-2xx statuses, optional robots.txt gate.
type PlainTransport struct {
	client    *http.Client
	userAgent string
	robots    *RobotsGate // nil = no gate
	log       *logrus.Entry
}

// NewPlainTransport creates a PlainTransport over the shared client.
// robots may be nil to disable the politeness gate.
func NewPlainTransport(client *http.Client, userAgent string, robots *RobotsGate, log *logrus.Entry) *PlainTransport {
	return &PlainTransport{
		client:    client,
		userAgent: userAgent,
		robots:    robots,
		log:       log,
	}
}

// Get fetches rawURL and returns the response body.
func (t *PlainTransport) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return t.do(ctx, http.MethodGet, rawURL, "", nil)
}

// Post sends body to rawURL and returns the response body.
func (t *PlainTransport) Post(ctx context.Context, rawURL, contentType string, body []byte) ([]byte, error) {
	return t.do(ctx, http.MethodPost, rawURL, contentType, body)
}

func (t *PlainTransport) do(ctx context.Context, method, rawURL, contentType string, body []byte) ([]byte, error) {
	if t.robots != nil && !t.robots.Allowed(ctx, rawURL) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, rawURL)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "*/*")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		io.Copy(io.Discard, resp.Body)
		t.log.WithFields(logrus.Fields{"url": rawURL, "status": resp.StatusCode}).Warn("Request failed")
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	return data, nil
}

// Close is a no-op: the underlying client is shared and outlives the transport.
func (t *PlainTransport) Close() error { return nil }

// statusError maps a non-2xx response to the matching sentinel error.
func statusError(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d %s", utils.ErrBlockedRequest, code, resp.Status)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, code, resp.Status)
	case code >= 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, code, resp.Status)
	default:
		return fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, code, resp.Status)
	}
}
