package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"carindex/pkg/utils"
)

// browserHeaders is the header set sent by the impersonating transport.
// Sites with anti-bot frontends reject requests that look like a bare Go
// client, so every request carries a full browser-shaped header block.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "et-EE,et;q=0.9,en-US;q=0.8,en;q=0.7",
	"Cache-Control":             "no-cache",
	"Pragma":                    "no-cache",
	"Sec-Ch-Ua":                 `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
	"Sec-Ch-Ua-Mobile":          "?0",
	"Sec-Ch-Ua-Platform":        `"Windows"`,
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Upgrade-Insecure-Requests": "1",
}

// ImpersonatingTransport fetches with browser-shaped headers, a shared cookie
// jar and HTTP/2, retrying blocked (403) and timed-out requests with
// exponential backoff. Other non-200 statuses fail immediately.
//
// The underlying client is built lazily on first use and reused until Close,
// so one crawl session keeps one cookie jar.
type ImpersonatingTransport struct {
	userAgent  string
	timeout    time.Duration
	maxRetries int
	log        *logrus.Entry

	mu     sync.Mutex
	client *http.Client
	closed bool
}

// NewImpersonatingTransport creates an ImpersonatingTransport.
func NewImpersonatingTransport(userAgent string, timeout time.Duration, maxRetries int, log *logrus.Entry) *ImpersonatingTransport {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ImpersonatingTransport{
		userAgent:  userAgent,
		timeout:    timeout,
		maxRetries: maxRetries,
		log:        log,
	}
}

// getClient returns the session client, building it on first call.
func (t *ImpersonatingTransport) getClient() (*http.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, utils.ErrTransportClosed
	}
	if t.client != nil {
		return t.client, nil
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	dialer := &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}
	t.client = &http.Client{
		Timeout: t.timeout,
		Jar:     jar,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	t.log.Debug("Impersonating client initialized")
	return t.client, nil
}

// Get fetches rawURL, retrying blocked and timed-out attempts.
func (t *ImpersonatingTransport) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return t.do(ctx, http.MethodGet, rawURL, "", nil)
}

// Post sends body to rawURL, retrying blocked and timed-out attempts.
func (t *ImpersonatingTransport) Post(ctx context.Context, rawURL, contentType string, body []byte) ([]byte, error) {
	return t.do(ctx, http.MethodPost, rawURL, contentType, body)
}

func (t *ImpersonatingTransport) do(ctx context.Context, method, rawURL, contentType string, body []byte) ([]byte, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}
	reqLog := t.log.WithField("url", rawURL)

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) after error: %w", ctx.Err(), lastErr)
			}
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			// Backoff doubles each attempt: 2s, 4s, 8s, ...
			delay := time.Duration(1<<uint(attempt)) * time.Second
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("Retrying blocked/timed-out request...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if reqErr != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, reqErr)
		}
		req.Header.Set("User-Agent", t.userAgent)
		for k, v := range browserHeaders {
			req.Header.Set(k, v)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, doErr := client.Do(req)
		if doErr != nil {
			if errors.Is(doErr, context.Canceled) {
				return nil, doErr
			}
			// Timeouts (including context deadline) are the anti-bot slow-walk
			// signature; retry them. Other network errors fail immediately.
			if isTimeout(doErr) {
				lastErr = doErr
				reqLog.WithField("attempt", attempt).Warnf("Timeout: %v", doErr)
				continue
			}
			return nil, doErr
		}

		if resp.StatusCode == http.StatusForbidden {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrBlockedRequest, resp.StatusCode, resp.Status)
			reqLog.WithField("attempt", attempt).Warn("Blocked (403), retrying...")
			continue
		}
		if err := statusError(resp); err != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, err
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, readErr)
		}
		return data, nil
	}

	reqLog.Errorf("All %d attempts failed. Last error: %v", t.maxRetries+1, lastErr)
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// Close releases the session client. Further calls fail with ErrTransportClosed.
func (t *ImpersonatingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.client != nil {
		t.client.CloseIdleConnections()
		t.client = nil
	}
	return nil
}

// isTimeout reports whether err is a timeout-flavoured network error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
