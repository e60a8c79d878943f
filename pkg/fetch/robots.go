package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsGate fetches, parses and caches robots.txt per host and answers
// allow/deny checks for the configured user agent. Hosts whose robots.txt
// cannot be fetched or parsed are treated as fully allowed.
type RobotsGate struct {
	client    *http.Client
	userAgent string
	cache     map[string]*robotstxt.RobotsData // hostname -> parsed data (nil = allow all)
	cacheMu   sync.Mutex
	log       *logrus.Entry
}

// NewRobotsGate creates a RobotsGate over the shared client.
func NewRobotsGate(client *http.Client, userAgent string, log *logrus.Entry) *RobotsGate {
	return &RobotsGate{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether rawURL may be fetched by the configured agent.
// Unparseable URLs are allowed through; the fetch itself will surface the error.
func (rg *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}

	data := rg.robotsData(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), rg.userAgent)
}

// robotsData returns cached robots data for the URL's host, fetching on miss.
// Any failure caches nil so the host is not re-fetched every request.
func (rg *RobotsGate) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Hostname()

	rg.cacheMu.Lock()
	data, found := rg.cache[host]
	rg.cacheMu.Unlock()
	if found {
		return data
	}

	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	if robotsURL.Scheme != "http" && robotsURL.Scheme != "https" {
		robotsURL.Scheme = "https"
	}
	hostLog := rg.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL.String()})
	hostLog.Info("Fetching robots.txt...") // Log only on cache miss

	data = rg.fetch(ctx, robotsURL.String(), hostLog)
	rg.cacheMu.Lock()
	rg.cache[host] = data
	rg.cacheMu.Unlock()
	return data
}

func (rg *RobotsGate) fetch(ctx context.Context, robotsURL string, hostLog *logrus.Entry) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		hostLog.Errorf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rg.userAgent)

	resp, err := rg.client.Do(req)
	if err != nil {
		hostLog.Warnf("Fetching robots.txt failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		hostLog.Debugf("robots.txt returned status %d, allowing all", resp.StatusCode)
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		hostLog.Errorf("Error reading body: %v", err)
		return nil
	}
	data, err := robotstxt.FromBytes(bodyBytes)
	if err != nil {
		hostLog.Errorf("Error parsing content: %v", err)
		return nil
	}
	hostLog.Info("Successfully fetched and parsed robots.txt")
	return data
}
