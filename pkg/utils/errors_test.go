package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "None"},
		{"retry wrapping blocked", fmt.Errorf("%w: %w", ErrRetryFailed, ErrBlockedRequest), "RetryFailed_Blocked"},
		{"blocked", fmt.Errorf("%w: status 403", ErrBlockedRequest), "HTTP_Blocked"},
		{"404", fmt.Errorf("%w: status 404 at /x", ErrClientHTTPError), "HTTP_404"},
		{"429", fmt.Errorf("%w: status 429 at /x", ErrClientHTTPError), "HTTP_429"},
		{"other 4xx", fmt.Errorf("%w: status 410", ErrClientHTTPError), "HTTP_4xx"},
		{"5xx", fmt.Errorf("%w: status 503", ErrServerHTTPError), "HTTP_5xx"},
		{"robots", ErrRobotsDisallowed, "Policy_Robots"},
		{"parsing HTML", fmt.Errorf("%w: HTML of page", ErrParsing), "Content_ParsingHTML"},
		{"parsing JSON", fmt.Errorf("%w: JSON of makes", ErrParsing), "Content_ParsingJSON"},
		{"validation", fmt.Errorf("%w: missing source_url", ErrValidation), "Listing_Validation"},
		{"database", fmt.Errorf("%w: locked", ErrDatabase), "Database_Other"},
		{"transport closed", ErrTransportClosed, "Internal_TransportClosed"},
		{"config", fmt.Errorf("%w: bad base_url", ErrConfigValidation), "Config_Validation"},
		{"context canceled", context.Canceled, "System_ContextCanceled"},
		{"deadline", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
		{"refused", errors.New("dial tcp: connection refused"), "Network_ConnectionRefused"},
		{"dns", errors.New("lookup x: no such host"), "Network_DNSLookup"},
		{"unknown", errors.New("boom"), "Unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CategorizeError(tc.err))
		})
	}
}
