// Package httputils provides the HTTP client used to talk to external
// services, with timeouts and the retry policy applied as a Transport.
package httputils

import (
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.h2hdb.org/infra/go/sklog"
)

const (
	DialTimeout    = time.Minute
	RequestTimeout = 5 * time.Minute

	// Retry defaults: constant backoff, a handful of attempts. 500, 504 and
	// 429 are treated as transient; 401 is never retried.
	RetryInterval = 5 * time.Second
	MaxRetries    = 3
)

// ClientConfig represents options for the behavior of an http.Client. Each
// field, when set, modifies the default http.Client behavior.
type ClientConfig struct {
	// DialTimeout, if non-zero, sets the http.Transport's dialer to a
	// net.Dialer with the specified timeout.
	DialTimeout time.Duration

	// RequestTimeout, if non-zero, sets the http.Client.Timeout. The timeout
	// applies until the response body is fully read.
	RequestTimeout time.Duration

	// Retries enables a RetryTransport which retransmits requests whose
	// response status is retryable.
	Retries bool

	// RetryInterval is the constant sleep between attempts.
	RetryInterval time.Duration

	// MaxRetries is the number of retransmissions after the first attempt.
	MaxRetries int
}

// DefaultClientConfig returns a ClientConfig with reasonable defaults:
// timeouts set, retries enabled.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:    DialTimeout,
		RequestTimeout: RequestTimeout,
		Retries:        true,
		RetryInterval:  RetryInterval,
		MaxRetries:     MaxRetries,
	}
}

// WithoutRetries returns a new ClientConfig where requests are not retried.
func (c ClientConfig) WithoutRetries() ClientConfig {
	c.Retries = false
	return c
}

// Client returns an http.Client as configured.
func (c ClientConfig) Client() *http.Client {
	var transport http.RoundTripper = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: c.DialTimeout,
		}).DialContext,
	}
	if c.Retries {
		transport = &RetryTransport{
			Transport:     transport,
			RetryInterval: c.RetryInterval,
			MaxRetries:    c.MaxRetries,
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   c.RequestTimeout,
	}
}

// RetryTransport retransmits requests whose response status is retryable
// (500, 504, 429), sleeping a constant interval between attempts. A 401 or
// any other status is returned to the caller without retrying; transport
// errors (including TLS failures) abort immediately.
type RetryTransport struct {
	Transport     http.RoundTripper
	RetryInterval time.Duration
	MaxRetries    int
}

// RetryableStatus returns true for statuses worth retransmitting.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b := backoff.NewConstantBackOff(t.RetryInterval)
	for attempt := 0; ; attempt++ {
		resp, err := t.Transport.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if !RetryableStatus(resp.StatusCode) || attempt >= t.MaxRetries {
			return resp, nil
		}
		sklog.Warningf("Request to %s returned %d, retrying (%d/%d).", req.URL, resp.StatusCode, attempt+1, t.MaxRetries)
		_ = resp.Body.Close()
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(b.NextBackOff()):
		}
	}
}
