package metrics

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/torosent/throttleprobe/internal/httpclient"
)

// Failure classes used as keys of Stats.Errors.
const (
	ErrorClientStatus = "http_4xx"
	ErrorServerStatus = "http_5xx"
	ErrorOtherStatus  = "http_status"
	ErrorTimeout      = "timeout"
	ErrorCanceled     = "canceled"
	ErrorDNS          = "dns"
	ErrorConnection   = "connection"
	ErrorTransport    = "transport"
	ErrorOther        = "other"
)

var errorLabels = map[string]string{
	ErrorClientStatus: "HTTP 4xx response",
	ErrorServerStatus: "HTTP 5xx response",
	ErrorOtherStatus:  "Unexpected HTTP status",
	ErrorTimeout:      "Request timed out",
	ErrorCanceled:     "Request canceled",
	ErrorDNS:          "DNS lookup failed",
	ErrorConnection:   "Connection failed",
	ErrorTransport:    "Transport error",
	ErrorOther:        "Other error",
}

// ClassifyError maps the error of a failed attempt to a failure class.
// Throttled responses never reach it; the collector counts them separately.
func ClassifyError(err error) string {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= 500:
			return ErrorServerStatus
		case httpErr.StatusCode >= 400:
			return ErrorClientStatus
		default:
			return ErrorOtherStatus
		}
	}

	// The client timeout surfaces as a *url.Error whose Timeout() is true.
	var timeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		return ErrorTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorDNS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ErrorConnection
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorTransport
	}
	return ErrorOther
}

// FriendlyErrorName returns the report label of a failure class.
func FriendlyErrorName(class string) string {
	if class == "" {
		return "Unknown error"
	}
	if label, ok := errorLabels[class]; ok {
		return label
	}
	return class
}
