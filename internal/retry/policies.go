package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	BrowserAttempts = 3
	NetworkAttempts = 5
	StoreAttempts   = 3
)

// Browser covers navigation timeouts and automation-tool faults.
func Browser(base time.Duration) Policy {
	return Policy{Name: "browser", MaxAttempts: BrowserAttempts, BaseDelay: base, Retryable: IsBrowserFault}
}

// Network covers connection errors and dropped or timed-out requests.
func Network(base time.Duration) Policy {
	return Policy{Name: "network", MaxAttempts: NetworkAttempts, BaseDelay: base, Retryable: IsNetworkFault}
}

// Store covers constraint and timeout errors on writes.
func Store(base time.Duration) Policy {
	return Policy{Name: "store", MaxAttempts: StoreAttempts, BaseDelay: base, Retryable: IsStoreFault}
}

// BrowserError marks a fault raised by the browser automation layer.
type BrowserError struct {
	Op  string
	Err error
}

func (e *BrowserError) Error() string { return "browser " + e.Op + ": " + e.Err.Error() }
func (e *BrowserError) Unwrap() error { return e.Err }

// IsBrowserFault reports browser-level faults and navigation timeouts.
func IsBrowserFault(err error) bool {
	if err == nil {
		return false
	}
	var be *BrowserError
	if errors.As(err, &be) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "navigation") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "target closed") || strings.Contains(msg, "websocket")
}

var networkSubstrings = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"network error",
	"i/o timeout",
	"tls handshake timeout",
	"unexpected eof",
	"request canceled",
	"server misbehaving",
}

// IsNetworkFault reports connection errors, network-error messages and
// request cancellation raised below the caller's context.
func IsNetworkFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, s := range networkSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsStoreFault reports constraint violations (other than unique violations,
// which callers handle as duplicates), lock/serialization conflicts,
// connection failures and timeouts.
func IsStoreFault(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return false
		case strings.HasPrefix(pgErr.Code, "23"), // integrity constraint
			strings.HasPrefix(pgErr.Code, "08"), // connection exception
			pgErr.Code == "40001", pgErr.Code == "40P01",
			pgErr.Code == "55P03", pgErr.Code == "57014":
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "bad connection")
}
