package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrNotFound         = errors.New("chain: not found")
	ErrConnectivity     = errors.New("chain: connectivity failure")
	ErrRetriesExhausted = errors.New("chain: resubscribe retries exhausted")
)

var retryableMessages = []string{
	"rate limit",
	"too many requests",
	"connection reset",
	"connection refused",
	"broken pipe",
	"use of closed network connection",
	"websocket: close",
	"i/o timeout",
}

// IsRetryable reports whether err is a connectivity or rate-limit failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectivity) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, rpc.ErrClientQuit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify maps a node error onto the package sentinels.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%s: %w", method, ErrNotFound)
	}
	if IsRetryable(err) {
		return fmt.Errorf("%s: %w: %v", method, ErrConnectivity, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	default:
		return "rejected"
	}
}
