// Package processor implements ports.ProcessorAdapter for each supported
// payment processor. Adapters make exactly one HTTP attempt per call; retry
// policy belongs to the payout state machine.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/metrics"
)

// maxResponseBody caps how much of a processor response is read.
const maxResponseBody = 1 << 20

// HTTPClient is the part of *http.Client the adapters need.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry maps each processor kind to its adapter.
type Registry map[domain.ProcessorKind]ports.ProcessorAdapter

// NewRegistry builds a Registry keyed by each adapter's Kind.
func NewRegistry(adapters ...ports.ProcessorAdapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Kind()] = a
	}
	return r
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// rejectFunc classifies a 4xx response the processor considers final.
type rejectFunc func(status int, body []byte) error

// send performs one round trip and maps faults onto the processor error
// taxonomy. A nil error means a 2xx response whose body is returned.
func send(client HTTPClient, req *http.Request, kind domain.ProcessorKind, op string, reject rejectFunc) ([]byte, error) {
	started := time.Now()
	body, err := roundTrip(client, req, reject)
	metrics.ObserveProcessorCall(string(kind), op, resultLabel(err), started)
	return body, err
}

func roundTrip(client HTTPClient, req *http.Request, reject rejectFunc) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperror.ErrProcessorTimeout(err)
		}
		return nil, apperror.ErrProcessorUnavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		// The request reached the processor; its outcome is unknown.
		return nil, apperror.ErrProcessorTimeout(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		// Processor trouble or our own credentials; never the vendor's account.
		return nil, apperror.ErrProcessorUnavailable(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	default:
		return nil, reject(resp.StatusCode, body)
	}
}

// isTimeout reports whether the request may have reached the processor
// without us seeing the answer.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func resultLabel(err error) string {
	switch apperror.CodeOf(err) {
	case "":
		if err != nil {
			return "error"
		}
		return "ok"
	case apperror.CodeProcessorTimeout:
		return "timeout"
	case apperror.CodeProcessorUnavailable:
		return "unavailable"
	case apperror.CodeUnknownTransfer:
		return "not_found"
	default:
		return "rejected"
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// statusOnly is the rejectFunc of lookups: a missing transfer is unknown,
// anything else is treated as unavailable.
func statusOnly(status int, body []byte) error {
	if status == http.StatusNotFound {
		return apperror.ErrUnknownTransfer()
	}
	return apperror.ErrProcessorUnavailable(fmt.Errorf("status %d: %s", status, truncate(body)))
}
