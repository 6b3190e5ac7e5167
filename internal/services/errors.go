package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrTransient marks provider failures worth retrying (network, 5xx).
	ErrTransient = errors.New("transient failure")
	// ErrTerminal marks provider rejections that no retry can fix.
	ErrTerminal = errors.New("terminal generation error")
	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrTimeout marks provider calls that exceeded their deadline.
	ErrTimeout = errors.New("timeout")
	// ErrStorage marks artifact upload failures.
	ErrStorage = errors.New("storage error")
	// ErrResource marks compute pod acquisition failures.
	ErrResource = errors.New("resource error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the pipeline should re-queue the job after this
// error rather than failing it outright. Timeouts and resource failures count
// as transient; storage and terminal errors do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTerminal) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) || errors.Is(err, ErrStorage) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrResource) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// StatusError classifies an HTTP response code from a generation provider.
// Server-side codes come back transient, everything else terminal.
func StatusError(component, operation string, statusCode int, body string) error {
	message := fmt.Sprintf("status %d", statusCode)
	if trimmed := strings.TrimSpace(body); trimmed != "" {
		message = fmt.Sprintf("status %d: %s", statusCode, truncate(trimmed, 200))
	}
	marker := ErrTerminal
	if statusCode >= 500 || statusCode == 429 {
		marker = ErrTransient
	}
	return Wrap(marker, component, operation, message, nil)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
