package orchestrator

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jordanhubbard/queryforge/internal/reasoning"
	"github.com/jordanhubbard/queryforge/internal/retry"
)

// classifySchemaError retries transient source failures and gives up on
// content problems immediately.
func classifySchemaError(err error) retry.Classification {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "failed to parse"),
		strings.Contains(msg, "duplicate table"),
		strings.Contains(msg, "no name"),
		strings.Contains(msg, "no schema files"):
		return retry.Fatal
	}
	return retry.Recoverable
}

// classifyReasoningError maps completion failures onto the retry policy:
// rate limits, timeouts, and 5xx are recoverable, auth and request
// errors are not.
func classifyReasoningError(err error) retry.Classification {
	var httpErr *reasoning.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Recoverable() {
			return retry.Recoverable
		}
		return retry.Fatal
	}
	if errors.Is(err, context.Canceled) {
		return retry.Fatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Recoverable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporarily unavailable"),
		strings.Contains(msg, "deadline exceeded"):
		return retry.Recoverable
	}
	// Parse failures and empty responses do not improve with waiting.
	return retry.Fatal
}

// classifyExecutionError separates infrastructure trouble from SQL
// problems. A fatal classification here sends the error back into the
// generation loop instead of the retry loop.
func classifyExecutionError(err error) retry.Classification {
	if errors.Is(err, context.Canceled) {
		return retry.Fatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Recoverable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "too many connections"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "i/o timeout"):
		return retry.Recoverable
	}
	return retry.Fatal
}
