package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var upstreamHTTPRe = regexp.MustCompile(`HTTP (\d{3})`)

// Classify ensures err carries a taxonomy code, folding raw adapter
// failures through NormalizeError. Already-classified errors pass
// through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	msg, code, _ := NormalizeError(err)
	return WrapError(code, msg, err)
}

// NormalizeError folds an adapter-tier failure into (message, code,
// retryable). Retryable means another candidate may succeed: timeouts,
// page invalidation, transient upstream errors, and captcha triggers (a
// different worker may hold a warm session). Non-retryable failures do
// not consume the failover retry budget; the executor still moves on to
// the next candidate, which may not share the limitation.
func NormalizeError(err error) (string, Code, bool) {
	if err == nil {
		return "", "", false
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case CodeInvalidModel, CodeImageRequired, CodeImageForbidden, CodeUnauthorized:
			return e.Message, e.Code, false
		case CodeRecaptcha:
			return e.Message, e.Code, true
		default:
			return e.Message, e.Code, true
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "recaptcha validation failed"):
		return msg, CodeRecaptcha, true
	case strings.Contains(msg, "Timeout"),
		errors.Is(err, context.DeadlineExceeded):
		return msg, CodeGenerationFailed, true
	case strings.Contains(msg, "PAGE_CLOSED"),
		strings.Contains(msg, "PAGE_CRASHED"),
		strings.Contains(msg, "PAGE_INVALID"):
		return msg, CodeGenerationFailed, true
	case upstreamHTTPRe.MatchString(msg):
		m := upstreamHTTPRe.FindStringSubmatch(msg)
		// 5xx is transient; 4xx means the upstream rejected the request
		// itself, which another adapter may still accept.
		if strings.HasPrefix(m[1], "5") {
			return msg, CodeGenerationFailed, true
		}
		return msg, CodeGenerationFailed, false
	case errors.Is(err, context.Canceled):
		return msg, CodeInternalError, false
	default:
		return msg, CodeInternalError, false
	}
}
