package engine

import (
	"context"
	"fmt"
)

// Candidate is one entry of an ordered failover list. For pool-level
// failover it names a worker; for merge-member failover it names an
// adapter type paired with the model key.
type Candidate struct {
	Worker   *Worker
	Type     string
	ModelKey string
}

func (c Candidate) label() string {
	if c.Worker != nil {
		return c.Worker.Name()
	}
	return c.Type + "/" + c.ModelKey
}

// AttemptFunc performs one generation attempt against a candidate.
type AttemptFunc func(ctx context.Context, c Candidate) (GenerateResult, error)

// RetryHook observes failed attempts between candidates, for logging.
type RetryHook func(c Candidate, err error, attempt int)

// Failover walks candidates in order applying the retry policy.
// maxRetries 0 means "try all candidates once"; otherwise a retryable
// failure consumes budget while a non-retryable one merely skips to the
// next candidate, which is a different adapter and may not share the
// limitation. Returns the first success or the last error wrapped as
// FAILOVER_EXHAUSTED.
func Failover(ctx context.Context, candidates []Candidate, maxRetries int, attempt AttemptFunc, onRetry RetryHook) (GenerateResult, error) {
	if len(candidates) == 0 {
		return GenerateResult{}, NewError(CodeInvalidModel, "no candidates available")
	}
	budget := maxRetries + 1
	var lastErr error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		res, err := attempt(ctx, c)
		if err == nil {
			return res, nil
		}
		lastErr = err
		_, _, retryable := NormalizeError(err)
		if maxRetries > 0 && retryable {
			budget--
			if budget <= 0 {
				break
			}
		}
		if onRetry != nil && i < len(candidates)-1 {
			onRetry(c, err, i)
		}
	}
	_, code, _ := NormalizeError(lastErr)
	msg := fmt.Sprintf("all candidates failed, last error: %v", lastErr)
	if code == CodeRecaptcha {
		// Captcha is the one upstream verdict worth surfacing as itself
		// rather than as an exhaustion wrapper.
		return GenerateResult{}, WrapError(CodeRecaptcha, lastErr.Error(), lastErr)
	}
	return GenerateResult{}, WrapError(CodeFailoverExhausted, msg, lastErr)
}
