package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of HTTP calls per key (including the first).
	MaxAttempts int

	// Backoff is the delay schedule. Attempt n waits Backoff[min(n-1, len-1)].
	// An empty schedule falls back to min(n, 5) seconds.
	Backoff []time.Duration

	// Jitter scales each delay by a random factor in [1-Jitter, 1+Jitter].
	// Zero disables jitter.
	Jitter float64
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
	}
}

// Validate checks the policy for configuration errors.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1 (got %d)", p.MaxAttempts)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("retry jitter must be in [0, 1) (got %v)", p.Jitter)
	}
	for i, d := range p.Backoff {
		if d < 0 {
			return fmt.Errorf("retry backoff[%d] must be >= 0 (got %v)", i, d)
		}
	}
	return nil
}

// NextDelay returns how long to wait after the given failed attempt (1-based).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	if len(p.Backoff) == 0 {
		delay = time.Duration(min(attempt, 5)) * time.Second
	} else {
		delay = p.Backoff[min(attempt-1, len(p.Backoff)-1)]
	}

	if p.Jitter > 0 {
		delay = time.Duration(float64(delay) * (1 - p.Jitter + rand.Float64()*2*p.Jitter))
	}
	return delay
}

// IsRetryableStatus reports whether an HTTP status is a transient failure.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// Default business error markers that mean a lookup can never succeed.
var (
	DefaultPermanentCodes     = []int{1287, 1284}
	DefaultPermanentSentinels = []string{"invalid_request"}
)

// Outcome is the classification of a single attempt.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Code       int
	Message    string
	Payload    map[string]any
	Raw        []byte
	Err        error
}

// Retryable reports whether the attempt should be retried.
func (o Outcome) Retryable() bool {
	return o.Kind == KindTransientError
}

// Classifier maps raw responses to outcomes.
type Classifier struct {
	PermanentCodes     []int
	PermanentSentinels []string
}

// DefaultClassifier returns a classifier with the default business error markers.
func DefaultClassifier() Classifier {
	return Classifier{
		PermanentCodes:     DefaultPermanentCodes,
		PermanentSentinels: DefaultPermanentSentinels,
	}
}

// Classify classifies a response with the default classifier.
func Classify(status int, body []byte, err error) Outcome {
	return DefaultClassifier().Classify(status, body, err)
}

// Classify maps a status, body and transport error to an Outcome.
// It is a pure function of its inputs.
func (c Classifier) Classify(status int, body []byte, err error) Outcome {
	if err != nil {
		return Outcome{Kind: KindTransientError, Err: err}
	}

	obj, decodeErr := decodeObject(body)
	code, msg := businessError(obj)

	switch {
	case status == http.StatusNotFound:
		return Outcome{Kind: KindNotFound, StatusCode: status, Code: code, Message: msg}

	case status == http.StatusOK:
		if decodeErr != nil {
			return Outcome{
				Kind:       KindPermanentError,
				StatusCode: status,
				Code:       status,
				Message:    "malformed response body",
				Err:        fmt.Errorf("%w: %v", ErrInvalidPayload, decodeErr),
			}
		}
		if c.isPermanent(code, msg) {
			return Outcome{Kind: KindPermanentError, StatusCode: status, Code: code, Message: msg}
		}
		return Outcome{Kind: KindSuccess, StatusCode: status, Payload: obj, Raw: body}

	case IsRetryableStatus(status):
		return Outcome{
			Kind:       KindTransientError,
			StatusCode: status,
			Code:       code,
			Message:    msg,
			Err:        fmt.Errorf("http %d", status),
		}

	default:
		if code == 0 {
			code = status
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		return Outcome{Kind: KindPermanentError, StatusCode: status, Code: code, Message: msg}
	}
}

func (c Classifier) isPermanent(code int, msg string) bool {
	if code != 0 {
		for _, pc := range c.PermanentCodes {
			if code == pc {
				return true
			}
		}
	}
	if msg != "" {
		for _, s := range c.PermanentSentinels {
			if s != "" && strings.Contains(msg, s) {
				return true
			}
		}
	}
	return false
}

// decodeObject decodes body as a JSON object. null and non-object values
// are rejected.
func decodeObject(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("null body")
	}
	return obj, nil
}

// businessError extracts the API's {code, msg} fields.
func businessError(obj map[string]any) (int, string) {
	if obj == nil {
		return 0, ""
	}

	var code int
	switch v := obj["code"].(type) {
	case float64:
		code = int(v)
	case string:
		code, _ = strconv.Atoi(strings.TrimSpace(v))
	}

	msg, _ := obj["msg"].(string)
	return code, msg
}
