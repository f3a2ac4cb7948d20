package detect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel/metrics"

	"github.com/dlclark/regexp2"
)

// DefaultRegexTimeout bounds a single pattern match
const DefaultRegexTimeout = 500 * time.Millisecond

// MaxPatternLength rejects pathological rule patterns before compilation
const MaxPatternLength = 1000

var ErrRegexTimeout = errors.New("regex evaluation timeout")

// CompilePattern compiles a case-insensitive rule pattern with a match
// timeout. regexp2 backtracks, so the timeout is what keeps a hostile command
// line from pinning the ingest path.
func CompilePattern(pattern string, timeout time.Duration) (*regexp2.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("regex pattern cannot be empty")
	}
	if len(pattern) > MaxPatternLength {
		return nil, fmt.Errorf("regex pattern length %d exceeds maximum %d", len(pattern), MaxPatternLength)
	}
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}

	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}
	re.MatchTimeout = timeout
	return re, nil
}

// MatchPattern runs re against input. A timeout is reported as
// ErrRegexTimeout and counted.
func MatchPattern(re *regexp2.Regexp, input string) (bool, error) {
	if re == nil {
		return false, fmt.Errorf("regex pattern is nil")
	}

	match, err := re.MatchString(input)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			metrics.RegexTimeouts.Inc()
			return false, fmt.Errorf("%w: %v", ErrRegexTimeout, err)
		}
		return false, fmt.Errorf("regex matching error: %w", err)
	}
	return match, nil
}
