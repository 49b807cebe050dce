package core

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// regexMatchTimeout bounds regex evaluation so a pathological pattern
// cannot stall the ingestion path.
const regexMatchTimeout = 500 * time.Millisecond

var (
	regexCacheMu sync.RWMutex
	regexCache   = make(map[string]*regexp2.Regexp)
)

func compiledRegex(pattern string) (*regexp2.Regexp, error) {
	regexCacheMu.RLock()
	re, ok := regexCache[pattern]
	regexCacheMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	re.MatchTimeout = regexMatchTimeout

	regexCacheMu.Lock()
	regexCache[pattern] = re
	regexCacheMu.Unlock()
	return re, nil
}

// Matches evaluates the condition against an event. A missing field never
// matches. Errors are returned for malformed values (e.g. a bad regex) so
// callers can isolate them per rule.
func (c Condition) Matches(event *SecurityEvent) (bool, error) {
	fieldValue := event.Field(c.Field)
	if fieldValue == nil {
		return false, nil
	}

	switch c.Operator {
	case OpEquals:
		return fmt.Sprintf("%v", fieldValue) == fmt.Sprintf("%v", c.Value), nil
	case OpContains:
		s, ok := fieldValue.(string)
		want, ok2 := c.Value.(string)
		return ok && ok2 && strings.Contains(s, want), nil
	case OpGreaterThan:
		return compareNumbers(fieldValue, c.Value, func(a, b float64) bool { return a > b })
	case OpLessThan:
		return compareNumbers(fieldValue, c.Value, func(a, b float64) bool { return a < b })
	case OpRegex:
		s, ok := fieldValue.(string)
		if !ok {
			return false, nil
		}
		pattern, ok := c.Value.(string)
		if !ok {
			return false, fmt.Errorf("regex condition value must be a string, got %T", c.Value)
		}
		re, err := compiledRegex(pattern)
		if err != nil {
			return false, err
		}
		matched, err := re.MatchString(s)
		if err != nil {
			return false, fmt.Errorf("regex evaluation: %w", err)
		}
		return matched, nil
	default:
		return false, fmt.Errorf("unknown condition operator: %s", c.Operator)
	}
}

// MatchesAll evaluates AND-combined conditions with short-circuit on the
// first failing condition.
func MatchesAll(conditions []Condition, event *SecurityEvent) (bool, error) {
	for _, c := range conditions {
		ok, err := c.Matches(event)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func compareNumbers(a, b interface{}, cmp func(float64, float64) bool) (bool, error) {
	fa, ok := toFloat(a)
	if !ok {
		return false, nil
	}
	fb, ok := toFloat(b)
	if !ok {
		return false, fmt.Errorf("numeric condition value %v is not a number", b)
	}
	return cmp(fa, fb), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
