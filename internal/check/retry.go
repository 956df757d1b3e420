package check

import (
	"math"
	"time"
)

// RetryRule controls retry behavior for one error kind.
type RetryRule struct {
	Retryable   bool
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// RetryPolicy maps error kinds to retry rules. Read-only after construction.
type RetryPolicy struct {
	rules map[ErrorKind]RetryRule
}

// DefaultRetryPolicy builds the standard policy: transient kinds retried
// with exponential backoff, terminal kinds surfaced immediately, parse
// failures granted a single extra attempt for truncated bodies.
func DefaultRetryPolicy() *RetryPolicy {
	transient := RetryRule{
		Retryable:   true,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
	throttled := transient
	throttled.BaseDelay = 5 * time.Second
	terminal := RetryRule{Retryable: false, MaxAttempts: 1}
	return &RetryPolicy{rules: map[ErrorKind]RetryRule{
		KindNetwork:     transient,
		KindTimeout:     transient,
		KindRateLimited: throttled,
		KindNotFound:    terminal,
		KindParse: {
			Retryable:   true,
			MaxAttempts: 2,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
		},
		KindUnauthorized:  terminal,
		KindConfiguration: terminal,
		KindUnknown: {
			Retryable:   true,
			MaxAttempts: 2,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
		},
	}}
}

// Override replaces the rule for one kind, returning the policy for chaining.
func (p *RetryPolicy) Override(kind ErrorKind, rule RetryRule) *RetryPolicy {
	p.rules[kind] = rule
	return p
}

// Rule returns the rule for a kind, falling back to the unknown bucket.
func (p *RetryPolicy) Rule(kind ErrorKind) RetryRule {
	if rule, ok := p.rules[kind]; ok {
		return rule
	}
	return p.rules[KindUnknown]
}

// ShouldRetry reports whether another attempt is allowed after the given
// number of completed attempts.
func (p *RetryPolicy) ShouldRetry(kind ErrorKind, attempts int) bool {
	rule := p.Rule(kind)
	return rule.Retryable && attempts < rule.MaxAttempts
}

// Delay returns the backoff before the next attempt, where attempts is the
// number already completed. The law is min(base * multiplier^(attempts-1),
// ceiling); no jitter, so scheduling stays deterministic.
func (p *RetryPolicy) Delay(kind ErrorKind, attempts int) time.Duration {
	rule := p.Rule(kind)
	if attempts < 1 {
		attempts = 1
	}
	mult := rule.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(rule.BaseDelay) * math.Pow(mult, float64(attempts-1))
	if rule.MaxDelay > 0 && delay > float64(rule.MaxDelay) {
		delay = float64(rule.MaxDelay)
	}
	return time.Duration(delay)
}
