package models

import "time"

// LineItem is one purchased item on the document.
type LineItem struct {
	Name       string  `json:"name" validate:"notblank"`
	Quantity   float64 `json:"quantity" validate:"gte=0"`
	UnitPrice  float64 `json:"unitPrice" validate:"gte=0"`
	TotalPrice float64 `json:"totalPrice" validate:"gte=0"`
}

// AnalysisResult is the structured data extracted by the vision model.
// A result with no line items is invalid, not sparse.
type AnalysisResult struct {
	MerchantName string     `json:"merchantName" validate:"notblank"`
	Items        []LineItem `json:"items" validate:"min=1,dive"`
	TotalAmount  float64    `json:"totalAmount" validate:"gte=0"`
	Currency     string     `json:"currency" validate:"notblank"`
	Categories   []string   `json:"categories,omitempty" validate:"omitempty,dive,notblank"`
}

// RetryPolicy configures the bounded exponential backoff around model calls.
// Wait before attempt n+1 is InitialDelay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy 默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2,
	}
}

// Delay returns the wait before the given attempt (attempt >= 2).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	d := float64(p.InitialDelay)
	for i := 2; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Budget is the worst-case duration of one analysis when every attempt runs
// for perAttempt: MaxAttempts calls plus the waits between them.
func (p RetryPolicy) Budget(perAttempt time.Duration) time.Duration {
	total := time.Duration(p.MaxAttempts) * perAttempt
	for attempt := 2; attempt <= p.MaxAttempts; attempt++ {
		total += p.Delay(attempt)
	}
	return total
}
