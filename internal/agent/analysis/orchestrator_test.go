package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/feichai0017/receipt-analyzer/internal/agent/llm"
	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "sk-live-SECRET-upstream-detail"

// scriptedProvider replays a fixed sequence of replies, one per call.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []reply
	calls    int
	requests []*llm.Request
}

type reply struct {
	text string
	err  error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req *llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	r := p.replies[min(p.calls, len(p.replies)-1)]
	p.calls++
	return r.text, r.err
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingTimer fires immediately and records each requested wait.
type recordingTimer struct {
	mu     *sync.Mutex
	delays *[]time.Duration
	c      chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	*t.delays = append(*t.delays, d)
	t.mu.Unlock()
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func transient() error {
	return &llm.Error{Kind: llm.KindTransient, Provider: "scripted", StatusCode: 503, Err: errors.New("upstream 503: " + secret)}
}

func permanent() error {
	return &llm.Error{Kind: llm.KindPermanent, Provider: "scripted", StatusCode: 401, Err: errors.New("invalid api key " + secret)}
}

var testImage = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

func newTestOrchestrator(t *testing.T, p llm.Provider, policy models.RetryPolicy) (*Orchestrator, *[]time.Duration) {
	t.Helper()
	delays := &[]time.Duration{}
	mu := &sync.Mutex{}
	o, err := NewOrchestrator(logger.NewNop(), p, Config{MaxPayloadSize: 1 << 20, Retry: policy},
		WithTimer(func() backoff.Timer { return &recordingTimer{mu: mu, delays: delays} }))
	require.NoError(t, err)
	return o, delays
}

func requireCode(t *testing.T, err error, code apperr.Code) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T", err)
	assert.Equal(t, code, e.Code)
	return e
}

func TestAnalyze_Success(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: validReply}}}
	o, _ := newTestOrchestrator(t, p, models.DefaultRetryPolicy())

	result, err := o.Analyze(context.Background(), testImage, models.TypeJPEG)
	require.NoError(t, err)
	assert.Equal(t, "Corner Cafe", result.MerchantName)
	assert.Equal(t, 1, p.Calls())

	req := p.requests[0]
	assert.Equal(t, "image/jpeg", req.Media.MIMEType)
	assert.Equal(t, testImage, req.Media.Data)
	assert.NotEmpty(t, req.SystemPrompt)
	assert.Contains(t, req.UserPrompt, `"merchantName"`)
}

func TestAnalyze_PreFlight(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: validReply}}}
	o, _ := newTestOrchestrator(t, p, models.DefaultRetryPolicy())
	ctx := context.Background()

	_, err := o.Analyze(ctx, nil, models.TypeJPEG)
	requireCode(t, err, apperr.CodeInvalidInput)

	_, err = o.Analyze(ctx, testImage, "")
	requireCode(t, err, apperr.CodeInvalidInput)

	_, err = o.Analyze(ctx, []byte("%PDF-1.7"), models.TypePDF)
	requireCode(t, err, apperr.CodeUnsupportedFormat)

	_, err = o.Analyze(ctx, make([]byte, 1<<20+1), models.TypePNG)
	requireCode(t, err, apperr.CodePayloadTooLarge)

	assert.Zero(t, p.Calls(), "pre-flight failures must not reach the provider")
}

func TestCheck(t *testing.T) {
	p := &scriptedProvider{}
	o, _ := newTestOrchestrator(t, p, models.DefaultRetryPolicy())

	assert.NoError(t, o.Check(testImage, models.TypeJPEG))
	requireCode(t, o.Check([]byte("%PDF-1.7"), models.TypePDF), apperr.CodeUnsupportedFormat)
	requireCode(t, o.Check(make([]byte, 1<<20+1), models.TypePNG), apperr.CodePayloadTooLarge)
	requireCode(t, o.Check(testImage, models.TypeUnrecognized), apperr.CodeUnsupportedFormat)
	assert.Zero(t, p.Calls())
}

func TestAnalyze_RetriesTransientFailures(t *testing.T) {
	policy := models.RetryPolicy{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, Multiplier: 3}

	for failures := 0; failures < policy.MaxAttempts; failures++ {
		replies := make([]reply, 0, failures+1)
		for i := 0; i < failures; i++ {
			replies = append(replies, reply{err: transient()})
		}
		replies = append(replies, reply{text: validReply})

		p := &scriptedProvider{replies: replies}
		o, delays := newTestOrchestrator(t, p, policy)

		_, err := o.Analyze(context.Background(), testImage, models.TypeJPEG)
		require.NoError(t, err, "failures=%d", failures)
		assert.Equal(t, failures+1, p.Calls())

		want := make([]time.Duration, 0, failures)
		for attempt := 2; attempt <= failures+1; attempt++ {
			want = append(want, policy.Delay(attempt))
		}
		assert.Equal(t, want, append([]time.Duration{}, *delays...))
	}
}

func TestAnalyze_ExhaustedRetries(t *testing.T) {
	policy := models.RetryPolicy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, Multiplier: 2}
	p := &scriptedProvider{replies: []reply{{err: transient()}}}
	o, delays := newTestOrchestrator(t, p, policy)

	_, err := o.Analyze(context.Background(), testImage, models.TypeJPEG)
	e := requireCode(t, err, apperr.CodeServiceUnavailable)
	assert.Equal(t, apperr.MsgServiceUnavailable, e.Message)
	assert.Equal(t, 3, p.Calls())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *delays)
	assert.NotContains(t, err.Error(), secret)
	assert.NotContains(t, err.Error(), "503")
}

func TestAnalyze_SingleAttemptPolicy(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: transient()}}}
	o, delays := newTestOrchestrator(t, p, models.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Second, Multiplier: 2})

	_, err := o.Analyze(context.Background(), testImage, models.TypeJPEG)
	requireCode(t, err, apperr.CodeServiceUnavailable)
	assert.Equal(t, 1, p.Calls())
	assert.Empty(t, *delays)
}

func TestAnalyze_PermanentFailureNotRetried(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: permanent()}, {text: validReply}}}
	o, delays := newTestOrchestrator(t, p, models.DefaultRetryPolicy())

	_, err := o.Analyze(context.Background(), testImage, models.TypeJPEG)
	e := requireCode(t, err, apperr.CodeAnalysisFailed)
	assert.Equal(t, apperr.MsgAnalysisFailed, e.Message)
	assert.Equal(t, 1, p.Calls())
	assert.Empty(t, *delays)
	assert.NotContains(t, err.Error(), secret)
}

func TestAnalyze_UnknownFailureNotRetried(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: errors.New("weird " + secret)}}}
	o, _ := newTestOrchestrator(t, p, models.DefaultRetryPolicy())

	_, err := o.Analyze(context.Background(), testImage, models.TypeJPEG)
	requireCode(t, err, apperr.CodeAnalysisFailed)
	assert.Equal(t, 1, p.Calls())
	assert.NotContains(t, err.Error(), secret)
}

func TestAnalyze_EmptyResponseCalledOnce(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: ""}}}
	o, _ := newTestOrchestrator(t, p, models.DefaultRetryPolicy())

	_, err := o.Analyze(context.Background(), testImage, models.TypePNG)
	e := requireCode(t, err, apperr.CodeInvalidResponse)
	assert.Equal(t, msgEmptyResponse, e.Message)
	assert.Equal(t, 1, p.Calls())
}

func TestAnalyze_ContextCancelled(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{text: validReply}}}
	o, _ := newTestOrchestrator(t, p, models.DefaultRetryPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Analyze(ctx, testImage, models.TypeJPEG)
	requireCode(t, err, apperr.CodeServiceUnavailable)
	assert.Zero(t, p.Calls())
}

func TestAnalyze_CancelDuringBackoff(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: transient()}}}
	o, err := NewOrchestrator(logger.NewNop(), p, Config{
		MaxPayloadSize: 1 << 20,
		Retry:          models.RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = o.Analyze(ctx, testImage, models.TypeJPEG)
	requireCode(t, err, apperr.CodeServiceUnavailable)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, p.Calls())
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(logger.NewNop(), nil, Config{Retry: models.DefaultRetryPolicy()})
	require.Error(t, err)

	_, err = NewOrchestrator(logger.NewNop(), &scriptedProvider{}, Config{Retry: models.RetryPolicy{}})
	require.Error(t, err)
}
