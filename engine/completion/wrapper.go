package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/defensight/defensight/engine/tokens"
	"github.com/defensight/defensight/pkg/logger"
)

// OversizePolicy selects the pre-flight behavior for requests whose token
// estimate exceeds the configured threshold.
type OversizePolicy string

const (
	// OversizeWarn logs a warning and sends the request unchanged.
	OversizeWarn OversizePolicy = "warn"
	// OversizeTruncate shortens the context segment of the last
	// context-bearing user message before sending.
	OversizeTruncate OversizePolicy = "truncate"
)

// Delimiters that separate the retrieved context from the question inside a
// prompt; the truncating pre-flight cuts only the segment between them.
const (
	ContextDelimiter  = "===CONTEXT==="
	QuestionDelimiter = "===QUESTION==="
)

// User-facing replies for exhausted retries on the Ask path. Interactive
// loops display these as the assistant's turn and keep running.
const (
	rateLimitReply = "**Rate limit exceeded.** Too many requests to the analysis service. Please wait a moment and try again."
	errorReplyFmt  = "**Error communicating with the analysis service:** %s"
)

// WrapperConfig tunes retry and pre-flight behavior. Retries is the total
// number of attempts, matching the upstream call sites.
type WrapperConfig struct {
	Retries                 int
	RetryBaseDelay          time.Duration
	OversizePolicy          OversizePolicy
	WarnThresholdTokens     int
	TruncateThresholdTokens int
	TruncateContextChars    int
	Temperature             float64
	MaxTokens               int
}

func (c *WrapperConfig) normalize() {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.OversizePolicy == "" {
		c.OversizePolicy = OversizeWarn
	}
	if c.WarnThresholdTokens <= 0 {
		c.WarnThresholdTokens = 7500
	}
	if c.TruncateThresholdTokens <= 0 {
		c.TruncateThresholdTokens = 7000
	}
	if c.TruncateContextChars <= 0 {
		c.TruncateContextChars = 16000
	}
}

// Sleeper blocks for the given backoff duration. Injectable for tests.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option customizes a Wrapper.
type Option func(*Wrapper)

// WithSleeper replaces the backoff sleeper.
func WithSleeper(sleep Sleeper) Option {
	return func(w *Wrapper) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// Wrapper drives a completion Client with pre-flight token validation and
// class-dependent backoff. Every failure class is retried up to the attempt
// budget: rate-limit failures back off exponentially from the base delay
// (1, 2, 4, ...) and every other class waits a single base delay between
// attempts. All failures are terminal-but-non-fatal on the Ask path: the
// caller's loop continues with a marked error string as the reply.
type Wrapper struct {
	client    Client
	estimator tokens.Estimator
	cfg       WrapperConfig
	sleep     Sleeper
}

func NewWrapper(client Client, estimator tokens.Estimator, cfg WrapperConfig, opts ...Option) (*Wrapper, error) {
	if client == nil {
		return nil, errors.New("completion: client is required")
	}
	if estimator == nil {
		estimator = tokens.RuneEstimator{}
	}
	cfg.normalize()
	w := &Wrapper{
		client:    client,
		estimator: estimator,
		cfg:       cfg,
		sleep:     contextSleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Complete sends the messages and returns the reply, propagating the
// classified error once retries are exhausted. Batch and report paths use
// this form.
func (w *Wrapper) Complete(ctx context.Context, messages []Message) (string, error) {
	log := logger.FromContext(ctx)
	prepared := w.preflight(ctx, messages)
	req := &Request{
		Messages:    prepared,
		Temperature: w.cfg.Temperature,
		MaxTokens:   w.cfg.MaxTokens,
	}
	var lastErr *Error
	for attempt := 0; attempt < w.cfg.Retries; attempt++ {
		response, err := w.client.Generate(ctx, req)
		if err == nil {
			w.logUsage(ctx, response)
			return response.Content, nil
		}
		var classified *Error
		if !errors.As(err, &classified) {
			classified = &Error{Kind: FailureUnknown, Err: err}
		}
		lastErr = classified
		if attempt == w.cfg.Retries-1 {
			break
		}
		wait := w.backoff(classified.Kind, attempt)
		log.Warn(
			"completion attempt failed, retrying",
			"kind", classified.Kind.String(),
			"attempt", attempt+1,
			"retries", w.cfg.Retries,
			"wait", wait,
		)
		if err := w.sleep(ctx, wait); err != nil {
			return "", classified
		}
	}
	return "", lastErr
}

// Ask sends the messages and renders terminal failures as a clearly marked
// error string instead of an error. Interactive loops display the result as
// the assistant's reply either way.
func (w *Wrapper) Ask(ctx context.Context, messages []Message) string {
	reply, err := w.Complete(ctx, messages)
	if err == nil {
		return reply
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Kind == FailureRateLimit {
		return rateLimitReply
	}
	return fmt.Sprintf(errorReplyFmt, err.Error())
}

// backoff returns the wait before the next attempt: exponential doubling for
// rate limits, a fixed base delay for every other class.
func (w *Wrapper) backoff(kind FailureKind, attempt int) time.Duration {
	if kind == FailureRateLimit {
		return w.cfg.RetryBaseDelay << attempt
	}
	return w.cfg.RetryBaseDelay
}

// preflight estimates the request size and applies the configured oversize
// policy. Truncation copies the message slice so conversation history held
// by the caller is never rewritten.
func (w *Wrapper) preflight(ctx context.Context, messages []Message) []Message {
	log := logger.FromContext(ctx)
	total := 0
	for i := range messages {
		total += w.estimator.EstimateTokens(ctx, messages[i].Content)
	}
	switch w.cfg.OversizePolicy {
	case OversizeTruncate:
		if total <= w.cfg.TruncateThresholdTokens {
			return messages
		}
		log.Warn("request over token threshold, truncating context", "tokens", total)
		return w.truncateContext(messages)
	default:
		if total > w.cfg.WarnThresholdTokens {
			log.Warn("large completion request may hit provider rate limit", "tokens", total)
		}
		return messages
	}
}

// truncateContext shortens the context segment of the last context-bearing
// user message to the configured character budget, keeping the question
// segment intact.
func (w *Wrapper) truncateContext(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role != RoleUser || !strings.Contains(out[i].Content, ContextDelimiter) {
			continue
		}
		out[i].Content = truncateSegment(out[i].Content, w.cfg.TruncateContextChars)
		break
	}
	return out
}

func truncateSegment(content string, maxChars int) string {
	ctxIdx := strings.Index(content, ContextDelimiter)
	qIdx := strings.Index(content, QuestionDelimiter)
	if ctxIdx < 0 || qIdx < 0 || qIdx <= ctxIdx {
		// No recognizable structure; cut the tail of the whole message.
		return cutAtRuneBoundary(content, maxChars)
	}
	segment := cutAtRuneBoundary(content[ctxIdx+len(ContextDelimiter):qIdx], maxChars)
	return content[:ctxIdx] + ContextDelimiter + segment + content[qIdx:]
}

// cutAtRuneBoundary trims s to at most maxBytes bytes without splitting a
// UTF-8 sequence.
func cutAtRuneBoundary(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (w *Wrapper) logUsage(ctx context.Context, response *Response) {
	if response == nil || response.Usage == nil {
		return
	}
	logger.FromContext(ctx).Info(
		"completion token usage",
		"prompt_tokens", response.Usage.PromptTokens,
		"completion_tokens", response.Usage.CompletionTokens,
		"total_tokens", response.Usage.TotalTokens,
	)
}
