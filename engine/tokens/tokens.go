package tokens

import (
	"context"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Estimator reports how many tokens a text consumes in the completion
// model's vocabulary. Estimates drive context budgeting and must never
// fail, so implementations degrade to a character heuristic instead of
// returning errors.
type Estimator interface {
	EstimateTokens(ctx context.Context, text string) int
}

// TiktokenEstimator counts tokens with a tiktoken encoding.
type TiktokenEstimator struct {
	name     string
	encoding *tiktoken.Tiktoken
}

// NewTiktokenEstimator resolves the given name first as an encoding, then
// as a model, before settling on cl100k_base. When no encoding resolves at
// all the estimator degrades to the rune heuristic.
func NewTiktokenEstimator(modelOrEncoding string) *TiktokenEstimator {
	name := modelOrEncoding
	if name == "" {
		name = defaultEncoding
	}
	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		encoding, err = tiktoken.EncodingForModel(name)
	}
	if err != nil {
		name = defaultEncoding
		encoding, _ = tiktoken.GetEncoding(defaultEncoding)
	}
	return &TiktokenEstimator{name: name, encoding: encoding}
}

func (e *TiktokenEstimator) EstimateTokens(_ context.Context, text string) int {
	if e.encoding == nil {
		return heuristicTokens(text)
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// Encoding returns the name of the encoding in use.
func (e *TiktokenEstimator) Encoding() string { return e.name }

// RuneEstimator approximates tokens as one per four characters, with a
// floor of one token for non-empty text.
type RuneEstimator struct{}

func (RuneEstimator) EstimateTokens(_ context.Context, text string) int {
	return heuristicTokens(text)
}

func heuristicTokens(text string) int {
	if text == "" {
		return 0
	}
	count := utf8.RuneCountInString(text) / 4
	if count < 1 {
		return 1
	}
	return count
}
