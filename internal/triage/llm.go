package triage

import (
	"context"
	"fmt"
)

// Provider is the interface for any LLM backend. One request, one response:
// classification is a single turn with no tool loop.
type Provider interface {
	Classify(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is the classification request sent to the provider.
type LLMRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// LLMResponse is the provider's reply. Text is free-form and untrusted; the
// classifier scans it for a status marker.
type LLMResponse struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// TransientError marks a provider failure worth retrying: transport errors,
// rate limits, overloaded or 5xx responses. Anything else is permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient llm error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ClassificationError means all attempts for one finding were exhausted.
// It carries the fail-closed verdict the job still receives.
type ClassificationError struct {
	Attempts int
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }
