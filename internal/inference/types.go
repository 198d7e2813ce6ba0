// Package inference talks to the service that runs the model and returns raw
// attention and hidden-state tensors for a prompt.
package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/23skdu/longbow-lens/internal/inspect"
	"github.com/23skdu/longbow-lens/internal/tensorio"
)

// Request is the body of an analysis request.
type Request struct {
	Prompt    string `json:"prompt"`
	ModelName string `json:"model_name"`
}

// Validate rejects requests the service would refuse as unprocessable.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.ModelName) == "" {
		return &ValidationError{Field: "model_name", Reason: "must not be empty"}
	}
	return nil
}

// Response mirrors the JSON returned by the inference service.
type Response struct {
	GeneratedText         string                    `json:"generated_text"`
	ProcessedAttentions   inspect.AttentionTensor   `json:"processed_attentions"`
	ProcessedHiddenStates inspect.HiddenStateTensor `json:"processed_hidden_states"`
	ModelUsedForTesting   *string                   `json:"model_used_for_testing,omitempty"`
}

// Result pairs the response with the prompt it was produced for.
func (r *Response) Result(req Request) *inspect.Result {
	res := inspect.NewResult(req.Prompt, req.ModelName, r.GeneratedText, r.ProcessedAttentions, r.ProcessedHiddenStates)
	if r.ModelUsedForTesting != nil {
		res.ModelUsedForTesting = *r.ModelUsedForTesting
	}
	return res
}

// Bundle converts the response into its Arrow-encodable form.
func (r *Response) Bundle(req Request) *tensorio.Bundle {
	b := &tensorio.Bundle{
		Prompt:        req.Prompt,
		ModelName:     req.ModelName,
		GeneratedText: r.GeneratedText,
		Attentions:    r.ProcessedAttentions,
		HiddenStates:  r.ProcessedHiddenStates,
	}
	if r.ModelUsedForTesting != nil {
		b.ModelUsedForTesting = *r.ModelUsedForTesting
	}
	return b
}

// FromBundle is the inverse of Response.Bundle.
func FromBundle(b *tensorio.Bundle) (Request, *Response) {
	resp := &Response{
		GeneratedText:         b.GeneratedText,
		ProcessedAttentions:   b.Attentions,
		ProcessedHiddenStates: b.HiddenStates,
	}
	if b.ModelUsedForTesting != "" {
		used := b.ModelUsedForTesting
		resp.ModelUsedForTesting = &used
	}
	return Request{Prompt: b.Prompt, ModelName: b.ModelName}, resp
}

// Source produces tensors for a prompt.
type Source interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// ValidationError reports a malformed request. Handlers answer it with 422.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ServiceError is a failure reported by the inference service itself.
type ServiceError struct {
	StatusCode int
	Detail     string
}

func (e *ServiceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("inference service error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("inference service error (status %d): %s", e.StatusCode, e.Detail)
}
