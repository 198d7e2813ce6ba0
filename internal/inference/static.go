package inference

import (
	"context"
	"fmt"
	"sync"
)

// StaticSource serves canned responses keyed by prompt. A request for an
// unknown prompt falls back to the default response when one is set.
type StaticSource struct {
	mu        sync.RWMutex
	responses map[string]*Response
	fallback  *Response
	calls     int
}

func NewStaticSource(fallback *Response) *StaticSource {
	return &StaticSource{
		responses: make(map[string]*Response),
		fallback:  fallback,
	}
}

// Set registers the response for prompt.
func (s *StaticSource) Set(prompt string, resp *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[prompt] = resp
}

// Calls returns how many times Analyze ran.
func (s *StaticSource) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *StaticSource) Analyze(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if resp, ok := s.responses[req.Prompt]; ok {
		return resp, nil
	}
	if s.fallback != nil {
		return s.fallback, nil
	}
	return nil, &ServiceError{StatusCode: 500, Detail: fmt.Sprintf("no canned response for prompt %q", req.Prompt)}
}
