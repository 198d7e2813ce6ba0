package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/23skdu/longbow-lens/internal/metrics"
)

const AnalyzePath = "/api/analyze"

// maxErrorBody bounds how much of a failed response is read for its detail.
const maxErrorBody = 64 << 10

// HTTPClient calls an inference service speaking JSON over HTTP.
type HTTPClient struct {
	base url.URL
	http *http.Client
}

// NewHTTPClient parses rawURL as the service base URL. A bare host:port is
// accepted and treated as http.
func NewHTTPClient(rawURL string, timeout time.Duration) (*HTTPClient, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid inference url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid inference url %q: missing host", rawURL)
	}
	return &HTTPClient{
		base: *u,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Analyze posts req to the service and decodes the tensors it returns.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(AnalyzePath).String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	start := time.Now()
	response, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer response.Body.Close()
	metrics.RecordInference("http", time.Since(start))

	if response.StatusCode >= http.StatusBadRequest {
		return nil, errorFromResponse(response)
	}

	var resp Response
	if err := json.NewDecoder(response.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	return &resp, nil
}

// errorFromResponse turns a non-2xx answer into a ValidationError for 422
// and a ServiceError otherwise. FastAPI style {"detail": ...} bodies are
// understood, with detail either a string or a list of {"loc", "msg"}.
func errorFromResponse(response *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	detail := strings.TrimSpace(string(raw))
	field := ""
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Detail) > 0 {
		detail, field = parseDetail(envelope.Detail)
	}

	if response.StatusCode == http.StatusUnprocessableEntity {
		if field == "" {
			field = "request"
		}
		return &ValidationError{Field: field, Reason: detail}
	}
	return &ServiceError{StatusCode: response.StatusCode, Detail: detail}
}

func parseDetail(raw json.RawMessage) (detail, field string) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, ""
	}

	var items []struct {
		Loc []interface{} `json:"loc"`
		Msg string        `json:"msg"`
	}
	if json.Unmarshal(raw, &items) == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			msgs = append(msgs, it.Msg)
		}
		if loc := items[0].Loc; len(loc) > 0 {
			field = fmt.Sprint(loc[len(loc)-1])
		}
		return strings.Join(msgs, "; "), field
	}
	return string(raw), ""
}
