package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Checker is implemented by sources that can tell whether they are able to
// serve requests right now.
type Checker interface {
	Check(ctx context.Context) error
}

// Check reports whether src can serve. Sources without a check are assumed
// ready.
func Check(ctx context.Context, src Source) error {
	if c, ok := src.(Checker); ok {
		return c.Check(ctx)
	}
	return nil
}

// Check succeeds when the service answers HTTP at its base URL, whatever the
// status code.
func (c *HTTPClient) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference service %s unreachable: %w", c.base.Host, err)
	}
	resp.Body.Close()
	return nil
}

// Check succeeds when the Flight server answers a ListActions call. Servers
// that do not implement it still count as reachable.
func (s *FlightSource) Check(ctx context.Context) error {
	stream, err := s.client.ListActions(ctx, &flight.Empty{})
	if err == nil {
		_, err = stream.Recv()
	}
	if err == nil || errors.Is(err, io.EOF) || status.Code(err) == codes.Unimplemented {
		return nil
	}
	return fmt.Errorf("flight server %s unreachable: %w", s.addr, err)
}

// Check fails while no canned response is loaded.
func (s *StaticSource) Check(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.responses) == 0 && s.fallback == nil {
		return errors.New("no canned responses loaded")
	}
	return nil
}

func (c *CachedSource) Check(ctx context.Context) error {
	return Check(ctx, c.next)
}
