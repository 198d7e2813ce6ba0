package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/tensorio"
)

// FlightSource fetches tensors from an Arrow Flight server. The ticket is the
// JSON encoded Request.
type FlightSource struct {
	addr   string
	client flight.Client
}

// DialFlight connects to the Flight server at addr.
func DialFlight(addr string) (*FlightSource, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create flight client: %w", err)
	}
	return &FlightSource{addr: addr, client: client}, nil
}

func (s *FlightSource) Close() error {
	return s.client.Close()
}

func (s *FlightSource) Analyze(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ticket, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stream, err := s.client.DoGet(ctx, &flight.Ticket{Ticket: ticket})
	if err != nil {
		return nil, flightError(err)
	}
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, flightError(err)
	}
	defer reader.Release()

	dec, err := tensorio.NewDecoder(reader.Schema())
	if err != nil {
		return nil, err
	}
	for reader.Next() {
		if err := dec.Add(reader.Record()); err != nil {
			return nil, err
		}
	}
	if err := reader.Err(); err != nil {
		return nil, flightError(err)
	}
	metrics.RecordInference("flight", time.Since(start))

	_, resp := FromBundle(dec.Bundle())
	return resp, nil
}

func flightError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("flight request failed: %w", err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return &ValidationError{Field: "request", Reason: st.Message()}
	case codes.NotFound:
		return &ServiceError{StatusCode: 404, Detail: st.Message()}
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return &ServiceError{StatusCode: 502, Detail: st.Message()}
	}
}

// ReplayServer serves previously captured bundles over Flight, so a dump can
// stand in for the inference service.
type ReplayServer struct {
	flight.BaseFlightServer

	mu      sync.RWMutex
	bundles map[uint64]*tensorio.Bundle
	server  flight.Server
}

func NewReplayServer() *ReplayServer {
	return &ReplayServer{bundles: make(map[uint64]*tensorio.Bundle)}
}

// Add registers b under its prompt and model name.
func (s *ReplayServer) Add(b *tensorio.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[Key(Request{Prompt: b.Prompt, ModelName: b.ModelName})] = b
}

// LoadFile reads an IPC dump and registers it.
func (s *ReplayServer) LoadFile(path string) error {
	b, err := tensorio.ReadFile(path)
	if err != nil {
		return err
	}
	s.Add(b)
	logger.Log.Info("Loaded replay bundle", "path", path, "prompt", b.Prompt, "model", b.ModelName)
	return nil
}

func (s *ReplayServer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bundles)
}

func (s *ReplayServer) DoGet(tkt *flight.Ticket, fs flight.FlightService_DoGetServer) error {
	var req Request
	if err := json.Unmarshal(tkt.GetTicket(), &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed ticket: %v", err)
	}
	if err := req.Validate(); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.RLock()
	b, ok := s.bundles[Key(req)]
	s.mu.RUnlock()
	if !ok {
		return status.Errorf(codes.NotFound, "no bundle for model %q and prompt %q", req.ModelName, req.Prompt)
	}

	rec := tensorio.Encode(memory.DefaultAllocator, b)
	defer rec.Release()

	w := flight.NewRecordWriter(fs, ipc.WithSchema(rec.Schema()))
	defer w.Close()
	if err := w.Write(rec); err != nil {
		return status.Errorf(codes.Internal, "failed to write record: %v", err)
	}
	return nil
}

// Listen binds the server to addr. Use "localhost:0" for an ephemeral port.
func (s *ReplayServer) Listen(addr string) (net.Addr, error) {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv.RegisterFlightService(s)
	s.server = srv
	return srv.Addr(), nil
}

// Serve blocks until Shutdown.
func (s *ReplayServer) Serve() error {
	if s.server == nil {
		return fmt.Errorf("replay server not listening")
	}
	return s.server.Serve()
}

func (s *ReplayServer) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}
