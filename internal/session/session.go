// Package session holds the state of the analysis currently on screen.
//
// A Session moves Idle -> Loading -> {Ready, Failed}. Every Submit bumps a
// generation counter and only the completion carrying the latest generation
// is applied, so a slow response can never overwrite a newer analysis.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-lens/internal/inference"
	"github.com/23skdu/longbow-lens/internal/inspect"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Settled reports whether no analysis is in flight.
func (s State) Settled() bool {
	return s == StateReady || s == StateFailed
}

var (
	// ErrNotReady is returned by selections and views while no result is loaded.
	ErrNotReady = errors.New("no analysis result available")
	// ErrSuperseded is returned by Wait when a newer analysis replaced the
	// one being waited for.
	ErrSuperseded = errors.New("analysis superseded by a newer request")
)

// Selection is the (layer, head) shown in the heatmap and the token whose
// trajectory is charted.
type Selection struct {
	Layer int `json:"layer"`
	Head  int `json:"head"`
	Token int `json:"token"`
}

// Event is published on every state transition.
type Event struct {
	ID         string    `json:"id"`
	Generation uint64    `json:"generation"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
	Selection  Selection `json:"selection"`
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	ID                 string             `json:"id"`
	Generation         uint64             `json:"generation"`
	State              State              `json:"state"`
	Error              string             `json:"error,omitempty"`
	Request            inference.Request  `json:"request"`
	Result             *inspect.Result    `json:"result,omitempty"`
	Shape              *inspect.Shape     `json:"shape,omitempty"`
	AttentionAlignment *inspect.Alignment `json:"attention_alignment,omitempty"`
	HiddenAlignment    *inspect.Alignment `json:"hidden_alignment,omitempty"`
	Selection          Selection          `json:"selection"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

type Options struct {
	Style    inspect.HeatmapStyle
	Viewport inspect.Viewport
	// EventBuffer is the per-subscriber channel size. Events are dropped for
	// subscribers that fall behind.
	EventBuffer int
}

func DefaultOptions() Options {
	return Options{
		Style:       inspect.DefaultHeatmapStyle(),
		Viewport:    inspect.Viewport{Width: 600, Height: 300, Padding: 40},
		EventBuffer: 16,
	}
}

type Session struct {
	source inference.Source
	opts   Options
	log    *logger.Logger

	mu         sync.RWMutex
	id         string
	generation uint64
	state      State
	errMsg     string
	request    inference.Request
	result     *inspect.Result
	selection  Selection
	updatedAt  time.Time
	changed    chan struct{}

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func New(source inference.Source, opts Options) *Session {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}
	return &Session{
		source:    source,
		opts:      opts,
		log:       logger.Log.WithComponent("session"),
		state:     StateIdle,
		updatedAt: time.Now(),
		changed:   make(chan struct{}),
		subs:      make(map[int]chan Event),
	}
}

// Submit validates req and starts an analysis in the background. It returns
// the generation assigned to the analysis. The inference call is detached
// from ctx's cancellation.
func (s *Session) Submit(ctx context.Context, req inference.Request) (uint64, error) {
	if err := req.Validate(); err != nil {
		var verr *inference.ValidationError
		if errors.As(err, &verr) {
			metrics.RecordValidationError(verr.Field)
		}
		return 0, err
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.id = uuid.NewString()
	s.state = StateLoading
	s.errMsg = ""
	s.request = req
	ev := s.transitionLocked()
	s.mu.Unlock()

	s.log.Info("Analysis submitted", "id", ev.ID, "generation", gen, "model", req.ModelName)
	s.publish(ev)

	go s.run(context.WithoutCancel(ctx), gen, req)
	return gen, nil
}

func (s *Session) run(ctx context.Context, gen uint64, req inference.Request) {
	resp, err := s.source.Analyze(ctx, req)
	s.complete(gen, req, resp, err)
}

func (s *Session) complete(gen uint64, req inference.Request, resp *inference.Response, err error) {
	s.mu.Lock()
	if gen != s.generation {
		current := s.generation
		s.mu.Unlock()
		metrics.RecordStaleResponse()
		s.log.Warn("Dropping stale analysis response", "generation", gen, "current", current)
		return
	}

	if err == nil && resp == nil {
		err = fmt.Errorf("inference source returned no response")
	}
	if err != nil {
		s.state = StateFailed
		s.errMsg = err.Error()
		s.result = nil
		s.selection = Selection{}
		ev := s.transitionLocked()
		s.mu.Unlock()

		metrics.RecordAnalysis("failed")
		s.log.Error("Analysis failed", "id", ev.ID, "generation", gen, "error", err)
		s.publish(ev)
		return
	}

	result := resp.Result(req)
	s.state = StateReady
	s.result = result
	s.selection = Selection{}
	ev := s.transitionLocked()
	s.mu.Unlock()

	att := result.AttentionAlignment()
	hs := result.HiddenAlignment()
	metrics.RecordAnalysis("ready")
	metrics.RecordSequenceLength(att.SeqLen)
	metrics.RecordAlignment(att.TokenCount, att.SeqLen)
	if !att.Aligned {
		s.log.Warn("Token count differs from attention sequence length", "id", ev.ID, "token_count", att.TokenCount, "seq_len", att.SeqLen)
	}
	if !hs.Aligned && hs.SeqLen != att.SeqLen {
		s.log.Warn("Token count differs from hidden-state sequence length", "id", ev.ID, "token_count", hs.TokenCount, "seq_len", hs.SeqLen)
	}
	s.log.Info("Analysis ready", "id", ev.ID, "generation", gen, "tokens", len(result.Tokens))
	s.publish(ev)
}

// transitionLocked stamps the change, wakes waiters and returns the event
// to publish once the lock is released.
func (s *Session) transitionLocked() Event {
	s.updatedAt = time.Now()
	close(s.changed)
	s.changed = make(chan struct{})
	return Event{
		ID:         s.id,
		Generation: s.generation,
		State:      s.state,
		Error:      s.errMsg,
		Selection:  s.selection,
	}
}

// Wait blocks until analysis gen settles and returns the snapshot at that
// point.
func (s *Session) Wait(ctx context.Context, gen uint64) (Snapshot, error) {
	for {
		s.mu.RLock()
		current, state, changed := s.generation, s.state, s.changed
		snap := s.snapshotLocked()
		s.mu.RUnlock()

		switch {
		case gen > current:
			return snap, fmt.Errorf("unknown generation %d (latest %d)", gen, current)
		case gen < current:
			return snap, ErrSuperseded
		case state.Settled():
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		Generation: s.generation,
		State:      s.state,
		Error:      s.errMsg,
		Request:    s.request,
		Result:     s.result,
		Selection:  s.selection,
		UpdatedAt:  s.updatedAt,
	}
	if s.result != nil {
		shape := s.result.Shape()
		att := s.result.AttentionAlignment()
		hs := s.result.HiddenAlignment()
		snap.Shape = &shape
		snap.AttentionAlignment = &att
		snap.HiddenAlignment = &hs
	}
	return snap
}

// SelectAttention changes the heatmap selection. The previous selection is
// kept when the new one is out of range.
func (s *Session) SelectAttention(layer, head int) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	att := s.result.Attentions
	if err := checkIndex(inspect.AxisLayer, layer, att.NumLayers()); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := checkIndex(inspect.AxisHead, head, att.NumHeads(layer)); err != nil {
		s.mu.Unlock()
		return err
	}
	s.selection.Layer, s.selection.Head = layer, head
	ev := s.transitionLocked()
	s.mu.Unlock()

	s.publish(ev)
	return nil
}

// SelectToken changes the token whose trajectory is charted. Only tokens
// that pair with a hidden-state position can be selected.
func (s *Session) SelectToken(index int) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	if err := checkIndex(inspect.AxisToken, index, s.result.HiddenAlignment().Pairable()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.selection.Token = index
	ev := s.transitionLocked()
	s.mu.Unlock()

	s.publish(ev)
	return nil
}

// Heatmap renders the selected attention head.
func (s *Session) Heatmap() (*inspect.Heatmap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return nil, ErrNotReady
	}
	return inspect.BuildHeatmap(s.result, s.selection.Layer, s.selection.Head, s.opts.Style)
}

// Trajectory renders the norm series of the selected token.
func (s *Session) Trajectory() (*inspect.TrajectoryView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return nil, ErrNotReady
	}
	return inspect.BuildTrajectory(s.result, s.selection.Token, s.opts.Viewport)
}

// Subscribe returns a channel of state events and a function that
// unsubscribes and closes it.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.opts.EventBuffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Debug("Subscriber behind, dropping event", "subscriber", id, "generation", ev.Generation)
		}
	}
}

func checkIndex(axis string, index, limit int) error {
	if index < 0 || index >= limit {
		metrics.RecordIndexError(axis)
		return &inspect.IndexError{Axis: axis, Index: index, Limit: limit}
	}
	return nil
}
