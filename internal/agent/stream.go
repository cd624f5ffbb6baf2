package agent

import (
	"sync"

	"github.com/agentmesh/gateway/pkg/models"
)

// IsCompleteFunc decides whether an event also resolves the stream's
// result future.
type IsCompleteFunc func(models.AgentEvent) bool

// ExtractResultFunc derives the one-shot result value from the completing
// event.
type ExtractResultFunc func(models.AgentEvent) any

// Stream is a lazy sequence of events with an attached one-shot result
// future: strictly FIFO per producer, exactly one producer permitted.
// Push appends an event and, if isComplete(event) holds, resolves the
// result future via extractResult. End closes the stream and wakes all
// iterators; pushes after End are discarded. Iterators (via Next) yield
// queued events first, then suspend for new ones; Result may be awaited
// independently of iteration.
type Stream struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []models.AgentEvent
	nextIdx    int
	closed     bool
	ended      bool
	endResult  any

	isComplete    IsCompleteFunc
	extractResult ExtractResultFunc

	resultOnce sync.Once
	resultCh   chan any
	result     any
	resultSet  bool
}

// NewStream builds a stream using isComplete/extractResult to derive the
// one-shot result. Either may be nil, in which case the result future is
// resolved only by an explicit End(result).
func NewStream(isComplete IsCompleteFunc, extractResult ExtractResultFunc) *Stream {
	s := &Stream{
		isComplete:    isComplete,
		extractResult: extractResult,
		resultCh:      make(chan any, 1),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push appends an event. It is a no-op once the stream has ended.
func (s *Stream) Push(e models.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.queue = append(s.queue, e)
	if s.isComplete != nil && s.isComplete(e) {
		s.resolveLocked(s.extract(e))
	}
	s.cond.Broadcast()
}

func (s *Stream) extract(e models.AgentEvent) any {
	if s.extractResult != nil {
		return s.extractResult(e)
	}
	return e
}

// End closes the stream and wakes all iterators. If the result future has
// not already resolved, it resolves with result now.
func (s *Stream) End(result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.closed = true
	if !s.resultSet {
		s.resolveLocked(result)
	}
	s.cond.Broadcast()
}

func (s *Stream) resolveLocked(result any) {
	if s.resultSet {
		return
	}
	s.resultSet = true
	s.result = result
	s.resultOnce.Do(func() {
		s.resultCh <- result
	})
}

// Next blocks until the next event is available or the stream has ended
// with no further queued events, returning ok=false in the latter case.
func (s *Stream) Next() (models.AgentEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.nextIdx >= len(s.queue) && !s.closed {
		s.cond.Wait()
	}
	if s.nextIdx >= len(s.queue) {
		return models.AgentEvent{}, false
	}
	e := s.queue[s.nextIdx]
	s.nextIdx++
	return e, true
}

// Result blocks until the one-shot result future resolves, independent of
// iteration progress.
func (s *Stream) Result() any {
	r := <-s.resultCh
	s.resultCh <- r // allow repeated calls to Result to observe the value
	return r
}
