package qa

import (
	"context"
	"sync"
)

// Event names, in the order a stream emits them: one meta, any number of deltas,
// one citations, one done.
const (
	EventMeta      = "meta"
	EventDelta     = "delta"
	EventCitations = "citations"
	EventDone      = "done"
)

// Event is one item on an answer stream. Data is Meta, Delta, []models.Citation, or
// an empty struct for done.
type Event struct {
	Type string
	Data any
}

// Meta opens every stream.
type Meta struct {
	ConversationID        string  `json:"conversation_id"`
	NeedsClarification    bool    `json:"needs_clarification"`
	ClarificationQuestion *string `json:"clarification_question"`
}

// Delta carries a piece of the answer text.
type Delta struct {
	Content string `json:"content"`
}

// Stream is a pull-based sequence of answer events produced by a background goroutine.
//
//	for s.Next() {
//		ev := s.Event()
//		...
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	cur       Event
	err       error
	closeOnce sync.Once
}

func newStream(parent context.Context) *Stream {
	ctx, cancel := context.WithCancel(parent)
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

// Next waits for the next event. It returns false once the stream has ended.
func (s *Stream) Next() bool {
	ev, ok := <-s.events
	if !ok {
		return false
	}
	s.cur = ev
	return true
}

// Event returns the event read by the last successful Next.
func (s *Stream) Event() Event {
	return s.cur
}

// Err returns the error that ended the stream early, if any. It is only meaningful after
// Next has returned false.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close abandons generation and waits for the producer to stop. It is safe to call
// more than once and after the stream has ended.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.events {
		}
	})
	<-s.done
	return nil
}

func (s *Stream) emit(ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Stream) emitAll(events ...Event) error {
	for _, ev := range events {
		if err := s.emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// finish is called once by the producer when it returns.
func (s *Stream) finish() {
	close(s.done)
	close(s.events)
	s.cancel()
}
