// Package session is the process-wide registry of live calls. External
// controllers inject commands through it; the owning call goroutine is
// the only consumer.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxbridge/phone-agent/types"
)

var (
	ErrNotRegistered = errors.New("call not registered")
	ErrMailboxFull   = errors.New("a command is already pending for this call")
)

type EventType string

const (
	EventCallStarted EventType = "call_started"
	EventCallEnded   EventType = "call_ended"
)

type Event struct {
	Type     EventType
	CallID   string
	CallerID string
	Time     time.Time
}

type entry struct {
	call *types.CallSession
	// mailbox holds at most one undelivered command, so a command sent
	// between turns survives until the session next checks.
	mailbox chan types.Command
}

type Manager struct {
	log *slog.Logger

	mu    sync.RWMutex
	calls map[string]*entry

	events chan Event
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:    log,
		calls:  make(map[string]*entry),
		events: make(chan Event, 64),
	}
}

// Events delivers call lifecycle notifications to observers. Events are
// dropped, not blocked on, when nobody drains the channel.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) Register(call *types.CallSession) {
	m.mu.Lock()
	m.calls[call.ID] = &entry{
		call:    call,
		mailbox: make(chan types.Command, 1),
	}
	m.mu.Unlock()

	m.log.Info("call registered", "call_id", call.ID, "direction", call.Direction)
	m.publish(Event{Type: EventCallStarted, CallID: call.ID, CallerID: call.CallerID, Time: time.Now()})
}

func (m *Manager) Unregister(callID string) {
	m.mu.Lock()
	e, ok := m.calls[callID]
	delete(m.calls, callID)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.log.Info("call deregistered", "call_id", callID)
	m.publish(Event{Type: EventCallEnded, CallID: callID, CallerID: e.call.CallerID, Time: time.Now()})
}

// SendCommand delivers cmd to the call's mailbox. It fails if the call is
// not registered or a previous command has not been consumed yet.
func (m *Manager) SendCommand(callID string, cmd types.Command) error {
	m.mu.RLock()
	e, ok := m.calls[callID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}

	select {
	case e.mailbox <- cmd:
		m.log.Info("command queued", "call_id", callID, "type", cmd.Type)
		return nil
	default:
		return ErrMailboxFull
	}
}

// WaitForCommand blocks the call's own control flow until a command
// arrives. A nil command with nil error means the timeout elapsed, which
// is a normal outcome between turns.
func (m *Manager) WaitForCommand(ctx context.Context, callID string, timeout time.Duration) (*types.Command, error) {
	m.mu.RLock()
	e, ok := m.calls[callID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotRegistered
	}

	if timeout <= 0 {
		// Non-blocking drain.
		select {
		case cmd := <-e.mailbox:
			return &cmd, nil
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case cmd := <-e.mailbox:
		return &cmd, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active returns read-only snapshots of the registered calls.
func (m *Manager) Active() []*types.CallSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.CallSession, 0, len(m.calls))
	for _, e := range m.calls {
		out = append(out, e.call)
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}
