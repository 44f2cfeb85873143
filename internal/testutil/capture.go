package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/ports"
)

// ErrNoPane is returned by MockCaptureAdapter for unknown panes.
var ErrNoPane = errors.New("no such pane")

// KeyCall records one SendKeys or SendControl call.
type KeyCall struct {
	Target  string
	Text    string
	Control bool
}

type mockPane struct {
	in     chan []byte
	closed bool
	reader bool
}

// MockCaptureAdapter implements ports.CaptureAdapter in memory.
// Output is injected with Emit; ClosePane simulates the pane exiting.
type MockCaptureAdapter struct {
	mu    sync.Mutex
	panes map[string]*mockPane
	seq   int

	ProvisionErr error
	SendErr      error

	requests   []ports.PaneRequest
	keys       []KeyCall
	interrupts []string
	terminated []string
}

// NewMockCaptureAdapter creates an empty adapter.
func NewMockCaptureAdapter() *MockCaptureAdapter {
	return &MockCaptureAdapter{panes: make(map[string]*mockPane)}
}

// ProvisionPane allocates a new in-memory pane.
func (m *MockCaptureAdapter) ProvisionPane(ctx context.Context, req ports.PaneRequest) (domain.Pane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.ProvisionErr != nil {
		return domain.Pane{}, m.ProvisionErr
	}

	m.seq++
	pane := domain.Pane{
		Session:     fmt.Sprintf("cb-%d", m.seq),
		Pane:        fmt.Sprintf("%%%d", m.seq),
		WorkDir:     req.ProjectPath,
		ProjectPath: req.ProjectPath,
		Workspace:   req.WorkspaceType,
	}
	m.panes[pane.Target()] = &mockPane{in: make(chan []byte, 256)}
	return pane, nil
}

// AddPane registers an existing pane, as if left over from a previous run.
func (m *MockCaptureAdapter) AddPane(pane domain.Pane) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panes[pane.Target()] = &mockPane{in: make(chan []byte, 256)}
}

// ReadStream forwards emitted chunks until the pane closes or ctx ends.
func (m *MockCaptureAdapter) ReadStream(ctx context.Context, pane domain.Pane) (<-chan []byte, error) {
	m.mu.Lock()
	p, ok := m.panes[pane.Target()]
	if !ok || p.closed {
		m.mu.Unlock()
		return nil, ErrNoPane
	}
	if p.reader {
		m.mu.Unlock()
		return nil, errors.New("pane already has a reader")
	}
	p.reader = true
	m.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-p.in:
				if !ok {
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Emit queues output on a pane.
func (m *MockCaptureAdapter) Emit(target string, data string) {
	m.mu.Lock()
	p, ok := m.panes[target]
	if !ok || p.closed {
		m.mu.Unlock()
		return
	}
	in := p.in
	m.mu.Unlock()
	in <- []byte(data)
}

// ClosePane ends a pane's output stream.
func (m *MockCaptureAdapter) ClosePane(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.panes[target]; ok && !p.closed {
		p.closed = true
		close(p.in)
	}
}

// SendKeys records typed text.
func (m *MockCaptureAdapter) SendKeys(ctx context.Context, pane domain.Pane, text string) error {
	return m.record(pane, KeyCall{Target: pane.Target(), Text: text})
}

// SendControl records named keys.
func (m *MockCaptureAdapter) SendControl(ctx context.Context, pane domain.Pane, keys ...string) error {
	for _, k := range keys {
		if err := m.record(pane, KeyCall{Target: pane.Target(), Text: k, Control: true}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockCaptureAdapter) record(pane domain.Pane, call KeyCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	if p, ok := m.panes[pane.Target()]; !ok || p.closed {
		return ErrNoPane
	}
	m.keys = append(m.keys, call)
	return nil
}

// Interrupt records an interrupt.
func (m *MockCaptureAdapter) Interrupt(ctx context.Context, pane domain.Pane) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupts = append(m.interrupts, pane.Target())
	return nil
}

// Terminate closes the pane.
func (m *MockCaptureAdapter) Terminate(ctx context.Context, pane domain.Pane) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, pane.Target())
	p, ok := m.panes[pane.Target()]
	if !ok {
		return ErrNoPane
	}
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	delete(m.panes, pane.Target())
	return nil
}

// HasPane reports whether the pane is alive.
func (m *MockCaptureAdapter) HasPane(ctx context.Context, pane domain.Pane) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.panes[pane.Target()]
	return ok && !p.closed
}

// Requests returns every provisioning request.
func (m *MockCaptureAdapter) Requests() []ports.PaneRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.PaneRequest(nil), m.requests...)
}

// Keys returns every recorded key call.
func (m *MockCaptureAdapter) Keys() []KeyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]KeyCall(nil), m.keys...)
}

// Interrupts returns the targets that were interrupted.
func (m *MockCaptureAdapter) Interrupts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.interrupts...)
}

// Terminated returns the targets that were terminated.
func (m *MockCaptureAdapter) Terminated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.terminated...)
}

var _ ports.CaptureAdapter = (*MockCaptureAdapter)(nil)
