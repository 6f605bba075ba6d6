// Package mcp is the agent-facing IPC/announce surface: external agents
// register as concept handlers and exchange messages by ConceptID.
// Delivery rides the broadcast engine; each announced agent owns a
// bounded mailbox drained by its recv calls.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sutraworks/sutra/pkg/broadcast"
	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/executor"
)

const (
	// mailboxCapacity bounds each agent's pending messages; the oldest
	// message gives way when full.
	mailboxCapacity = 64

	// maxAnnouncesPerAgent bounds concept registrations per agent.
	maxAnnouncesPerAgent = 16
)

// Message is one delivered intent.
type Message struct {
	Concept    uint64  `json:"concept"`
	Name       string  `json:"name,omitempty"`
	Text       string  `json:"text,omitempty"`
	Activation float32 `json:"activation"`
	Timestamp  uint64  `json:"timestamp"`
}

// Backend is the capability contract exposed to MCP tools.
type Backend interface {
	ParseIntent(ctx context.Context, text string) (map[string]any, error)
	Announce(ctx context.Context, agentID, conceptName string) (map[string]any, error)
	Send(ctx context.Context, conceptName, text string) (map[string]any, error)
	Recv(ctx context.Context, agentID string, max int) (map[string]any, error)
	Stats(ctx context.Context) (map[string]any, error)
}

// agent is one announced peer.
type agent struct {
	id        string
	mailbox   []Message
	announced []string // handler names, for teardown
}

// Bridge implements Backend over the executor and handler registry.
type Bridge struct {
	exec  *executor.Executor
	clock core.Clock

	mu     sync.Mutex
	agents map[string]*agent

	delivered uint64
	dropped   uint64
}

// NewBridge creates the IPC bridge.
func NewBridge(exec *executor.Executor, clock core.Clock) *Bridge {
	return &Bridge{
		exec:   exec,
		clock:  clock,
		agents: make(map[string]*agent),
	}
}

// ParseIntent is the MCP rendition of the PARSE_INTENT entry point.
func (b *Bridge) ParseIntent(ctx context.Context, text string) (map[string]any, error) {
	res, out, err := b.exec.ExecuteText(text, b.clock.NowMicros())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"concept":    fmt.Sprintf("%#016x", uint64(res.Concept)),
		"name":       core.ConceptName(res.Concept),
		"confidence": res.Confidence,
		"stage":      res.Stage.String(),
		"handled":    out.Handled,
		"output":     out.Output(),
	}, nil
}

// Announce registers an agent as a handler for a concept. An empty
// agentID mints a fresh identity. Kernel-range concepts are refused.
func (b *Bridge) Announce(ctx context.Context, agentID, conceptName string) (map[string]any, error) {
	if conceptName == "" {
		return nil, fmt.Errorf("%w: concept name is required", core.ErrInvalidInput)
	}
	concept := core.ConceptFromName(conceptName)
	if concept.IsKernel() {
		return nil, fmt.Errorf("%w: %q resolves into the kernel range", core.ErrReservedRange, conceptName)
	}

	b.mu.Lock()
	if agentID == "" {
		agentID = uuid.New().String()
	}
	a, ok := b.agents[agentID]
	if !ok {
		a = &agent{id: agentID}
		b.agents[agentID] = a
	}
	if len(a.announced) >= maxAnnouncesPerAgent {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: agent %s at announce limit", core.ErrResourceExhausted, agentID)
	}
	handlerName := fmt.Sprintf("ipc:%s:%s", agentID, conceptName)
	a.announced = append(a.announced, handlerName)
	b.mu.Unlock()

	err := b.exec.Registry().Register(concept, func(intent core.Intent) broadcast.Result {
		b.deliver(agentID, intent)
		return broadcast.Handle("")
	}, handlerName, broadcast.Options{Priority: 64})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"agent_id": agentID,
		"concept":  fmt.Sprintf("%#016x", uint64(concept)),
	}, nil
}

// Send broadcasts a message intent by concept name.
func (b *Bridge) Send(ctx context.Context, conceptName, text string) (map[string]any, error) {
	if conceptName == "" {
		return nil, fmt.Errorf("%w: concept name is required", core.ErrInvalidInput)
	}
	concept := core.ConceptFromName(conceptName)
	if concept.IsKernel() {
		return nil, fmt.Errorf("%w: %q resolves into the kernel range", core.ErrReservedRange, conceptName)
	}

	out := b.exec.PublishIntent(concept, core.TextPayload(text), b.clock.NowMicros())
	return map[string]any{
		"handled": out.Handled,
		"fired":   len(out.Fired),
	}, nil
}

// Recv drains up to max messages from an agent's mailbox.
func (b *Bridge) Recv(ctx context.Context, agentID string, max int) (map[string]any, error) {
	if max <= 0 || max > mailboxCapacity {
		max = mailboxCapacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", core.ErrNotFound, agentID)
	}
	n := len(a.mailbox)
	if n > max {
		n = max
	}
	msgs := append([]Message(nil), a.mailbox[:n]...)
	a.mailbox = a.mailbox[n:]

	return map[string]any{
		"messages":  msgs,
		"remaining": len(a.mailbox),
	}, nil
}

// Stats reports bridge and core statistics.
func (b *Bridge) Stats(ctx context.Context) (map[string]any, error) {
	b.mu.Lock()
	agents := len(b.agents)
	delivered, dropped := b.delivered, b.dropped
	b.mu.Unlock()

	return map[string]any{
		"agents":    agents,
		"delivered": delivered,
		"dropped":   dropped,
		"core":      b.exec.Stats(),
	}, nil
}

// deliver appends an intent to an agent mailbox, dropping the oldest
// message at capacity.
func (b *Bridge) deliver(agentID string, intent core.Intent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.agents[agentID]
	if !ok {
		return
	}
	if len(a.mailbox) >= mailboxCapacity {
		a.mailbox = a.mailbox[1:]
		b.dropped++
	}
	a.mailbox = append(a.mailbox, Message{
		Concept:    uint64(intent.Concept),
		Name:       core.ConceptName(intent.Concept),
		Text:       intent.Payload.Text,
		Activation: intent.Activation,
		Timestamp:  intent.Timestamp,
	})
	b.delivered++
}

// Disconnect unregisters every handler an agent announced and drops its
// mailbox.
func (b *Bridge) Disconnect(agentID string) {
	b.mu.Lock()
	a, ok := b.agents[agentID]
	if ok {
		delete(b.agents, agentID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	for _, name := range a.announced {
		b.exec.Registry().Unregister(name)
	}
}
