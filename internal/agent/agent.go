// Package agent implements the single-writer actor owning one (tenant,
// path). All state mutation happens on the actor's own goroutine; public
// methods enqueue work on the mailbox and wait. Different agents run in
// parallel, one OwnerKey never does.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/stockfleet/internal/bus"
	"github.com/nextlevelbuilder/stockfleet/internal/fleet"
	"github.com/nextlevelbuilder/stockfleet/internal/store"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// Lifecycle states. Operations submitted before READY wait in the mailbox
// behind initialization; DRAINING rejects new writes, TERMINATED everything.
type State int32

const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	case StateDraining:
		return "DRAINING"
	case StateTerminated:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// mailboxSize bounds queued operations per agent.
const mailboxSize = 256

type task struct {
	fn func()
}

// Agent is the actor. Fields below the mailbox are owned by the writer
// goroutine and never touched from outside it.
type Agent struct {
	key     fleet.OwnerKey
	deps    Deps
	dataDir string

	lifecycle atomic.Int32
	ready     chan struct{}
	done      chan struct{}
	mailbox   chan task

	onTerminate func()

	st        *store.Store
	counter   int64
	children  map[string]struct{}
	agentType string
	createdAt time.Time
	inventory map[string]*store.InventoryItem
	messages  []*store.StoredMessage
	chatStats *store.ChatStats
	subs      map[string]*Subscription
	rng       *rand.Rand
}

// New creates the agent and starts its writer. onTerminate runs exactly once
// when the agent reaches TERMINATED (the registry uses it to drop its entry).
func New(key fleet.OwnerKey, dataDir string, deps Deps, onTerminate func()) *Agent {
	a := &Agent{
		key:         key,
		deps:        deps,
		dataDir:     dataDir,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		mailbox:     make(chan task, mailboxSize),
		onTerminate: onTerminate,
		children:    make(map[string]struct{}),
		inventory:   make(map[string]*store.InventoryItem),
		subs:        make(map[string]*Subscription),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	go a.run()
	return a
}

// Key returns the owner key.
func (a *Agent) Key() fleet.OwnerKey { return a.key }

// Lifecycle returns the current state.
func (a *Agent) Lifecycle() State { return State(a.lifecycle.Load()) }

// Ready is closed once initialization completes.
func (a *Agent) Ready() <-chan struct{} { return a.ready }

func (a *Agent) run() {
	a.lifecycle.Store(int32(StateInitializing))
	if err := a.initialize(); err != nil {
		slog.Error("agent.init_failed", "owner", a.key.Display(), "error", err)
		a.finish()
		return
	}
	a.lifecycle.Store(int32(StateReady))
	close(a.ready)
	slog.Info("agent.ready", "owner", a.key.Display(), "type", a.agentType,
		"counter", a.counter, "children", len(a.children))

	for {
		select {
		case t := <-a.mailbox:
			t.fn()
			if a.Lifecycle() == StateTerminated {
				a.finish()
				return
			}
		case <-a.done:
			a.finish()
			return
		}
	}
}

// initialize runs under the concurrency barrier: migrations, state load,
// inventory and message warm-up, today's chat stats.
func (a *Agent) initialize() error {
	tun := a.deps.Config.Tunables()

	st, err := store.Open(a.dataDir, a.key.String(), a.key.Path.String())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.st = st

	row, err := st.LoadFleetState()
	if err != nil {
		return err
	}
	if row == nil {
		a.agentType = tun.DefaultAgentType
		if !store.ValidAgentType(a.agentType) {
			a.agentType = store.AgentOrchestrator
		}
		a.createdAt = time.Now()
		if err := a.persistState(); err != nil {
			return err
		}
		slog.Info("agent.created", "owner", a.key.Display(), "type", a.agentType)
	} else {
		a.counter = row.Counter
		a.agentType = row.AgentType
		a.createdAt = row.CreatedAt
		for _, c := range row.Children {
			a.children[c] = struct{}{}
		}
	}

	items, err := st.ListItems()
	if err != nil {
		return err
	}
	for _, item := range items {
		a.inventory[item.SKU] = item
	}

	if err := a.warmMessages(tun.MsgMemRing); err != nil {
		return err
	}

	stats, err := st.LoadChatStats(store.StatsDate(time.Now()))
	if err != nil {
		return err
	}
	a.chatStats = stats

	return nil
}

// warmMessages loads the newest ring-size messages into memory, oldest first.
func (a *Agent) warmMessages(ringSize int) error {
	_, total, err := a.st.ListMessages(1, 0)
	if err != nil {
		return err
	}
	offset := 0
	if int(total) > ringSize {
		offset = int(total) - ringSize
	}
	msgs, _, err := a.st.ListMessages(ringSize, offset)
	if err != nil {
		return err
	}
	a.messages = msgs
	return nil
}

// finish releases resources after the loop exits.
func (a *Agent) finish() {
	a.lifecycle.Store(int32(StateTerminated))
	for _, sub := range a.subs {
		sub.Close()
	}
	a.subs = map[string]*Subscription{}
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			slog.Warn("agent.store_close_failed", "owner", a.key.Display(), "error", err)
		}
	}
	select {
	case <-a.done:
	default:
		close(a.done)
	}
	if a.onTerminate != nil {
		a.onTerminate()
	}
	slog.Info("agent.terminated", "owner", a.key.Display())
}

// do serializes fn on the actor. Operations submitted before READY queue in
// the mailbox and run once initialization completes; if initialization fails
// the queued callers observe ErrTerminated. Writes are rejected once
// draining begins.
func (a *Agent) do(ctx context.Context, write bool, fn func() error) error {
	switch a.Lifecycle() {
	case StateDraining:
		if write {
			return ErrNotReady
		}
	case StateTerminated:
		return ErrTerminated
	}

	errc := make(chan error, 1)
	t := task{fn: func() { errc <- fn() }}

	select {
	case a.mailbox <- t:
	case <-a.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-a.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown persists state and stops the actor. Used on graceful process
// exit; subtree deletion goes through DeleteSubtree instead.
func (a *Agent) Shutdown(ctx context.Context) error {
	err := a.do(ctx, false, func() error {
		a.lifecycle.Store(int32(StateDraining))
		if err := a.persistState(); err != nil {
			slog.Warn("agent.shutdown_persist_failed", "owner", a.key.Display(), "error", err)
		}
		a.lifecycle.Store(int32(StateTerminated))
		return nil
	})
	if err == ErrTerminated {
		return nil
	}
	return err
}

// persistState writes the fleet_state row from in-memory fields.
func (a *Agent) persistState() error {
	return a.st.SaveFleetState(&store.FleetStateRow{
		ID:        a.key.Path.String(),
		Counter:   a.counter,
		Children:  a.childList(),
		AgentType: a.agentType,
		CreatedAt: a.createdAt,
	})
}

// childList returns the children as a sorted slice.
func (a *Agent) childList() []string {
	out := make([]string, 0, len(a.children))
	for c := range a.children {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// stateFrame builds the current state snapshot frame.
func (a *Agent) stateFrame() protocol.StateFrame {
	return protocol.StateFrame{
		Type:    protocol.MsgState,
		Counter: a.counter,
		Agents:  a.childList(),
	}
}

// publish queues a frame on every live subscription, dropping subscriptions
// whose buffers are full. Per-subscription order matches publish order.
func (a *Agent) publish(v interface{}) {
	var dropped []string
	for id, sub := range a.subs {
		if !sub.sendJSON(v) {
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		a.dropSubscription(id, "overflow")
	}
}

// publishMessage delivers a stored message as a message frame, honoring the
// per-session dedup contract.
func (a *Agent) publishMessage(m *store.StoredMessage, from string) {
	frame := protocol.MessageFrame{
		Type:    protocol.MsgMessage,
		ID:      m.ID,
		From:    from,
		Content: m.Content,
	}
	var dropped []string
	for id, sub := range a.subs {
		if !sub.markDelivered(m.ID) {
			continue
		}
		if !sub.sendJSON(frame) {
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		a.dropSubscription(id, "overflow")
	}
}

func (a *Agent) dropSubscription(id, reason string) {
	sub, ok := a.subs[id]
	if !ok {
		return
	}
	delete(a.subs, id)
	sub.Close()
	slog.Debug("subscription.dropped", "owner", a.key.Display(), "id", id, "reason", reason)
}

// rememberMessage appends to the bounded in-memory ring.
func (a *Agent) rememberMessage(m *store.StoredMessage) {
	ring := a.deps.Config.Tunables().MsgMemRing
	a.messages = append(a.messages, m)
	if len(a.messages) > ring {
		a.messages = a.messages[len(a.messages)-ring:]
	}
}

// maybePurge deletes expired rows on roughly one request in a hundred. One
// DELETE, run inline on the writer, so it has to stay cheap.
func (a *Agent) maybePurge() {
	if a.rng.Intn(100) != 0 {
		return
	}
	retention := a.deps.Config.Tunables().MsgRetention
	n, err := a.st.PurgeMessagesBefore(time.Now().Add(-retention))
	if err != nil {
		slog.Warn("agent.purge_failed", "owner", a.key.Display(), "error", err)
		return
	}
	if n > 0 {
		slog.Debug("agent.messages_purged", "owner", a.key.Display(), "rows", n)
	}
}

// busSend publishes best-effort to the message bus, scoped to this owner.
func (a *Agent) busSend(topic string, payload interface{}) {
	if a.deps.Bus != nil {
		a.deps.Bus.Send(topic, a.key.String(), payload)
	}
}

// invalidateState evicts this agent's cached /state entry before the next
// event is published.
func (a *Agent) invalidateState() {
	a.busSend(bus.TopicCacheInvalidate, bus.CacheInvalidatePayload{
		Kind: bus.CacheKindState,
		Key:  a.key.String(),
	})
}

// invalidateInventory evicts this agent's cached inventory snapshot.
func (a *Agent) invalidateInventory() {
	a.busSend(bus.TopicCacheInvalidate, bus.CacheInvalidatePayload{
		Kind: bus.CacheKindInventory,
		Key:  a.key.String(),
	})
}
