package agent

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/stockfleet/internal/bus"
	"github.com/nextlevelbuilder/stockfleet/internal/fleet"
	"github.com/nextlevelbuilder/stockfleet/internal/store"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// peerTimeout bounds every hierarchy fabric call.
const peerTimeout = 5 * time.Second

// Sender prefixes shown to subscribers.
const (
	prefixDirect    = "\U0001F4E8 " // 📨
	prefixBroadcast = "\U0001F4E2 " // 📢
)

// StateView is the read-only snapshot returned by State.
type StateView struct {
	Counter   int64    `json:"counter"`
	Agents    []string `json:"agents"`
	AgentType string   `json:"agentType"`
}

// State returns the counter and direct children.
func (a *Agent) State(ctx context.Context) (StateView, error) {
	var view StateView
	err := a.do(ctx, false, func() error {
		view = StateView{Counter: a.counter, Agents: a.childList(), AgentType: a.agentType}
		return nil
	})
	return view, err
}

// Increment bumps the counter, persists and broadcasts the new state.
func (a *Agent) Increment(ctx context.Context) (int64, error) {
	var counter int64
	err := a.do(ctx, true, func() error {
		a.counter++
		if err := a.persistState(); err != nil {
			a.counter--
			return errInternal(err)
		}
		counter = a.counter
		a.invalidateState()
		a.publish(a.stateFrame())
		a.maybePurge()
		return nil
	})
	return counter, err
}

// CreateChild registers a direct child segment. The child agent itself is
// created lazily by the registry on its first request.
func (a *Agent) CreateChild(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if !fleet.ValidSegment(name) {
		return errValidation("invalid agent name %q", name)
	}
	return a.do(ctx, true, func() error {
		if _, ok := a.children[name]; ok {
			return errExists("agent %q already exists", name)
		}
		a.children[name] = struct{}{}
		if err := a.persistState(); err != nil {
			delete(a.children, name)
			return errInternal(err)
		}
		a.invalidateState()
		a.publish(protocol.AgentLifecycleFrame{Type: protocol.MsgAgentCreated, Name: name})
		a.publish(a.stateFrame())
		a.maybePurge()
		return nil
	})
}

// DeleteChild removes a child entry and cascades deletion into its subtree.
// A failed cascade downgrades to a system notice; the local entry is removed
// regardless.
func (a *Agent) DeleteChild(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if !fleet.ValidSegment(name) {
		return errValidation("invalid agent name %q", name)
	}
	return a.do(ctx, true, func() error {
		if _, ok := a.children[name]; !ok {
			return errNotFound("agent %q not found", name)
		}

		childKey := a.key.Child(name)
		cascadeErr := error(nil)
		if a.deps.Peers != nil {
			rpcCtx, cancel := context.WithTimeout(context.Background(), peerTimeout)
			cascadeErr = a.deps.Peers.DeleteSubtree(rpcCtx, childKey)
			cancel()
		}

		delete(a.children, name)
		if err := a.persistState(); err != nil {
			return errInternal(err)
		}

		if cascadeErr != nil {
			slog.Warn("agent.cascade_failed", "owner", a.key.Display(), "child", name, "error", cascadeErr)
			a.storeAndPublishSystem("partial cascade: subtree of " + name + " may retain state")
		}

		a.invalidateState()
		a.publish(protocol.AgentLifecycleFrame{Type: protocol.MsgAgentDeleted, Name: name})
		a.publish(a.stateFrame())
		a.maybePurge()
		return nil
	})
}

// DeleteSubtree recursively deletes every descendant, clears this agent's
// persisted state and terminates it. Per-child failures are logged, never
// fatal.
func (a *Agent) DeleteSubtree(ctx context.Context) error {
	return a.do(ctx, true, func() error {
		a.lifecycle.Store(int32(StateDraining))
		slog.Info("agent.draining", "owner", a.key.Display())

		for name := range a.children {
			if a.deps.Peers == nil {
				break
			}
			rpcCtx, cancel := context.WithTimeout(context.Background(), peerTimeout)
			if err := a.deps.Peers.DeleteSubtree(rpcCtx, a.key.Child(name)); err != nil {
				slog.Warn("agent.subtree_child_failed", "owner", a.key.Display(), "child", name, "error", err)
			}
			cancel()
		}

		if err := a.st.ClearAll(); err != nil {
			slog.Error("agent.clear_failed", "owner", a.key.Display(), "error", err)
		}

		a.counter = 0
		a.children = map[string]struct{}{}
		a.inventory = map[string]*store.InventoryItem{}
		a.messages = nil

		// Cached reads must not outlive the deleted state.
		a.invalidateState()
		a.invalidateInventory()

		a.lifecycle.Store(int32(StateTerminated))
		return nil
	})
}

// DirectMessage forwards text to one named child and stores a confirmation
// locally.
func (a *Agent) DirectMessage(ctx context.Context, childName, text string) error {
	childName = strings.TrimSpace(childName)
	if text = strings.TrimSpace(text); text == "" {
		return errValidation("empty message")
	}
	return a.do(ctx, true, func() error {
		if _, ok := a.children[childName]; !ok {
			return errNotFound("agent %q not found", childName)
		}

		if a.deps.Peers != nil {
			rpcCtx, cancel := context.WithTimeout(context.Background(), peerTimeout)
			err := a.deps.Peers.SendMessage(rpcCtx, a.key.Child(childName), a.key.Path.String(), text, store.MessageDirect)
			cancel()
			if err != nil {
				return errInternal(err)
			}
		}

		to := childName
		msg := a.appendMessage(a.key.Path.String(), &to, text, store.MessageDirect)
		a.publishMessage(msg, prefixDirect+a.key.Path.String()+" → "+childName)
		a.busSend(bus.TopicAuditMessages, msg)
		a.maybePurge()
		return nil
	})
}

// Broadcast fans text out to every direct child in parallel and echoes it on
// this agent's own subscribers. Partial failures are logged.
func (a *Agent) Broadcast(ctx context.Context, text string) error {
	if text = strings.TrimSpace(text); text == "" {
		return errValidation("empty message")
	}
	return a.do(ctx, true, func() error {
		if a.deps.Peers != nil && len(a.children) > 0 {
			rpcCtx, cancel := context.WithTimeout(context.Background(), peerTimeout)
			defer cancel()

			g, gctx := errgroup.WithContext(rpcCtx)
			from := a.key.Path.String()
			for name := range a.children {
				childKey := a.key.Child(name)
				g.Go(func() error {
					if err := a.deps.Peers.SendMessage(gctx, childKey, from, text, store.MessageBroadcast); err != nil {
						slog.Warn("agent.broadcast_child_failed", "owner", a.key.Display(),
							"child", childKey.Path.Last(), "error", err)
					}
					return nil
				})
			}
			_ = g.Wait()
		}

		msg := a.appendMessage(a.key.Path.String(), nil, text, store.MessageBroadcast)
		a.publishMessage(msg, prefixBroadcast+a.key.Path.String())
		a.maybePurge()
		return nil
	})
}

// InboundMessage handles a message arriving over the hierarchy fabric.
func (a *Agent) InboundMessage(ctx context.Context, from, content, msgType string) error {
	if content = strings.TrimSpace(content); content == "" {
		return errValidation("empty message")
	}
	switch msgType {
	case store.MessageDirect, store.MessageBroadcast, store.MessageSystem:
	default:
		return errValidation("invalid message type %q", msgType)
	}
	return a.do(ctx, true, func() error {
		var to *string
		if msgType == store.MessageDirect {
			self := a.key.Path.String()
			to = &self
		}
		msg := a.appendMessage(from, to, content, msgType)

		display := from
		switch msgType {
		case store.MessageDirect:
			display = prefixDirect + from
		case store.MessageBroadcast:
			display = prefixBroadcast + from
		}
		a.publishMessage(msg, display)
		a.maybePurge()
		return nil
	})
}

// MessagesPage is the paged history result.
type MessagesPage struct {
	Messages   []*store.StoredMessage `json:"messages"`
	TotalCount int64                  `json:"totalCount"`
	HasMore    bool                   `json:"hasMore"`
}

// Messages returns paged history in chronological order. Limit is clamped
// to 100.
func (a *Agent) Messages(ctx context.Context, limit, offset int) (MessagesPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var page MessagesPage
	err := a.do(ctx, false, func() error {
		msgs, total, err := a.st.ListMessages(limit, offset)
		if err != nil {
			return errInternal(err)
		}
		page = MessagesPage{
			Messages:   msgs,
			TotalCount: total,
			HasMore:    int64(offset+len(msgs)) < total,
		}
		return nil
	})
	return page, err
}

// Subscribe attaches a session. The snapshot (state, chat replay, stats) is
// deferred until READY by the mailbox itself.
func (a *Agent) Subscribe(ctx context.Context, sub *Subscription) error {
	return a.do(ctx, false, func() error {
		a.subs[sub.ID] = sub
		a.sendSnapshot(sub)
		slog.Debug("subscription.opened", "owner", a.key.Display(), "id", sub.ID)
		return nil
	})
}

// Unsubscribe detaches a session. Safe on terminated agents.
func (a *Agent) Unsubscribe(id string) {
	_ = a.do(context.Background(), false, func() error {
		a.dropSubscription(id, "closed")
		return nil
	})
}

// sendSnapshot delivers the on-open sequence to one subscription: current
// state, chat history replay, today's stats.
func (a *Agent) sendSnapshot(sub *Subscription) {
	sub.sendJSON(a.stateFrame())

	for _, m := range a.messages {
		if m.FromAgent != chatRoleUser && m.FromAgent != chatRoleAssistant {
			continue
		}
		sub.sendJSON(protocol.ChatResponseFrame{
			Type:      protocol.MsgChatResponse,
			Role:      m.FromAgent,
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	sub.sendJSON(a.chatStatsFrame())
}

// Ping answers a subscription heartbeat: pong plus a state snapshot.
func (a *Agent) Ping(ctx context.Context, sub *Subscription) error {
	return a.do(ctx, false, func() error {
		sub.sendJSON(protocol.PongFrame{Type: protocol.MsgPong})
		sub.sendJSON(a.stateFrame())
		return nil
	})
}

// TestPersistence writes a probe through the store, reloads it, and reports
// back on the requesting session after the given wait. The wait happens off
// the actor so long probes cannot stall other operations.
func (a *Agent) TestPersistence(ctx context.Context, sub *Subscription, wait time.Duration) error {
	return a.do(ctx, true, func() error {
		if err := a.persistState(); err != nil {
			return errInternal(err)
		}
		row, err := a.st.LoadFleetState()
		if err != nil || row == nil || row.Counter != a.counter {
			return errInternal(err)
		}

		counter := a.counter
		time.AfterFunc(wait, func() {
			sub.sendJSON(protocol.MessageFrame{
				Type:    protocol.MsgMessage,
				From:    "system",
				Content: "persistence verified: counter=" + strconv.FormatInt(counter, 10),
			})
		})
		return nil
	})
}

// appendMessage stores a message, keeps it in the ring and returns it.
// Store failures are logged, the in-memory copy still flows to subscribers.
func (a *Agent) appendMessage(from string, to *string, content, msgType string) *store.StoredMessage {
	msg := &store.StoredMessage{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Timestamp:   time.Now(),
		FromAgent:   from,
		ToAgent:     to,
		Content:     content,
		MessageType: msgType,
		Location:    a.key.Path.String(),
	}
	if err := a.st.AppendMessage(msg); err != nil {
		slog.Warn("agent.message_store_failed", "owner", a.key.Display(), "error", err)
	}
	a.rememberMessage(msg)
	return msg
}

// storeAndPublishSystem emits a system notice to subscribers.
func (a *Agent) storeAndPublishSystem(content string) {
	msg := a.appendMessage("system", nil, content, store.MessageSystem)
	a.publishMessage(msg, "system")
}
