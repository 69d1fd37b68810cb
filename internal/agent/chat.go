package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/stockfleet/internal/model"
	"github.com/nextlevelbuilder/stockfleet/internal/store"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// Chat roles stored in the message log and replayed on open.
const (
	chatRoleUser      = "user"
	chatRoleAssistant = "assistant"
)

// Chat processes one user chat turn: echo, store, generate a reply (local
// intent shortcuts first, then the model), stream the reply and update
// today's stats. Model failures produce a fallback reply and count as an
// unsuccessful action.
func (a *Agent) Chat(ctx context.Context, content, userID string) error {
	if content = strings.TrimSpace(content); content == "" {
		return errValidation("empty chat message")
	}
	return a.do(ctx, true, func() error {
		a.rolloverStats()
		a.chatStats.MessagesToday++

		var userMeta map[string]string
		if userID != "" {
			userMeta = map[string]string{"userId": userID}
		}
		a.appendMessage(chatRoleUser, nil, content, store.MessageSystem)
		a.publish(protocol.ChatResponseFrame{
			Type:      protocol.MsgChatResponse,
			Role:      chatRoleUser,
			Content:   content,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Metadata:  userMeta,
		})

		reply, meta, executed, successful := a.generateReply(content)
		if executed {
			a.chatStats.ActionsExecuted++
			if successful {
				a.chatStats.SuccessfulActions++
			}
		}

		a.appendMessage(chatRoleAssistant, nil, reply, store.MessageSystem)
		a.publish(protocol.ChatResponseFrame{
			Type:      protocol.MsgChatResponse,
			Role:      chatRoleAssistant,
			Content:   reply,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Metadata:  meta,
		})

		a.chatStats.Recompute()
		if err := a.st.SaveChatStats(a.chatStats); err != nil {
			slog.Warn("agent.stats_store_failed", "owner", a.key.Display(), "error", err)
		}
		a.publish(a.chatStatsFrame())
		a.maybePurge()
		return nil
	})
}

// rolloverStats swaps in a fresh counter row when the UTC day changed since
// the stats were loaded.
func (a *Agent) rolloverStats() {
	today := store.StatsDate(time.Now())
	if a.chatStats.Date == today {
		return
	}
	stats, err := a.st.LoadChatStats(today)
	if err != nil {
		slog.Warn("agent.stats_load_failed", "owner", a.key.Display(), "error", err)
		stats = &store.ChatStats{Location: a.key.Path.String(), Date: today}
	}
	a.chatStats = stats
}

func (a *Agent) chatStatsFrame() protocol.ChatStatsFrame {
	return protocol.ChatStatsFrame{
		Type:            protocol.MsgChatStats,
		MessagesToday:   a.chatStats.MessagesToday,
		ActionsExecuted: a.chatStats.ActionsExecuted,
		SuccessRate:     a.chatStats.SuccessRate,
	}
}

// generateReply picks a local intent shortcut when one matches, otherwise
// asks the model. Returns the reply text, optional metadata, whether an
// action was executed and whether it succeeded.
func (a *Agent) generateReply(content string) (reply string, meta map[string]string, executed, successful bool) {
	lower := strings.ToLower(content)

	// Stock lookup shortcut: any known SKU named in the message.
	if strings.Contains(lower, "stock") || strings.Contains(lower, "inventory") {
		for sku, item := range a.inventory {
			if strings.Contains(lower, strings.ToLower(sku)) {
				return fmt.Sprintf("%s at %s: %d in stock (threshold %d)",
						item.SKU, item.Location, item.CurrentStock, item.LowStockThreshold),
					map[string]string{"intent": "stock_query", "sku": sku},
					true, true
			}
		}
	}

	// Alert summary shortcut.
	if strings.Contains(lower, "alert") || strings.Contains(lower, "low stock") {
		count, critical := 0, 0
		for _, item := range a.inventory {
			if item.CurrentStock <= item.LowStockThreshold {
				count++
				if item.CurrentStock == 0 {
					critical++
				}
			}
		}
		return fmt.Sprintf("%d low-stock alert(s) at %s, %d critical", count, a.key.Path.String(), critical),
			map[string]string{"intent": "alerts"}, true, true
	}

	if strings.Contains(lower, "help") {
		return "I can report stock levels (ask about a SKU), summarize alerts, and answer questions about this location.",
			map[string]string{"intent": "help"}, false, false
	}

	return a.modelReply(content)
}

// modelReply asks the model for a free-form answer. Any failure falls back
// to a deterministic reply and counts as an unsuccessful action.
func (a *Agent) modelReply(content string) (string, map[string]string, bool, bool) {
	if a.deps.Model == nil {
		return "I could not process that right now; try asking about stock or alerts.",
			map[string]string{"intent": "fallback"}, true, false
	}

	mctx, cancel := context.WithTimeout(context.Background(), modelTimeout)
	defer cancel()
	resp, err := a.deps.Model.Run(mctx, model.Request{
		Messages: []model.Message{
			{Role: "system", Content: "You are the inventory assistant for location " + a.key.Path.String() + "."},
			{Role: "user", Content: content},
		},
	})
	if err != nil {
		slog.Warn("agent.chat_model_failed", "owner", a.key.Display(), "error", err)
		return "I could not process that right now; try asking about stock or alerts.",
			map[string]string{"intent": "fallback"}, true, false
	}
	return resp.Text, map[string]string{"intent": "model", "provider": a.deps.Model.Name()}, true, true
}
