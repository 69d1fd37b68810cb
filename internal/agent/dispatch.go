package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// HandleFrame dispatches one client frame from a subscription. Unknown
// types and operation failures become error frames on the same channel; the
// session itself is never dropped here.
func (a *Agent) HandleFrame(ctx context.Context, sub *Subscription, f *protocol.Frame) {
	var err error

	switch f.Type {
	case protocol.MsgIncrement:
		_, err = a.Increment(ctx)

	case protocol.MsgCreateAgent:
		var cmd protocol.NameFrame
		if err = f.Decode(&cmd); err == nil {
			err = a.CreateChild(ctx, cmd.Name)
		}

	case protocol.MsgDeleteAgent:
		var cmd protocol.NameFrame
		if err = f.Decode(&cmd); err == nil {
			err = a.DeleteChild(ctx, cmd.Name)
		}

	case protocol.MsgDirectMessage:
		var cmd protocol.DirectMessageFrame
		if err = f.Decode(&cmd); err == nil {
			err = a.DirectMessage(ctx, cmd.AgentName, cmd.Message)
		}

	case protocol.MsgBroadcast:
		var cmd protocol.BroadcastFrame
		if err = f.Decode(&cmd); err == nil {
			err = a.Broadcast(ctx, cmd.Message)
		}

	case protocol.MsgPing:
		err = a.Ping(ctx, sub)

	case protocol.MsgPong:
		// Liveness is tracked by the transport's read deadline.

	case protocol.MsgStockUpdate:
		var cmd protocol.StockUpdateFrame
		if err = f.Decode(&cmd); err == nil {
			_, err = a.ApplyStock(ctx, StockUpdate{
				SKU:       cmd.SKU,
				Quantity:  cmd.Quantity,
				Operation: cmd.Operation,
			})
		}

	case protocol.MsgStockQuery:
		var cmd protocol.StockQueryFrame
		if err = f.Decode(&cmd); err == nil {
			err = a.handleStockQuery(ctx, sub, cmd.SKU)
		}

	case protocol.MsgInventorySync:
		var cmd protocol.InventorySyncFrame
		if err = f.Decode(&cmd); err == nil {
			err = a.handleInventorySync(ctx, sub, cmd.Updates)
		}

	case protocol.MsgChatMessage:
		var cmd protocol.ChatMessageFrame
		if err = f.Decode(&cmd); err == nil {
			err = a.Chat(ctx, cmd.Content, cmd.UserID)
		}

	case protocol.MsgTestPersistence:
		err = a.TestPersistence(ctx, sub, 0)

	case protocol.MsgTestPersistence25:
		err = a.TestPersistence(ctx, sub, 25*time.Second)

	default:
		sub.sendJSON(protocol.NewErrorFrame(protocol.ErrValidation, "Unknown message type", f.Type))
		return
	}

	if err != nil {
		sub.sendJSON(errorFrameFor(err))
	}
}

func (a *Agent) handleStockQuery(ctx context.Context, sub *Subscription, sku string) error {
	item, err := a.StockQuery(ctx, sku)
	if err != nil {
		return err
	}
	resp := protocol.StockResponseFrame{
		Type:     protocol.MsgStockResponse,
		SKU:      sku,
		Location: a.key.Path.String(),
	}
	if item != nil {
		resp.Quantity = item.CurrentStock
		resp.Available = true
	}
	sub.sendJSON(resp)
	return nil
}

func (a *Agent) handleInventorySync(ctx context.Context, sub *Subscription, plain []protocol.StockUpdatePlain) error {
	updates := make([]StockUpdate, len(plain))
	for i, u := range plain {
		updates[i] = StockUpdate{SKU: u.SKU, Quantity: u.Quantity, Operation: u.Operation}
	}
	result, err := a.InventorySync(ctx, updates)
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("inventory sync: %d applied, %d failed", result.Successful, result.Failed)
	sub.sendJSON(protocol.MessageFrame{Type: protocol.MsgMessage, From: "system", Content: summary})
	return nil
}

// errorFrameFor maps an operation error to the protocol error shape.
func errorFrameFor(err error) protocol.ErrorFrame {
	var e *Error
	if errors.As(err, &e) {
		return protocol.NewErrorFrame(e.Code, e.Message, "")
	}
	return protocol.NewErrorFrame(protocol.ErrInternal, err.Error(), "")
}
