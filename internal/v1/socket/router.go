package socket

import (
	"context"

	"github.com/tumbledice/backend/go/internal/v1/metrics"
	"github.com/tumbledice/backend/go/internal/v1/session"
	"github.com/tumbledice/backend/go/internal/v1/types"
	"github.com/tumbledice/backend/go/internal/v1/wire"
)

// routeInbound dispatches one parsed client payload. Anything outside the
// closed type schema is answered with unsupported_message_type.
func (h *Hub) routeInbound(client *Client, payload []byte) {
	ctx := context.Background()

	inbound, err := wire.DecodeInbound(payload)
	if err != nil {
		h.enqueue(client, wire.NewError(types.ReasonInvalidPayload, types.ReasonInvalidPayload, false))
		metrics.WebsocketEvents.WithLabelValues("invalid", "rejected").Inc()
		return
	}
	if !wire.IsClientMessageType(inbound.Type) {
		h.enqueue(client, wire.NewError(types.ReasonUnsupportedMessageType, types.ReasonUnsupportedMessageType, false))
		metrics.WebsocketEvents.WithLabelValues(inbound.Type, "rejected").Inc()
		return
	}

	status := "ok"
	switch inbound.Type {
	case wire.TypeTurnAction:
		status = h.handleTurnAction(ctx, client, inbound)
	case wire.TypeTurnEnd:
		status = h.handleTurnEnd(ctx, client)
	case wire.TypeRoomChannel:
		status = h.handleRoomChannel(ctx, client, inbound)
	case wire.TypePlayerNotification:
		status = h.handlePlayerNotification(client, inbound)
	case wire.TypeGameUpdate, wire.TypeChaosAttack, wire.TypeParticleEmit:
		// Cosmetic relays: fan out verbatim to everyone else in the room.
		h.relayToOthers(client, inbound)
	}
	metrics.WebsocketEvents.WithLabelValues(inbound.Type, status).Inc()
}

func (h *Hub) handleTurnAction(ctx context.Context, client *Client, inbound *wire.Inbound) string {
	var msg wire.TurnActionMessage
	if err := inbound.DecodePayload(&msg); err != nil {
		h.enqueue(client, wire.NewError(types.ReasonTurnActionInvalidPayload, types.ReasonInvalidPayload, false))
		return "rejected"
	}
	result := h.sessions.HandleTurnAction(ctx, client.sessionId, client.playerId, &msg)
	if !result.Ok {
		h.enqueue(client, wire.NewError(result.Code, result.Reason, result.Sync))
		if result.Sync {
			h.sendTurnSync(client)
		}
		return "rejected"
	}
	return "ok"
}

func (h *Hub) handleTurnEnd(ctx context.Context, client *Client) string {
	if reason := h.sessions.HandleTurnEnd(ctx, client.sessionId, client.playerId); reason != "" {
		h.enqueue(client, wire.NewError(reason, reason, true))
		h.sendTurnSync(client)
		return "rejected"
	}
	return "ok"
}

// sendTurnSync resends the authoritative turn view to one client after a
// rejected action.
func (h *Hub) sendTurnSync(client *Client) {
	live := h.world.GetSession(client.sessionId)
	if live == nil {
		return
	}
	h.enqueue(client, wire.NewSessionState(live))
	if start := turnStartFor(live); start != nil {
		h.enqueue(client, start)
	}
}

func turnStartFor(live *types.Session) *wire.TurnStartMessage {
	ts := live.TurnState
	if ts == nil || ts.ActiveTurnPlayerId == "" {
		return nil
	}
	return &wire.TurnStartMessage{
		Type:          wire.TypeTurnStart,
		PlayerId:      string(ts.ActiveTurnPlayerId),
		Round:         ts.Round,
		TurnNumber:    ts.TurnNumber,
		Phase:         ts.Phase,
		TurnExpiresAt: ts.TurnExpiresAt,
	}
}

// handleRoomChannel runs chat through the conduct pipeline: preflight,
// inbound content rules, then direct or broadcast delivery.
func (h *Hub) handleRoomChannel(ctx context.Context, client *Client, inbound *wire.Inbound) string {
	var msg wire.RoomChannelMessage
	if err := inbound.DecodePayload(&msg); err != nil {
		h.enqueue(client, wire.NewError(types.ReasonRoomChannelInvalidMessage, types.ReasonInvalidPayload, false))
		return "rejected"
	}

	now := h.world.NowMs()
	var (
		preflight types.ConductVerdict
		verdict   types.ConductVerdict
		direct    types.ConductVerdict
		missing   bool
	)
	target := types.PlayerIdType(msg.TargetPlayerId)
	_ = h.world.Update(func(data *types.StoreData) error {
		live, okSession := data.Sessions[client.sessionId]
		if !okSession {
			missing = true
			return nil
		}
		preflight = h.conduct.Preflight(live, client.playerId, now)
		if !preflight.Allowed {
			return nil
		}
		verdict = h.conduct.Inbound(live, client.playerId, msg.Content, now)
		if verdict.Allowed && target != "" {
			direct = h.conduct.Direct(live, client.playerId, target)
		}
		return nil
	})
	if missing {
		h.enqueue(client, wire.NewError(types.ReasonUnknownSession, types.ReasonUnknownSession, false))
		return "rejected"
	}

	if !preflight.Allowed {
		h.enqueue(client, wire.NewError(types.ReasonRoomChannelSenderRestricted, preflight.Reason, false))
		return "rejected"
	}
	if verdict.StateChanged {
		h.world.PersistStore(ctx)
	}
	if !verdict.Allowed {
		h.enqueue(client, wire.NewError(types.ReasonRoomChannelMessageBlocked, verdict.Reason, false))
		if verdict.ShouldAutoBan {
			h.applyConductAutoBan(ctx, client)
		}
		return "rejected"
	}

	outbound := map[string]any{
		"type":      wire.TypeRoomChannel,
		"playerId":  string(client.playerId),
		"content":   msg.Content,
		"timestamp": now,
	}
	if target != "" {
		if !direct.Allowed {
			h.enqueue(client, wire.NewError(types.ReasonRoomChannelBlocked, direct.Reason, false))
			return "rejected"
		}
		outbound["targetPlayerId"] = msg.TargetPlayerId
		h.SendToSessionPlayer(client.sessionId, target, outbound)
		return "ok"
	}
	h.BroadcastRoomChannelToSession(client.sessionId, client.playerId, outbound)
	return "ok"
}

// applyConductAutoBan records the ban and removes the participant through
// the standard deletion path.
func (h *Hub) applyConductAutoBan(ctx context.Context, client *Client) {
	now := h.world.NowMs()
	_ = h.world.Update(func(data *types.StoreData) error {
		if live, okSession := data.Sessions[client.sessionId]; okSession {
			live.RoomBans[client.playerId] = &types.BanRecord{
				PlayerId: client.playerId,
				BannedBy: client.playerId,
				Source:   session.RemoveSourceConductAutoBan,
				Reason:   types.ReasonRoomChannelMessageBlocked,
				BannedAt: now,
			}
		}
		return nil
	})
	h.sessions.RemoveParticipantFromSession(ctx, client.sessionId, client.playerId, session.RemoveOptions{
		Source:       session.RemoveSourceConductAutoBan,
		SocketReason: session.RemoveSourceConductAutoBan,
	})
}

func (h *Hub) handlePlayerNotification(client *Client, inbound *wire.Inbound) string {
	var msg wire.PlayerNotificationMessage
	if err := inbound.DecodePayload(&msg); err != nil || msg.TargetPlayerId == "" {
		h.enqueue(client, wire.NewError(types.ReasonInvalidPayload, types.ReasonInvalidPayload, false))
		return "rejected"
	}

	target := types.PlayerIdType(msg.TargetPlayerId)
	var direct types.ConductVerdict
	h.world.View(func(data *types.StoreData) {
		if live, okSession := data.Sessions[client.sessionId]; okSession {
			direct = h.conduct.Direct(live, client.playerId, target)
		}
	})
	if !direct.Allowed {
		h.enqueue(client, wire.NewError(types.ReasonInteractionBlocked, direct.Reason, false))
		return "rejected"
	}

	h.SendToSessionPlayer(client.sessionId, target, map[string]any{
		"type":     wire.TypePlayerNotification,
		"playerId": string(client.playerId),
		"payload":  msg.Payload,
	})
	return "ok"
}

// relayToOthers forwards a cosmetic payload to every other socket in the
// session, tagged with the sender.
func (h *Hub) relayToOthers(client *Client, inbound *wire.Inbound) {
	for _, peer := range h.snapshotSessionClients(client.sessionId) {
		if peer == client || peer.playerId == client.playerId {
			continue
		}
		if !h.enqueue(peer, inbound.Raw) {
			h.safeCloseSocket(peer, wire.CloseInternalError, "send_failed")
		}
	}
}
