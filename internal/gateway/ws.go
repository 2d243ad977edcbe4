// ABOUTME: WebSocket endpoints for end-user and operator channels
// ABOUTME: One read loop per connection; frames are decoded strictly and dispatched to the conversation service

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/conversation"
	"github.com/2389/handoff-gateway/internal/protocol"
	"github.com/2389/handoff-gateway/internal/registry"
)

// wsChannel adapts a WebSocket connection to registry.Channel.
type wsChannel struct {
	id        string
	kind      registry.Kind
	subjectID int64
	conn      *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func newWSChannel(conn *websocket.Conn, kind registry.Kind, subjectID int64) *wsChannel {
	return &wsChannel{
		id:        uuid.New().String(),
		kind:      kind,
		subjectID: subjectID,
		conn:      conn,
	}
}

// Send writes one text frame. The caller's cancellation is not propagated,
// because coder/websocket closes the connection when a write is canceled and
// the caller is often serving a different connection. There is no write
// deadline: a stalled peer is dropped when its read loop ends or a later
// connection supersedes it.
func (c *wsChannel) Send(ctx context.Context, frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frame.Type(), err)
	}

	return c.conn.Write(context.WithoutCancel(ctx), websocket.MessageText, data)
}

func (c *wsChannel) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return c.closeErr
}

// parsePathID reads a positive integer path value.
func parsePathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

// acceptChannel authenticates the handshake and upgrades the connection.
// On failure it has already written the HTTP response.
func (g *Gateway) acceptChannel(w http.ResponseWriter, r *http.Request, kind registry.Kind, param string) (*wsChannel, bool) {
	id, err := parsePathID(r, param)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	if err := g.auth.AuthorizeChannel(r, string(kind), id); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrForbidden) {
			status = http.StatusForbidden
		}
		g.logger.Warn("channel handshake rejected", "kind", kind, "id", id, "error", err)
		g.sendJSONError(w, status, http.StatusText(status))
		return nil, false
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.Server.AllowedOrigins,
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "kind", kind, "id", id, "error", err)
		return nil, false
	}
	conn.SetReadLimit(g.config.Server.ReadLimit)

	ch := newWSChannel(conn, kind, id)
	g.registry.Register(kind, id, ch)
	return ch, true
}

// readLoop reads text messages until the connection ends and hands each one
// to dispatch.
func (g *Gateway) readLoop(ctx context.Context, ch *wsChannel, dispatch func(ctx context.Context, data []byte)) {
	logger := g.logger.With("kind", ch.kind, "id", ch.subjectID, "channel", ch.id)

	defer func() {
		g.registry.Unregister(ch)
		_ = ch.Close("")
	}()

	for {
		typ, data, err := ch.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Debug("channel closed by peer")
			} else {
				logger.Debug("channel read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			g.reply(ctx, ch, protocol.Error{Message: "invalid frame: binary messages are not supported"})
			continue
		}
		dispatch(ctx, data)
	}
}

// reply writes a frame back on the connection that triggered it.
func (g *Gateway) reply(ctx context.Context, ch *wsChannel, frame protocol.Frame) {
	if err := ch.Send(ctx, frame); err != nil {
		g.logger.Debug("reply failed", "kind", ch.kind, "id", ch.subjectID, "frame", frame.Type(), "error", err)
		g.registry.Unregister(ch)
		_ = ch.Close("write failed")
	}
}

func (g *Gateway) replyError(ctx context.Context, ch *wsChannel, err error) {
	msg := conversation.UserMessage(err)
	if errors.Is(err, protocol.ErrInvalidFrame) {
		msg = err.Error()
	}
	g.reply(ctx, ch, protocol.Error{Message: msg})
}

// handleUserChannel serves GET /ws/user/{sess_id}.
func (g *Gateway) handleUserChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := g.acceptChannel(w, r, registry.KindUser, "sess_id")
	if !ok {
		return
	}
	g.readLoop(r.Context(), ch, func(ctx context.Context, data []byte) {
		g.dispatchUser(ctx, ch, data)
	})
}

func (g *Gateway) dispatchUser(ctx context.Context, ch *wsChannel, data []byte) {
	frame, err := protocol.DecodeUser(data)
	if err != nil {
		g.replyError(ctx, ch, err)
		return
	}

	switch f := frame.(type) {
	case protocol.Message:
		out, err := g.conversation.HandleUserMessage(ctx, ch.subjectID, f.Message)
		if err != nil {
			g.logger.Error("handling user message", "conversation_id", ch.subjectID, "error", err)
			g.replyError(ctx, ch, err)
			return
		}
		// an escalation already reached this channel as human_alert
		if out.Reply != "" && !out.Escalated {
			g.reply(ctx, ch, protocol.BotMessage{Message: out.Reply})
		}
	}
}

// handleAgentChannel serves GET /ws/agent/{agent_id}.
func (g *Gateway) handleAgentChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := g.acceptChannel(w, r, registry.KindAgent, "agent_id")
	if !ok {
		return
	}
	g.readLoop(r.Context(), ch, func(ctx context.Context, data []byte) {
		g.dispatchOperator(ctx, ch, data)
	})
}

func (g *Gateway) dispatchOperator(ctx context.Context, ch *wsChannel, data []byte) {
	frame, err := protocol.DecodeOperator(data)
	if err != nil {
		g.replyError(ctx, ch, err)
		return
	}

	operatorID := ch.subjectID
	logger := g.logger.With("operator_id", operatorID, "frame", frame.Type())

	switch f := frame.(type) {
	case protocol.Takeover:
		if err := g.conversation.AttemptTakeover(ctx, f.SessID, operatorID); err != nil {
			g.logOperatorError(logger, f.SessID, err)
			g.replyError(ctx, ch, err)
			return
		}
		g.reply(ctx, ch, protocol.OK{Action: protocol.ActionTakenOver, SessID: f.SessID})

	case protocol.Reply:
		if err := g.conversation.HandleOperatorReply(ctx, f.SessID, operatorID, f.Message); err != nil {
			g.logOperatorError(logger, f.SessID, err)
			g.replyError(ctx, ch, err)
		}

	case protocol.Resolve:
		if err := g.conversation.Resolve(ctx, f.SessID, operatorID); err != nil {
			g.logOperatorError(logger, f.SessID, err)
			g.replyError(ctx, ch, err)
			return
		}
		g.reply(ctx, ch, protocol.OK{Action: protocol.ActionResolved, SessID: f.SessID})
	}
}

// logOperatorError logs arbitration refusals quietly and everything else loudly.
func (g *Gateway) logOperatorError(logger *slog.Logger, conversationID int64, err error) {
	if conversation.UserMessage(err) != conversation.GenericErrorText {
		logger.Info("operator request refused", "conversation_id", conversationID, "reason", err)
		return
	}
	logger.Error("operator request failed", "conversation_id", conversationID, "error", err)
}
