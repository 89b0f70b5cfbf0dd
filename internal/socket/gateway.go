// Package socket exposes the chat core over WebSocket.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/echoroom/internal/chat"
	"github.com/suPer8Hu/echoroom/internal/identity"
	"github.com/suPer8Hu/echoroom/internal/metrics"
)

var (
	PingInterval = 25 * time.Second
	WriteTimeout = 10 * time.Second
	ReadLimit    = int64(64 << 10)
)

type Gateway struct {
	svc            *chat.Service
	binder         *identity.Binder
	logger         zerolog.Logger
	originPatterns []string
}

func NewGateway(svc *chat.Service, binder *identity.Binder, logger zerolog.Logger, originPatterns ...string) *Gateway {
	return &Gateway{svc: svc, binder: binder, logger: logger, originPatterns: originPatterns}
}

// Handle upgrades the request and serves the connection until it closes.
// A token query parameter identifies the connection right away.
func (g *Gateway) Handle(c *gin.Context) {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(ReadLimit)

	conn := newConn()
	log := g.logger.With().Str("conn_id", conn.ID()).Logger()
	metrics.Connections.Inc()
	log.Debug().Str("remote_addr", c.ClientIP()).Msg("connection opened")

	ctx, cancel := context.WithCancel(c.Request.Context())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, ws, conn, log)
		cancel()
	}()

	if tok := c.Query("token"); tok != "" {
		g.identify(ctx, conn, tok)
	}

	g.readLoop(ctx, ws, conn, log)

	g.svc.Disconnect(conn)
	conn.close()
	cancel()
	<-writerDone
	_ = ws.Close(websocket.StatusNormalClosure, "")
	metrics.Connections.Dec()
	log.Debug().Msg("connection closed")
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn, log zerolog.Logger) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			conn.Send(errorEvent("binary frames are not supported", ""))
			continue
		}
		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			conn.Send(errorEvent("malformed frame", ""))
			continue
		}
		g.dispatch(ctx, conn, frame, log)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, ws *websocket.Conn, conn *Conn, log zerolog.Logger) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, ws, ev)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("event", ev.Type).Msg("write failed")
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// dispatch handles one frame. Failures become error events; the connection
// stays open.
func (g *Gateway) dispatch(ctx context.Context, conn *Conn, frame inbound, log zerolog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("event", frame.Type).Msg("event handler panicked")
			conn.Send(errorEvent("internal error", ""))
		}
	}()

	switch frame.Type {
	case chat.EventIdentify:
		var req identifyReq
		if !decode(conn, frame.Data, &req) {
			return
		}
		g.identify(ctx, conn, req.Credential)

	case chat.EventRoomJoin:
		var req roomReq
		if !decode(conn, frame.Data, &req) {
			return
		}
		if _, err := g.svc.Join(ctx, conn, conn.sender(), req.RoomRef); err != nil {
			g.fail(conn, err, "", log)
		}

	case chat.EventRoomLeave:
		var req roomReq
		if !decode(conn, frame.Data, &req) {
			return
		}
		if _, err := g.svc.Leave(ctx, conn, req.RoomRef); err != nil {
			g.fail(conn, err, "", log)
		}

	case chat.EventMessageSend:
		var req sendReq
		if !decode(conn, frame.Data, &req) {
			return
		}
		res, err := g.svc.SendMessage(ctx, conn.sender(), chat.SendRequest{
			RoomRef:       req.RoomRef,
			Text:          req.Text,
			CorrelationID: req.CorrelationID,
			ParentID:      req.ParentID,
		})
		if err != nil {
			g.fail(conn, err, req.CorrelationID, log)
			return
		}
		conn.Send(chat.Event{Type: chat.EventMessageAck, Data: chat.AckPayload{
			CorrelationID: req.CorrelationID,
			RealID:        res.Message.ID,
			Seq:           res.Message.Seq,
		}})

	case chat.EventTypingStart, chat.EventTypingStop:
		var req roomReq
		if !decode(conn, frame.Data, &req) {
			return
		}
		// typing is best effort
		if err := g.svc.Typing(ctx, conn, conn.sender(), req.RoomRef, frame.Type == chat.EventTypingStart); err != nil {
			log.Debug().Err(err).Msg("typing ignored")
		}

	case chat.EventRecoveryRequest:
		var req recoveryReq
		if !decode(conn, frame.Data, &req) {
			return
		}
		batch, err := g.svc.Recover(ctx, conn.sender(), req.RoomRef, req.LastSeenSeq)
		if err != nil {
			g.fail(conn, err, "", log)
			return
		}
		if batch != nil {
			conn.Send(batch.Event())
		}

	default:
		conn.Send(errorEvent(fmt.Sprintf("unknown event %q", frame.Type), ""))
	}
}

func (g *Gateway) identify(ctx context.Context, conn *Conn, credential string) {
	id, err := g.binder.Identify(ctx, conn, credential)
	switch {
	case errors.Is(err, identity.ErrAlreadyIdentified):
		conn.Send(chat.Event{Type: chat.EventIdentifyError, Data: chat.IdentifyErrorPayload{Reason: "already identified"}})
	case err != nil:
		conn.Send(chat.Event{Type: chat.EventIdentifyError, Data: chat.IdentifyErrorPayload{Reason: "invalid credential"}})
	default:
		conn.Send(chat.Event{Type: chat.EventIdentified, Data: chat.IdentifiedPayload{UserID: id.String(), Label: id.Label}})
	}
}

func (g *Gateway) fail(conn *Conn, err error, correlationID string, log zerolog.Logger) {
	msg := errorMessage(err)
	if msg == "internal error" {
		log.Error().Err(err).Msg("operation failed")
	}
	conn.Send(errorEvent(msg, correlationID))
}

// errorMessage maps the chat error taxonomy to client-facing text.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrNotAuthenticated):
		return "not authenticated"
	case errors.Is(err, chat.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, chat.ErrParentNotFound):
		return "parent message not found"
	case errors.Is(err, chat.ErrValidation):
		return err.Error()
	case errors.Is(err, chat.ErrPersistence), errors.Is(err, chat.ErrNotBootstrapped):
		return "message store unavailable, retry later"
	default:
		return "internal error"
	}
}

func errorEvent(msg, correlationID string) chat.Event {
	return chat.Event{Type: chat.EventError, Data: chat.ErrorPayload{Message: msg, CorrelationID: correlationID}}
}

func decode(conn *Conn, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		conn.Send(errorEvent("malformed payload", ""))
		return false
	}
	return true
}
