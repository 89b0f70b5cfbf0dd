package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/echoroom/internal/chat"
	"github.com/suPer8Hu/echoroom/internal/common"
)

func (h *Handler) roomView(r *chat.Room) gin.H {
	return gin.H{
		"id":             r.ID,
		"slug":           r.Slug,
		"name":           r.Name,
		"description":    r.Description,
		"message_count":  r.MessageCount,
		"last_active_at": r.LastActiveAt,
		"online":         h.ChatSvc.Hub().Count(r.ID),
	}
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Repo.ListRooms(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list rooms")
		return
	}
	out := make([]gin.H, 0, len(rooms))
	for i := range rooms {
		out = append(out, h.roomView(&rooms[i]))
	}
	common.OK(c, gin.H{"rooms": out})
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.ChatSvc.Resolver().Resolve(c.Request.Context(), c.Param("ref"))
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "room not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to load room")
		return
	}
	common.OK(c, h.roomView(room))
}

// ListRoomMessages pages backwards: ?limit=N&before=<message id>.
func (h *Handler) ListRoomMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.ChatSvc.History(c.Request.Context(), c.Param("ref"), c.Query("before"), limit)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "room not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list messages")
		return
	}

	payloads := make([]chat.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		payloads = append(payloads, m.Payload())
	}
	var nextBefore string
	if len(msgs) > 0 {
		nextBefore = msgs[0].ID
	}
	common.OK(c, gin.H{
		"messages":    payloads,
		"next_before": nextBefore,
	})
}
