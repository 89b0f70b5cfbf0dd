package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/echoroom/internal/chat"
	"github.com/suPer8Hu/echoroom/internal/common"
	"github.com/suPer8Hu/echoroom/internal/config"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Repo    *chat.Repo
}

func NewHandler(db *gorm.DB, cfg config.Config, svc *chat.Service) *Handler {
	return &Handler{DB: db, Cfg: cfg, ChatSvc: svc, Repo: chat.NewRepo(db)}
}

func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		common.Fail(c, http.StatusServiceUnavailable, 50300, "database unavailable")
		return
	}
	common.OK(c, gin.H{"status": "ok"})
}
