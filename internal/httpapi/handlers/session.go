package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/echoroom/internal/auth"
	"github.com/suPer8Hu/echoroom/internal/common"
	"github.com/suPer8Hu/echoroom/internal/httpapi/middleware"
	"github.com/suPer8Hu/echoroom/internal/models"
)

const refreshCookie = "refreshToken"

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type updateMeReq struct {
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
}

// issueSession signs an access and refresh token pair and sets the refresh
// cookie. It writes the failure response itself and reports false.
func (h *Handler) issueSession(c *gin.Context, user *models.User) (gin.H, bool) {
	token, err := auth.SignJWT(user.ID, user.Email, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return nil, false
	}
	refresh, err := auth.SignRefresh(user.ID, user.Email, h.Cfg.JWTSecret, h.Cfg.JWTRefreshTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return nil, false
	}
	h.setRefreshCookie(c, refresh, int(h.Cfg.JWTRefreshTTL.Seconds()))
	return gin.H{"user": userView(user), "token": token, "refresh_token": refresh}, true
}

func (h *Handler) setRefreshCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookie, value, maxAge, "/", "", h.Cfg.IsProduction(), true)
}

// Refresh exchanges a refresh token, taken from the cookie or the body, for a
// new access token.
func (h *Handler) Refresh(c *gin.Context) {
	token, _ := c.Cookie(refreshCookie)
	if token == "" {
		var req refreshReq
		_ = c.ShouldBindJSON(&req)
		token = strings.TrimSpace(req.RefreshToken)
	}
	if token == "" {
		common.Fail(c, http.StatusUnauthorized, 40104, "refresh token required")
		return
	}

	claims, err := auth.ParseRefresh(token, h.Cfg.JWTSecret)
	if err != nil {
		common.Fail(c, http.StatusUnauthorized, 40105, "invalid or expired refresh token")
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40105, "invalid or expired refresh token")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	access, err := auth.SignJWT(user.ID, user.Email, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": access})
}

func (h *Handler) Logout(c *gin.Context) {
	h.setRefreshCookie(c, "", -1)
	common.OK(c, gin.H{"logged_out": true})
}

// UpdateMe changes the caller's display name and, when present, avatar URL.
func (h *Handler) UpdateMe(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req updateMeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		common.Fail(c, http.StatusBadRequest, 10007, "display name required")
		return
	}
	if len(name) > 64 {
		common.Fail(c, http.StatusBadRequest, 10005, "display name too long")
		return
	}
	if req.AvatarURL != nil && len(*req.AvatarURL) > 255 {
		common.Fail(c, http.StatusBadRequest, 10008, "avatar url too long")
		return
	}

	db := h.DB.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	user.DisplayName = name
	if req.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*req.AvatarURL)
	}
	if err := db.Save(&user).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, userView(&user))
}
