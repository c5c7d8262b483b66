package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/chat"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/usage"
)

// ChatHandler serves the chat endpoints.
type ChatHandler struct {
	chat *chat.Service
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(chatSvc *chat.Service) *ChatHandler {
	return &ChatHandler{chat: chatSvc}
}

type chatRequest struct {
	Message string `json:"message"`
}

// Send runs one metered chat turn.
func (h *ChatHandler) Send(c *gin.Context) {
	var body chatRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid json")
		return
	}

	result, errSend := h.chat.Send(c.Request.Context(), middleware.UserID(c), body.Message)
	if errSend != nil {
		if reason, denied := usage.IsDenied(errSend); denied {
			middleware.AbortWithError(c, http.StatusPaymentRequired, reason.Message())
			return
		}
		switch {
		case errors.Is(errSend, chat.ErrEmptyMessage):
			middleware.AbortWithError(c, http.StatusBadRequest, "Message cannot be empty")
		case errors.Is(errSend, chat.ErrUpstreamFailure):
			middleware.AbortWithError(c, http.StatusBadGateway, chat.ErrUpstreamFailure.Error())
		default:
			log.WithError(errSend).Error("chat: send failed")
			middleware.AbortWithError(c, http.StatusInternalServerError, "chat failed")
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// History returns the user's conversation, oldest first.
func (h *ChatHandler) History(c *gin.Context) {
	history, errHistory := h.chat.History(c.Request.Context(), middleware.UserID(c))
	if errHistory != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "load history failed")
		return
	}
	c.JSON(http.StatusOK, history)
}
