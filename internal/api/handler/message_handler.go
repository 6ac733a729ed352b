package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/pkg/response"
	messageSvc "github.com/open-apime/apime-gateway/internal/service/message"
)

type MessageHandler struct {
	service *messageSvc.Service
	log     *zap.Logger
}

func NewMessageHandler(service *messageSvc.Service, log *zap.Logger) *MessageHandler {
	return &MessageHandler{service: service, log: log}
}

func (h *MessageHandler) Register(r *gin.RouterGroup) {
	r.POST("/instances/:id/messages/text", h.sendText)
	r.POST("/instances/:id/presence", h.presence)
	r.POST("/instances/:id/contacts/check", h.checkNumbers)
}

type sendTextRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (h *MessageHandler) sendText(c *gin.Context) {
	var req sendTextRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, h.log, err)
		return
	}
	res, err := h.service.SendText(c.Request.Context(), messageSvc.SendTextInput{
		InstanceID: c.Param("id"),
		To:         req.To,
		Text:       req.Text,
	})
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

type presenceRequest struct {
	Presence string `json:"presence" binding:"required"`
}

func (h *MessageHandler) presence(c *gin.Context) {
	var req presenceRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, h.log, err)
		return
	}
	if err := h.service.SetPresence(c.Request.Context(), c.Param("id"), req.Presence); err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"presence": req.Presence})
}

type checkNumbersRequest struct {
	Phones []string `json:"phones" binding:"required,min=1"`
}

func (h *MessageHandler) checkNumbers(c *gin.Context) {
	var req checkNumbersRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, h.log, err)
		return
	}
	res, err := h.service.CheckNumbers(c.Request.Context(), c.Param("id"), req.Phones)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": res})
}
