package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/pkg/response"
	instanceSvc "github.com/open-apime/apime-gateway/internal/service/instance"
	"github.com/open-apime/apime-gateway/internal/webhook/delivery"
)

type WebhookHandler struct {
	service *instanceSvc.Service
	log     *zap.Logger
}

func NewWebhookHandler(service *instanceSvc.Service, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, log: log}
}

func (h *WebhookHandler) Register(r *gin.RouterGroup) {
	r.POST("/instances/:id/webhook/test", h.test)
	r.GET("/instances/:id/webhook/status", h.status)
}

type testWebhookRequest struct {
	Event string `json:"event"`
}

// testWebhookResponse devolve o evento sintetizado no mesmo formato do POST entregue.
type testWebhookResponse struct {
	Queued  bool   `json:"queued"`
	EventID string `json:"eventId"`
	delivery.Body
}

func (h *WebhookHandler) test(c *gin.Context) {
	var req testWebhookRequest
	if err := bindJSON(c, &req, true); err != nil {
		response.Error(c, h.log, err)
		return
	}
	evt, err := h.service.TestWebhook(c.Request.Context(), c.Param("id"), req.Event)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, testWebhookResponse{
		Queued:  true,
		EventID: evt.ID,
		Body:    delivery.BodyFor(evt),
	})
}

func (h *WebhookHandler) status(c *gin.Context) {
	st, err := h.service.WebhookStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}
