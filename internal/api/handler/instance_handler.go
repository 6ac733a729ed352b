package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/pkg/response"
	instanceSvc "github.com/open-apime/apime-gateway/internal/service/instance"
	"github.com/open-apime/apime-gateway/internal/storage/model"
)

type InstanceHandler struct {
	service *instanceSvc.Service
	log     *zap.Logger
}

func NewInstanceHandler(service *instanceSvc.Service, log *zap.Logger) *InstanceHandler {
	return &InstanceHandler{service: service, log: log}
}

func (h *InstanceHandler) Register(r *gin.RouterGroup) {
	r.GET("/instances", h.list)
	r.POST("/instances", h.create)
	r.GET("/instances/:id", h.get)
	r.PUT("/instances/:id", h.update)
	r.DELETE("/instances/:id", h.delete)

	r.POST("/instances/:id/connect", h.connect)
	r.POST("/instances/:id/disconnect", h.disconnect)
	r.DELETE("/instances/:id/disconnect", h.disconnect)
	r.POST("/instances/:id/restart", h.restart)
	r.POST("/instances/:id/logout", h.logout)
	r.POST("/instances/:id/dispose", h.dispose)
	r.GET("/instances/:id/status", h.status)
}

type createInstanceRequest struct {
	InstanceID    string   `json:"instanceId" binding:"required"`
	WebhookURL    string   `json:"webhookUrl"`
	WebhookEvents []string `json:"webhookEvents"`
}

type updateInstanceRequest struct {
	WebhookURL    *string   `json:"webhookUrl"`
	WebhookEvents *[]string `json:"webhookEvents"`
}

type stateResponse struct {
	InstanceID string `json:"instanceId"`
	Status     string `json:"status"`
}

type statusResponse struct {
	InstanceID  string     `json:"instanceId"`
	Status      string     `json:"status"`
	PhoneNumber *string    `json:"phoneNumber"`
	ConnectedAt *time.Time `json:"connectedAt"`
}

func stateOf(inst model.Instance) stateResponse {
	return stateResponse{InstanceID: inst.ID, Status: string(inst.State)}
}

func (h *InstanceHandler) create(c *gin.Context) {
	var req createInstanceRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, h.log, err)
		return
	}
	inst, err := h.service.Create(c.Request.Context(), instanceSvc.CreateInput{
		ID:            req.InstanceID,
		WebhookURL:    req.WebhookURL,
		WebhookEvents: req.WebhookEvents,
	})
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, inst)
}

func (h *InstanceHandler) list(c *gin.Context) {
	instances, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, instances)
}

func (h *InstanceHandler) get(c *gin.Context) {
	inst, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, inst)
}

func (h *InstanceHandler) update(c *gin.Context) {
	var req updateInstanceRequest
	if err := bindJSON(c, &req, false); err != nil {
		response.Error(c, h.log, err)
		return
	}
	inst, err := h.service.Update(c.Request.Context(), c.Param("id"), instanceSvc.UpdateInput{
		WebhookURL:    req.WebhookURL,
		WebhookEvents: req.WebhookEvents,
	})
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, inst)
}

func (h *InstanceHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"instanceId": id, "deleted": true})
}

func (h *InstanceHandler) connect(c *gin.Context) {
	inst, err := h.service.Connect(c.Request.Context(), c.Param("id"))
	h.respondState(c, inst, err)
}

func (h *InstanceHandler) disconnect(c *gin.Context) {
	inst, err := h.service.Disconnect(c.Request.Context(), c.Param("id"))
	h.respondState(c, inst, err)
}

func (h *InstanceHandler) restart(c *gin.Context) {
	inst, err := h.service.Restart(c.Request.Context(), c.Param("id"))
	h.respondState(c, inst, err)
}

func (h *InstanceHandler) logout(c *gin.Context) {
	inst, err := h.service.Logout(c.Request.Context(), c.Param("id"))
	h.respondState(c, inst, err)
}

func (h *InstanceHandler) dispose(c *gin.Context) {
	inst, err := h.service.Dispose(c.Request.Context(), c.Param("id"))
	h.respondState(c, inst, err)
}

func (h *InstanceHandler) status(c *gin.Context) {
	inst, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, statusResponse{
		InstanceID:  inst.ID,
		Status:      string(inst.State),
		PhoneNumber: inst.PhoneNumber,
		ConnectedAt: inst.ConnectedAt,
	})
}

func (h *InstanceHandler) respondState(c *gin.Context, inst model.Instance, err error) {
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, stateOf(inst))
}
