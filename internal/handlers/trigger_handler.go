package handlers

import (
	"net/http"

	"flowdesk/internal/metrics"
	"flowdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// TriggerHandler 触发器定义的管理接口。
// 鉴权由网关层处理，这里不做权限校验。
type TriggerHandler struct {
	triggers     *services.TriggerService
	logs         *services.ExecutionLogStore
	orchestrator *services.TriggerOrchestrator
}

func NewTriggerHandler(triggers *services.TriggerService, logs *services.ExecutionLogStore, orchestrator *services.TriggerOrchestrator) *TriggerHandler {
	return &TriggerHandler{triggers: triggers, logs: logs, orchestrator: orchestrator}
}

// ListTriggers 获取工作区触发器列表
func (h *TriggerHandler) ListTriggers(c *gin.Context) {
	triggers, err := h.triggers.List(c.Request.Context(), c.Param("workspace_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list triggers", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, triggers)
}

// GetTrigger 获取单个触发器
func (h *TriggerHandler) GetTrigger(c *gin.Context) {
	trigger, err := h.triggers.Get(c.Request.Context(), c.Param("workspace_id"), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get trigger", Message: err.Error()})
		return
	}
	if trigger == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Trigger not found"})
		return
	}
	c.JSON(http.StatusOK, trigger)
}

// CreateTrigger 创建触发器
func (h *TriggerHandler) CreateTrigger(c *gin.Context) {
	var req services.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	trigger, err := h.triggers.Create(c.Request.Context(), c.Param("workspace_id"), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, trigger)
}

// UpdateTrigger 更新触发器（条件树与动作整体替换）
func (h *TriggerHandler) UpdateTrigger(c *gin.Context) {
	var req services.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	trigger, err := h.triggers.Update(c.Request.Context(), c.Param("workspace_id"), c.Param("id"), &req)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "trigger not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, trigger)
}

type statusRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetTriggerStatus 启用/停用触发器
func (h *TriggerHandler) SetTriggerStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	err := h.triggers.SetEnabled(c.Request.Context(), c.Param("workspace_id"), c.Param("id"), *req.Enabled)
	if err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "trigger not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to toggle trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// DeleteTrigger 删除触发器（执行日志保留）
func (h *TriggerHandler) DeleteTrigger(c *gin.Context) {
	err := h.triggers.Delete(c.Request.Context(), c.Param("workspace_id"), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "trigger not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// GetExecutionLog 获取触发器的执行统计
func (h *TriggerHandler) GetExecutionLog(c *gin.Context) {
	row, err := h.logs.GetByTrigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get execution log", Message: err.Error()})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No executions recorded"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// FireTestEvent 同步执行一个事件任务，便于运营侧调试触发器
func (h *TriggerHandler) FireTestEvent(c *gin.Context) {
	var job services.EventJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.orchestrator.ProcessJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to process event", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "processed"})
}

// EngineMetrics 引擎计数快照
func EngineMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.Engine())
}

// Health 存活探针
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterTriggerRoutes 注册触发器管理路由
func RegisterTriggerRoutes(r *gin.Engine, h *TriggerHandler) {
	api := r.Group("/api/v1")
	{
		ws := api.Group("/workspaces/:workspace_id")
		ws.GET("/triggers", h.ListTriggers)
		ws.POST("/triggers", h.CreateTrigger)
		ws.GET("/triggers/:id", h.GetTrigger)
		ws.PUT("/triggers/:id", h.UpdateTrigger)
		ws.PATCH("/triggers/:id/status", h.SetTriggerStatus)
		ws.DELETE("/triggers/:id", h.DeleteTrigger)
		ws.GET("/triggers/:id/executions", h.GetExecutionLog)
		ws.POST("/events/test", h.FireTestEvent)
	}
}
