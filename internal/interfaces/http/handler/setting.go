// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"z-novel-setting-api/internal/application/setting"
	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/interfaces/http/dto"
	"z-novel-setting-api/internal/interfaces/http/middleware"
	apperrors "z-novel-setting-api/pkg/errors"
)

// SettingService 设定生成引擎
type SettingService interface {
	Start(ctx context.Context, req setting.StartRequest) (string, error)
	StartHybrid(ctx context.Context, req setting.StartRequest) (string, error)
	Subscribe(ctx context.Context, userID, sessionID string, ch setting.Channel) (<-chan entity.GenerationEvent, error)
	ModifyNode(ctx context.Context, userID string, req setting.ModifyNodeRequest) error
	AdjustSession(ctx context.Context, userID string, req setting.AdjustSessionRequest) error
	Cancel(ctx context.Context, userID, sessionID string) error
	Save(ctx context.Context, userID, sessionID string, req setting.SaveRequest) (*setting.SaveResult, error)
	Status(ctx context.Context, userID, sessionID string) (*setting.StatusView, error)
	Get(ctx context.Context, userID, sessionID string) (*entity.GenerationSession, error)
	Delete(ctx context.Context, userID, sessionID string) error
}

// SettingHandler 设定生成处理器
type SettingHandler struct {
	svc SettingService
}

// NewSettingHandler 创建设定生成处理器
func NewSettingHandler(svc SettingService) *SettingHandler {
	return &SettingHandler{svc: svc}
}

// requireUser 未认证时返回 401
func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserIDFromGin(c)
	if userID == "" {
		dto.AppError(c, apperrors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// StartSession 直接模式启动
// @Summary 启动设定生成
// @Tags SettingGeneration
// @Accept json
// @Produce json
// @Param body body dto.StartSessionRequest true "生成参数"
// @Success 202 {object} dto.Response[dto.StartSessionResponse]
// @Router /v1/setting-generation/sessions [post]
func (h *SettingHandler) StartSession(c *gin.Context) {
	h.start(c, false)
}

// StartHybridSession 混合模式启动
// @Summary 启动混合模式设定生成
// @Tags SettingGeneration
// @Accept json
// @Produce json
// @Param body body dto.StartSessionRequest true "生成参数"
// @Success 202 {object} dto.Response[dto.StartSessionResponse]
// @Router /v1/setting-generation/sessions/hybrid [post]
func (h *SettingHandler) StartHybridSession(c *gin.Context) {
	h.start(c, true)
}

func (h *SettingHandler) start(c *gin.Context, hybrid bool) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req dto.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	start := h.svc.Start
	if hybrid {
		start = h.svc.StartHybrid
	}
	sessionID, err := start(c.Request.Context(), req.ToStartRequest(userID))
	if err != nil {
		respondError(c, "start setting session", err)
		return
	}
	dto.Accepted(c, dto.StartSessionResponse{SessionID: sessionID})
}

// StreamEvents SSE 推送会话事件
// @Summary 订阅会话事件
// @Tags SettingGeneration
// @Produce text/event-stream
// @Param id path string true "会话 ID"
// @Param channel query string false "generation 或 modification"
// @Success 200 "SSE stream"
// @Router /v1/setting-generation/sessions/{id}/events [get]
func (h *SettingHandler) StreamEvents(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	ch, valid := setting.ParseChannel(c.Query("channel"))
	if !valid {
		dto.BadRequest(c, "unknown channel: "+c.Query("channel"))
		return
	}

	events, err := h.svc.Subscribe(c.Request.Context(), userID, c.Param("id"), ch)
	if err != nil {
		respondError(c, "subscribe setting events", err)
		return
	}

	// 与 gin SSE 渲染写出的值一致，无事件时也如此
	c.Header("Content-Type", "text/event-stream;charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// ModifyNode 单节点修改
// @Summary 修改设定节点
// @Tags SettingGeneration
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param nodeId path string true "节点 ID"
// @Param body body dto.ModifyNodeRequest true "修改指令"
// @Success 202 {object} dto.Response[any]
// @Router /v1/setting-generation/sessions/{id}/nodes/{nodeId}/modify [post]
func (h *SettingHandler) ModifyNode(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req dto.ModifyNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.svc.ModifyNode(c.Request.Context(), userID, req.ToModifyNodeRequest(c.Param("id"), c.Param("nodeId"))); err != nil {
		respondError(c, "modify setting node", err)
		return
	}
	dto.Accepted[any](c, nil)
}

// AdjustSession 整体调整
// @Summary 调整整棵设定树
// @Tags SettingGeneration
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param body body dto.AdjustSessionRequest true "调整指令"
// @Success 202 {object} dto.Response[any]
// @Router /v1/setting-generation/sessions/{id}/adjust [post]
func (h *SettingHandler) AdjustSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req dto.AdjustSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.svc.AdjustSession(c.Request.Context(), userID, req.ToAdjustSessionRequest(c.Param("id"))); err != nil {
		respondError(c, "adjust setting session", err)
		return
	}
	dto.Accepted[any](c, nil)
}

// CancelSession 取消生成
// @Summary 取消生成
// @Tags SettingGeneration
// @Param id path string true "会话 ID"
// @Success 204
// @Router /v1/setting-generation/sessions/{id}/cancel [post]
func (h *SettingHandler) CancelSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, "cancel setting session", err)
		return
	}
	dto.NoContent(c)
}

// SaveSession 保存设定树
// @Summary 保存设定树
// @Tags SettingGeneration
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param body body dto.SaveSessionRequest true "保存参数"
// @Success 200 {object} dto.Response[dto.SaveSessionResponse]
// @Router /v1/setting-generation/sessions/{id}/save [post]
func (h *SettingHandler) SaveSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req dto.SaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.Save(c.Request.Context(), userID, c.Param("id"), req.ToSaveRequest())
	if err != nil {
		respondError(c, "save setting session", err)
		return
	}
	dto.Success(c, dto.SaveSessionResponse{
		HistoryID:   res.HistoryID,
		RootNodeIDs: res.RootNodeIDs,
	})
}

// GetStatus 会话进度
// @Summary 查询生成进度
// @Tags SettingGeneration
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} dto.Response[setting.StatusView]
// @Router /v1/setting-generation/sessions/{id}/status [get]
func (h *SettingHandler) GetStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.svc.Status(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, "get setting status", err)
		return
	}
	dto.Success(c, view)
}

// GetSession 会话快照
// @Summary 查询会话
// @Tags SettingGeneration
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Router /v1/setting-generation/sessions/{id} [get]
func (h *SettingHandler) GetSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	sess, err := h.svc.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, "get setting session", err)
		return
	}
	dto.Success(c, dto.ToSessionResponse(sess))
}

// DeleteSession 删除会话
// @Summary 删除会话
// @Tags SettingGeneration
// @Param id path string true "会话 ID"
// @Success 204
// @Router /v1/setting-generation/sessions/{id} [delete]
func (h *SettingHandler) DeleteSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, "delete setting session", err)
		return
	}
	dto.NoContent(c)
}
