// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"knowledgelink-go/internal/middleware"
	"knowledgelink-go/internal/model"
	"knowledgelink-go/internal/service"
	"knowledgelink-go/pkg/log"
)

// DocumentHandler 负责处理所有与链接管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

type saveLinkRequest struct {
	URL         string   `json:"url" binding:"required"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func respond(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, gin.H{"code": status, "data": data, "message": message})
}

// writeError 把 service 层错误映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidID), errors.Is(err, service.ErrInvalidURL):
		respond(c, http.StatusBadRequest, nil, err.Error())
	case errors.Is(err, service.ErrDocumentNotFound):
		respond(c, http.StatusNotFound, nil, "链接不存在")
	case errors.Is(err, service.ErrSearchUnavailable):
		respond(c, http.StatusServiceUnavailable, nil, err.Error())
	default:
		log.Errorf("[Handler] %s %s 失败: %v", c.Request.Method, c.FullPath(), err)
		respond(c, http.StatusInternalServerError, nil, "服务器内部错误")
	}
}

func currentUser(c *gin.Context) (uint, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		respond(c, http.StatusUnauthorized, nil, "无法获取用户信息")
	}
	return id, ok
}

// Save 保存链接，摄取在后台进行。
func (h *DocumentHandler) Save(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req saveLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, nil, "无效的请求参数: "+err.Error())
		return
	}
	doc, err := h.docService.Save(c.Request.Context(), service.SaveRequest{
		URL:         req.URL,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		UserID:      userID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, doc.ToResponse(false), "链接已保存")
}

// List 按创建时间倒序返回当前用户的链接。
func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultListLimit)))

	docs, err := h.docService.List(c.Request.Context(), userID, skip, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]model.DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = d.ToResponse(false)
	}
	respond(c, http.StatusOK, out, "success")
}

// Get 返回单个链接，包含提取出的正文。
func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	doc, err := h.docService.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, doc.ToResponse(true), "success")
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.docService.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, nil, "链接已删除")
}

// Reprocess 重新摄取链接，use_snapshot=true 时使用保存的原始页面。
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	useSnapshot, _ := strconv.ParseBool(c.DefaultQuery("use_snapshot", "false"))
	doc, err := h.docService.Reprocess(c.Request.Context(), c.Param("id"), userID, useSnapshot)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusAccepted, doc.ToResponse(false), "已重新提交处理")
}
