package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"knowledgelink-go/internal/service"
	"knowledgelink-go/pkg/log"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 处理 GET /search?q=&limit=&similarity_threshold=。
// 检索内部失败时返回 200 和空结果，message 中带上原因。
func (h *SearchHandler) Search(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	query := c.Query("q")
	log.Infof("[SearchHandler] 收到语义搜索请求, q: %s", query)

	req := service.SearchRequest{Query: query, UserID: userID}
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			respond(c, http.StatusBadRequest, nil, "limit 必须是正整数")
			return
		}
		req.Limit = limit
	}
	if s := c.Query("similarity_threshold"); s != "" {
		th, err := strconv.ParseFloat(s, 64)
		if err != nil || th < 0 || th > 1 {
			respond(c, http.StatusBadRequest, nil, "similarity_threshold 必须在 0 到 1 之间")
			return
		}
		req.Threshold = &th
	}

	resp, err := h.searchService.Search(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	message := "success"
	if resp.Reason != "" {
		message = resp.Reason
	}
	log.Infof("[SearchHandler] 语义搜索完成, q: '%s', 返回 %d 条结果", query, len(resp.Results))
	respond(c, http.StatusOK, resp.Results, message)
}
