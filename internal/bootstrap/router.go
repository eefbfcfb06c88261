package bootstrap

import (
	"github.com/gin-gonic/gin"

	"knowledgelink-go/internal/handler"
	"knowledgelink-go/internal/middleware"
	"knowledgelink-go/pkg/token"
)

// RouterDeps 是注册路由所需的处理器。
type RouterDeps struct {
	Documents *handler.DocumentHandler
	Search    *handler.SearchHandler
	Health    *handler.HealthHandler
	JWT       *token.JWTManager
}

// NewRouter 创建 gin 引擎并注册全部路由。
func NewRouter(mode string, d RouterDeps) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New() // 不带默认中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", d.Health.Health)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(d.JWT))
	{
		links := apiV1.Group("/links")
		{
			links.POST("", d.Documents.Save)
			links.GET("", d.Documents.List)
			links.GET("/:id", d.Documents.Get)
			links.DELETE("/:id", d.Documents.Delete)
			links.POST("/:id/reprocess", d.Documents.Reprocess)
		}
		apiV1.GET("/search", d.Search.Search)
	}
	return r
}
