// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"

	"z-novel-setting-api/internal/interfaces/http/handler"
	"z-novel-setting-api/internal/interfaces/http/middleware"
)

// RegisterSettingRoutes 注册设定生成路由，startLimit 只作用于会话创建
func RegisterSettingRoutes(v1 *gin.RouterGroup, settingHandler *handler.SettingHandler, startLimit gin.HandlerFunc) {
	sessions := v1.Group("/setting-generation/sessions")
	{
		sessions.POST("", startLimit, settingHandler.StartSession)
		sessions.POST("/hybrid", startLimit, settingHandler.StartHybridSession)

		session := sessions.Group("/:id", middleware.SessionContext())
		{
			session.GET("", settingHandler.GetSession)
			session.DELETE("", settingHandler.DeleteSession)
			session.GET("/events", settingHandler.StreamEvents)
			session.GET("/status", settingHandler.GetStatus)
			session.POST("/cancel", settingHandler.CancelSession)
			session.POST("/save", settingHandler.SaveSession)
			session.POST("/adjust", settingHandler.AdjustSession)
			session.POST("/nodes/:nodeId/modify", settingHandler.ModifyNode)
		}
	}
}
