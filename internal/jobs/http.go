package jobs

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/yourusername/fin-analyzer/internal/analysis"
	"github.com/yourusername/fin-analyzer/internal/apperr"
)

// CallerResolver はリクエストから呼び出し元を取り出します。認証層が実装を配線します。
type CallerResolver func(c *gin.Context) (Caller, bool)

// QueueStats はキューの統計情報を提供します。本番では *asynq.Inspector が満たします。
type QueueStats interface {
	GetQueueInfo(qname string) (*asynq.QueueInfo, error)
}

// RenderError はアプリケーションエラーをHTTPレスポンスへ変換します。
func RenderError(c *gin.Context, err error) {
	appErr := apperr.AsError(err)
	c.JSON(appErr.HTTPStatus, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}

func requireCaller(c *gin.Context, resolve CallerResolver) (Caller, bool) {
	caller, ok := resolve(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です。",
		})
	}
	return caller, ok
}

// StatusHandler は GET /tasks/:id/status のハンドラーを返します。
func StatusHandler(orchestrator *Orchestrator, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			RenderError(c, apperr.Validation("ジョブIDを指定してください。"))
			return
		}

		view, err := orchestrator.GetStatus(c.Request.Context(), caller, jobID)
		if err != nil {
			RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// CancelHandler は POST /tasks/:id/cancel のハンドラーを返します。
// すでに終端状態のジョブに対しては既存の状態をそのまま返します（冪等）。
func CancelHandler(orchestrator *Orchestrator, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			RenderError(c, apperr.Validation("ジョブIDを指定してください。"))
			return
		}

		view, err := orchestrator.Cancel(c.Request.Context(), caller, jobID)
		if err != nil {
			RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// ActiveHandler は GET /tasks/active のハンドラーを返します。
func ActiveHandler(orchestrator *Orchestrator, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}
		all := c.Query("all") == "true"

		views, err := orchestrator.ListActive(c.Request.Context(), caller, all)
		if err != nil {
			RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"active_tasks": views,
			"total_count":  len(views),
		})
	}
}

// StatsHandler は GET /tasks/stats のハンドラーを返します。管理者専用です。
func StatsHandler(stats QueueStats, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}
		if !caller.Admin {
			RenderError(c, apperr.Forbidden("キュー統計には管理者権限が必要です。"))
			return
		}

		info, err := stats.GetQueueInfo(analysis.QueueAnalysis)
		if err != nil {
			RenderError(c, apperr.Internal("キュー統計の取得に失敗しました。").WithCause(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"queue":     info.Queue,
			"pending":   info.Pending,
			"active":    info.Active,
			"retry":     info.Retry,
			"archived":  info.Archived,
			"completed": info.Completed,
			"processed": info.Processed,
			"failed":    info.Failed,
		})
	}
}
