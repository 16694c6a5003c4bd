package jobs

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/fin-analyzer/internal/apperr"
	"github.com/yourusername/fin-analyzer/internal/mappings"
)

// MappingByReportHandler は GET /task-mappings/by-report/:id のハンドラーを返します。
func MappingByReportHandler(orchestrator *Orchestrator, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}
		reportID := strings.TrimSpace(c.Param("id"))
		if reportID == "" {
			RenderError(c, apperr.Validation("レポートIDを指定してください。"))
			return
		}

		mapping, err := orchestrator.GetMappingByReport(c.Request.Context(), caller, reportID)
		if err != nil {
			RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, mapping)
	}
}

// MappingByTaskHandler は GET /task-mappings/by-task/:id のハンドラーを返します。
func MappingByTaskHandler(store *mappings.Store, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}
		taskID := strings.TrimSpace(c.Param("id"))
		if taskID == "" {
			RenderError(c, apperr.Validation("ジョブIDを指定してください。"))
			return
		}

		mapping, err := store.ByTask(c.Request.Context(), taskID)
		if err != nil {
			RenderError(c, err)
			return
		}
		if mapping.UserID != caller.UserID && !caller.Admin {
			RenderError(c, apperr.Forbidden("この対応情報へのアクセス権がありません。"))
			return
		}
		c.JSON(http.StatusOK, mapping)
	}
}

// MappingListHandler は GET /task-mappings のハンドラーを返します。
func MappingListHandler(store *mappings.Store, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		if page < 1 {
			page = 1
		}
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
		if pageSize < 1 || pageSize > 100 {
			pageSize = 50
		}

		list, total, err := store.ListByUser(c.Request.Context(), caller.UserID, pageSize, (page-1)*pageSize)
		if err != nil {
			RenderError(c, err)
			return
		}

		totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
		if totalPages < 1 {
			totalPages = 1
		}
		c.JSON(http.StatusOK, gin.H{
			"mappings":    list,
			"total":       total,
			"page":        page,
			"page_size":   pageSize,
			"total_pages": totalPages,
		})
	}
}

// MappingDeleteByTaskHandler は DELETE /task-mappings/by-task/:id のハンドラーを返します。
func MappingDeleteByTaskHandler(store *mappings.Store, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}
		taskID := strings.TrimSpace(c.Param("id"))

		mapping, err := store.ByTask(c.Request.Context(), taskID)
		if err != nil {
			RenderError(c, err)
			return
		}
		if mapping.UserID != caller.UserID && !caller.Admin {
			RenderError(c, apperr.Forbidden("この対応情報へのアクセス権がありません。"))
			return
		}
		if err := store.DeleteByTask(c.Request.Context(), taskID); err != nil {
			RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "対応情報を削除しました。"})
	}
}

// MappingDeleteByReportHandler は DELETE /task-mappings/by-report/:id のハンドラーを返します。
func MappingDeleteByReportHandler(store *mappings.Store, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}
		reportID := strings.TrimSpace(c.Param("id"))

		mapping, err := store.ByReport(c.Request.Context(), reportID)
		if err != nil {
			RenderError(c, err)
			return
		}
		if mapping.UserID != caller.UserID && !caller.Admin {
			RenderError(c, apperr.Forbidden("この対応情報へのアクセス権がありません。"))
			return
		}
		if err := store.DeleteByReport(c.Request.Context(), reportID); err != nil {
			RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "対応情報を削除しました。"})
	}
}

// MappingCleanupHandler は POST /task-mappings/cleanup のハンドラーを返します。管理者専用です。
func MappingCleanupHandler(orchestrator *Orchestrator, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}

		daysOld, err := strconv.Atoi(c.DefaultQuery("days_old", "30"))
		if err != nil || daysOld < 1 || daysOld > 365 {
			RenderError(c, apperr.Validation("days_old は1〜365で指定してください。"))
			return
		}

		deleted, err := orchestrator.Cleanup(c.Request.Context(), caller, daysOld)
		if err != nil {
			RenderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"deleted":  deleted,
			"days_old": daysOld,
		})
	}
}
