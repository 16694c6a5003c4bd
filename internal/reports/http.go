package reports

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/fin-analyzer/internal/apperr"
	"github.com/yourusername/fin-analyzer/internal/auth"
)

// ListHandler は GET /reports のハンドラーを返します。
func ListHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "ログインが必要です。"})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if limit < 1 || limit > 100 {
			limit = 50
		}
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if offset < 0 {
			offset = 0
		}

		list, err := store.ListByUser(c.Request.Context(), identity.UserID, limit, offset)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": list, "total": len(list)})
	}
}

// GetHandler は GET /reports/:id のハンドラーを返します。
func GetHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "ログインが必要です。"})
			return
		}

		report, err := store.Get(c.Request.Context(), c.Param("id"), identity.UserID)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// DownloadHandler は GET /reports/:id/download のハンドラーを返します。
// 完了済みレポートのMarkdownファイルをそのまま返します。
func DownloadHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "ログインが必要です。"})
			return
		}

		report, err := store.Get(c.Request.Context(), c.Param("id"), identity.UserID)
		if err != nil {
			renderError(c, err)
			return
		}
		if report.Status != StatusCompleted || report.ReportPath == "" {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "REPORT_NOT_READY",
				"message": "レポートはまだ完成していません。",
			})
			return
		}
		if _, err := os.Stat(report.ReportPath); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "レポートファイルが見つかりません。",
			})
			return
		}

		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.FileAttachment(report.ReportPath, filepath.Base(report.ReportPath))
	}
}

func renderError(c *gin.Context, err error) {
	appErr := apperr.AsError(err)
	c.JSON(appErr.HTTPStatus, gin.H{"code": appErr.Code, "message": appErr.Message})
}
