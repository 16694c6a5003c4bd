package documents

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/fin-analyzer/internal/apperr"
	"github.com/yourusername/fin-analyzer/internal/auth"
)

// UploadHandler は POST /documents のハンドラーを返します。
func UploadHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "ログインが必要です。"})
			return
		}

		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "multipart/form-data でファイルを送信してください。",
			})
			return
		}

		doc, err := svc.SaveUpload(c.Request.Context(), identity.UserID, file)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

// ListHandler は GET /documents のハンドラーを返します。
func ListHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "ログインが必要です。"})
			return
		}

		docs, err := svc.List(c.Request.Context(), identity.UserID)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
	}
}

// GetHandler は GET /documents/:id のハンドラーを返します。
func GetHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "ログインが必要です。"})
			return
		}

		doc, err := svc.Get(c.Request.Context(), identity.UserID, c.Param("id"))
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// DeleteHandler は DELETE /documents/:id のハンドラーを返します。
func DeleteHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "ログインが必要です。"})
			return
		}

		if err := svc.Delete(c.Request.Context(), identity.UserID, c.Param("id")); err != nil {
			renderError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func renderError(c *gin.Context, err error) {
	appErr := apperr.AsError(err)
	c.JSON(appErr.HTTPStatus, gin.H{"code": appErr.Code, "message": appErr.Message})
}
