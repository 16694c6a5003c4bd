package jobs

import (
	"context"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/fin-analyzer/internal/analysis"
	"github.com/yourusername/fin-analyzer/internal/apperr"
	"github.com/yourusername/fin-analyzer/internal/reports"
)

// UploadSaver は分析対象のアップロードを検証して保存します。
// ドキュメント保存は外部コラボレーターであり、ここではこの窓口だけを使います。
type UploadSaver interface {
	SaveUpload(ctx context.Context, userID string, file *multipart.FileHeader) (*ResolvedInput, error)
}

// SubmitHandler は POST /analysis/:type のハンドラーを返します。
// multipart フォームで query と、file か document_id のどちらかを受け取ります。
func SubmitHandler(orchestrator *Orchestrator, uploads UploadSaver, resolve CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := requireCaller(c, resolve)
		if !ok {
			return
		}

		analysisType, err := analysis.ParseType(c.Param("type"))
		if err != nil {
			RenderError(c, err)
			return
		}

		query := c.PostForm("query")
		documentID := c.PostForm("document_id")
		file, fileErr := c.FormFile("file")
		hasFile := fileErr == nil && file != nil

		if !hasFile && documentID == "" {
			RenderError(c, apperr.Validation("ファイルのアップロードか document_id のどちらかを指定してください。"))
			return
		}
		if hasFile && documentID != "" {
			RenderError(c, apperr.Validation("ファイルと document_id は同時に指定できません。"))
			return
		}

		params := &SubmitParams{Type: analysisType, Query: query}
		if hasFile {
			input, err := uploads.SaveUpload(c.Request.Context(), caller.UserID, file)
			if err != nil {
				RenderError(c, err)
				return
			}
			params.FilePath = input.Path
			params.FileName = input.Name
		} else {
			params.DocumentID = &documentID
		}

		result, err := orchestrator.Submit(c.Request.Context(), caller, params)
		if err != nil {
			RenderError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"status":          "queued",
			"analysis_type":   analysisType,
			"task_id":         result.JobID,
			"report_id":       result.ReportID,
			"report_status":   reports.StatusPending,
			"task_status_url": "/api/tasks/" + result.JobID + "/status",
			"message":         "Analysis has been queued and will be processed in the background",
		})
	}
}
