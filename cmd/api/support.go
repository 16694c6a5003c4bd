package main

import (
	"context"
	"mime/multipart"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/fin-analyzer/internal/auth"
	"github.com/yourusername/fin-analyzer/internal/documents"
	"github.com/yourusername/fin-analyzer/internal/jobs"
)

// resolveCaller は認証ミドルウェアが載せたIDをジョブ層の呼び出し元へ変換します。
func resolveCaller(c *gin.Context) (jobs.Caller, bool) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		return jobs.Caller{}, false
	}
	return jobs.Caller{UserID: identity.UserID, Admin: identity.Admin}, true
}

// documentResolver はドキュメントサービスをジョブ層の解決窓口に適合させます。
type documentResolver struct {
	docs *documents.Service
}

func (r *documentResolver) Resolve(ctx context.Context, documentID, userID string) (*jobs.ResolvedInput, error) {
	doc, err := r.docs.Get(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	return &jobs.ResolvedInput{Path: doc.StoredPath, Name: doc.OriginalName}, nil
}

// uploadSaver は投入時の直接アップロードをドキュメントとして保存します。
type uploadSaver struct {
	docs *documents.Service
}

func (s *uploadSaver) SaveUpload(ctx context.Context, userID string, file *multipart.FileHeader) (*jobs.ResolvedInput, error) {
	doc, err := s.docs.SaveUpload(ctx, userID, file)
	if err != nil {
		return nil, err
	}
	return &jobs.ResolvedInput{Path: doc.StoredPath, Name: doc.OriginalName}, nil
}
