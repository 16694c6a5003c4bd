package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yourusername/fin-analyzer/internal/apperr"
	"github.com/yourusername/fin-analyzer/internal/config"
)

// 受け付けるMIMEタイプ。財務ドキュメントはPDFまたはプレーンテキストを想定しています。
var allowedMIMETypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/csv":        true,
}

// Service はドキュメントの保存・取得・削除を提供します。
type Service struct {
	cfg *config.Config
	db  *gorm.DB
	log *logrus.Logger
}

// NewService はドキュメントサービスを作成します。
func NewService(cfg *config.Config, db *gorm.DB, log *logrus.Logger) *Service {
	return &Service{cfg: cfg, db: db, log: log}
}

// SaveUpload はアップロードファイルを検証して保存し、メタデータを記録します。
func (s *Service) SaveUpload(ctx context.Context, userID string, file *multipart.FileHeader) (*Document, error) {
	if file == nil {
		return nil, apperr.Validation("ファイルを選択してください。")
	}
	if file.Size <= 0 {
		return nil, apperr.Validation("空のファイルはアップロードできません。")
	}
	if file.Size > s.cfg.MaxFileSize {
		return nil, apperr.Validation(fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", s.cfg.MaxFileSize/(1024*1024)))
	}

	docID := uuid.NewString()
	userDir := filepath.Join(s.cfg.UploadDir, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, apperr.Internal("アップロード先の作成に失敗しました。").WithCause(err)
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	storedPath := filepath.Join(userDir, docID+ext)

	if err := s.writeFile(file, storedPath); err != nil {
		return nil, err
	}

	doc, err := s.validateStored(storedPath, file)
	if err != nil {
		_ = os.Remove(storedPath)
		return nil, err
	}
	doc.ID = docID
	doc.UserID = userID

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		_ = os.Remove(storedPath)
		return nil, apperr.Internal("ドキュメントの登録に失敗しました。").WithCause(err)
	}

	s.log.WithFields(logrus.Fields{
		"documentId": doc.ID,
		"userId":     userID,
		"size":       doc.Size,
		"pages":      doc.PageCount,
	}).Info("document stored")

	return doc, nil
}

func (s *Service) writeFile(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return apperr.Internal("アップロードファイルを開けませんでした。").WithCause(err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return apperr.Internal("ファイルの保存に失敗しました。").WithCause(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return apperr.Internal("ファイルの書き込みに失敗しました。").WithCause(err)
	}
	return nil
}

// validateStored はシグネチャ検査とPDFページ数の検証を行います。
func (s *Service) validateStored(path string, file *multipart.FileHeader) (*Document, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, apperr.Internal("ファイル形式の判定に失敗しました。").WithCause(err)
	}

	contentType := mtype.String()
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	if !allowedMIMETypes[contentType] {
		return nil, apperr.Validation("PDFまたはテキストファイルをアップロードしてください。")
	}

	pages := 0
	if contentType == "application/pdf" {
		pages, err = pdfapi.PageCountFile(path)
		if err != nil {
			return nil, apperr.Validation("壊れたPDFファイルです。別のファイルをお試しください。")
		}
		if pages > s.cfg.MaxPages {
			return nil, apperr.Validation(fmt.Sprintf("ページ数が上限（%dページ）を超えています。", s.cfg.MaxPages))
		}
	}

	return &Document{
		OriginalName: filepath.Base(file.Filename),
		StoredPath:   path,
		Size:         file.Size,
		ContentType:  contentType,
		PageCount:    pages,
	}, nil
}

// Get は所有者チェック付きでドキュメントを返します。
func (s *Service) Get(ctx context.Context, userID, documentID string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).First(&doc, "id = ?", documentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("指定されたドキュメントが見つかりません。")
	}
	if err != nil {
		return nil, apperr.Internal("ドキュメントの取得に失敗しました。").WithCause(err)
	}
	if doc.UserID != userID {
		return nil, apperr.Forbidden("このドキュメントへのアクセス権がありません。")
	}
	return &doc, nil
}

// List はユーザーのドキュメント一覧を新しい順に返します。
func (s *Service) List(ctx context.Context, userID string) ([]Document, error) {
	var docs []Document
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, apperr.Internal("ドキュメント一覧の取得に失敗しました。").WithCause(err)
	}
	return docs, nil
}

// Delete はドキュメントの行と実ファイルを削除します。
func (s *Service) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Document{}, "id = ?", doc.ID).Error; err != nil {
		return apperr.Internal("ドキュメントの削除に失敗しました。").WithCause(err)
	}
	if err := os.Remove(doc.StoredPath); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).WithField("documentId", doc.ID).Warn("failed to remove stored file")
	}
	return nil
}
