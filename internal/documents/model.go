// Package documents はアップロードされた財務ドキュメントの保存と検証を担当します。
package documents

import "time"

// Document はアップロード済みドキュメントのメタデータです。
type Document struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string    `gorm:"type:uuid;index;not null" json:"userId"`
	OriginalName string    `gorm:"not null" json:"originalName"`
	StoredPath   string    `gorm:"not null" json:"-"`
	Size         int64     `gorm:"not null" json:"size"`
	ContentType  string    `gorm:"not null" json:"contentType"`
	PageCount    int       `json:"pageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName はテーブル名を固定します。
func (Document) TableName() string {
	return "documents"
}
