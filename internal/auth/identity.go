// Package auth はセッションベースの認証と呼び出し元の識別を提供します。
package auth

import "github.com/gin-gonic/gin"

// ContextIdentityKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextIdentityKey = "auth.identity"

// Identity は認証済みの呼び出し元を表します。
// 認可の詳細は各ハンドラー側の責務で、ここでは所有者IDと管理者フラグだけを運びます。
type Identity struct {
	UserID string
	Admin  bool
}

// IdentityFrom はリクエストコンテキストから呼び出し元を取り出します。
func IdentityFrom(c *gin.Context) (Identity, bool) {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok
}
