// Package analysis は財務ドキュメント分析の種別と実行インターフェースを提供します。
package analysis

import "github.com/yourusername/fin-analyzer/internal/apperr"

// Type は分析種別を表します。
type Type string

const (
	TypeComprehensive Type = "comprehensive"
	TypeInvestment    Type = "investment"
	TypeRisk          Type = "risk"
	TypeVerify        Type = "verify"
)

// QueueAnalysis は分析ジョブが流れるキューの名前です。
// すべての分析種別はこのレーンにルーティングされます。
const QueueAnalysis = "analysis"

var defaultQueries = map[Type]string{
	TypeComprehensive: "Analyze this financial document for comprehensive insights",
	TypeInvestment:    "Analyze this financial document for investment opportunities",
	TypeRisk:          "Assess the financial risks in this document",
	TypeVerify:        "Verify the consistency of this financial document",
}

// ParseType は文字列を分析種別として検証します。
func ParseType(value string) (Type, error) {
	t := Type(value)
	switch t {
	case TypeComprehensive, TypeInvestment, TypeRisk, TypeVerify:
		return t, nil
	}
	return "", apperr.Validation("不明な分析種別です: " + value)
}

// Queue は分析種別に対応するキュー名を返します。
func (t Type) Queue() string {
	return QueueAnalysis
}

// DefaultQuery はクエリ未指定時に使うデフォルト文を返します。
func (t Type) DefaultQuery() string {
	return defaultQueries[t]
}

// Valid は既知の分析種別かどうかを返します。
func (t Type) Valid() bool {
	_, ok := defaultQueries[t]
	return ok
}
