package analysis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProgressReporter は進捗更新用コールバックです。
// キャンセル要求を検知した場合はエラーを返し、分析側は速やかに中断します。
type ProgressReporter func(percent int, message string) error

// Request は1回の分析実行への入力です。
type Request struct {
	Type     Type
	Query    string
	FilePath string
	FileName string
}

// Analyzer は分析の実行単位を表します。
// 実装は長時間かかる可能性があり、ctx のキャンセルと
// ProgressReporter からのキャンセル通知の両方に応答する必要があります。
type Analyzer interface {
	Analyze(ctx context.Context, req *Request, report ProgressReporter) (string, error)
}

// reportProgress はコールバック未設定時の呼び出しを吸収し、percent を 0-100 に丸めます。
func reportProgress(cb ProgressReporter, percent int, message string) error {
	if cb == nil {
		return nil
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return cb(percent, message)
}

// StubAnalyzer は外部AIを呼ばないローカル分析実装です。
// ドキュメントの基本指標だけを使って決定的な結果文を生成します。
type StubAnalyzer struct {
	// Delay は各フェーズの擬似処理時間です。テストでは0のままにします。
	Delay time.Duration
}

// Analyze はドキュメントを読み込み、種別に応じた要約文を生成します。
func (a *StubAnalyzer) Analyze(ctx context.Context, req *Request, report ProgressReporter) (string, error) {
	if err := reportProgress(report, 10, "Starting "+string(req.Type)+" analysis..."); err != nil {
		return "", err
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}

	if err := a.pause(ctx); err != nil {
		return "", err
	}
	if err := reportProgress(report, 30, "Running analysis..."); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s analysis of %s (%d bytes).\n", titleFor(req.Type), req.FileName, info.Size())
	fmt.Fprintf(&b, "Query: %s\n", req.Query)
	fmt.Fprintf(&b, "No anomalies detected by the offline analyzer.")

	if err := a.pause(ctx); err != nil {
		return "", err
	}
	if err := reportProgress(report, 70, "Generating report..."); err != nil {
		return "", err
	}

	return b.String(), nil
}

func (a *StubAnalyzer) pause(ctx context.Context) error {
	if a.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(a.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func titleFor(t Type) string {
	switch t {
	case TypeComprehensive:
		return "Comprehensive"
	case TypeInvestment:
		return "Investment"
	case TypeRisk:
		return "Risk"
	case TypeVerify:
		return "Verification"
	default:
		return string(t)
	}
}
