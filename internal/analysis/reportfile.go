package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteReportFile は分析結果をMarkdownファイルとして保存し、そのパスを返します。
// ファイル名は「<種別>_<ユーザーID>_<タイムスタンプ>.md」の形式です。
func WriteReportFile(outputDir string, analysisType Type, userID, query, fileName, result string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102_150405")
	reportName := fmt.Sprintf("%s_%s_%s.md", analysisType, userID, timestamp)
	reportPath := filepath.Join(outputDir, reportName)

	title := titleFor(analysisType)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Analysis Report\n\n", title)
	b.WriteString("---\n\n")
	b.WriteString("## Report Information\n\n")
	fmt.Fprintf(&b, "**Query:** %s\n\n", query)
	fmt.Fprintf(&b, "**Original File:** %s\n\n", fileName)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "## %s Analysis Results\n\n", title)
	b.WriteString(result)

	if err := os.WriteFile(reportPath, []byte(b.String()), 0o640); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return reportPath, nil
}

// Summarize はレポート一覧表示用の短い要約を返します。
func Summarize(result string) string {
	const maxLen = 200
	if len(result) <= maxLen {
		return result
	}
	return result[:maxLen] + "..."
}
