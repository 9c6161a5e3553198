package match

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReportFilename はジョブディレクトリ内の評価レポートのファイル名です。
const ReportFilename = "evaluation_report.json"

// Report はパイプラインが書き出す評価レポートです。decision 以外の
// 内容はパイプラインの実装に依存するため生のまま保持します。
type Report struct {
	Decision string
	Raw      json.RawMessage
}

// LoadReport は評価レポートを読み込みます。
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read evaluation report: %w", err)
	}

	var payload struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation report: %w", err)
	}

	return &Report{
		Decision: payload.Decision,
		Raw:      json.RawMessage(data),
	}, nil
}
