// Package match はCVと求人票のマッチング評価パイプラインとの契約を定義します。
// 評価アルゴリズム自体は外部コンポーネントであり、このパッケージは
// 入出力とプロセス境界だけを扱います。
package match

import "context"

// Input は評価1回分の入力です。パスはすべて保存済みファイルを指します。
type Input struct {
	CVPath     string
	JDPath     string
	CVType     string
	JDType     string
	OutputPath string // 評価レポート(JSON)の書き出し先
}

// Result は評価の結論を表します。
type Result struct {
	Decision string `json:"decision"`
}

// ProgressFunc は評価中の進捗通知を受け取ります。
// percent は 0〜100 で単調増加することが期待されます。
type ProgressFunc func(message string, percent int)

// Evaluator はマッチング評価を実行します。ジョブごとにワーカーコンテキスト上で
// ちょうど1回呼び出されます。
type Evaluator interface {
	Run(ctx context.Context, in Input, onProgress ProgressFunc) (*Result, error)
}
