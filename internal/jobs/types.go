package jobs

import "time"

// Status はジョブの実行状態を表します。
// 遷移は PENDING → RUNNING → {COMPLETED, FAILED} の一方向のみです。
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal は終端状態かどうかを返します。終端状態から先の遷移はありません。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record はジョブ1件の永続状態を表します。
// 可変フィールドを書き換えるのはオーケストレーター（Manager）だけです。
type Record struct {
	JobID      string    `json:"jobId"`
	OwnerID    string    `json:"ownerId"`
	CVPath     string    `json:"cvPath"`
	JDPath     string    `json:"jdPath"`
	CVType     string    `json:"cvType"`
	JDType     string    `json:"jdType"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	Decision   string    `json:"decision,omitempty"`
	ReportPath string    `json:"reportPath,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// 以下の遷移ガードは両方のストア実装から mutator として呼ばれます。
// 状態機械の不変条件（単調な遷移・単調な進捗・吸収的な終端状態）は
// ここだけで守ります。

// markRunning は PENDING のジョブを RUNNING にします。それ以外では何もしません。
func (r *Record) markRunning() {
	if r.Status == StatusPending {
		r.Status = StatusRunning
	}
}

// advanceProgress は進捗を単調に進めます。終端状態では無視されます。
func (r *Record) advanceProgress(percent int) {
	if r.Status.Terminal() {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > r.Progress {
		r.Progress = percent
	}
}

// markDone はジョブを COMPLETED として確定します。2度目以降の完了通知は無視されます。
func (r *Record) markDone(decision, reportPath string) {
	if r.Status.Terminal() {
		return
	}
	r.Status = StatusCompleted
	r.Progress = 100
	r.Decision = decision
	r.ReportPath = reportPath
}

// markFailed はジョブを FAILED として確定します。
// 進捗は最後に観測した値のまま残します。decision/reportPath は設定されません。
func (r *Record) markFailed() {
	if r.Status.Terminal() {
		return
	}
	r.Status = StatusFailed
}

// clone はレコードの複製を返します。ストアの外へ内部参照を漏らさないために使います。
func (r *Record) clone() *Record {
	copied := *r
	return &copied
}
