package progress

// EventType は観測者へ送信するイベントの種別を表します。
type EventType string

const (
	// EventConnectionEstablished は接続直後に一度だけ送信されます。
	EventConnectionEstablished EventType = "CONNECTION_ESTABLISHED"
	// EventProgress は評価の進捗を通知します。
	EventProgress EventType = "PROGRESS"
	// EventHeartbeat は接続維持のための無操作メッセージです。
	EventHeartbeat EventType = "HEARTBEAT"
)

// Event はジョブ1件の進捗通知を表します。永続化はされません。
type Event struct {
	Type     EventType `json:"type"`
	JobID    string    `json:"jobId"`
	Message  string    `json:"message,omitempty"`
	Progress int       `json:"progress"`
}

// NewProgressEvent は進捗イベントを作成します。
func NewProgressEvent(jobID, message string, percent int) Event {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return Event{
		Type:     EventProgress,
		JobID:    jobID,
		Message:  message,
		Progress: percent,
	}
}
