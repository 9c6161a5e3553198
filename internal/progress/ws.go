package progress

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// 実イベントがない間の接続維持メッセージの間隔。
const heartbeatInterval = 60 * time.Second

type socketSender struct {
	conn *websocket.Conn
}

func (s *socketSender) Send(ctx context.Context, event Event) error {
	return wsjson.Write(ctx, s.conn, event)
}

// StreamHandler は GET /ws/jobs/:id のハンドラーを返します。
// 接続をジョブの観測者として登録し、切断まで進捗イベントを流します。
func StreamHandler(hub *Hub, logger *log.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Printf("progress: websocket accept failed job=%s: %v", jobID, err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "goodbye")

		ctx := c.Request.Context()

		// 登録前に接続確立を通知する
		established := Event{Type: EventConnectionEstablished, JobID: jobID}
		if err := wsjson.Write(ctx, conn, established); err != nil {
			logger.Printf("progress: failed to send connection ack job=%s: %v", jobID, err)
			return
		}

		obs := hub.Attach(jobID, &socketSender{conn: conn})
		defer hub.Detach(jobID, obs)

		go heartbeat(ctx, conn, jobID)

		// 読み取りループで切断を検知する。クライアントからの
		// メッセージ内容は利用しません。
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Printf("progress: websocket closed job=%s: %v", jobID, err)
				}
				return
			}
		}
	}
}

func heartbeat(ctx context.Context, conn *websocket.Conn, jobID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event := Event{Type: EventHeartbeat, JobID: jobID}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}
