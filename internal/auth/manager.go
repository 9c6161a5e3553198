// Package auth はセッションベースのログイン認証を提供します。
// セッションに記録されたユーザー名がジョブのオーナーIDとして扱われ、
// 「自分のジョブ一覧」の絞り込みと投稿ジョブの帰属に使われます。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/config"
)

const (
	SessionCookieName = "cvm_session"

	keyUser   = "user"
	keyIssued = "issued_at"
	keySeen   = "last_seen"
	keyCSRF   = "csrf_token"

	csrfHeader = "X-CSRF-Token"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザー名を共有するためのキーです。
const ContextUserKey = "auth.user"

var (
	sessionLifetime = 12 * time.Hour
	sessionIdle     = 30 * time.Minute

	failureWindow = 15 * time.Minute
	lockoutPeriod = 10 * time.Minute
	failureLimit  = 5
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(sessionLifetime.Seconds())
}

// lockState は接続元IPごとのログイン失敗の記録です。
type lockState struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// Manager はユーザー対応表と連続失敗の記録を保持し、
// ログイン・セッション検証・CSRF検証を担います。
type Manager struct {
	users Credentials
	mu    sync.Mutex
	locks map[string]*lockState
}

// NewManager は設定からユーザー一覧を読み込んで Manager を作成します。
func NewManager(cfg *config.Config) (*Manager, error) {
	users, err := ParseUsers(cfg.AppUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APP_USERS: %w", err)
	}
	return &Manager{
		users: users,
		locks: make(map[string]*lockState),
	}, nil
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は /auth/login のハンドラーです。認証に成功すると、セッションに
// ユーザー名を記録して CSRF トークンをヘッダーで返します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}

	if len(m.users) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SERVER_MISCONFIGURATION",
			"message": "ログイン可能なユーザーが設定されていません",
		})
		return
	}

	ip := c.ClientIP()
	if wait := m.lockRemaining(ip); wait > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(wait.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	if !m.users.Verify(req.Username, req.Password) {
		remaining := m.noteFailure(ip)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}

	m.clearFailures(ip)

	token, err := newCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	now := time.Now()
	session.Set(keyUser, req.Username)
	session.Set(keyIssued, now.Unix())
	session.Set(keySeen, now.Unix())
	session.Set(keyCSRF, token)

	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	c.Header(csrfHeader, token)
	c.JSON(http.StatusOK, gin.H{"username": req.Username})
}

// Logout は /auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// RequireLogin はセッションを検証し、ログイン済みユーザー名を
// ContextUserKey でハンドラーへ渡すミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		user, ok := session.Get(keyUser).(string)
		if !ok || user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		now := time.Now()
		issued := readUnix(session.Get(keyIssued))
		seen := readUnix(session.Get(keySeen))

		if issued.IsZero() || now.Sub(issued) > sessionLifetime {
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_EXPIRED",
				"message": "セッションの有効期限が切れました",
			})
			return
		}

		if seen.IsZero() || now.Sub(seen) > sessionIdle {
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_IDLE_TIMEOUT",
				"message": "しばらく操作がなかったため再ログインしてください",
			})
			return
		}

		session.Set(keySeen, now.Unix())
		_ = session.Save()
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(keyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// lockRemaining はロック解除までの残り時間を返します。未ロックなら0です。
func (m *Manager) lockRemaining(ip string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.locks[ip]
	if !ok || time.Now().After(state.lockedUntil) {
		return 0
	}
	return time.Until(state.lockedUntil)
}

// noteFailure は失敗を記録し、残り試行回数を返します。
// 一定時間内に上限回数失敗すると、そのIPを一定時間ロックします。
func (m *Manager) noteFailure(ip string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	state, ok := m.locks[ip]
	if !ok || now.Sub(state.windowStart) > failureWindow {
		state = &lockState{windowStart: now}
		m.locks[ip] = state
	}

	state.failures++
	if state.failures >= failureLimit {
		state.lockedUntil = now.Add(lockoutPeriod)
		state.failures = failureLimit
	}

	remaining := failureLimit - state.failures
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) clearFailures(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, ip)
}

func newCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
