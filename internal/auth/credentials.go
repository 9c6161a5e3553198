package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Credentials はログイン可能なユーザー名からbcryptハッシュへの対応表です。
// ログインに成功したユーザー名が、そのセッションで作成するジョブの
// オーナーIDになります。
type Credentials map[string]string

// ParseUsers は "名前:bcryptハッシュ" をカンマで並べた文字列（APP_USERS）を
// 解析します。空文字列は空の対応表として扱います。
func ParseUsers(raw string) (Credentials, error) {
	users := make(Credentials)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		hash = strings.TrimSpace(hash)
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("invalid user entry %q: want name:bcrypt-hash", entry)
		}
		if _, dup := users[name]; dup {
			return nil, fmt.Errorf("duplicate user %q", name)
		}
		users[name] = hash
	}
	return users, nil
}

// 未知ユーザーの比較に使うダミーハッシュ。応答時間でユーザーの有無が
// 判別できないようにします。
const unknownUserHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Verify はユーザー名とパスワードの組を検証します。
func (c Credentials) Verify(username, password string) bool {
	hash, ok := c[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword([]byte(unknownUserHash), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
