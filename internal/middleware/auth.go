// Package middleware содержит HTTP middleware сервиса доставки файлов.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// AdminKeyHeader содержит ключ администратора.
const AdminKeyHeader = "X-Admin-Key"

// AdminAuth пропускает только запросы с верным ключом администратора.
type AdminAuth struct {
	digest []byte
}

// NewAdminAuth создаёт проверку для ключа key. С пустым ключом все запросы отклоняются.
func NewAdminAuth(key string) *AdminAuth {
	if key == "" {
		return &AdminAuth{}
	}
	return &AdminAuth{digest: digest(key)}
}

func digest(v string) []byte {
	sum := sha256.Sum256([]byte(v))
	return sum[:]
}

// Middleware проверяет ключ из X-Admin-Key или Authorization: Bearer.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.valid(requestKey(r)) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) valid(key string) bool {
	if len(a.digest) == 0 || key == "" {
		return false
	}
	return hmac.Equal(digest(key), a.digest)
}

func requestKey(r *http.Request) string {
	if k := r.Header.Get(AdminKeyHeader); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
