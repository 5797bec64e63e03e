package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// UserContextKey 是存储在 context 中的上传者标识的键。
type UserContextKey struct{}

// BearerAuth 创建 JWT 鉴权中间件，验证成功后把 sub 声明作为
// 上传者标识存入 context。支持 HMAC（本地密钥）与 JWKS（远程公钥）。
// 身份体系本身是外部协作方，这里只消费已签发的令牌。
func BearerAuth(jwksURL, jwtSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	var jwks *keyfunc.JWKS
	if jwksURL != "" {
		var err error
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				logger.Warn("JWKS 刷新失败", zap.Error(err))
			},
		})
		if err != nil {
			logger.Warn("JWKS 初始化失败，仅剩 HMAC 验证可用",
				zap.String("url", jwksURL), zap.Error(err))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeAuthError(w, http.StatusUnauthorized, "invalid Authorization format, expected: Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
			if tokenString == "" {
				writeAuthError(w, http.StatusUnauthorized, "empty token")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok && jwtSecret != "" {
					return []byte(jwtSecret), nil
				}
				if jwks != nil {
					return jwks.Keyfunc(token)
				}
				return nil, fmt.Errorf("no suitable verification method")
			})
			if err != nil || !token.Valid {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				writeAuthError(w, http.StatusUnauthorized, "token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID 从 context 中获取经过鉴权的上传者标识。
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserContextKey{}).(string); ok {
		return v
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="mediarepo"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
