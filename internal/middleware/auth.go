package middleware

import (
	"net/http"
	"strings"
	"time"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"
	"rfq_store/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	// SessionCookie 会话凭证 cookie 名；非浏览器客户端用 Bearer 头。
	SessionCookie = "rfq_session"

	ctxIdentity = "auth_identity"
)

// ExtractCredential 按 cookie 优先、Bearer 兜底取出会话凭证。
func ExtractCredential(c *gin.Context) string {
	if v, err := c.Cookie(SessionCookie); err == nil && v != "" {
		return v
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ClearSessionCookie 清除会话 cookie。只在 AuthFailure 时调用：
// 后端抖动（503）必须保留 cookie，否则一次故障就把用户登出。
func ClearSessionCookie(c *gin.Context) {
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
}

// RequireSession 会话校验中间件：校验通过后把身份挂到请求上下文。
func RequireSession(gate *service.SessionGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := ExtractCredential(c)
		if cred == "" {
			ClearSessionCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "未登录",
			})
			return
		}

		id, err := gate.Verify(c.Request.Context(), cred)
		if err != nil {
			ae := apperr.As(err)
			if ae.Kind == apperr.KindAuthFailure {
				ClearSessionCookie(c)
			}
			c.AbortWithStatusJSON(ae.HTTPStatus(), gin.H{
				"success": false, "message": ae.Msg, "code": ae.Code,
			})
			return
		}

		// 回写顺延后的凭证，cookie 有效期与会话保持同步
		if id.Credential != "" {
			maxAge := int(time.Until(id.ExpiresAt).Seconds())
			c.SetCookie(SessionCookie, id.Credential, maxAge, "/", "", false, true)
		}

		c.Set(ctxIdentity, id)
		c.Next()
	}
}

// RequireRole 角色闸门，置于 RequireSession 之后。
func RequireRole(role model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := MustIdentity(c)
		if id == nil || id.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false, "message": "无权限执行该操作",
			})
			return
		}
		c.Next()
	}
}

// MustIdentity 取出 RequireSession 写入的身份；未经过中间件时返回 nil。
func MustIdentity(c *gin.Context) *service.Identity {
	v, ok := c.Get(ctxIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*service.Identity)
	return id
}
