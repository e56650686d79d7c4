package service

import (
	"context"
	"errors"
	"log"
	"time"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SessionGate 会话网关：登录签发凭证、校验凭证、登出。
// 单会话策略：一个用户同时只允许一个活跃会话。
type SessionGate struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
}

func NewSessionGate(db *gorm.DB, secret string, ttl time.Duration) *SessionGate {
	return &SessionGate{db: db, secret: []byte(secret), ttl: ttl}
}

// Identity 校验通过后附着到请求上下文的身份信息。
// Credential 为本次校验重签的凭证（有效期已顺延），中间件用它刷新 cookie。
type Identity struct {
	UserID       uint
	Role         model.UserRole
	SessionToken string
	Credential   string
	ExpiresAt    time.Time
}

// sessionClaims JWT 载荷：用户身份 + 会话 token。
// 凭证本身自带过期时间，与 sessions.expires_at 一致。
type sessionClaims struct {
	UserID       uint           `json:"uid"`
	Role         model.UserRole `json:"role"`
	SessionToken string         `json:"stk"`
	jwt.RegisteredClaims
}

// LoginResult 登录成功返回的凭证与会话信息。
type LoginResult struct {
	Credential string
	ExpiresAt  time.Time
	User       model.User
}

// Login 校验账号密码并签发会话。
// 若该用户已存在活跃会话，返回 StateConflict（SESSION_EXISTS，409）：
// 必须先在另一端登出。并发登录由 sessions 的部分唯一索引兜底，
// 第二个 INSERT 直接撞唯一冲突，同样映射为 SESSION_EXISTS。
func (g *SessionGate) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var user model.User
	if err := g.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Validation("邮箱或密码错误")
		}
		return nil, apperr.ClassifyDB(err, "")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Validation("邮箱或密码错误")
	}
	if user.Status != model.UserActive {
		return nil, apperr.Validation("账号已停用，请联系管理员")
	}

	now := time.Now()

	// 已自然过期但仍标记 active 的会话先行失效，避免死锁住后续登录。
	if err := g.db.WithContext(ctx).Model(&model.Session{}).
		Where("user_id = ? AND is_active = ? AND expires_at <= ?", user.ID, true, now).
		Update("is_active", false).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "")
	}

	session := &model.Session{
		UserID:       user.ID,
		Token:        uuid.New().String(),
		IsActive:     true,
		ExpiresAt:    now.Add(g.ttl),
		LastActivity: now,
	}
	if err := g.db.WithContext(ctx).Create(session).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.WithCode(
				apperr.StateConflict("该账号已在其他设备登录，请先登出"),
				apperr.CodeSessionExists)
		}
		return nil, apperr.ClassifyDB(err, "")
	}

	credential, err := g.sign(user, session.Token, session.ExpiresAt)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	// 最近登录时间仅作展示，失败不影响登录结果。
	if err := g.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", user.ID).Update("last_login_at", now).Error; err != nil {
		log.Printf("session gate: update last_login_at user=%d: %v", user.ID, err)
	}

	return &LoginResult{Credential: credential, ExpiresAt: session.ExpiresAt, User: user}, nil
}

// Verify 校验凭证并返回身份。错误分类是这里的硬性契约：
// - 签名/过期/会话缺失 → AuthFailure（401，调用方清 cookie）
// - 查会话时数据层不可达 → BackendUnavailable（503，cookie 保留）
// 把后者误判为前者会在一次抖动中把正常用户登出。
func (g *SessionGate) Verify(ctx context.Context, credential string) (*Identity, error) {
	claims, err := g.parse(credential)
	if err != nil {
		return nil, apperr.AuthFailure("", "凭证无效或已过期")
	}

	var session model.Session
	err = g.db.WithContext(ctx).
		Where("user_id = ? AND token = ? AND is_active = ?", claims.UserID, claims.SessionToken, true).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.AuthFailure(apperr.CodeSessionInvalid, "会话不存在或已登出")
		}
		if apperr.IsUnavailable(err) {
			return nil, apperr.BackendUnavailable(err)
		}
		return nil, apperr.Internal(err)
	}
	now := time.Now()
	if !session.ExpiresAt.After(now) {
		return nil, apperr.AuthFailure(apperr.CodeSessionInvalid, "会话已过期")
	}

	var user model.User
	if err := g.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.AuthFailure(apperr.CodeSessionInvalid, "账号不存在")
		}
		if apperr.IsUnavailable(err) {
			return nil, apperr.BackendUnavailable(err)
		}
		return nil, apperr.Internal(err)
	}
	if user.Status != model.UserActive {
		return nil, apperr.AuthFailure(apperr.CodeSessionInvalid, "账号已停用")
	}

	// 有效期随每次成功校验顺延：先顺延会话行，再按新有效期重签凭证，
	// 持续活跃的用户不会在登录时的固定 TTL 后被强制登出。
	// 顺延失败不致命，凭证保持原有效期，下次校验再试。
	newExpiry := now.Add(g.ttl)
	if err := g.touch(ctx, session.ID, now, newExpiry); err != nil {
		log.Printf("session gate: touch session=%d: %v", session.ID, err)
		newExpiry = session.ExpiresAt
	}
	refreshed, err := g.sign(user, session.Token, newExpiry)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &Identity{
		UserID:       user.ID,
		Role:         user.Role,
		SessionToken: session.Token,
		Credential:   refreshed,
		ExpiresAt:    newExpiry,
	}, nil
}

// Logout 注销当前会话。找不到匹配会话时也视为成功（幂等登出）。
func (g *SessionGate) Logout(ctx context.Context, id *Identity) error {
	err := g.db.WithContext(ctx).Model(&model.Session{}).
		Where("user_id = ? AND token = ? AND is_active = ?", id.UserID, id.SessionToken, true).
		Update("is_active", false).Error
	if err != nil {
		return apperr.ClassifyDB(err, "")
	}
	return nil
}

// touch 顺延会话：刷新 last_activity 并把有效期顺延到 expiresAt。
func (g *SessionGate) touch(ctx context.Context, sessionID uint, now, expiresAt time.Time) error {
	return g.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]any{
			"last_activity": now,
			"expires_at":    expiresAt,
		}).Error
}

func (g *SessionGate) sign(user model.User, token string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		UserID:       user.ID,
		Role:         user.Role,
		SessionToken: token,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

func (g *SessionGate) parse(credential string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(credential, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.UserID == 0 || claims.SessionToken == "" {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}
