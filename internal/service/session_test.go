package service

import (
	"context"
	"testing"
	"time"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGate(t *testing.T) (*SessionGate, *model.User) {
	db := newTestDB(t)
	user := seedUser(t, db, "buyer@example.com", model.RoleCustomer)
	return NewSessionGate(db, "test-secret", 2*time.Hour), user
}

func TestLoginIssuesSession(t *testing.T) {
	gate, user := newGate(t)

	res, err := gate.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Credential)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), res.ExpiresAt, time.Minute)

	var session model.Session
	require.NoError(t, gate.db.Where("user_id = ? AND is_active = ?", user.ID, true).First(&session).Error)
	assert.NotEmpty(t, session.Token)

	var fresh model.User
	require.NoError(t, gate.db.First(&fresh, user.ID).Error)
	assert.NotNil(t, fresh.LastLoginAt)
}

func TestLoginBadCredentials(t *testing.T) {
	gate, user := newGate(t)

	_, err := gate.Login(context.Background(), user.Email, "wrong")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = gate.Login(context.Background(), "nobody@example.com", testPassword)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestLoginSuspendedUser(t *testing.T) {
	gate, user := newGate(t)
	require.NoError(t, gate.db.Model(user).Update("status", model.UserSuspended).Error)

	_, err := gate.Login(context.Background(), user.Email, testPassword)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

// 单会话策略：已有活跃会话时再次登录必须 409 冲突，而不是再签一个。
func TestLoginExclusiveSession(t *testing.T) {
	gate, user := newGate(t)

	_, err := gate.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)

	_, err = gate.Login(context.Background(), user.Email, testPassword)
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindStateConflict, ae.Kind)
	assert.Equal(t, apperr.CodeSessionExists, ae.Code)
	assert.Equal(t, 409, ae.HTTPStatus())

	var active int64
	require.NoError(t, gate.db.Model(&model.Session{}).
		Where("user_id = ? AND is_active = ?", user.ID, true).Count(&active).Error)
	assert.EqualValues(t, 1, active)
}

// 存储层兜底：绕过应用层直接插第二个活跃会话必须撞部分唯一索引。
func TestActiveSessionUniqueIndex(t *testing.T) {
	gate, user := newGate(t)

	mk := func() error {
		return gate.db.Create(&model.Session{
			UserID:       user.ID,
			Token:        uuid.New().String(),
			IsActive:     true,
			ExpiresAt:    time.Now().Add(time.Hour),
			LastActivity: time.Now(),
		}).Error
	}
	require.NoError(t, mk())
	err := mk()
	require.Error(t, err)
	assert.True(t, apperr.IsUniqueViolation(err))

	// 非活跃会话不受唯一索引约束
	require.NoError(t, gate.db.Create(&model.Session{
		UserID:       user.ID,
		Token:        uuid.New().String(),
		IsActive:     false,
		ExpiresAt:    time.Now().Add(time.Hour),
		LastActivity: time.Now(),
	}).Error)
}

// 已自然过期的活跃会话不应挡住新登录。
func TestLoginAfterSessionExpiry(t *testing.T) {
	gate, user := newGate(t)

	require.NoError(t, gate.db.Create(&model.Session{
		UserID:       user.ID,
		Token:        uuid.New().String(),
		IsActive:     true,
		ExpiresAt:    time.Now().Add(-time.Minute),
		LastActivity: time.Now().Add(-3 * time.Hour),
	}).Error)

	_, err := gate.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)
}

func TestVerifyAndLogout(t *testing.T) {
	gate, user := newGate(t)

	res, err := gate.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)

	id, err := gate.Verify(context.Background(), res.Credential)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, model.RoleCustomer, id.Role)

	require.NoError(t, gate.Logout(context.Background(), id))

	// 登出后凭证本身仍然有效，但会话已失效 → SESSION_INVALID
	_, err = gate.Verify(context.Background(), res.Credential)
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindAuthFailure, ae.Kind)
	assert.Equal(t, apperr.CodeSessionInvalid, ae.Code)

	// 幂等登出
	require.NoError(t, gate.Logout(context.Background(), id))

	// 会话释放后可重新登录
	_, err = gate.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)
}

// 有效期随每次成功校验顺延：用刷新后的凭证持续访问，总时长远超
// 登录时的固定 TTL 仍不掉线；登录时签发的原始凭证则按原有效期过期。
func TestVerifyRefreshesCredential(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "buyer@example.com", model.RoleCustomer)
	gate := NewSessionGate(db, "test-secret", 2*time.Second)

	res, err := gate.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)

	cred := res.Credential
	var id *Identity
	for i := 0; i < 4; i++ {
		time.Sleep(900 * time.Millisecond)
		id, err = gate.Verify(context.Background(), cred)
		require.NoError(t, err, "verify round %d", i)
		require.NotEmpty(t, id.Credential)
		cred = id.Credential
	}
	assert.True(t, id.ExpiresAt.After(res.ExpiresAt))

	// 会话行的有效期同步顺延
	var session model.Session
	require.NoError(t, gate.db.Where("user_id = ? AND is_active = ?", user.ID, true).
		First(&session).Error)
	assert.True(t, session.ExpiresAt.After(res.ExpiresAt))

	// 原始凭证此刻已过其固有有效期
	_, err = gate.Verify(context.Background(), res.Credential)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthFailure))
}

func TestVerifyRejectsBadCredential(t *testing.T) {
	gate, user := newGate(t)

	_, err := gate.Verify(context.Background(), "not-a-jwt")
	assert.True(t, apperr.IsKind(err, apperr.KindAuthFailure))

	// 其他密钥签出来的凭证
	other := NewSessionGate(gate.db, "other-secret", time.Hour)
	res, err := other.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)
	_, err = gate.Verify(context.Background(), res.Credential)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthFailure))
}

// 错误分类契约：校验会话时数据层不可达必须是 503，绝不能当作 401
// 把用户登出。
func TestVerifyBackendUnavailable(t *testing.T) {
	gate, user := newGate(t)

	res, err := gate.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)

	sqlDB, err := gate.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = gate.Verify(context.Background(), res.Credential)
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindBackendUnavailable, ae.Kind)
	assert.Equal(t, 503, ae.HTTPStatus())
}

func TestVerifySuspendedMidSession(t *testing.T) {
	gate, user := newGate(t)

	res, err := gate.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)
	require.NoError(t, gate.db.Model(user).Update("status", model.UserSuspended).Error)

	_, err = gate.Verify(context.Background(), res.Credential)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthFailure))
}
