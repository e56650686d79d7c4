package service

import (
	"testing"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestReserveOneFIFO(t *testing.T) {
	db := newTestDB(t)
	inv := NewInventoryAllocator(db)
	product := seedProduct(t, db, "LG-300", 100000, 3)

	// 按入库时间先进先出
	first, err := inv.ReserveOne(nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "SN-LG-300-001", first.SerialNo)
	assert.Equal(t, model.UnitReserved, first.Status)

	second, err := inv.ReserveOne(nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "SN-LG-300-002", second.SerialNo)
}

func TestReserveOneExhaustsStock(t *testing.T) {
	db := newTestDB(t)
	inv := NewInventoryAllocator(db)
	product := seedProduct(t, db, "SW-8P", 450000, 2)

	for i := 0; i < 2; i++ {
		_, err := inv.ReserveOne(nil, product.ID)
		require.NoError(t, err)
	}

	_, err := inv.ReserveOne(nil, product.ID)
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindStateConflict, ae.Kind)
	assert.Equal(t, apperr.CodeOutOfStock, ae.Code)
}

func TestReserveOneSkipsNonSellableStatuses(t *testing.T) {
	db := newTestDB(t)
	inv := NewInventoryAllocator(db)
	product := seedProduct(t, db, "LG-300", 100000, 2)

	// 最早一件已售出，应分配第二件
	require.NoError(t, db.Model(&model.ProductUnit{}).
		Where("serial_no = ?", "SN-LG-300-001").
		Update("status", model.UnitSold).Error)

	unit, err := inv.ReserveOne(nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "SN-LG-300-002", unit.SerialNo)
}

// stealOldestInStock 模拟并发请求：把最早入库的 IN_STOCK 单元直接抢走。
// 走 Exec（raw 回调链），不会重入注册在 Update 链上的测试钩子。
func stealOldestInStock(t *testing.T, db *gorm.DB, productID uint) {
	t.Helper()
	require.NoError(t, db.Session(&gorm.Session{NewDB: true}).Exec(
		`UPDATE product_units SET status = ? WHERE id = (
			SELECT id FROM product_units
			WHERE product_id = ? AND status = ?
			ORDER BY created_at ASC, id ASC LIMIT 1)`,
		model.UnitReserved, productID, model.UnitInStock).Error)
}

// 选中与条件更新之间单元被并发请求抢走：零行命中必须触发重选，
// 绝不能把抢手的那件当作预留成功。
func TestReserveOneRetriesWhenUnitStolen(t *testing.T) {
	db := newTestDB(t)
	inv := NewInventoryAllocator(db)
	product := seedProduct(t, db, "LG-300", 100000, 3)

	stolen := false
	require.NoError(t, db.Callback().Update().Before("gorm:update").
		Register("race_steal_once", func(tx *gorm.DB) {
			if _, ok := tx.Statement.Model.(*model.ProductUnit); !ok || stolen {
				return
			}
			stolen = true
			stealOldestInStock(t, db, product.ID)
		}))

	unit, err := inv.ReserveOne(nil, product.ID)
	require.NoError(t, err)
	require.True(t, stolen)
	// 第一件已被并发方拿走，重选落到第二件
	assert.Equal(t, "SN-LG-300-002", unit.SerialNo)
	assert.Equal(t, model.UnitReserved, unit.Status)

	var first model.ProductUnit
	require.NoError(t, db.Where("serial_no = ?", "SN-LG-300-001").First(&first).Error)
	assert.Equal(t, model.UnitReserved, first.Status)
}

// 每次重选都被抢：重试次数耗尽后报 OUT_OF_STOCK，而不是静默成功。
func TestReserveOneGivesUpAfterRepeatedSteals(t *testing.T) {
	db := newTestDB(t)
	inv := NewInventoryAllocator(db)
	product := seedProduct(t, db, "SW-8P", 450000, reserveAttempts)

	require.NoError(t, db.Callback().Update().Before("gorm:update").
		Register("race_steal_always", func(tx *gorm.DB) {
			if _, ok := tx.Statement.Model.(*model.ProductUnit); !ok {
				return
			}
			stealOldestInStock(t, db, product.ID)
		}))

	_, err := inv.ReserveOne(nil, product.ID)
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindStateConflict, ae.Kind)
	assert.Equal(t, apperr.CodeOutOfStock, ae.Code)
}

func TestReleaseAndResell(t *testing.T) {
	db := newTestDB(t)
	inv := NewInventoryAllocator(db)
	product := seedProduct(t, db, "LG-300", 100000, 1)

	unit, err := inv.ReserveOne(nil, product.ID)
	require.NoError(t, err)

	require.NoError(t, inv.Release(nil, unit.ID))
	var fresh model.ProductUnit
	require.NoError(t, db.First(&fresh, unit.ID).Error)
	assert.Equal(t, model.UnitInStock, fresh.Status)

	// 释放后可再次预留
	again, err := inv.ReserveOne(nil, product.ID)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, again.ID)

	require.NoError(t, inv.Sell(nil, again.ID))
	require.NoError(t, db.First(&fresh, unit.ID).Error)
	assert.Equal(t, model.UnitSold, fresh.Status)
}

// 状态翻转是条件更新，前置状态不匹配时零行命中视为冲突。
func TestFlipGuardsCurrentStatus(t *testing.T) {
	db := newTestDB(t)
	inv := NewInventoryAllocator(db)
	product := seedProduct(t, db, "LG-300", 100000, 1)

	var unit model.ProductUnit
	require.NoError(t, db.Where("product_id = ?", product.ID).First(&unit).Error)

	// IN_STOCK 不能直接 Sell / Release
	assert.True(t, apperr.IsKind(inv.Sell(nil, unit.ID), apperr.KindStateConflict))
	assert.True(t, apperr.IsKind(inv.Release(nil, unit.ID), apperr.KindStateConflict))

	_, err := inv.ReserveOne(nil, product.ID)
	require.NoError(t, err)
	require.NoError(t, inv.Sell(nil, unit.ID))

	// SOLD 是终点，重复 Sell 冲突
	assert.True(t, apperr.IsKind(inv.Sell(nil, unit.ID), apperr.KindStateConflict))
}
