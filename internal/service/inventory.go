package service

import (
	"errors"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"

	"gorm.io/gorm"
)

// InventoryAllocator 库存分配器：一行 product_units 对应一件实物，
// 按入库时间先进先出分配。
type InventoryAllocator struct {
	db *gorm.DB
}

func NewInventoryAllocator(db *gorm.DB) *InventoryAllocator {
	return &InventoryAllocator{db: db}
}

// reserveAttempts 选中的单元被并发抢走时的重选上限。
const reserveAttempts = 3

// ReserveOne 预留某商品最早入库的一件 IN_STOCK 单元。
// 条件更新 WHERE id AND status='IN_STOCK' 是一次 CAS：必须检查命中行数，
// 零行命中说明该单元刚被并发请求抢走，需要重选，绝不能当作成功。
// tx 传调用方事务则预留随事务一起回滚。
func (a *InventoryAllocator) ReserveOne(tx *gorm.DB, productID uint) (*model.ProductUnit, error) {
	if tx == nil {
		tx = a.db
	}
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var unit model.ProductUnit
		err := tx.Where("product_id = ? AND status = ?", productID, model.UnitInStock).
			Order("created_at asc, id asc").
			First(&unit).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.WithCode(
					apperr.StateConflict("商品已无可用库存"), apperr.CodeOutOfStock)
			}
			return nil, apperr.ClassifyDB(err, "")
		}

		res := tx.Model(&model.ProductUnit{}).
			Where("id = ? AND status = ?", unit.ID, model.UnitInStock).
			Update("status", model.UnitReserved)
		if res.Error != nil {
			return nil, apperr.ClassifyDB(res.Error, "")
		}
		if res.RowsAffected == 1 {
			unit.Status = model.UnitReserved
			return &unit, nil
		}
		// 零行命中：重选下一件
	}
	return nil, apperr.WithCode(
		apperr.StateConflict("商品已无可用库存"), apperr.CodeOutOfStock)
}

// Release 释放预留（RESERVED → IN_STOCK），用于订单取消/补偿。
func (a *InventoryAllocator) Release(tx *gorm.DB, unitID uint) error {
	return a.flip(tx, unitID, model.UnitReserved, model.UnitInStock)
}

// Sell 预留转售出（RESERVED → SOLD），在收款完成时调用。
func (a *InventoryAllocator) Sell(tx *gorm.DB, unitID uint) error {
	return a.flip(tx, unitID, model.UnitReserved, model.UnitSold)
}

func (a *InventoryAllocator) flip(tx *gorm.DB, unitID uint, from, to model.UnitStatus) error {
	if tx == nil {
		tx = a.db
	}
	res := tx.Model(&model.ProductUnit{}).
		Where("id = ? AND status = ?", unitID, from).
		Update("status", to)
	if res.Error != nil {
		return apperr.ClassifyDB(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperr.StateConflict("库存单元状态已变化")
	}
	return nil
}
