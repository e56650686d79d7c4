package service

import (
	"context"
	"time"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"
	"rfq_store/internal/queue"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderFulfillment 订单履约状态机：备货就绪与现金结算。
type OrderFulfillment struct {
	db        *gorm.DB
	inventory *InventoryAllocator
	events    EventSink
}

func NewOrderFulfillment(db *gorm.DB, inv *InventoryAllocator, events EventSink) *OrderFulfillment {
	return &OrderFulfillment{db: db, inventory: inv, events: events}
}

// MarkReady 备货完成：仅允许 AWAITING_PICKUP → READY_FOR_PICKUP。
func (f *OrderFulfillment) MarkReady(ctx context.Context, orderID uint) (*model.Order, error) {
	order, err := f.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderAwaitingPickup {
		return nil, apperr.StateConflict("当前状态不允许标记备货完成")
	}
	res := f.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderAwaitingPickup).
		Update("status", model.OrderReadyForPickup)
	if res.Error != nil {
		return nil, apperr.ClassifyDB(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.StateConflict("订单状态已被并发变更")
	}
	order.Status = model.OrderReadyForPickup

	publishEvent(f.events, queue.OrderEvent{
		EventID: uuid.New().String(),
		Kind:    queue.EventOrderReady,
		OrderID: order.ID,
		RFQID:   order.RFQID,
		UserID:  order.UserID,
		Amount:  order.TotalPrice,
	})
	return order, nil
}

// PayAndComplete 现金结算并完成订单。
// 前置：READY_FOR_PICKUP 且未支付；实收 < 应收 → Validation；
// 找零 = 实收 − 应收（分，精确到分）。已支付订单重复结算 → StateConflict。
// 结算与库存单元 SOLD 流转在同一事务内。
func (f *OrderFulfillment) PayAndComplete(ctx context.Context, orderID uint, cashReceived int64) (*model.Order, error) {
	order, err := f.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == model.PaymentPaid {
		return nil, apperr.StateConflict("订单已支付")
	}
	if order.Status != model.OrderReadyForPickup {
		return nil, apperr.StateConflict("当前状态不允许结算")
	}
	if cashReceived < order.TotalPrice {
		return nil, apperr.Validation("实收金额不足")
	}

	now := time.Now()
	change := cashReceived - order.TotalPrice
	err = f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ? AND payment_status = ?",
				orderID, model.OrderReadyForPickup, model.PaymentUnpaid).
			Updates(map[string]any{
				"status":          model.OrderCompleted,
				"payment_status":  model.PaymentPaid,
				"amount_tendered": cashReceived,
				"change_due":      change,
				"paid_at":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict("订单状态已被并发变更")
		}
		for _, line := range order.Lines {
			if err := f.inventory.Sell(tx, line.ProductUnitID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.ClassifyDB(err, "")
	}

	order.Status = model.OrderCompleted
	order.PaymentStatus = model.PaymentPaid
	order.AmountTendered = &cashReceived
	order.ChangeDue = &change
	order.PaidAt = &now

	publishEvent(f.events, queue.OrderEvent{
		EventID: uuid.New().String(),
		Kind:    queue.EventOrderCompleted,
		OrderID: order.ID,
		RFQID:   order.RFQID,
		UserID:  order.UserID,
		Amount:  order.TotalPrice,
	})
	return order, nil
}

// Cancel 取消订单：未完成状态均可，预留的库存单元同事务释放回 IN_STOCK。
func (f *OrderFulfillment) Cancel(ctx context.Context, orderID uint) (*model.Order, error) {
	order, err := f.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	allowed := order.Status == model.OrderAwaitingPickup || order.Status == model.OrderReadyForPickup
	if !allowed {
		return nil, apperr.StateConflict("当前状态不允许取消")
	}

	err = f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status IN ?", orderID,
				[]model.OrderStatus{model.OrderAwaitingPickup, model.OrderReadyForPickup}).
			Update("status", model.OrderCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict("订单状态已被并发变更")
		}
		for _, line := range order.Lines {
			if err := f.inventory.Release(tx, line.ProductUnitID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.ClassifyDB(err, "")
	}
	order.Status = model.OrderCancelled

	publishEvent(f.events, queue.OrderEvent{
		EventID: uuid.New().String(),
		Kind:    queue.EventOrderCancelled,
		OrderID: order.ID,
		RFQID:   order.RFQID,
		UserID:  order.UserID,
		Amount:  order.TotalPrice,
	})
	return order, nil
}

// Get 订单详情；customer 只能看自己的。
func (f *OrderFulfillment) Get(ctx context.Context, id *Identity, orderID uint) (*model.Order, error) {
	order, err := f.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if id.Role != model.RoleAdmin && order.UserID != id.UserID {
		return nil, apperr.NotFound("订单不存在")
	}
	return order, nil
}

// ListOwn 用户名下订单（不含行明细）。
func (f *OrderFulfillment) ListOwn(ctx context.Context, userID uint) ([]model.Order, error) {
	var out []model.Order
	if err := f.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Find(&out).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "")
	}
	return out, nil
}

func (f *OrderFulfillment) load(ctx context.Context, orderID uint) (*model.Order, error) {
	var order model.Order
	if err := f.db.WithContext(ctx).First(&order, orderID).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "订单不存在")
	}
	if err := f.db.WithContext(ctx).
		Where("order_id = ?", order.ID).Order("id asc").
		Find(&order.Lines).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "")
	}
	return &order, nil
}
