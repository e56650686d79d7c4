package service

import (
	"context"
	"errors"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"

	"gorm.io/gorm"
)

// CartLedger 购物车台账：询价前的候选清单。
// 购物车不做物理删除，行只做状态流转（ACTIVE/REMOVED/RFQED）。
type CartLedger struct {
	db *gorm.DB
}

func NewCartLedger(db *gorm.DB) *CartLedger {
	return &CartLedger{db: db}
}

// ActiveCart 返回用户当前 ACTIVE 购物车，没有则惰性创建（幂等）。
func (l *CartLedger) ActiveCart(ctx context.Context, userID uint) (*model.Cart, error) {
	var cart model.Cart
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.CartActive).
		First(&cart).Error
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ClassifyDB(err, "")
	}

	cart = model.Cart{UserID: userID, Status: model.CartActive}
	if err := l.db.WithContext(ctx).Create(&cart).Error; err != nil {
		// 并发创建撞了 idx_carts_user_active：复用对方那一个。
		if apperr.IsUniqueViolation(err) {
			findErr := l.db.WithContext(ctx).
				Where("user_id = ? AND status = ?", userID, model.CartActive).
				First(&cart).Error
			if findErr != nil {
				return nil, apperr.ClassifyDB(findErr, "")
			}
			return &cart, nil
		}
		return nil, apperr.ClassifyDB(err, "")
	}
	return &cart, nil
}

// CartView 购物车及其 ACTIVE 行。
func (l *CartLedger) CartView(ctx context.Context, userID uint) (*model.Cart, error) {
	cart, err := l.ActiveCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := l.db.WithContext(ctx).
		Where("cart_id = ? AND status = ?", cart.ID, model.CartLineActive).
		Order("id asc").
		Find(&cart.Lines).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "")
	}
	return cart, nil
}

// AddLine 加购。同商品的 ACTIVE 行已存在时合并数量，否则新插一行并
// 快照当前单价与币种。
func (l *CartLedger) AddLine(ctx context.Context, userID, productID uint, qty int) (*model.CartLine, error) {
	if qty <= 0 {
		return nil, apperr.Validation("数量必须为正整数")
	}

	var product model.Product
	if err := l.db.WithContext(ctx).First(&product, productID).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "商品不存在")
	}
	if !product.IsSellable {
		return nil, apperr.Validation("商品已下架")
	}

	cart, err := l.ActiveCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	var line model.CartLine
	err = l.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ? AND status = ?", cart.ID, productID, model.CartLineActive).
		First(&line).Error
	if err == nil {
		if uerr := l.db.WithContext(ctx).Model(&line).
			Update("quantity", gorm.Expr("quantity + ?", qty)).Error; uerr != nil {
			return nil, apperr.ClassifyDB(uerr, "")
		}
		line.Quantity += qty
		return &line, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ClassifyDB(err, "")
	}

	line = model.CartLine{
		CartID:        cart.ID,
		ProductID:     productID,
		Quantity:      qty,
		PriceSnapshot: product.UnitPrice,
		Currency:      product.Currency,
		Status:        model.CartLineActive,
	}
	if err := l.db.WithContext(ctx).Create(&line).Error; err != nil {
		// 并发加购撞唯一索引：退化为合并数量。
		if apperr.IsUniqueViolation(err) {
			res := l.db.WithContext(ctx).Model(&model.CartLine{}).
				Where("cart_id = ? AND product_id = ? AND status = ?", cart.ID, productID, model.CartLineActive).
				Update("quantity", gorm.Expr("quantity + ?", qty))
			if res.Error != nil {
				return nil, apperr.ClassifyDB(res.Error, "")
			}
			ferr := l.db.WithContext(ctx).
				Where("cart_id = ? AND product_id = ? AND status = ?", cart.ID, productID, model.CartLineActive).
				First(&line).Error
			if ferr != nil {
				return nil, apperr.ClassifyDB(ferr, "")
			}
			return &line, nil
		}
		return nil, apperr.ClassifyDB(err, "")
	}
	return &line, nil
}

// SetQuantity 改数量，只作用于本人 ACTIVE 购物车里的 ACTIVE 行。
func (l *CartLedger) SetQuantity(ctx context.Context, userID, lineID uint, qty int) error {
	if qty <= 0 {
		return apperr.Validation("数量必须为正整数")
	}
	return l.updateOwnActiveLine(ctx, userID, lineID, map[string]any{"quantity": qty})
}

// RemoveLine 软删除：状态置 REMOVED，保留历史。
func (l *CartLedger) RemoveLine(ctx context.Context, userID, lineID uint) error {
	return l.updateOwnActiveLine(ctx, userID, lineID,
		map[string]any{"status": model.CartLineRemoved})
}

func (l *CartLedger) updateOwnActiveLine(ctx context.Context, userID, lineID uint, values map[string]any) error {
	ownCart := l.db.Model(&model.Cart{}).Select("id").
		Where("user_id = ? AND status = ?", userID, model.CartActive)
	res := l.db.WithContext(ctx).Model(&model.CartLine{}).
		Where("id = ? AND status = ? AND cart_id IN (?)", lineID, model.CartLineActive, ownCart).
		Updates(values)
	if res.Error != nil {
		return apperr.ClassifyDB(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("购物车行不存在")
	}
	return nil
}

// FoldIntoRFQ 询价提交后把来源行折入 RFQ：ACTIVE → RFQED。
// 调用方按尽力而为处理：失败只记日志，不影响询价单本身。
func (l *CartLedger) FoldIntoRFQ(ctx context.Context, userID uint, productIDs []uint, rfqID uint) error {
	if len(productIDs) == 0 {
		return nil
	}
	ownCart := l.db.Model(&model.Cart{}).Select("id").
		Where("user_id = ? AND status = ?", userID, model.CartActive)
	err := l.db.WithContext(ctx).Model(&model.CartLine{}).
		Where("cart_id IN (?) AND product_id IN ? AND status = ?", ownCart, productIDs, model.CartLineActive).
		Updates(map[string]any{"status": model.CartLineRFQed, "rfq_id": rfqID}).Error
	if err != nil {
		return apperr.ClassifyDB(err, "")
	}
	return nil
}

// RestoreFoldedLines 客户撤单/拒绝报价后把 RFQED 行恢复为 ACTIVE。
// 若期间同商品又加购了新 ACTIVE 行，则把数量并入新行并把旧行置 REMOVED，
// 避免撞 (cart, product) 唯一索引。同样是尽力而为。
func (l *CartLedger) RestoreFoldedLines(ctx context.Context, rfqID uint) error {
	var folded []model.CartLine
	err := l.db.WithContext(ctx).
		Where("rfq_id = ? AND status = ?", rfqID, model.CartLineRFQed).
		Find(&folded).Error
	if err != nil {
		return apperr.ClassifyDB(err, "")
	}

	for i := range folded {
		line := folded[i]
		res := l.db.WithContext(ctx).Model(&model.CartLine{}).
			Where("cart_id = ? AND product_id = ? AND status = ?", line.CartID, line.ProductID, model.CartLineActive).
			Update("quantity", gorm.Expr("quantity + ?", line.Quantity))
		if res.Error != nil {
			return apperr.ClassifyDB(res.Error, "")
		}
		values := map[string]any{"status": model.CartLineActive, "rfq_id": nil}
		if res.RowsAffected > 0 {
			// 数量已并入新行，本行作废但保留 rfq_id 供追溯。
			values = map[string]any{"status": model.CartLineRemoved}
		}
		if err := l.db.WithContext(ctx).Model(&model.CartLine{}).
			Where("id = ?", line.ID).Updates(values).Error; err != nil {
			return apperr.ClassifyDB(err, "")
		}
	}
	return nil
}
