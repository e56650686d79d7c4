package service

import (
	"context"
	"log"
	"strings"
	"time"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"
	"rfq_store/internal/queue"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QuoteNegotiation 询价单状态机：提交、受理、报价、客户接受/拒绝，
// 以及接受时的库存预留与订单生成。
type QuoteNegotiation struct {
	db            *gorm.DB
	carts         *CartLedger
	inventory     *InventoryAllocator
	quoteValidFor time.Duration
	events        EventSink
}

func NewQuoteNegotiation(db *gorm.DB, carts *CartLedger, inv *InventoryAllocator, quoteValidFor time.Duration, events EventSink) *QuoteNegotiation {
	return &QuoteNegotiation{
		db:            db,
		carts:         carts,
		inventory:     inv,
		quoteValidFor: quoteValidFor,
		events:        events,
	}
}

// SubmitItem 询价提交的一条明细。
type SubmitItem struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

// ContactInfo 询价单上的联系人信息，缺省时回填用户档案。
type ContactInfo struct {
	Name    string `json:"contact_name"`
	Email   string `json:"contact_email"`
	Phone   string `json:"contact_phone"`
	Company string `json:"company"`
}

// Submit 创建询价单（PENDING_REVIEW），行同样落 PENDING_REVIEW。
// 来源购物车行的折入是尽力而为：失败只记日志，询价提交照常成功。
func (n *QuoteNegotiation) Submit(ctx context.Context, userID uint, items []SubmitItem, contact ContactInfo) (*model.RFQ, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("至少需要一条询价明细")
	}
	productIDs := make([]uint, 0, len(items))
	for _, it := range items {
		if it.ProductID == 0 {
			return nil, apperr.Validation("商品ID无效")
		}
		if it.Quantity <= 0 {
			return nil, apperr.Validation("数量必须为正整数")
		}
		productIDs = append(productIDs, it.ProductID)
	}

	var products []model.Product
	if err := n.db.WithContext(ctx).Where("id IN ?", productIDs).Find(&products).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "")
	}
	byID := make(map[uint]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, it := range items {
		if _, ok := byID[it.ProductID]; !ok {
			return nil, apperr.NotFound("商品不存在")
		}
	}

	var user model.User
	if err := n.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "用户不存在")
	}
	if contact.Name == "" {
		contact.Name = user.Name
	}
	if contact.Email == "" {
		contact.Email = user.Email
	}
	if contact.Company == "" {
		contact.Company = user.Company
	}

	currency := byID[items[0].ProductID].Currency

	rfq := &model.RFQ{
		OwnerID:      &userID,
		ContactName:  contact.Name,
		ContactEmail: contact.Email,
		ContactPhone: contact.Phone,
		Company:      contact.Company,
		Currency:     currency,
		Status:       model.RFQPendingReview,
	}
	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rfq).Error; err != nil {
			return err
		}
		for _, it := range items {
			line := model.RFQLine{
				RFQID:      rfq.ID,
				ProductID:  it.ProductID,
				Quantity:   it.Quantity,
				LineStatus: model.RFQLinePendingReview,
			}
			if err := tx.Create(&line).Error; err != nil {
				return err
			}
			rfq.Lines = append(rfq.Lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.ClassifyDB(err, "")
	}

	if err := n.carts.FoldIntoRFQ(ctx, userID, productIDs, rfq.ID); err != nil {
		log.Printf("quote negotiation: fold cart lines rfq=%d: %v", rfq.ID, err)
	}

	return rfq, nil
}

// AdminAccept 受理询价：仅允许 PENDING_REVIEW → UNDER_REVIEW。
func (n *QuoteNegotiation) AdminAccept(ctx context.Context, rfqID uint) (*model.RFQ, error) {
	return n.transition(ctx, rfqID,
		[]model.RFQStatus{model.RFQPendingReview}, model.RFQUnderReview)
}

// AdminReject 管理员拒绝询价：任意未转订单的非终态 → REJECTED_BY_ADMIN。
// 管理员侧拒绝不回填客户购物车。
func (n *QuoteNegotiation) AdminReject(ctx context.Context, rfqID uint) (*model.RFQ, error) {
	return n.transition(ctx, rfqID,
		[]model.RFQStatus{model.RFQPendingReview, model.RFQUnderReview, model.RFQQuoteSent, model.RFQPartiallyQuoted},
		model.RFQRejectedByAdmin)
}

// LineQuote 管理员对单行的报价。单价/总价允许只填其一，互相可推导。
type LineQuote struct {
	LineID           uint   `json:"line_id"`
	QuotedUnitPrice  *int64 `json:"quoted_unit_price"`
	QuotedTotalPrice *int64 `json:"quoted_total_price"`
	LeadTimeDays     *int   `json:"lead_time_days"`
}

// AdminQuote 写入行级报价并流转询价单状态。
// 仅允许从 {PENDING_REVIEW, UNDER_REVIEW, PARTIALLY_QUOTED} 发起；
// 全部行报完价 → QUOTE_SENT，只报了一部分 → PARTIALLY_QUOTED。
// 报价有效期从本次报价起算。
func (n *QuoteNegotiation) AdminQuote(ctx context.Context, rfqID uint, quotes []LineQuote) (*model.RFQ, error) {
	if len(quotes) == 0 {
		return nil, apperr.Validation("至少需要一条报价明细")
	}

	rfq, err := n.load(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	allowed := []model.RFQStatus{model.RFQPendingReview, model.RFQUnderReview, model.RFQPartiallyQuoted}
	if !statusIn(rfq.Status, allowed) {
		return nil, apperr.StateConflict("当前状态不允许报价")
	}

	lineIDs := make(map[uint]struct{}, len(rfq.Lines))
	for _, line := range rfq.Lines {
		lineIDs[line.ID] = struct{}{}
	}
	for _, q := range quotes {
		if _, ok := lineIDs[q.LineID]; !ok {
			return nil, apperr.NotFound("报价明细不属于该询价单")
		}
		if q.QuotedUnitPrice == nil && q.QuotedTotalPrice == nil {
			return nil, apperr.Validation("必须提供单价或总价")
		}
		if q.QuotedUnitPrice != nil && *q.QuotedUnitPrice <= 0 {
			return nil, apperr.Validation("单价必须为正数")
		}
		if q.QuotedTotalPrice != nil && *q.QuotedTotalPrice <= 0 {
			return nil, apperr.Validation("总价必须为正数")
		}
		if q.LeadTimeDays != nil && *q.LeadTimeDays < 0 {
			return nil, apperr.Validation("交期不能为负")
		}
	}

	validUntil := time.Now().Add(n.quoteValidFor)
	err = n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, q := range quotes {
			if err := tx.Model(&model.RFQLine{}).
				Where("id = ? AND rfq_id = ?", q.LineID, rfqID).
				Updates(map[string]any{
					"quoted_unit_price":  q.QuotedUnitPrice,
					"quoted_total_price": q.QuotedTotalPrice,
					"lead_time_days":     q.LeadTimeDays,
					"line_status":        model.RFQLineQuoted,
				}).Error; err != nil {
				return err
			}
		}

		var pending int64
		if err := tx.Model(&model.RFQLine{}).
			Where("rfq_id = ? AND line_status = ?", rfqID, model.RFQLinePendingReview).
			Count(&pending).Error; err != nil {
			return err
		}
		next := model.RFQQuoteSent
		if pending > 0 {
			next = model.RFQPartiallyQuoted
		}

		res := tx.Model(&model.RFQ{}).
			Where("id = ? AND status IN ?", rfqID, allowed).
			Updates(map[string]any{"status": next, "price_valid_until": validUntil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict("询价单状态已被并发变更")
		}
		return nil
	})
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.ClassifyDB(err, "")
	}

	return n.load(ctx, rfqID)
}

// CustomerCancel 客户撤单：报价发出前（含部分报价）可撤。
// 撤单后尽力恢复被折入的购物车行。
func (n *QuoteNegotiation) CustomerCancel(ctx context.Context, userID, rfqID uint) (*model.RFQ, error) {
	rfq, err := n.loadOwned(ctx, userID, rfqID)
	if err != nil {
		return nil, err
	}
	if err := n.expireIfStale(ctx, rfq); err != nil {
		return nil, err
	}
	out, err := n.guardedTransition(ctx, rfq,
		[]model.RFQStatus{model.RFQPendingReview, model.RFQUnderReview, model.RFQPartiallyQuoted},
		model.RFQRejectedByCustomer)
	if err != nil {
		return nil, err
	}
	n.restoreCart(ctx, rfqID)
	return out, nil
}

// CustomerReject 客户拒绝报价：QUOTE_SENT / PARTIALLY_QUOTED 可拒。
func (n *QuoteNegotiation) CustomerReject(ctx context.Context, userID, rfqID uint) (*model.RFQ, error) {
	rfq, err := n.loadOwned(ctx, userID, rfqID)
	if err != nil {
		return nil, err
	}
	if err := n.expireIfStale(ctx, rfq); err != nil {
		return nil, err
	}
	out, err := n.guardedTransition(ctx, rfq,
		[]model.RFQStatus{model.RFQQuoteSent, model.RFQPartiallyQuoted},
		model.RFQRejectedByCustomer)
	if err != nil {
		return nil, err
	}
	n.restoreCart(ctx, rfqID)
	return out, nil
}

// CustomerAccept 客户接受报价并转订单。整个动作在一个事务里完成：
// 行价计算、逐行库存预留（FIFO CAS）、订单与订单行创建、询价单流转。
// 任一行预留失败则全部回滚，不会留下孤儿预留。
func (n *QuoteNegotiation) CustomerAccept(ctx context.Context, userID, rfqID uint) (*model.Order, error) {
	rfq, err := n.loadOwned(ctx, userID, rfqID)
	if err != nil {
		return nil, err
	}
	if err := n.expireIfStale(ctx, rfq); err != nil {
		return nil, err
	}
	if !statusIn(rfq.Status, []model.RFQStatus{model.RFQQuoteSent, model.RFQPartiallyQuoted}) {
		return nil, apperr.StateConflict("当前状态不允许接受报价")
	}

	type pricedLine struct {
		line      model.RFQLine
		unitPrice int64
		lineTotal int64
	}
	priced := make([]pricedLine, 0, len(rfq.Lines))
	for _, line := range rfq.Lines {
		if line.LineStatus != model.RFQLineQuoted {
			continue
		}
		if line.QuotedUnitPrice == nil && line.QuotedTotalPrice == nil {
			continue
		}
		var unitPrice, lineTotal int64
		if line.QuotedUnitPrice != nil {
			unitPrice = *line.QuotedUnitPrice
		} else {
			unitPrice = *line.QuotedTotalPrice / int64(line.Quantity)
		}
		if line.QuotedTotalPrice != nil {
			lineTotal = *line.QuotedTotalPrice
		} else {
			lineTotal = unitPrice * int64(line.Quantity)
		}
		priced = append(priced, pricedLine{line: line, unitPrice: unitPrice, lineTotal: lineTotal})
	}
	if len(priced) == 0 {
		return nil, apperr.Validation("没有可接受的已报价明细")
	}

	var total int64
	for _, p := range priced {
		total += p.lineTotal
	}

	order := &model.Order{
		OrderNo:       newOrderNo(),
		RFQID:         rfq.ID,
		UserID:        userID,
		Currency:      rfq.Currency,
		TotalPrice:    total,
		Status:        model.OrderAwaitingPickup,
		PaymentStatus: model.PaymentUnpaid,
		PaymentMethod: "cash",
	}
	err = n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		for _, p := range priced {
			unit, err := n.inventory.ReserveOne(tx, p.line.ProductID)
			if err != nil {
				return err
			}
			ol := model.OrderLine{
				OrderID:       order.ID,
				RFQLineID:     p.line.ID,
				ProductID:     p.line.ProductID,
				ProductUnitID: unit.ID,
				Quantity:      p.line.Quantity,
				UnitPrice:     p.unitPrice,
				LineTotal:     p.lineTotal,
			}
			if err := tx.Create(&ol).Error; err != nil {
				return err
			}
			order.Lines = append(order.Lines, ol)
		}

		res := tx.Model(&model.RFQ{}).
			Where("id = ? AND status IN ?", rfq.ID,
				[]model.RFQStatus{model.RFQQuoteSent, model.RFQPartiallyQuoted}).
			Update("status", model.RFQConvertedToOrder)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.StateConflict("询价单状态已被并发变更")
		}
		return nil
	})
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.ClassifyDB(err, "")
	}

	publishEvent(n.events, queue.OrderEvent{
		EventID: uuid.New().String(),
		Kind:    queue.EventRFQConverted,
		OrderID: order.ID,
		RFQID:   rfq.ID,
		UserID:  userID,
		Amount:  order.TotalPrice,
	})

	return order, nil
}

// Get 返回询价单详情；customer 只能看自己的。
func (n *QuoteNegotiation) Get(ctx context.Context, id *Identity, rfqID uint) (*model.RFQ, error) {
	if id.Role == model.RoleAdmin {
		return n.load(ctx, rfqID)
	}
	return n.loadOwned(ctx, id.UserID, rfqID)
}

// ListOwn 返回用户名下的询价单（不含行明细）。
func (n *QuoteNegotiation) ListOwn(ctx context.Context, userID uint) ([]model.RFQ, error) {
	var out []model.RFQ
	if err := n.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("id desc").
		Find(&out).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "")
	}
	return out, nil
}

// expireIfStale 惰性过期：报价有效期已过则把询价单流转为 EXPIRED
// 并返回冲突。EXPIRED 没有后台扫描任务，统一在客户侧入口判定。
func (n *QuoteNegotiation) expireIfStale(ctx context.Context, rfq *model.RFQ) error {
	if !statusIn(rfq.Status, []model.RFQStatus{model.RFQQuoteSent, model.RFQPartiallyQuoted}) {
		return nil
	}
	if rfq.PriceValidUntil == nil || rfq.PriceValidUntil.After(time.Now()) {
		return nil
	}
	err := n.db.WithContext(ctx).Model(&model.RFQ{}).
		Where("id = ? AND status = ?", rfq.ID, rfq.Status).
		Update("status", model.RFQExpired).Error
	if err != nil {
		return apperr.ClassifyDB(err, "")
	}
	rfq.Status = model.RFQExpired
	return apperr.StateConflict("报价已过期")
}

func (n *QuoteNegotiation) restoreCart(ctx context.Context, rfqID uint) {
	if err := n.carts.RestoreFoldedLines(ctx, rfqID); err != nil {
		log.Printf("quote negotiation: restore cart lines rfq=%d: %v", rfqID, err)
	}
}

func (n *QuoteNegotiation) load(ctx context.Context, rfqID uint) (*model.RFQ, error) {
	var rfq model.RFQ
	if err := n.db.WithContext(ctx).First(&rfq, rfqID).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "询价单不存在")
	}
	if err := n.db.WithContext(ctx).
		Where("rfq_id = ?", rfq.ID).Order("id asc").
		Find(&rfq.Lines).Error; err != nil {
		return nil, apperr.ClassifyDB(err, "")
	}
	return &rfq, nil
}

func (n *QuoteNegotiation) loadOwned(ctx context.Context, userID, rfqID uint) (*model.RFQ, error) {
	rfq, err := n.load(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if rfq.OwnerID == nil || *rfq.OwnerID != userID {
		// 不泄露他人询价单的存在性
		return nil, apperr.NotFound("询价单不存在")
	}
	return rfq, nil
}

// transition 加载后做受保卫的状态流转（条件更新防并发）。
func (n *QuoteNegotiation) transition(ctx context.Context, rfqID uint, from []model.RFQStatus, to model.RFQStatus) (*model.RFQ, error) {
	rfq, err := n.load(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	return n.guardedTransition(ctx, rfq, from, to)
}

func (n *QuoteNegotiation) guardedTransition(ctx context.Context, rfq *model.RFQ, from []model.RFQStatus, to model.RFQStatus) (*model.RFQ, error) {
	if !statusIn(rfq.Status, from) {
		return nil, apperr.StateConflict("当前状态不允许该操作")
	}
	if !rfq.Status.CanTransition(to) {
		return nil, apperr.StateConflict("非法状态迁移")
	}
	res := n.db.WithContext(ctx).Model(&model.RFQ{}).
		Where("id = ? AND status IN ?", rfq.ID, from).
		Update("status", to)
	if res.Error != nil {
		return nil, apperr.ClassifyDB(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.StateConflict("询价单状态已被并发变更")
	}
	rfq.Status = to
	return rfq, nil
}

func statusIn(s model.RFQStatus, set []model.RFQStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

// newOrderNo 生成订单号：SO + UUID 前 12 位（大写）。
func newOrderNo() string {
	return "SO" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
}
