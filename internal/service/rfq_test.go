package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type rfqFixture struct {
	db     *gorm.DB
	ledger *CartLedger
	inv    *InventoryAllocator
	quotes *QuoteNegotiation
	user   *model.User
	admin  *model.User
}

func newRFQFixture(t *testing.T) *rfqFixture {
	t.Helper()
	db := newTestDB(t)
	ledger := NewCartLedger(db)
	inv := NewInventoryAllocator(db)
	return &rfqFixture{
		db:     db,
		ledger: ledger,
		inv:    inv,
		quotes: NewQuoteNegotiation(db, ledger, inv, 7*24*time.Hour, nil),
		user:   seedUser(t, db, "buyer@example.com", model.RoleCustomer),
		admin:  seedUser(t, db, "admin@example.com", model.RoleAdmin),
	}
}

func (f *rfqFixture) submit(t *testing.T, items ...SubmitItem) *model.RFQ {
	t.Helper()
	rfq, err := f.quotes.Submit(context.Background(), f.user.ID, items, ContactInfo{})
	require.NoError(t, err)
	return rfq
}

// quoteAllLines 直接把全部行置为已报价（绕过状态机，供表驱动测试构造前置态）。
func (f *rfqFixture) quoteAllLines(t *testing.T, rfqID uint, unitPrice int64) {
	t.Helper()
	require.NoError(t, f.db.Model(&model.RFQLine{}).
		Where("rfq_id = ?", rfqID).
		Updates(map[string]any{
			"quoted_unit_price": unitPrice,
			"line_status":       model.RFQLineQuoted,
		}).Error)
}

func TestSubmitValidation(t *testing.T) {
	f := newRFQFixture(t)
	ctx := context.Background()

	_, err := f.quotes.Submit(ctx, f.user.ID, nil, ContactInfo{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.quotes.Submit(ctx, f.user.ID, []SubmitItem{{ProductID: 1, Quantity: 0}}, ContactInfo{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.quotes.Submit(ctx, f.user.ID, []SubmitItem{{ProductID: 9999, Quantity: 1}}, ContactInfo{})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestSubmitCreatesPendingRFQAndFoldsCart(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 0)

	cartLine, err := f.ledger.AddLine(context.Background(), f.user.ID, product.ID, 2)
	require.NoError(t, err)

	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 2})
	assert.Equal(t, model.RFQPendingReview, rfq.Status)
	require.Len(t, rfq.Lines, 1)
	assert.Equal(t, model.RFQLinePendingReview, rfq.Lines[0].LineStatus)
	// 联系人缺省回填用户档案
	assert.Equal(t, f.user.Email, rfq.ContactEmail)
	assert.Equal(t, "PHP", rfq.Currency)

	var folded model.CartLine
	require.NoError(t, f.db.First(&folded, cartLine.ID).Error)
	assert.Equal(t, model.CartLineRFQed, folded.Status)
}

// 全量表驱动：8 个状态 × 5 个操作，成功当且仅当前置状态在各自守卫集内。
func TestRFQTransitionLegality(t *testing.T) {
	allStatuses := []model.RFQStatus{
		model.RFQPendingReview, model.RFQUnderReview,
		model.RFQQuoteSent, model.RFQPartiallyQuoted,
		model.RFQConvertedToOrder, model.RFQRejectedByCustomer,
		model.RFQRejectedByAdmin, model.RFQExpired,
	}

	type op struct {
		name    string
		allowed map[model.RFQStatus]bool
		run     func(f *rfqFixture, rfq *model.RFQ) error
	}
	ops := []op{
		{
			name: "admin_accept",
			allowed: map[model.RFQStatus]bool{
				model.RFQPendingReview: true,
			},
			run: func(f *rfqFixture, rfq *model.RFQ) error {
				_, err := f.quotes.AdminAccept(context.Background(), rfq.ID)
				return err
			},
		},
		{
			name: "admin_quote",
			allowed: map[model.RFQStatus]bool{
				model.RFQPendingReview:   true,
				model.RFQUnderReview:     true,
				model.RFQPartiallyQuoted: true,
			},
			run: func(f *rfqFixture, rfq *model.RFQ) error {
				_, err := f.quotes.AdminQuote(context.Background(), rfq.ID,
					[]LineQuote{{LineID: rfq.Lines[0].ID, QuotedUnitPrice: int64p(90000)}})
				return err
			},
		},
		{
			name: "customer_cancel",
			allowed: map[model.RFQStatus]bool{
				model.RFQPendingReview:   true,
				model.RFQUnderReview:     true,
				model.RFQPartiallyQuoted: true,
			},
			run: func(f *rfqFixture, rfq *model.RFQ) error {
				_, err := f.quotes.CustomerCancel(context.Background(), f.user.ID, rfq.ID)
				return err
			},
		},
		{
			name: "customer_reject",
			allowed: map[model.RFQStatus]bool{
				model.RFQQuoteSent:       true,
				model.RFQPartiallyQuoted: true,
			},
			run: func(f *rfqFixture, rfq *model.RFQ) error {
				_, err := f.quotes.CustomerReject(context.Background(), f.user.ID, rfq.ID)
				return err
			},
		},
		{
			name: "customer_accept",
			allowed: map[model.RFQStatus]bool{
				model.RFQQuoteSent:       true,
				model.RFQPartiallyQuoted: true,
			},
			run: func(f *rfqFixture, rfq *model.RFQ) error {
				_, err := f.quotes.CustomerAccept(context.Background(), f.user.ID, rfq.ID)
				return err
			},
		},
	}

	for _, o := range ops {
		for i, status := range allStatuses {
			t.Run(fmt.Sprintf("%s_from_%s", o.name, status), func(t *testing.T) {
				f := newRFQFixture(t)
				product := seedProduct(t, f.db, fmt.Sprintf("SKU-%s-%d", o.name, i), 100000, 3)
				rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 2})
				f.quoteAllLines(t, rfq.ID, 90000)
				forceRFQStatus(t, f.db, rfq.ID, status)
				rfq.Status = status

				err := o.run(f, rfq)
				if o.allowed[status] {
					assert.NoError(t, err)
				} else {
					require.Error(t, err)
					assert.True(t, apperr.IsKind(err, apperr.KindStateConflict),
						"expected StateConflict, got %v", err)
				}
			})
		}
	}
}

func TestAdminQuotePartialThenFull(t *testing.T) {
	f := newRFQFixture(t)
	p1 := seedProduct(t, f.db, "LG-300", 100000, 0)
	p2 := seedProduct(t, f.db, "SW-8P", 450000, 0)
	rfq := f.submit(t,
		SubmitItem{ProductID: p1.ID, Quantity: 2},
		SubmitItem{ProductID: p2.ID, Quantity: 1})

	_, err := f.quotes.AdminAccept(context.Background(), rfq.ID)
	require.NoError(t, err)

	// 只报第一行 → 部分报价
	out, err := f.quotes.AdminQuote(context.Background(), rfq.ID,
		[]LineQuote{{LineID: rfq.Lines[0].ID, QuotedUnitPrice: int64p(90000), LeadTimeDays: intp(14)}})
	require.NoError(t, err)
	assert.Equal(t, model.RFQPartiallyQuoted, out.Status)
	assert.NotNil(t, out.PriceValidUntil)

	// 补报第二行 → 报价发出
	out, err = f.quotes.AdminQuote(context.Background(), rfq.ID,
		[]LineQuote{{LineID: rfq.Lines[1].ID, QuotedTotalPrice: int64p(430000)}})
	require.NoError(t, err)
	assert.Equal(t, model.RFQQuoteSent, out.Status)
}

func TestAdminQuoteValidation(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 0)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 1})

	_, err := f.quotes.AdminQuote(context.Background(), rfq.ID, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.quotes.AdminQuote(context.Background(), rfq.ID,
		[]LineQuote{{LineID: rfq.Lines[0].ID}})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.quotes.AdminQuote(context.Background(), rfq.ID,
		[]LineQuote{{LineID: 99999, QuotedUnitPrice: int64p(1)}})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestCustomerAcceptCreatesOrder(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 3)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 2})

	_, err := f.quotes.AdminAccept(context.Background(), rfq.ID)
	require.NoError(t, err)
	_, err = f.quotes.AdminQuote(context.Background(), rfq.ID,
		[]LineQuote{{LineID: rfq.Lines[0].ID, QuotedUnitPrice: int64p(90000)}})
	require.NoError(t, err)

	order, err := f.quotes.CustomerAccept(context.Background(), f.user.ID, rfq.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, order.OrderNo)
	assert.EqualValues(t, 180000, order.TotalPrice)
	assert.Equal(t, model.OrderAwaitingPickup, order.Status)
	assert.Equal(t, model.PaymentUnpaid, order.PaymentStatus)
	require.Len(t, order.Lines, 1)
	assert.EqualValues(t, 90000, order.Lines[0].UnitPrice)
	assert.EqualValues(t, 180000, order.Lines[0].LineTotal)

	// 每行占一件库存单元，最早入库的那件被预留
	var unit model.ProductUnit
	require.NoError(t, f.db.First(&unit, order.Lines[0].ProductUnitID).Error)
	assert.Equal(t, model.UnitReserved, unit.Status)

	var fresh model.RFQ
	require.NoError(t, f.db.First(&fresh, rfq.ID).Error)
	assert.Equal(t, model.RFQConvertedToOrder, fresh.Status)

	// 重复接受 → 冲突
	_, err = f.quotes.CustomerAccept(context.Background(), f.user.ID, rfq.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
}

// 报价快照完整性：接受后目录调价不影响订单行价格。
func TestAcceptPriceUnaffectedByCatalogChange(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 2)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 2})
	f.quoteAllLines(t, rfq.ID, 90000)
	forceRFQStatus(t, f.db, rfq.ID, model.RFQQuoteSent)

	// 接受前目录价翻倍
	require.NoError(t, f.db.Model(product).Update("unit_price", 200000).Error)

	order, err := f.quotes.CustomerAccept(context.Background(), f.user.ID, rfq.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 90000, order.Lines[0].UnitPrice)
	assert.EqualValues(t, 180000, order.TotalPrice)

	// 接受后再调价，订单不回溯
	require.NoError(t, f.db.Model(product).Update("unit_price", 300000).Error)
	var line model.OrderLine
	require.NoError(t, f.db.First(&line, order.Lines[0].ID).Error)
	assert.EqualValues(t, 90000, line.UnitPrice)
}

// 只给总价时单价由总价/数量推导。
func TestAcceptDerivesUnitPriceFromTotal(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 2)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 2})
	require.NoError(t, f.db.Model(&model.RFQLine{}).
		Where("rfq_id = ?", rfq.ID).
		Updates(map[string]any{
			"quoted_total_price": 180000,
			"line_status":        model.RFQLineQuoted,
		}).Error)
	forceRFQStatus(t, f.db, rfq.ID, model.RFQQuoteSent)

	order, err := f.quotes.CustomerAccept(context.Background(), f.user.ID, rfq.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 90000, order.Lines[0].UnitPrice)
	assert.EqualValues(t, 180000, order.Lines[0].LineTotal)
}

func TestAcceptRequiresQuotedLines(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 2)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 1})
	// 行保持 PENDING_REVIEW，但状态强制到 QUOTE_SENT
	forceRFQStatus(t, f.db, rfq.ID, model.RFQQuoteSent)

	_, err := f.quotes.CustomerAccept(context.Background(), f.user.ID, rfq.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

// 全有或全无：第二行无库存时整单失败，第一行不残留预留，状态不变。
func TestAcceptRollsBackOnPartialStock(t *testing.T) {
	f := newRFQFixture(t)
	p1 := seedProduct(t, f.db, "LG-300", 100000, 2)
	p2 := seedProduct(t, f.db, "SW-8P", 450000, 0) // 无库存
	rfq := f.submit(t,
		SubmitItem{ProductID: p1.ID, Quantity: 1},
		SubmitItem{ProductID: p2.ID, Quantity: 1})
	f.quoteAllLines(t, rfq.ID, 90000)
	forceRFQStatus(t, f.db, rfq.ID, model.RFQQuoteSent)

	_, err := f.quotes.CustomerAccept(context.Background(), f.user.ID, rfq.ID)
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindStateConflict, ae.Kind)
	assert.Equal(t, apperr.CodeOutOfStock, ae.Code)
	assert.Equal(t, 400, ae.HTTPStatus())

	// 第一行的预留已随事务回滚
	var reserved int64
	require.NoError(t, f.db.Model(&model.ProductUnit{}).
		Where("product_id = ? AND status = ?", p1.ID, model.UnitReserved).
		Count(&reserved).Error)
	assert.EqualValues(t, 0, reserved)

	var fresh model.RFQ
	require.NoError(t, f.db.First(&fresh, rfq.ID).Error)
	assert.Equal(t, model.RFQQuoteSent, fresh.Status)

	var orders int64
	require.NoError(t, f.db.Model(&model.Order{}).Count(&orders).Error)
	assert.EqualValues(t, 0, orders)
}

// 惰性过期：有效期已过的报价在接受时流转 EXPIRED 并拒绝操作。
func TestAcceptLazyExpiry(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 2)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 1})
	f.quoteAllLines(t, rfq.ID, 90000)
	forceRFQStatus(t, f.db, rfq.ID, model.RFQQuoteSent)
	require.NoError(t, f.db.Model(&model.RFQ{}).Where("id = ?", rfq.ID).
		Update("price_valid_until", time.Now().Add(-time.Hour)).Error)

	_, err := f.quotes.CustomerAccept(context.Background(), f.user.ID, rfq.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))

	var fresh model.RFQ
	require.NoError(t, f.db.First(&fresh, rfq.ID).Error)
	assert.Equal(t, model.RFQExpired, fresh.Status)
}

// 惰性过期对客户侧所有入口生效：部分报价过了有效期后连撤单也走 EXPIRED。
func TestCustomerCancelLazyExpiry(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 0)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 1})
	f.quoteAllLines(t, rfq.ID, 90000)
	forceRFQStatus(t, f.db, rfq.ID, model.RFQPartiallyQuoted)
	require.NoError(t, f.db.Model(&model.RFQ{}).Where("id = ?", rfq.ID).
		Update("price_valid_until", time.Now().Add(-time.Hour)).Error)

	_, err := f.quotes.CustomerCancel(context.Background(), f.user.ID, rfq.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))

	var fresh model.RFQ
	require.NoError(t, f.db.First(&fresh, rfq.ID).Error)
	assert.Equal(t, model.RFQExpired, fresh.Status)
}

// 客户撤单后折入的购物车行恢复 ACTIVE。
func TestCustomerCancelRestoresCart(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 0)

	cartLine, err := f.ledger.AddLine(context.Background(), f.user.ID, product.ID, 2)
	require.NoError(t, err)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 2})

	out, err := f.quotes.CustomerCancel(context.Background(), f.user.ID, rfq.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RFQRejectedByCustomer, out.Status)

	var restored model.CartLine
	require.NoError(t, f.db.First(&restored, cartLine.ID).Error)
	assert.Equal(t, model.CartLineActive, restored.Status)
}

// 管理员拒绝不回填客户购物车。
func TestAdminRejectKeepsCartFolded(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 0)

	cartLine, err := f.ledger.AddLine(context.Background(), f.user.ID, product.ID, 1)
	require.NoError(t, err)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 1})

	out, err := f.quotes.AdminReject(context.Background(), rfq.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RFQRejectedByAdmin, out.Status)

	var folded model.CartLine
	require.NoError(t, f.db.First(&folded, cartLine.ID).Error)
	assert.Equal(t, model.CartLineRFQed, folded.Status)
}

func TestRFQOwnership(t *testing.T) {
	f := newRFQFixture(t)
	product := seedProduct(t, f.db, "LG-300", 100000, 0)
	rfq := f.submit(t, SubmitItem{ProductID: product.ID, Quantity: 1})

	stranger := seedUser(t, f.db, "stranger@example.com", model.RoleCustomer)
	_, err := f.quotes.CustomerCancel(context.Background(), stranger.ID, rfq.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// admin 可读任意询价单
	adminID := &Identity{UserID: f.admin.ID, Role: model.RoleAdmin}
	got, err := f.quotes.Get(context.Background(), adminID, rfq.ID)
	require.NoError(t, err)
	assert.Equal(t, rfq.ID, got.ID)
}
