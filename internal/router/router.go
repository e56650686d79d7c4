package router

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"rfq_store/internal/apperr"
	"rfq_store/internal/config"
	"rfq_store/internal/middleware"
	"rfq_store/internal/model"
	"rfq_store/internal/service"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Setup 注册全部 HTTP 路由。events 允许为 nil（事件旁路未启用）。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, events service.EventSink, cfg config.AppConfig) {
	gate := service.NewSessionGate(db, cfg.JWTSecret, cfg.SessionTTL)
	carts := service.NewCartLedger(db)
	inventory := service.NewInventoryAllocator(db)
	quotes := service.NewQuoteNegotiation(db, carts, inventory, cfg.QuoteValidFor, events)
	orders := service.NewOrderFulfillment(db, inventory, events)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "pong"})
	})

	// 认证
	r.POST("/api/auth/login",
		middleware.LoginRateLimit(rdb, cfg.LoginRateLimit, cfg.LoginRateWindow),
		login(gate))

	authed := r.Group("/api", middleware.RequireSession(gate))
	authed.POST("/auth/logout", logout(gate))
	authed.GET("/auth/me", me())

	// 购物车
	authed.GET("/cart", getCart(carts))
	authed.POST("/cart/lines", addCartLine(carts))
	authed.PUT("/cart/lines/:line_id", setCartQuantity(carts))
	authed.DELETE("/cart/lines/:line_id", removeCartLine(carts))

	// 询价（客户侧）
	authed.POST("/rfqs", submitRFQ(quotes))
	authed.GET("/rfqs", listRFQs(quotes))
	authed.GET("/rfqs/:rfq_id", getRFQ(quotes))
	authed.POST("/rfqs/:rfq_id/cancel", customerCancelRFQ(quotes))
	authed.POST("/rfqs/:rfq_id/reject", customerRejectRFQ(quotes))
	authed.POST("/rfqs/:rfq_id/accept", customerAcceptRFQ(quotes))

	// 订单（客户侧只读）
	authed.GET("/orders", listOrders(orders))
	authed.GET("/orders/:order_id", getOrder(orders))

	// 商品目录（读开放）
	r.GET("/api/products", listProducts(db))

	// 管理侧：报价、履约、目录维护
	admin := r.Group("/api/admin",
		middleware.RequireSession(gate),
		middleware.RequireRole(model.RoleAdmin))
	admin.GET("/rfqs", adminListRFQs(db))
	admin.POST("/rfqs/:rfq_id/accept", adminAcceptRFQ(quotes))
	admin.POST("/rfqs/:rfq_id/quote", adminQuoteRFQ(quotes))
	admin.POST("/rfqs/:rfq_id/reject", adminRejectRFQ(quotes))
	admin.POST("/orders/:order_id/ready", markOrderReady(orders))
	admin.POST("/orders/:order_id/pay", payOrder(orders))
	admin.POST("/orders/:order_id/cancel", cancelOrder(orders))
	admin.POST("/products", createProduct(db))
	admin.POST("/products/:product_id/units", addProductUnits(db))
}

// fail 统一错误出口：按类别映射状态码；AuthFailure 清 cookie；
// 内部错误与后端不可用只进日志，不向客户端泄露细节。
func fail(c *gin.Context, err error) {
	ae := apperr.As(err)
	if ae.Kind == apperr.KindInternal || ae.Kind == apperr.KindBackendUnavailable {
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, ae.Unwrap())
	}
	if ae.Kind == apperr.KindAuthFailure {
		middleware.ClearSessionCookie(c)
	}
	body := gin.H{"success": false, "message": ae.Msg}
	if ae.Code != "" {
		body["code"] = ae.Code
	}
	c.JSON(ae.HTTPStatus(), body)
}

func ok(c *gin.Context, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	c.JSON(http.StatusOK, payload)
}

func paramID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || v == 0 {
		fail(c, apperr.Validation("ID 无效"))
		return 0, false
	}
	return uint(v), true
}

// login 登录：凭证走 httpOnly cookie，同时在响应体中返回一份
// 供非浏览器客户端使用。
func login(gate *service.SessionGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation("email 与 password 必填"))
			return
		}
		res, err := gate.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			fail(c, err)
			return
		}
		maxAge := int(time.Until(res.ExpiresAt).Seconds())
		c.SetCookie(middleware.SessionCookie, res.Credential, maxAge, "/", "", false, true)
		ok(c, gin.H{
			"token":      res.Credential,
			"expires_at": res.ExpiresAt,
			"user":       res.User,
		})
	}
}

func logout(gate *service.SessionGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		if err := gate.Logout(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		middleware.ClearSessionCookie(c)
		ok(c, gin.H{"message": "已登出"})
	}
}

func me() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		ok(c, gin.H{"user_id": id.UserID, "role": id.Role})
	}
}

func getCart(carts *service.CartLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		cart, err := carts.CartView(c.Request.Context(), id.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"cart": cart})
	}
}

func addCartLine(carts *service.CartLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		var req struct {
			ProductID uint `json:"product_id" binding:"required,min=1"`
			Quantity  int  `json:"quantity" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation("product_id 与 quantity 必须为正整数"))
			return
		}
		line, err := carts.AddLine(c.Request.Context(), id.UserID, req.ProductID, req.Quantity)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"line": line})
	}
}

func setCartQuantity(carts *service.CartLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		lineID, okID := paramID(c, "line_id")
		if !okID {
			return
		}
		var req struct {
			Quantity int `json:"quantity" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation("quantity 必须为正整数"))
			return
		}
		if err := carts.SetQuantity(c.Request.Context(), id.UserID, lineID, req.Quantity); err != nil {
			fail(c, err)
			return
		}
		ok(c, nil)
	}
}

func removeCartLine(carts *service.CartLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		lineID, okID := paramID(c, "line_id")
		if !okID {
			return
		}
		if err := carts.RemoveLine(c.Request.Context(), id.UserID, lineID); err != nil {
			fail(c, err)
			return
		}
		ok(c, nil)
	}
}

func submitRFQ(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		var req struct {
			Items   []service.SubmitItem `json:"items"`
			Contact service.ContactInfo  `json:"contact"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation("请求体格式错误"))
			return
		}
		rfq, err := quotes.Submit(c.Request.Context(), id.UserID, req.Items, req.Contact)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"rfq": rfq})
	}
}

func listRFQs(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		list, err := quotes.ListOwn(c.Request.Context(), id.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"rfqs": list})
	}
}

func getRFQ(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		rfqID, okID := paramID(c, "rfq_id")
		if !okID {
			return
		}
		rfq, err := quotes.Get(c.Request.Context(), id, rfqID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"rfq": rfq})
	}
}

func customerCancelRFQ(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		rfqID, okID := paramID(c, "rfq_id")
		if !okID {
			return
		}
		rfq, err := quotes.CustomerCancel(c.Request.Context(), id.UserID, rfqID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"rfq": rfq})
	}
}

func customerRejectRFQ(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		rfqID, okID := paramID(c, "rfq_id")
		if !okID {
			return
		}
		rfq, err := quotes.CustomerReject(c.Request.Context(), id.UserID, rfqID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"rfq": rfq})
	}
}

func customerAcceptRFQ(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		rfqID, okID := paramID(c, "rfq_id")
		if !okID {
			return
		}
		order, err := quotes.CustomerAccept(c.Request.Context(), id.UserID, rfqID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"order": order})
	}
}

func listOrders(orders *service.OrderFulfillment) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		list, err := orders.ListOwn(c.Request.Context(), id.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"orders": list})
	}
}

func getOrder(orders *service.OrderFulfillment) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.MustIdentity(c)
		orderID, okID := paramID(c, "order_id")
		if !okID {
			return
		}
		order, err := orders.Get(c.Request.Context(), id, orderID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"order": order})
	}
}

func adminListRFQs(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := db.WithContext(c.Request.Context()).Order("id desc")
		if s := c.Query("status"); s != "" {
			q = q.Where("status = ?", s)
		}
		var list []model.RFQ
		if err := q.Find(&list).Error; err != nil {
			fail(c, apperr.ClassifyDB(err, ""))
			return
		}
		ok(c, gin.H{"rfqs": list})
	}
}

func adminAcceptRFQ(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		rfqID, okID := paramID(c, "rfq_id")
		if !okID {
			return
		}
		rfq, err := quotes.AdminAccept(c.Request.Context(), rfqID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"rfq": rfq})
	}
}

func adminQuoteRFQ(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		rfqID, okID := paramID(c, "rfq_id")
		if !okID {
			return
		}
		var req struct {
			Lines []service.LineQuote `json:"lines"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation("请求体格式错误"))
			return
		}
		rfq, err := quotes.AdminQuote(c.Request.Context(), rfqID, req.Lines)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"rfq": rfq})
	}
}

func adminRejectRFQ(quotes *service.QuoteNegotiation) gin.HandlerFunc {
	return func(c *gin.Context) {
		rfqID, okID := paramID(c, "rfq_id")
		if !okID {
			return
		}
		rfq, err := quotes.AdminReject(c.Request.Context(), rfqID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"rfq": rfq})
	}
}

func markOrderReady(orders *service.OrderFulfillment) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, okID := paramID(c, "order_id")
		if !okID {
			return
		}
		order, err := orders.MarkReady(c.Request.Context(), orderID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"order": order})
	}
}

// payOrder 现金结算。cash_received 为元（小数），入口换算为分，
// 找零在分的精度上精确计算。
func payOrder(orders *service.OrderFulfillment) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, okID := paramID(c, "order_id")
		if !okID {
			return
		}
		var req struct {
			CashReceived float64 `json:"cash_received" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation("cash_received 必填"))
			return
		}
		if req.CashReceived <= 0 {
			fail(c, apperr.Validation("cash_received 必须为正数"))
			return
		}
		cents := int64(math.Round(req.CashReceived * 100))
		order, err := orders.PayAndComplete(c.Request.Context(), orderID, cents)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"order": order})
	}
}

func cancelOrder(orders *service.OrderFulfillment) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, okID := paramID(c, "order_id")
		if !okID {
			return
		}
		order, err := orders.Cancel(c.Request.Context(), orderID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"order": order})
	}
}

// listProducts 在售商品及其可用库存数。
func listProducts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Product
		if err := db.WithContext(c.Request.Context()).
			Where("is_sellable = ?", true).
			Find(&list).Error; err != nil {
			fail(c, apperr.ClassifyDB(err, ""))
			return
		}
		type productView struct {
			model.Product
			InStock int64 `json:"in_stock"`
		}
		out := make([]productView, 0, len(list))
		for _, p := range list {
			var n int64
			if err := db.WithContext(c.Request.Context()).
				Model(&model.ProductUnit{}).
				Where("product_id = ? AND status = ?", p.ID, model.UnitInStock).
				Count(&n).Error; err != nil {
				fail(c, apperr.ClassifyDB(err, ""))
				return
			}
			out = append(out, productView{Product: p, InStock: n})
		}
		ok(c, gin.H{"products": out})
	}
}

func createProduct(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name      string `json:"name" binding:"required"`
			SKU       string `json:"sku" binding:"required"`
			UnitPrice int64  `json:"unit_price" binding:"required,min=1"`
			Currency  string `json:"currency"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation("name/sku/unit_price 必填"))
			return
		}
		p := &model.Product{
			Name:       req.Name,
			SKU:        req.SKU,
			UnitPrice:  req.UnitPrice,
			Currency:   req.Currency,
			IsSellable: true,
		}
		if p.Currency == "" {
			p.Currency = "PHP"
		}
		if err := db.WithContext(c.Request.Context()).Create(p).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				fail(c, apperr.StateConflict("SKU 已存在"))
				return
			}
			fail(c, apperr.ClassifyDB(err, ""))
			return
		}
		ok(c, gin.H{"product": p})
	}
}

// addProductUnits 入库：每个序列号对应一件可分配单元。
func addProductUnits(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		productID, okID := paramID(c, "product_id")
		if !okID {
			return
		}
		var req struct {
			SerialNos []string `json:"serial_nos" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperr.Validation("serial_nos 必填"))
			return
		}

		var product model.Product
		if err := db.WithContext(c.Request.Context()).First(&product, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fail(c, apperr.NotFound("商品不存在"))
				return
			}
			fail(c, apperr.ClassifyDB(err, ""))
			return
		}

		units := make([]model.ProductUnit, 0, len(req.SerialNos))
		for _, sn := range req.SerialNos {
			units = append(units, model.ProductUnit{
				ProductID: productID,
				SerialNo:  sn,
				Status:    model.UnitInStock,
			})
		}
		if err := db.WithContext(c.Request.Context()).Create(&units).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				fail(c, apperr.StateConflict("序列号已存在"))
				return
			}
			fail(c, apperr.ClassifyDB(err, ""))
			return
		}
		ok(c, gin.H{"units": units})
	}
}
