package service

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"rfq_store/internal/model"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testPassword = "password123"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, model.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email string, role model.UserRole) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         "Test User",
		Company:      "Acme Hardware",
		Role:         role,
		Status:       model.UserActive,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// seedProduct 建商品并入库 units 件库存单元。
func seedProduct(t *testing.T, db *gorm.DB, sku string, price int64, units int) *model.Product {
	t.Helper()
	p := &model.Product{
		Name:       "Product " + sku,
		SKU:        sku,
		UnitPrice:  price,
		Currency:   "PHP",
		IsSellable: true,
	}
	require.NoError(t, db.Create(p).Error)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < units; i++ {
		u := &model.ProductUnit{
			ProductID: p.ID,
			SerialNo:  fmt.Sprintf("SN-%s-%03d", sku, i+1),
			Status:    model.UnitInStock,
		}
		require.NoError(t, db.Create(u).Error)
		// 拉开入库时间，保证 FIFO 顺序可断言
		require.NoError(t, db.Model(u).Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}
	return p
}

func forceRFQStatus(t *testing.T, db *gorm.DB, rfqID uint, status model.RFQStatus) {
	t.Helper()
	require.NoError(t, db.Model(&model.RFQ{}).Where("id = ?", rfqID).Update("status", status).Error)
}

func int64p(v int64) *int64 { return &v }
func intp(v int) *int       { return &v }
