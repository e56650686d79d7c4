package main

import (
	"flag"
	"fmt"
	"log"

	"rfq_store/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 本地开发种子数据：一个管理员、一个客户、两个带库存的商品。
func main() {
	dbPath := flag.String("db", "rfq_store.db", "sqlite db path")
	flag.Parse()

	db, err := gorm.Open(sqlite.Open(*dbPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := model.Migrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	mustUser(db, "admin@example.com", "admin123", "Store Admin", model.RoleAdmin)
	mustUser(db, "customer@example.com", "password123", "Juan dela Cruz", model.RoleCustomer)

	p1 := mustProduct(db, "LoRa Gateway LG-300", "LG-300", 100000) // ₱1000.00
	p2 := mustProduct(db, "Industrial PoE Switch 8p", "SW-8P", 450000)
	mustUnits(db, p1, 5)
	mustUnits(db, p2, 3)

	log.Println("seed done")
}

func mustUser(db *gorm.DB, email, password, name string, role model.UserRole) {
	var existing model.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt: %v", err)
	}
	u := &model.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         role,
		Status:       model.UserActive,
	}
	if err := db.Create(u).Error; err != nil {
		log.Fatalf("create user %s: %v", email, err)
	}
}

func mustProduct(db *gorm.DB, name, sku string, price int64) uint {
	var existing model.Product
	if err := db.Where("sku = ?", sku).First(&existing).Error; err == nil {
		return existing.ID
	}
	p := &model.Product{Name: name, SKU: sku, UnitPrice: price, Currency: "PHP", IsSellable: true}
	if err := db.Create(p).Error; err != nil {
		log.Fatalf("create product %s: %v", sku, err)
	}
	return p.ID
}

func mustUnits(db *gorm.DB, productID uint, count int) {
	var n int64
	db.Model(&model.ProductUnit{}).Where("product_id = ?", productID).Count(&n)
	for i := int(n); i < count; i++ {
		u := &model.ProductUnit{
			ProductID: productID,
			SerialNo:  fmt.Sprintf("SN-%d-%04d", productID, i+1),
			Status:    model.UnitInStock,
		}
		if err := db.Create(u).Error; err != nil {
			log.Fatalf("create unit: %v", err)
		}
	}
}
