package model

import "gorm.io/gorm"

// Migrate 自动建表，并补建 GORM tag 表达不了的部分唯一索引。
// sessions(user_id) WHERE is_active：单会话策略由存储层保证，
// 并发登录时第二个 INSERT 直接失败，而不是依赖应用层先查后插。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Session{},
		&Product{},
		&ProductUnit{},
		&Cart{},
		&CartLine{},
		&RFQ{},
		&RFQLine{},
		&Order{},
		&OrderLine{},
		&OrderEvent{},
	); err != nil {
		return err
	}

	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_active
		   ON sessions(user_id) WHERE is_active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_cart_lines_cart_product_active
		   ON cart_lines(cart_id, product_id) WHERE status = 'ACTIVE'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_carts_user_active
		   ON carts(user_id) WHERE status = 'ACTIVE'`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}
