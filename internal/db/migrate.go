package db

import (
	"fmt"

	"github.com/ukschat/ukschat/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Subscription{},
		&models.Payment{},
		&models.UsageLog{},
		&models.ChatMessage{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_subscriptions_user_start",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_subscriptions_user_start
				ON subscriptions (user_id, start_date DESC, id DESC)
			`,
		},
		{
			name: "idx_plans_active_price",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_plans_active_price
				ON plans (is_active, price ASC)
			`,
		},
		{
			name: "idx_payments_status_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_payments_status_created_at
				ON payments (status, created_at DESC)
			`,
		},
		{
			name: "idx_chat_messages_user_id_id",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_chat_messages_user_id_id
				ON chat_messages (user_id, id DESC)
			`,
		},
	}
	for _, item := range ddls {
		if errExec := conn.Exec(item.sql).Error; errExec != nil {
			return fmt.Errorf("db: create %s: %w", item.name, errExec)
		}
	}
	return nil
}
