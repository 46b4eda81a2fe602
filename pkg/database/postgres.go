package database

import (
	"context"
	"fmt"
	"time"

	"corpchat/config"
	"corpchat/internal/repository"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres with the pool settings the server runs with.
func Open(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.AppMode == "debug" {
		level = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get generic database object: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// TableStatus reports whether each gateway table exists and how many rows it holds.
type TableStatus struct {
	Name   string
	Exists bool
	Rows   int64
}

func Status(db *gorm.DB) ([]TableStatus, error) {
	var out []TableStatus
	for _, table := range repository.Tables() {
		st := TableStatus{Name: table, Exists: db.Migrator().HasTable(table)}
		if st.Exists {
			if err := db.Table(table).Count(&st.Rows).Error; err != nil {
				return nil, fmt.Errorf("count %s: %w", table, err)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// Reset drops every gateway table and recreates the schema.
func Reset(db *gorm.DB, log *zap.Logger) error {
	for _, table := range repository.Tables() {
		if err := db.Migrator().DropTable(table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
		log.Info("dropped table", zap.String("table", table))
	}
	return repository.InitSchema(db)
}
