package database

import (
	"fmt"

	"github.com/mediaguard/reviewcenter/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func InitDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := "host=" + cfg.Database.DBHost +
		" user=" + cfg.Database.DBUser +
		" password=" + cfg.Database.DBPassword +
		" dbname=" + cfg.Database.DBName +
		" port=" + cfg.Database.DBPort +
		" sslmode=disable TimeZone=Asia/Shanghai"
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}
