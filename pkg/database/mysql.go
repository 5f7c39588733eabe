package database

import (
	"time"

	"course-intake/internal/model"
	"course-intake/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接并同步课程文件相关的表结构
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		// 可以在这里添加 GORM 的配置
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间

	if err := Migrate(DB); err != nil {
		log.Fatal("failed to migrate database", err)
	}
	log.Info("MySQL database connected successfully")
}

// Migrate 同步 course_files 与 courses 表结构。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.FileRecord{}, &model.Course{})
}
