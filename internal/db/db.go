package db

import (
	"fmt"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/echoroom/internal/chat"
	"github.com/suPer8Hu/echoroom/internal/models"
)

// Open opens the database named by dsn. MySQL DSNs are recognised by their
// "@tcp(" address section; anything else is treated as a SQLite DSN.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	if IsMySQL(dsn) {
		gdb, err := gorm.Open(mysql.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return gdb, nil
	}

	gdb, err := gorm.Open(gormsqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; one connection avoids SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

func IsMySQL(dsn string) bool {
	return strings.Contains(dsn, "@tcp(")
}

// Migrate creates or updates every table the server owns.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&chat.Room{},
		&chat.RoomMember{},
		&chat.Message{},
	)
}

// Connect opens and migrates the database; used by both binaries.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}
