package persist

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is one row of the shared key/value table.
type Entry struct {
	Key       string `gorm:"primaryKey;size:190"`
	Value     []byte `gorm:"type:bytea"`
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "kv_entries" }

// GormStore implements Store on a SQL table so several instances can share
// one persisted catalog.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore connects to Postgres and migrates the kv table.
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an existing connection.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate kv_entries: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Read(key string) ([]byte, bool, error) {
	var e Entry
	if err := g.db.First(&e, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select %s: %w", key, err)
	}
	return e.Value, true, nil
}

func (g *GormStore) Write(key string, val []byte) error {
	if err := g.upsert(key, val, time.Now().UTC()).Error; err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// upsert replaces the whole value of key in one statement.
func (g *GormStore) upsert(key string, val []byte, at time.Time) *gorm.DB {
	e := Entry{Key: key, Value: val, UpdatedAt: at}
	return g.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e)
}

func (g *GormStore) Range(fn func(key string, val []byte) error) error {
	var rows []Entry
	if err := g.db.Order("key asc").Find(&rows).Error; err != nil {
		return fmt.Errorf("select all: %w", err)
	}
	for _, r := range rows {
		if err := fn(r.Key, r.Value); err != nil {
			return err
		}
	}
	return nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
