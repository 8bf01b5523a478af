package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/parley/types"
)

// GormConfig configures the relational store.
type GormConfig struct {
	// Driver selects the dialector: sqlite, mysql, or postgres.
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the driver-specific connection string. For sqlite,
	// ":memory:" gives an in-process database.
	DSN string `yaml:"dsn" json:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// conversationRecord is the persisted row. The conversation itself is an
// opaque JSON document; status is duplicated into a column for querying.
type conversationRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Status    string `gorm:"index;size:32"`
	Data      []byte
	UpdatedAt time.Time
}

func (conversationRecord) TableName() string { return "conversations" }

// GormStore persists conversations through GORM, one row per conversation.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the database, applies pool settings, and migrates the
// schema.
func NewGormStore(cfg GormConfig, logger *zap.Logger) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&conversationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("relational store ready", zap.String("driver", cfg.Driver))
	return &GormStore{db: db, logger: logger}, nil
}

func (s *GormStore) Save(ctx context.Context, conv *types.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}
	record := conversationRecord{
		ID:        conv.ID,
		Status:    string(conv.Status),
		Data:      data,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

func (s *GormStore) Load(ctx context.Context, conversationID string) (*types.Conversation, error) {
	var record conversationRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	var conv types.Conversation
	if err := json.Unmarshal(record.Data, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

func (s *GormStore) Delete(ctx context.Context, conversationID string) error {
	return s.db.WithContext(ctx).Delete(&conversationRecord{}, "id = ?", conversationID).Error
}

func (s *GormStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&conversationRecord{}).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return ids, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
