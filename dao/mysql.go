package dao

import (
	"context"
	"errors"
	"fmt"

	"nft_settlement/model"

	drivermysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientAllow   = errors.New("insufficient allowance")
	ErrNativeRejected      = errors.New("recipient rejects native transfer")
	ErrNotOwner            = errors.New("not asset owner")
	ErrAlreadyExists       = errors.New("asset already exists")
	ErrAlreadyUsed         = errors.New("order id already used")
)

// Store 持久化存储（账本、资产登记、防重放集合、报价、销售配置、结算记录）
type Store struct {
	db *gorm.DB
}

// NewStore 创建存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OpenMySQL 解析DSN并连接MySQL
func OpenMySQL(dsn string) (*gorm.DB, error) {
	cfg, err := drivermysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// 时间字段需要解析为time.Time
	cfg.ParseTime = true
	db, err := gorm.Open(mysql.New(mysql.Config{DSNConfig: cfg}), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

// AutoMigrate 自动迁移表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(model.AllModels()...)
}

// Transaction 在单个数据库事务中执行fn，fn返回错误则全部回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
