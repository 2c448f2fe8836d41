package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type ProductPrice struct {
	VendorID    int64   `gorm:"type:bigint;primaryKey"`
	ProductID   string  `gorm:"type:text;primaryKey"`
	ProductName string  `gorm:"type:text"`
	UnitPrice   float64 `gorm:"type:numeric(12,2);not null"`
}

type Sale struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	VendorID    int64     `gorm:"type:bigint;not null;index"`
	ProductID   string    `gorm:"type:text;not null"`
	ProductName string    `gorm:"type:text;not null"`
	// Poll time in the panel's dd.mm.yyyy/HH:MM format; reporting queries
	// re-order it into ISO dates with substr.
	Timestamp string  `gorm:"type:text;not null"`
	Quantity  int     `gorm:"type:integer;not null"`
	UnitPrice float64 `gorm:"type:numeric(12,2);not null"`
	Revenue   float64 `gorm:"type:numeric(14,2);not null"`
}

type LastStock struct {
	VendorID    int64  `gorm:"type:bigint;primaryKey"`
	ProductID   string `gorm:"type:text;primaryKey"`
	ProductName string `gorm:"type:text"`
	Qty         int    `gorm:"type:integer;not null"`
}

func (LastStock) TableName() string { return "last_stock" }

type Run struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	VendorID    int64             `gorm:"type:bigint;not null;index"`
	VendorName  string            `gorm:"type:text"`
	Status      string            `gorm:"type:text;not null"`
	TotalOnHand int               `gorm:"type:integer;not null"`
	TotalSold   int               `gorm:"type:integer;not null"`
	Products    int               `gorm:"type:integer;not null"`
	Details     datatypes.JSONMap `gorm:"type:jsonb"`
	StartedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&ProductPrice{},
		&Sale{},
		&LastStock{},
		&Run{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Run{},
		&LastStock{},
		&Sale{},
		&ProductPrice{},
	)
}
