package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. It holds freeze control only; balances live on entries.
type Account struct {
	OwnerType    string     `gorm:"primaryKey"`
	OwnerID      string     `gorm:"primaryKey"`
	FrozenAt     *time.Time `gorm:""`
	FrozenReason string     `gorm:"not null;default:''"`
	CreatedAt    time.Time  `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the ledger_entries table. Rows are inserted once and never updated.
type LedgerEntry struct {
	EntryID             string    `gorm:"type:uuid;primaryKey"`
	OwnerType           string    `gorm:"not null;index:uniq_entry_sequence,unique,priority:1;index:uniq_entry_idem,unique,priority:1"`
	OwnerID             string    `gorm:"not null;index:uniq_entry_sequence,unique,priority:2;index:uniq_entry_idem,unique,priority:2"`
	Sequence            int64     `gorm:"not null;index:uniq_entry_sequence,unique,priority:3"`
	Type                string    `gorm:"not null"`
	TransactionType     string    `gorm:"not null"`
	AmountMinor         int64     `gorm:"not null"`
	RunningBalanceMinor int64     `gorm:"not null"`
	ReferenceID         *string   `gorm:"index:idx_ledger_reference"`
	IdempotencyKey      string    `gorm:"not null;index:uniq_entry_idem,unique,priority:3"`
	PrevHash            string    `gorm:"not null"`
	EntryHash           string    `gorm:"not null"`
	Status              string    `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// FundingRequest mirrors the funding_requests table.
type FundingRequest struct {
	RequestID       string     `gorm:"type:uuid;primaryKey"`
	OwnerType       string     `gorm:"not null;index:idx_funding_account,priority:1"`
	OwnerID         string     `gorm:"not null;index:idx_funding_account,priority:2"`
	AmountMinor     int64      `gorm:"not null"`
	Direction       string     `gorm:"not null"`
	TransactionType string     `gorm:"not null"`
	Method          string     `gorm:"not null"`
	ProofReference  string     `gorm:"not null;default:''"`
	IdempotencyKey  string     `gorm:"not null;uniqueIndex:uniq_funding_idem"`
	ReferenceID     string     `gorm:"not null;default:'';index:idx_funding_reference"`
	RequestedBy     string     `gorm:"not null;default:''"`
	Status          string     `gorm:"not null;index:idx_funding_status"`
	ReviewedBy      string     `gorm:"not null;default:''"`
	ReviewedAt      *time.Time `gorm:""`
	Notes           string     `gorm:"not null;default:''"`
	LedgerEntryID   *string    `gorm:""`
	CreatedAt       time.Time  `gorm:"not null"`
	UpdatedAt       time.Time  `gorm:"not null"`
}

func (FundingRequest) TableName() string { return "funding_requests" }

func (request *FundingRequest) BeforeCreate(tx *gorm.DB) error {
	if request.RequestID == "" {
		request.RequestID = uuid.NewString()
	}
	return nil
}

// Order mirrors the orders table, including the dispatch columns owned by the dispatch engine.
type Order struct {
	OrderID        string         `gorm:"type:uuid;primaryKey"`
	CustomerID     string         `gorm:"not null;index:uniq_order_idem,unique,priority:1"`
	MerchantID     string         `gorm:"not null;index:idx_orders_merchant"`
	IdempotencyKey string         `gorm:"not null;index:uniq_order_idem,unique,priority:2"`
	Items          datatypes.JSON `gorm:"type:jsonb;not null"`
	TotalMinor     int64          `gorm:"not null"`
	PaymentMethod  string         `gorm:"not null"`
	PaymentEntryID *string        `gorm:""`
	Status         string         `gorm:"not null;index:idx_orders_status_created,priority:1"`
	CancelReason   string         `gorm:"not null;default:''"`
	ItemsRevision  int            `gorm:"not null;default:0"`
	PickupLat      float64        `gorm:"not null"`
	PickupLon      float64        `gorm:"not null"`
	DropoffLat     float64        `gorm:"not null"`
	DropoffLon     float64        `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_orders_status_created,priority:2"`
	UpdatedAt      time.Time      `gorm:"not null"`

	DispatchState         string     `gorm:"not null;default:'none';index:idx_orders_dispatch_state"`
	CourierID             *string    `gorm:"index:idx_orders_courier"`
	RadiusTier            int        `gorm:"not null;default:0"`
	RadiusKm              float64    `gorm:"not null;default:0"`
	NotificationStartedAt *time.Time `gorm:""`
	DispatchCode          *string    `gorm:""`
	AssignedAt            *time.Time `gorm:""`
	PickupETA             *time.Time `gorm:"column:pickup_eta"`
	ReleasedAt            *time.Time `gorm:""`
	DeliveryETA           *time.Time `gorm:"column:delivery_eta"`
}

func (Order) TableName() string { return "orders" }

// DispatchNotification records one offer of an order to a courier.
type DispatchNotification struct {
	OrderID    string    `gorm:"type:uuid;primaryKey"`
	CourierID  string    `gorm:"primaryKey"`
	RadiusTier int       `gorm:"not null"`
	DistanceKm float64   `gorm:"not null"`
	NotifiedAt time.Time `gorm:"not null"`
}

func (DispatchNotification) TableName() string { return "dispatch_notifications" }

// CourierPresence mirrors the courier_presence table. Rows are overwritten on every report.
type CourierPresence struct {
	CourierID          string    `gorm:"primaryKey"`
	Online             bool      `gorm:"not null;index:idx_presence_online_seen,priority:1"`
	Lat                float64   `gorm:"not null"`
	Lon                float64   `gorm:"not null"`
	LastLocationUpdate time.Time `gorm:"not null;index:idx_presence_online_seen,priority:2"`
}

func (CourierPresence) TableName() string { return "courier_presence" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Account{}, &LedgerEntry{}, &FundingRequest{}, &Order{}, &DispatchNotification{}, &CourierPresence{}}
}
