package store

import (
	"context"
	"errors"
	"time"

	"kasirku/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicateClientID  = errors.New("client id already applied")
	ErrUnmappedPayment    = errors.New("unmapped payment method")
)

// ApplyInput is everything a store needs to commit one reconciled client
// record in a single atomic scope: the transaction shell, its items, and the
// acting user for the movements. Stock is allowed to go negative on this
// path; sufficiency is enforced only by CreateCheckout.
type ApplyInput struct {
	Record   domain.ClientRecord
	Username string
	Mapped   string // server-vocabulary payment method
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)

	// AdjustStock appends an in/adjustment movement and updates the cached
	// balance in the same atomic step.
	AdjustStock(ctx context.Context, productID int64, movementType string, qty int, notes string, username string) (*domain.InventoryMovement, error)
	ListMovementsByProduct(ctx context.Context, productID int64, limit int) ([]domain.InventoryMovement, error)

	FindTransactionByClientID(ctx context.Context, clientID string) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error)

	// CreateCheckout commits an in-store sale whole-or-nothing: transaction,
	// items, one out-movement per item, cached stock. Rejects on
	// insufficient stock for any line.
	CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)

	// ApplyClientRecord commits one offline sale in its own atomic scope.
	// Stock may go negative. Returns ErrDuplicateClientID when the unique
	// index on client_id detects a concurrent or prior application.
	ApplyClientRecord(ctx context.Context, input ApplyInput) (*domain.Transaction, error)

	UpdateTransactionFromClient(ctx context.Context, id int64, record domain.ClientRecord, fields []string) (*domain.Transaction, error)
	CountTransactionsByUser(ctx context.Context, username string) (int, error)
	CountOfflineTransactionsByUser(ctx context.Context, username string) (int, error)
	ListTransactionsByUser(ctx context.Context, username string, updatedAfter *time.Time, limit int) ([]domain.Transaction, error)

	CreateSyncLog(ctx context.Context, entry domain.SyncLogEntry) (*domain.SyncLogEntry, error)
	CountPendingSyncLogs(ctx context.Context, username string, tableName string) (int, error)
	LastCompletedSyncAt(ctx context.Context, username string, tableName string) (*time.Time, error)
	ListPendingSyncLogs(ctx context.Context, username string) ([]domain.SyncLogEntry, error)
	ListSyncHistory(ctx context.Context, username string, limit int) ([]domain.SyncLogEntry, error)
	MarkSyncLogsCompleted(ctx context.Context, username string, syncIDs []int64, at time.Time) (int, error)
	MarkSyncLogFailed(ctx context.Context, username string, syncID int64, errorMessage string) error
	DeleteCompletedSyncLogsBefore(ctx context.Context, username string, cutoff time.Time) (int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
