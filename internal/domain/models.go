package domain

import "time"

type Product struct {
	ID           int64  `json:"id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	CategoryID   int64  `json:"category_id"`
	Price        int64  `json:"price"`
	CurrentStock int    `json:"current_stock"`
	Active       bool   `json:"active"`
}

type ProductCreateRequest struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	CategoryID   int64  `json:"category_id"`
	Price        int64  `json:"price"`
	InitialStock int    `json:"initial_stock"`
}

type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type CategoryCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// TransactionItem carries a frozen copy of the product name so the line
// stays historically accurate even if the product is later renamed.
type TransactionItem struct {
	ID           int64  `json:"id"`
	ProductID    int64  `json:"product_id"`
	ProductName  string `json:"product_name"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	Subtotal     int64  `json:"subtotal"`
	ClientItemID string `json:"client_item_id,omitempty"`
}

type Transaction struct {
	ID                int64             `json:"id"`
	TransactionNumber string            `json:"transaction_number"`
	Username          string            `json:"username"`
	CustomerName      string            `json:"customer_name,omitempty"`
	TotalAmount       int64             `json:"total_amount"`
	PaymentMethod     string            `json:"payment_method"`
	PaymentAmount     int64             `json:"payment_amount"`
	ChangeAmount      int64             `json:"change_amount"`
	Status            string            `json:"status"`
	Notes             string            `json:"notes,omitempty"`
	ClientID          string            `json:"client_id,omitempty"`
	SyncStatus        string            `json:"sync_status,omitempty"`
	LastSyncAt        *time.Time        `json:"last_sync_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Items             []TransactionItem `json:"items"`
}

// InventoryMovement is an append-only record of one stock change. The
// product's cached stock balance is mutated only through movement creation.
type InventoryMovement struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	Type          string    `json:"type"`
	Quantity      int       `json:"quantity"`
	PreviousStock int       `json:"previous_stock"`
	NewStock      int       `json:"new_stock"`
	ReferenceID   *int64    `json:"reference_id,omitempty"`
	ReferenceType string    `json:"reference_type,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Username      string    `json:"username"`
	CreatedAt     time.Time `json:"created_at"`
}

type StockAdjustRequest struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes"`
}

type CheckoutItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CheckoutRequest struct {
	CustomerName  string         `json:"customer_name,omitempty"`
	PaymentMethod string         `json:"payment_method"`
	PaymentAmount int64          `json:"payment_amount"`
	Notes         string         `json:"notes,omitempty"`
	Items         []CheckoutItem `json:"items"`
}

type CheckoutResponse struct {
	Transaction Transaction `json:"transaction"`
}

// ClientItem is one line of a sale proposed by the offline client. Price is
// the unit price the client charged at the moment of sale.
type ClientItem struct {
	ProductID    int64  `json:"product_id"`
	Quantity     int    `json:"quantity"`
	Price        int64  `json:"price"`
	ClientItemID string `json:"client_item_id,omitempty"`
}

// ClientRecord is a sale captured offline, identified by a client-generated
// unique id. It is immutable once created on the client and removed from the
// local queue only after the server confirms application.
type ClientRecord struct {
	ClientID      string       `json:"client_id"`
	CustomerName  string       `json:"customer_name,omitempty"`
	TotalAmount   int64        `json:"total_amount"`
	PaymentMethod string       `json:"payment_method"`
	PaymentAmount int64        `json:"payment_amount"`
	Items         []ClientItem `json:"items"`
	CreatedAt     time.Time    `json:"created_at"`
}

type SyncRequest struct {
	Transactions []ClientRecord `json:"transactions"`
}

type SyncResult struct {
	ClientID      string `json:"client_id"`
	Status        string `json:"status"`
	TransactionID *int64 `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

type SyncSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type SyncResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Summary SyncSummary  `json:"summary"`
	Results []SyncResult `json:"results"`
}

type SyncStatus struct {
	PendingUploadCount      int        `json:"pending_upload_count"`
	LastUploadAt            *time.Time `json:"last_upload_at,omitempty"`
	TotalTransactions       int        `json:"total_transactions"`
	OfflineTransactionCount int        `json:"offline_transaction_count"`
}

// ConflictResolution records how a caller chose to resolve a record that
// exists both locally and on the server.
type ConflictResolution struct {
	Resolution    string        `json:"resolution"`
	AppliedFields []string      `json:"applied_fields,omitempty"`
	ClientData    *ClientRecord `json:"client_data,omitempty"`
}

// SyncPayload is the typed payload of a ledger entry. Exactly one field is
// set, depending on the operation that produced the entry.
type SyncPayload struct {
	Record     *ClientRecord       `json:"record,omitempty"`
	Resolution *ConflictResolution `json:"resolution,omitempty"`
}

// SyncLogEntry is the durable audit record of one reconciliation attempt.
// Created when an attempt is logged, updated terminally once, and deleted
// only by explicit time-boxed cleanup.
type SyncLogEntry struct {
	ID           int64       `json:"id"`
	Username     string      `json:"-"`
	Operation    string      `json:"operation"`
	TableName    string      `json:"table_name"`
	RecordID     *int64      `json:"record_id,omitempty"`
	ClientID     string      `json:"client_id"`
	Payload      SyncPayload `json:"data"`
	Status       string      `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	SyncedAt     *time.Time  `json:"synced_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

type ConflictRequest struct {
	ClientID   string        `json:"client_id"`
	Resolution string        `json:"resolution"`
	ClientData *ClientRecord `json:"client_data,omitempty"`
}

type ConflictResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Resolution string `json:"resolution"`
}

type MarkCompletedRequest struct {
	SyncIDs []int64 `json:"sync_ids"`
}

type LogFailureRequest struct {
	SyncID       int64  `json:"sync_id"`
	ErrorMessage string `json:"error_message"`
}

type CleanupRequest struct {
	Days int `json:"days"`
}

type CleanupResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	DeletedCount int    `json:"deleted_count"`
}

// DownloadedTransaction is the server-to-client mirror shape used when a
// client refreshes its local copy of recent transactions.
type DownloadedTransaction struct {
	ID            int64             `json:"id"`
	ClientID      string            `json:"client_id,omitempty"`
	CustomerName  string            `json:"customer_name,omitempty"`
	TotalAmount   int64             `json:"total_amount"`
	PaymentMethod string            `json:"payment_method"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Items         []TransactionItem `json:"items"`
}

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
)

const (
	MovementIn         = "in"
	MovementOut        = "out"
	MovementAdjustment = "adjustment"
)

const ReferenceTypeTransaction = "transaction"

const (
	SyncOutcomeSuccess = "success"
	SyncOutcomeFailed  = "failed"
	SyncOutcomeSkipped = "skipped"
)

const (
	SyncLogPending   = "pending"
	SyncLogCompleted = "completed"
	SyncLogFailed    = "failed"
)

const (
	SyncOperationCreate           = "create"
	SyncOperationConflictResolved = "conflict_resolved"
)

const (
	ResolutionKeepServer = "keep_server"
	ResolutionKeepClient = "keep_client"
	ResolutionMerge      = "merge"
)

const (
	SyncStatusSynced = "synced"
)
