package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirku/backend/internal/domain"
	"kasirku/backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	products   map[int64]domain.Product
	categories map[int64]domain.Category
	movements  []domain.InventoryMovement

	transactionsByID       map[int64]*domain.Transaction
	transactionIDsByClient map[string]int64

	syncLogs map[int64]*domain.SyncLogEntry

	usersByUsername map[string]domain.UserAccount

	dailyTxCount map[string]int

	nextProductID     int64
	nextCategoryID    int64
	nextMovementID    int64
	nextTransactionID int64
	nextItemID        int64
	nextSyncLogID     int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:               make(map[int64]domain.Product),
		categories:             make(map[int64]domain.Category),
		movements:              make([]domain.InventoryMovement, 0, 128),
		transactionsByID:       make(map[int64]*domain.Transaction),
		transactionIDsByClient: make(map[string]int64),
		syncLogs:               make(map[int64]*domain.SyncLogEntry),
		usersByUsername:        seedUsers(),
		dailyTxCount:           make(map[string]int),
	}
}

func NewSeeded() *Store {
	s := New()

	categories := []domain.Category{
		{Name: "grocery", Description: "Sembako dan bahan pokok"},
		{Name: "beverage", Description: "Minuman"},
		{Name: "snack", Description: "Makanan ringan"},
		{Name: "household", Description: "Kebutuhan rumah tangga"},
	}
	for _, c := range categories {
		s.nextCategoryID++
		c.ID = s.nextCategoryID
		s.categories[c.ID] = c
	}

	products := []domain.Product{
		{SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", CategoryID: 1, Price: 3500, CurrentStock: 120, Active: true},
		{SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", CategoryID: 1, Price: 26500, CurrentStock: 120, Active: true},
		{SKU: "SKU-GULA-01", Name: "Gula 1kg", CategoryID: 1, Price: 17400, CurrentStock: 120, Active: true},
		{SKU: "SKU-KOPI-01", Name: "Kopi Sachet", CategoryID: 2, Price: 2600, CurrentStock: 120, Active: true},
		{SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", CategoryID: 2, Price: 3900, CurrentStock: 120, Active: true},
		{SKU: "SKU-KERIPIK-01", Name: "Keripik Singkong", CategoryID: 3, Price: 12800, CurrentStock: 120, Active: true},
		{SKU: "SKU-SABUN-01", Name: "Sabun Mandi", CategoryID: 4, Price: 7400, CurrentStock: 120, Active: true},
	}
	for _, p := range products {
		s.nextProductID++
		p.ID = s.nextProductID
		s.products[p.ID] = p
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.CategoryID == b.CategoryID {
			return strings.Compare(a.Name, b.Name)
		}
		if a.CategoryID < b.CategoryID {
			return -1
		}
		return 1
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Price < 1 {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.products {
		if product.SKU != "" && existing.SKU == product.SKU {
			return nil, store.ErrInvalidTransaction
		}
	}

	s.nextProductID++
	product.ID = s.nextProductID
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Inactive products still resolve here: a sale captured offline may
	// reference a product deactivated before the terminal reconnected.
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return categories, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.nextCategoryID++
	category.ID = s.nextCategoryID
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) AdjustStock(_ context.Context, productID int64, movementType string, qty int, notes string, username string) (*domain.InventoryMovement, error) {
	if qty < 1 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}

	previous := product.CurrentStock
	var next int
	switch movementType {
	case domain.MovementIn, domain.MovementAdjustment:
		next = previous + qty
	case domain.MovementOut:
		next = previous - qty
	default:
		return nil, store.ErrInvalidTransaction
	}

	product.CurrentStock = next
	s.products[productID] = product

	movement := s.appendMovementLocked(productID, movementType, qty, previous, next, nil, "", notes, username)
	return movement, nil
}

// appendMovementLocked records one movement and returns a copy. Callers must
// hold s.mu and must have already updated the product's cached stock to
// newStock.
func (s *Store) appendMovementLocked(productID int64, movementType string, qty int, previous int, next int, referenceID *int64, referenceType string, notes string, username string) *domain.InventoryMovement {
	s.nextMovementID++
	movement := domain.InventoryMovement{
		ID:            s.nextMovementID,
		ProductID:     productID,
		Type:          movementType,
		Quantity:      qty,
		PreviousStock: previous,
		NewStock:      next,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		Notes:         notes,
		Username:      username,
		CreatedAt:     time.Now().UTC(),
	}
	s.movements = append(s.movements, movement)
	copyMovement := movement
	return &copyMovement
}

func (s *Store) ListMovementsByProduct(_ context.Context, productID int64, limit int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryMovement, 0, 16)
	for i := len(s.movements) - 1; i >= 0; i-- {
		if s.movements[i].ProductID != productID {
			continue
		}
		result = append(result, s.movements[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) FindTransactionByClientID(_ context.Context, clientID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.transactionIDsByClient[clientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(s.transactionsByID[id]), nil
}

func (s *Store) FindTransactionByID(_ context.Context, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

// nextTransactionNumberLocked follows the TRX + yyyymmdd + 4-digit daily
// counter format. Callers must hold s.mu.
func (s *Store) nextTransactionNumberLocked(at time.Time) string {
	day := at.UTC().Format("20060102")
	s.dailyTxCount[day]++
	return fmt.Sprintf("TRX%s%04d", day, s.dailyTxCount[day])
}

func (s *Store) CreateCheckout(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total := int64(0)
	lines := make([]domain.TransactionItem, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		product, exists := s.products[item.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, item.ProductID)
		}
		if product.CurrentStock < item.Quantity {
			return nil, fmt.Errorf("%w for product %s, available %d, required %d",
				store.ErrInsufficientStock, product.Name, product.CurrentStock, item.Quantity)
		}
		subtotal := product.Price * int64(item.Quantity)
		total += subtotal
		lines = append(lines, domain.TransactionItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			Subtotal:    subtotal,
		})
	}

	if tx.PaymentAmount < total {
		return nil, fmt.Errorf("%w: payment insufficient", store.ErrInvalidTransaction)
	}

	now := time.Now().UTC()
	s.nextTransactionID++
	tx.ID = s.nextTransactionID
	tx.TransactionNumber = s.nextTransactionNumberLocked(now)
	tx.TotalAmount = total
	tx.ChangeAmount = tx.PaymentAmount - total
	tx.Status = domain.TxStatusCompleted
	tx.CreatedAt = now
	tx.UpdatedAt = now
	for i := range lines {
		s.nextItemID++
		lines[i].ID = s.nextItemID
	}
	tx.Items = lines

	for _, line := range tx.Items {
		product := s.products[line.ProductID]
		previous := product.CurrentStock
		product.CurrentStock = previous - line.Quantity
		s.products[line.ProductID] = product
		refID := tx.ID
		s.appendMovementLocked(line.ProductID, domain.MovementOut, line.Quantity, previous, product.CurrentStock,
			&refID, domain.ReferenceTypeTransaction, "Penjualan - "+tx.TransactionNumber, tx.Username)
	}

	saved := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = saved
	if tx.ClientID != "" {
		s.transactionIDsByClient[tx.ClientID] = tx.ID
	}
	return cloneTransaction(saved), nil
}

func (s *Store) ApplyClientRecord(_ context.Context, input store.ApplyInput) (*domain.Transaction, error) {
	record := input.Record
	if record.ClientID == "" || len(record.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The unique client_id mapping is the idempotency barrier: whichever
	// batch commits first wins, the loser observes the existing id.
	if _, exists := s.transactionIDsByClient[record.ClientID]; exists {
		return nil, store.ErrDuplicateClientID
	}

	lines := make([]domain.TransactionItem, 0, len(record.Items))
	for _, item := range record.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		product, exists := s.products[item.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, item.ProductID)
		}
		s.nextItemID++
		lines = append(lines, domain.TransactionItem{
			ID:           s.nextItemID,
			ProductID:    product.ID,
			ProductName:  product.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.Price,
			Subtotal:     item.Price * int64(item.Quantity),
			ClientItemID: item.ClientItemID,
		})
	}

	now := time.Now().UTC()
	change := record.PaymentAmount - record.TotalAmount
	if change < 0 {
		change = 0
	}

	s.nextTransactionID++
	tx := domain.Transaction{
		ID:                s.nextTransactionID,
		TransactionNumber: s.nextTransactionNumberLocked(now),
		Username:          input.Username,
		CustomerName:      record.CustomerName,
		TotalAmount:       record.TotalAmount,
		PaymentMethod:     input.Mapped,
		PaymentAmount:     record.PaymentAmount,
		ChangeAmount:      change,
		Status:            domain.TxStatusCompleted,
		ClientID:          record.ClientID,
		SyncStatus:        domain.SyncStatusSynced,
		LastSyncAt:        &now,
		CreatedAt:         record.CreatedAt.UTC(),
		UpdatedAt:         now,
		Items:             lines,
	}

	// Offline sales are applied without a stock floor: the sale already
	// happened in the real world, so the balance may go negative.
	for _, line := range tx.Items {
		product := s.products[line.ProductID]
		previous := product.CurrentStock
		product.CurrentStock = previous - line.Quantity
		s.products[line.ProductID] = product
		refID := tx.ID
		s.appendMovementLocked(line.ProductID, domain.MovementOut, line.Quantity, previous, product.CurrentStock,
			&refID, domain.ReferenceTypeTransaction, "Penjualan - "+tx.TransactionNumber, input.Username)
	}

	saved := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = saved
	s.transactionIDsByClient[tx.ClientID] = tx.ID
	return cloneTransaction(saved), nil
}

func (s *Store) UpdateTransactionFromClient(_ context.Context, id int64, record domain.ClientRecord, fields []string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	for _, field := range fields {
		switch field {
		case "customer_name":
			tx.CustomerName = record.CustomerName
		case "payment_method":
			tx.PaymentMethod = record.PaymentMethod
		case "payment_amount":
			tx.PaymentAmount = record.PaymentAmount
			change := tx.PaymentAmount - tx.TotalAmount
			if change < 0 {
				change = 0
			}
			tx.ChangeAmount = change
		}
	}
	tx.SyncStatus = domain.SyncStatusSynced
	tx.LastSyncAt = &now
	tx.UpdatedAt = now

	return cloneTransaction(tx), nil
}

func (s *Store) CountTransactionsByUser(_ context.Context, username string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, tx := range s.transactionsByID {
		if tx.Username == username {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountOfflineTransactionsByUser(_ context.Context, username string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, tx := range s.transactionsByID {
		if tx.Username == username && tx.ClientID != "" {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListTransactionsByUser(_ context.Context, username string, updatedAfter *time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 32)
	for _, tx := range s.transactionsByID {
		if tx.Username != username {
			continue
		}
		if updatedAfter != nil && !tx.UpdatedAt.After(*updatedAfter) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return int(b.ID - a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateSyncLog(_ context.Context, entry domain.SyncLogEntry) (*domain.SyncLogEntry, error) {
	if entry.Username == "" || entry.Operation == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSyncLogID++
	entry.ID = s.nextSyncLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	saved := entry
	s.syncLogs[entry.ID] = &saved
	copyEntry := saved
	return &copyEntry, nil
}

func (s *Store) CountPendingSyncLogs(_ context.Context, username string, tableName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.syncLogs {
		if entry.Username != username || entry.Status != domain.SyncLogPending {
			continue
		}
		if tableName != "" && entry.TableName != tableName {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) LastCompletedSyncAt(_ context.Context, username string, tableName string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for _, entry := range s.syncLogs {
		if entry.Username != username || entry.Status != domain.SyncLogCompleted || entry.SyncedAt == nil {
			continue
		}
		if tableName != "" && entry.TableName != tableName {
			continue
		}
		if latest == nil || entry.SyncedAt.After(*latest) {
			at := *entry.SyncedAt
			latest = &at
		}
	}
	return latest, nil
}

func (s *Store) ListPendingSyncLogs(_ context.Context, username string) ([]domain.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SyncLogEntry, 0, 16)
	for _, entry := range s.syncLogs {
		if entry.Username != username || entry.Status != domain.SyncLogPending {
			continue
		}
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListSyncHistory(_ context.Context, username string, limit int) ([]domain.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SyncLogEntry, 0, 32)
	for _, entry := range s.syncLogs {
		if entry.Username != username {
			continue
		}
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkSyncLogsCompleted(_ context.Context, username string, syncIDs []int64, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, id := range syncIDs {
		entry, ok := s.syncLogs[id]
		if !ok || entry.Username != username || entry.Status != domain.SyncLogPending {
			continue
		}
		entry.Status = domain.SyncLogCompleted
		syncedAt := at.UTC()
		entry.SyncedAt = &syncedAt
		updated++
	}
	return updated, nil
}

func (s *Store) MarkSyncLogFailed(_ context.Context, username string, syncID int64, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.syncLogs[syncID]
	if !ok || entry.Username != username {
		return store.ErrNotFound
	}
	entry.Status = domain.SyncLogFailed
	entry.ErrorMessage = errorMessage
	return nil
}

func (s *Store) DeleteCompletedSyncLogsBefore(_ context.Context, username string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, entry := range s.syncLogs {
		if entry.Username != username || entry.Status != domain.SyncLogCompleted {
			continue
		}
		if entry.SyncedAt == nil || !entry.SyncedAt.Before(cutoff) {
			continue
		}
		delete(s.syncLogs, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidTransaction
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	if tx == nil {
		return nil
	}
	clone := *tx
	clone.Items = make([]domain.TransactionItem, len(tx.Items))
	copy(clone.Items, tx.Items)
	if tx.LastSyncAt != nil {
		at := *tx.LastSyncAt
		clone.LastSyncAt = &at
	}
	return &clone
}
