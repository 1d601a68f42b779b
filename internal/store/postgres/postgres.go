package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirku/backend/internal/domain"
	"kasirku/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category_id, price, current_stock, active
		FROM products
		WHERE active = true
		ORDER BY category_id, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.CurrentStock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 1 {
		return nil, store.ErrInvalidTransaction
	}

	product.Active = true
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (sku, name, category_id, price, current_stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		RETURNING id
	`, product.SKU, product.Name, product.CategoryID, product.Price, product.CurrentStock, product.Active).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, category_id, price, current_stock, active
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.SKU, &product.Name, &product.CategoryID, &product.Price, &product.CurrentStock, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	// No active filter: offline sales may reference products deactivated
	// after capture, and those records must still reconcile.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category_id, price, current_stock, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.CurrentStock, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description,'')
		FROM categories
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return categories, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name, description, created_at)
		VALUES ($1,$2,now())
		RETURNING id
	`, category.Name, nullIfEmpty(category.Description)).Scan(&category.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := category
	return &created, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID int64, movementType string, qty int, notes string, username string) (*domain.InventoryMovement, error) {
	if qty < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if movementType != domain.MovementIn && movementType != domain.MovementOut && movementType != domain.MovementAdjustment {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var previous int
	err = tx.QueryRowContext(ctx, `
		SELECT current_stock
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	next := previous + qty
	if movementType == domain.MovementOut {
		next = previous - qty
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET current_stock = $2, updated_at = now()
		WHERE id = $1
	`, productID, next)
	if err != nil {
		return nil, err
	}

	movement, err := insertMovement(ctx, tx, domain.InventoryMovement{
		ProductID:     productID,
		Type:          movementType,
		Quantity:      qty,
		PreviousStock: previous,
		NewStock:      next,
		Notes:         notes,
		Username:      username,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return movement, nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, movement domain.InventoryMovement) (*domain.InventoryMovement, error) {
	movement.CreatedAt = time.Now().UTC()
	err := tx.QueryRowContext(ctx, `
		INSERT INTO inventory_movements (
			product_id, movement_type, quantity, previous_stock, new_stock,
			reference_id, reference_type, notes, username, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, movement.ProductID, movement.Type, movement.Quantity, movement.PreviousStock, movement.NewStock,
		movement.ReferenceID, nullIfEmpty(movement.ReferenceType), nullIfEmpty(movement.Notes), movement.Username, movement.CreatedAt).Scan(&movement.ID)
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (s *Store) ListMovementsByProduct(ctx context.Context, productID int64, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, movement_type, quantity, previous_stock, new_stock,
			reference_id, COALESCE(reference_type,''), COALESCE(notes,''), username, created_at
		FROM inventory_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		var m domain.InventoryMovement
		var referenceID sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.PreviousStock, &m.NewStock,
			&referenceID, &m.ReferenceType, &m.Notes, &m.Username, &m.CreatedAt); err != nil {
			return nil, err
		}
		if referenceID.Valid {
			id := referenceID.Int64
			m.ReferenceID = &id
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) FindTransactionByClientID(ctx context.Context, clientID string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "client_id", clientID)
}

func (s *Store) FindTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "id", id)
}

func (s *Store) findTransaction(ctx context.Context, column string, value any) (*domain.Transaction, error) {
	if column != "id" && column != "client_id" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var tx domain.Transaction
	var customerName sql.NullString
	var notes sql.NullString
	var clientID sql.NullString
	var syncStatus sql.NullString
	var lastSyncAt sql.NullTime

	query := fmt.Sprintf(`
		SELECT id, transaction_number, username, customer_name, total_amount,
			payment_method, payment_amount, change_amount, status, notes,
			client_id, sync_status, last_sync_at, created_at, updated_at
		FROM transactions
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&tx.ID,
		&tx.TransactionNumber,
		&tx.Username,
		&customerName,
		&tx.TotalAmount,
		&tx.PaymentMethod,
		&tx.PaymentAmount,
		&tx.ChangeAmount,
		&tx.Status,
		&notes,
		&clientID,
		&syncStatus,
		&lastSyncAt,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerName.Valid {
		tx.CustomerName = customerName.String
	}
	if notes.Valid {
		tx.Notes = notes.String
	}
	if clientID.Valid {
		tx.ClientID = clientID.String
	}
	if syncStatus.Valid {
		tx.SyncStatus = syncStatus.String
	}
	if lastSyncAt.Valid {
		at := lastSyncAt.Time.UTC()
		tx.LastSyncAt = &at
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()

	items, err := s.listItems(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	tx.Items = items

	return &tx, nil
}

func (s *Store) listItems(ctx context.Context, transactionID int64) ([]domain.TransactionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity, unit_price, subtotal, COALESCE(client_item_id,'')
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionItem, 0, 8)
	for rows.Next() {
		var item domain.TransactionItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal, &item.ClientItemID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// nextTransactionNumber derives the TRX + yyyymmdd + zero-padded counter
// format from the count of rows created today, inside the caller's
// transaction so concurrent checkouts serialize on it.
func nextTransactionNumber(ctx context.Context, tx *sql.Tx, at time.Time) (string, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE created_at::date = $1::date
	`, at.UTC()).Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TRX%s%04d", at.UTC().Format("20060102"), count+1), nil
}

func (s *Store) CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueProductIDs(tx.Items)
	if len(ids) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	productMap, err := lockProducts(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}

	total := int64(0)
	lines := make([]domain.TransactionItem, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		product, exists := productMap[item.ProductID]
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
	number, err := nextTransactionNumber(ctx, pgTx, now)
	if err != nil {
		return nil, err
	}

	tx.TransactionNumber = number
	tx.TotalAmount = total
	tx.ChangeAmount = tx.PaymentAmount - total
	tx.Status = domain.TxStatusCompleted
	tx.CreatedAt = now
	tx.UpdatedAt = now
	tx.Items = lines

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO transactions (
			transaction_number, username, customer_name, total_amount,
			payment_method, payment_amount, change_amount, status, notes,
			client_id, sync_status, last_sync_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`, tx.TransactionNumber, tx.Username, nullIfEmpty(tx.CustomerName), tx.TotalAmount,
		tx.PaymentMethod, tx.PaymentAmount, tx.ChangeAmount, tx.Status, nullIfEmpty(tx.Notes),
		nullIfEmpty(tx.ClientID), nullIfEmpty(tx.SyncStatus), nullTime(tx.LastSyncAt), tx.CreatedAt, tx.UpdatedAt).Scan(&tx.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateClientID
		}
		return nil, err
	}

	if err := s.applyLines(ctx, pgTx, &tx, productMap); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ApplyClientRecord(ctx context.Context, input store.ApplyInput) (*domain.Transaction, error) {
	record := input.Record
	if record.ClientID == "" || len(record.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := make([]int64, 0, len(record.Items))
	for _, item := range record.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		ids = append(ids, item.ProductID)
	}

	productMap, err := lockProducts(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range record.Items {
		if _, exists := productMap[item.ProductID]; !exists {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, item.ProductID)
		}
	}

	now := time.Now().UTC()
	number, err := nextTransactionNumber(ctx, pgTx, now)
	if err != nil {
		return nil, err
	}

	change := record.PaymentAmount - record.TotalAmount
	if change < 0 {
		change = 0
	}

	tx := domain.Transaction{
		TransactionNumber: number,
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
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO transactions (
			transaction_number, username, customer_name, total_amount,
			payment_method, payment_amount, change_amount, status,
			client_id, sync_status, last_sync_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`, tx.TransactionNumber, tx.Username, nullIfEmpty(tx.CustomerName), tx.TotalAmount,
		tx.PaymentMethod, tx.PaymentAmount, tx.ChangeAmount, tx.Status,
		tx.ClientID, tx.SyncStatus, tx.LastSyncAt, tx.CreatedAt, tx.UpdatedAt).Scan(&tx.ID)
	if err != nil {
		// The unique index on client_id is the idempotency barrier: a
		// concurrent batch carrying the same record loses here.
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateClientID
		}
		return nil, err
	}

	lines := make([]domain.TransactionItem, 0, len(record.Items))
	for _, item := range record.Items {
		product := productMap[item.ProductID]
		lines = append(lines, domain.TransactionItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.Price,
			Subtotal:     item.Price * int64(item.Quantity),
			ClientItemID: item.ClientItemID,
		})
	}
	tx.Items = lines

	if err := s.applyLines(ctx, pgTx, &tx, productMap); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateClientID
		}
		return nil, err
	}
	return &tx, nil
}

// applyLines inserts the line rows, decrements stock, and records one out
// movement per line. Stock is decremented without a floor; the checkout path
// rejects insufficiency before reaching here, the offline path deliberately
// does not.
func (s *Store) applyLines(ctx context.Context, pgTx *sql.Tx, tx *domain.Transaction, productMap map[int64]domain.Product) error {
	for i := range tx.Items {
		line := &tx.Items[i]
		err := pgTx.QueryRowContext(ctx, `
			INSERT INTO transaction_items (transaction_id, product_id, product_name, quantity, unit_price, subtotal, client_item_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id
		`, tx.ID, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal, nullIfEmpty(line.ClientItemID)).Scan(&line.ID)
		if err != nil {
			return err
		}

		product := productMap[line.ProductID]
		previous := product.CurrentStock
		next := previous - line.Quantity
		product.CurrentStock = next
		productMap[line.ProductID] = product

		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET current_stock = $2, updated_at = now()
			WHERE id = $1
		`, line.ProductID, next)
		if err != nil {
			return err
		}

		refID := tx.ID
		if _, err := insertMovement(ctx, pgTx, domain.InventoryMovement{
			ProductID:     line.ProductID,
			Type:          domain.MovementOut,
			Quantity:      line.Quantity,
			PreviousStock: previous,
			NewStock:      next,
			ReferenceID:   &refID,
			ReferenceType: domain.ReferenceTypeTransaction,
			Notes:         "Penjualan - " + tx.TransactionNumber,
			Username:      tx.Username,
		}); err != nil {
			return err
		}
	}
	return nil
}

func lockProducts(ctx context.Context, pgTx *sql.Tx, ids []int64) (map[int64]domain.Product, error) {
	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, sku, name, category_id, price, current_stock, active
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	productMap := make(map[int64]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.CurrentStock, &p.Active); err != nil {
			return nil, err
		}
		productMap[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return productMap, nil
}

func (s *Store) UpdateTransactionFromClient(ctx context.Context, id int64, record domain.ClientRecord, fields []string) (*domain.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var totalAmount int64
	err = tx.QueryRowContext(ctx, `
		SELECT total_amount
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&totalAmount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	for _, field := range fields {
		switch field {
		case "customer_name":
			_, err = tx.ExecContext(ctx, `UPDATE transactions SET customer_name = $2 WHERE id = $1`,
				id, nullIfEmpty(record.CustomerName))
		case "payment_method":
			_, err = tx.ExecContext(ctx, `UPDATE transactions SET payment_method = $2 WHERE id = $1`,
				id, record.PaymentMethod)
		case "payment_amount":
			change := record.PaymentAmount - totalAmount
			if change < 0 {
				change = 0
			}
			_, err = tx.ExecContext(ctx, `UPDATE transactions SET payment_amount = $2, change_amount = $3 WHERE id = $1`,
				id, record.PaymentAmount, change)
		}
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET sync_status = $2, last_sync_at = $3, updated_at = $3
		WHERE id = $1
	`, id, domain.SyncStatusSynced, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindTransactionByID(ctx, id)
}

func (s *Store) CountTransactionsByUser(ctx context.Context, username string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE username = $1
	`, username).Scan(&count)
	return count, err
}

func (s *Store) CountOfflineTransactionsByUser(ctx context.Context, username string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE username = $1 AND client_id IS NOT NULL
	`, username).Scan(&count)
	return count, err
}

func (s *Store) ListTransactionsByUser(ctx context.Context, username string, updatedAfter *time.Time, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM transactions
		WHERE username = $1 AND ($2::timestamptz IS NULL OR updated_at > $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, username, nullTime(updatedAfter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := s.FindTransactionByID(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	return result, nil
}

func (s *Store) CreateSyncLog(ctx context.Context, entry domain.SyncLogEntry) (*domain.SyncLogEntry, error) {
	if entry.Username == "" || entry.Operation == "" {
		return nil, store.ErrInvalidTransaction
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sync_logs (
			username, operation, table_name, record_id, client_id,
			data, status, error_message, synced_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, entry.Username, entry.Operation, entry.TableName, entry.RecordID, nullIfEmpty(entry.ClientID),
		payload, entry.Status, nullIfEmpty(entry.ErrorMessage), nullTime(entry.SyncedAt), entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) CountPendingSyncLogs(ctx context.Context, username string, tableName string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sync_logs
		WHERE username = $1 AND status = 'pending' AND ($2 = '' OR table_name = $2)
	`, username, tableName).Scan(&count)
	return count, err
}

func (s *Store) LastCompletedSyncAt(ctx context.Context, username string, tableName string) (*time.Time, error) {
	var at sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(synced_at)
		FROM sync_logs
		WHERE username = $1 AND status = 'completed' AND ($2 = '' OR table_name = $2)
	`, username, tableName).Scan(&at)
	if err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	latest := at.Time.UTC()
	return &latest, nil
}

func (s *Store) ListPendingSyncLogs(ctx context.Context, username string) ([]domain.SyncLogEntry, error) {
	return s.listSyncLogs(ctx, `
		SELECT id, username, operation, table_name, record_id, COALESCE(client_id,''),
			data, status, COALESCE(error_message,''), synced_at, created_at
		FROM sync_logs
		WHERE username = $1 AND status = 'pending'
		ORDER BY created_at ASC, id ASC
	`, username)
}

func (s *Store) ListSyncHistory(ctx context.Context, username string, limit int) ([]domain.SyncLogEntry, error) {
	if limit < 1 {
		limit = 50
	}
	return s.listSyncLogs(ctx, `
		SELECT id, username, operation, table_name, record_id, COALESCE(client_id,''),
			data, status, COALESCE(error_message,''), synced_at, created_at
		FROM sync_logs
		WHERE username = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, username, limit)
}

func (s *Store) listSyncLogs(ctx context.Context, query string, args ...any) ([]domain.SyncLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.SyncLogEntry, 0, 32)
	for rows.Next() {
		var entry domain.SyncLogEntry
		var recordID sql.NullInt64
		var payload []byte
		var syncedAt sql.NullTime
		if err := rows.Scan(&entry.ID, &entry.Username, &entry.Operation, &entry.TableName, &recordID, &entry.ClientID,
			&payload, &entry.Status, &entry.ErrorMessage, &syncedAt, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if recordID.Valid {
			id := recordID.Int64
			entry.RecordID = &id
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &entry.Payload); err != nil {
				return nil, err
			}
		}
		if syncedAt.Valid {
			at := syncedAt.Time.UTC()
			entry.SyncedAt = &at
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) MarkSyncLogsCompleted(ctx context.Context, username string, syncIDs []int64, at time.Time) (int, error) {
	if len(syncIDs) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_logs
		SET status = 'completed', synced_at = $3
		WHERE username = $1 AND id = ANY($2) AND status = 'pending'
	`, username, syncIDs, at.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) MarkSyncLogFailed(ctx context.Context, username string, syncID int64, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_logs
		SET status = 'failed', error_message = $3
		WHERE username = $1 AND id = $2
	`, username, syncID, errorMessage)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCompletedSyncLogsBefore(ctx context.Context, username string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_logs
		WHERE username = $1 AND status = 'completed' AND synced_at < $2
	`, username, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidTransaction
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueProductIDs(items []domain.TransactionItem) []int64 {
	if len(items) == 0 {
		return nil
	}

	set := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == 0 {
			continue
		}
		set[item.ProductID] = struct{}{}
	}

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
