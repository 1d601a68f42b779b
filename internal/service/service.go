package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirku/backend/internal/cache"
	"kasirku/backend/internal/domain"
	"kasirku/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const syncStatusTTL = 30 * time.Second

type Service struct {
	repo        store.Repository
	statusCache cache.SyncStatusCache
}

func New(repo store.Repository, statusCache cache.SyncStatusCache) *Service {
	if statusCache == nil {
		statusCache = cache.NoopSyncStatusCache{}
	}

	return &Service{
		repo:        repo,
		statusCache: statusCache,
	}
}

// paymentMethodMap translates the vocabulary offline clients use into the
// server's payment vocabulary. Both spellings of e-wallet are accepted
// because older client builds emit the underscored form.
var paymentMethodMap = map[string]string{
	"cash":          "cash",
	"bank_transfer": "debit",
	"e_wallet":      "e-wallet",
	"e-wallet":      "e-wallet",
	"debit":         "debit",
	"credit":        "credit",
}

func mapPaymentMethod(method string) (string, error) {
	mapped, ok := paymentMethodMap[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return "", fmt.Errorf("%w: %q", store.ErrUnmappedPayment, method)
	}
	return mapped, nil
}

func isServerPaymentMethod(method string) bool {
	switch method {
	case "cash", "debit", "credit", "e-wallet":
		return true
	}
	return false
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)

	if req.Name == "" || req.Price < 1 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:          req.SKU,
		Name:         req.Name,
		CategoryID:   req.CategoryID,
		Price:        req.Price,
		CurrentStock: 0,
		Active:       true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		movement, err := s.repo.AdjustStock(ctx, created.ID, domain.MovementIn, req.InitialStock, "Stok awal", actor.Username)
		if err != nil {
			return domain.Product{}, err
		}
		created.CurrentStock = movement.NewStock
	}

	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Category{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Category{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.Category{}, err
	}
	return *created, nil
}

func (s *Service) AdjustStock(ctx context.Context, productID int64, req domain.StockAdjustRequest) (domain.InventoryMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.InventoryMovement{}, fmt.Errorf("admin role required")
	}

	if req.Quantity < 1 {
		return domain.InventoryMovement{}, store.ErrInvalidTransaction
	}
	switch req.Type {
	case domain.MovementIn, domain.MovementOut, domain.MovementAdjustment:
	default:
		return domain.InventoryMovement{}, store.ErrInvalidTransaction
	}

	movement, err := s.repo.AdjustStock(ctx, productID, req.Type, req.Quantity, strings.TrimSpace(req.Notes), actor.Username)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	return *movement, nil
}

func (s *Service) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.InventoryMovement, error) {
	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListMovementsByProduct(ctx, productID, limit)
}

// Checkout commits an in-store sale. Unlike the offline reconciliation path,
// this path rejects insufficient stock: the sale has not happened yet, so the
// server can still refuse it.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CheckoutResponse{}, fmt.Errorf("authentication required")
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}
	if !isServerPaymentMethod(req.PaymentMethod) {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: %q", store.ErrUnmappedPayment, req.PaymentMethod)
	}
	if req.PaymentAmount < 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidTransaction
	}

	items := normalizeCheckoutItems(req.Items)
	if len(items) == 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidTransaction
	}

	lines := make([]domain.TransactionItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.TransactionItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	created, err := s.repo.CreateCheckout(ctx, domain.Transaction{
		Username:      actor.Username,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		PaymentMethod: req.PaymentMethod,
		PaymentAmount: req.PaymentAmount,
		Notes:         strings.TrimSpace(req.Notes),
		Items:         lines,
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.invalidateStatus(ctx, actor.Username)
	return domain.CheckoutResponse{Transaction: *created}, nil
}

// Reconcile applies a batch of offline-captured transactions. Each record is
// judged independently: one bad record never blocks its neighbors, and a
// record the server has already seen reports skipped rather than failing.
func (s *Service) Reconcile(ctx context.Context, req domain.SyncRequest) (domain.SyncResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SyncResponse{}, fmt.Errorf("authentication required")
	}

	results := make([]domain.SyncResult, 0, len(req.Transactions))
	summary := domain.SyncSummary{Total: len(req.Transactions)}

	for _, record := range req.Transactions {
		result := s.reconcileOne(ctx, actor.Username, record)
		switch result.Status {
		case domain.SyncOutcomeSuccess:
			summary.Success++
		case domain.SyncOutcomeSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
		results = append(results, result)
	}

	s.invalidateStatus(ctx, actor.Username)

	status := "success"
	if summary.Failed > 0 {
		status = "partial"
	}
	return domain.SyncResponse{
		Status:  status,
		Message: fmt.Sprintf("sync completed: %d success, %d failed, %d skipped", summary.Success, summary.Failed, summary.Skipped),
		Summary: summary,
		Results: results,
	}, nil
}

func (s *Service) reconcileOne(ctx context.Context, username string, record domain.ClientRecord) domain.SyncResult {
	result := domain.SyncResult{ClientID: record.ClientID}

	if record.ClientID == "" {
		result.Status = domain.SyncOutcomeFailed
		result.Message = "missing client_id"
		return result
	}

	if existing, err := s.repo.FindTransactionByClientID(ctx, record.ClientID); err == nil {
		result.Status = domain.SyncOutcomeSkipped
		result.TransactionID = &existing.ID
		result.Message = "Transaction already synced"
		s.logSync(ctx, syncLogInput{
			username:  username,
			operation: domain.SyncOperationCreate,
			recordID:  &existing.ID,
			clientID:  record.ClientID,
			payload:   domain.SyncPayload{Record: &record},
			status:    domain.SyncLogCompleted,
		})
		return result
	} else if !errors.Is(err, store.ErrNotFound) {
		return s.failRecord(ctx, username, record, err)
	}

	if err := s.validateClientRecord(ctx, record); err != nil {
		return s.failRecord(ctx, username, record, err)
	}

	mapped, err := mapPaymentMethod(record.PaymentMethod)
	if err != nil {
		return s.failRecord(ctx, username, record, err)
	}

	created, err := s.repo.ApplyClientRecord(ctx, store.ApplyInput{
		Record:   record,
		Username: username,
		Mapped:   mapped,
	})
	if err != nil {
		// A concurrent batch carrying the same client_id committed first.
		// The record is already on the server, so this is a skip.
		if errors.Is(err, store.ErrDuplicateClientID) {
			result.Status = domain.SyncOutcomeSkipped
			result.Message = "Transaction already synced"
			if existing, lookupErr := s.repo.FindTransactionByClientID(ctx, record.ClientID); lookupErr == nil {
				result.TransactionID = &existing.ID
			}
			s.logSync(ctx, syncLogInput{
				username:  username,
				operation: domain.SyncOperationCreate,
				recordID:  result.TransactionID,
				clientID:  record.ClientID,
				payload:   domain.SyncPayload{Record: &record},
				status:    domain.SyncLogCompleted,
			})
			return result
		}
		return s.failRecord(ctx, username, record, err)
	}

	result.Status = domain.SyncOutcomeSuccess
	result.TransactionID = &created.ID
	s.logSync(ctx, syncLogInput{
		username:  username,
		operation: domain.SyncOperationCreate,
		recordID:  &created.ID,
		clientID:  record.ClientID,
		payload:   domain.SyncPayload{Record: &record},
		status:    domain.SyncLogCompleted,
	})
	return result
}

func (s *Service) failRecord(ctx context.Context, username string, record domain.ClientRecord, cause error) domain.SyncResult {
	s.logSync(ctx, syncLogInput{
		username:  username,
		operation: domain.SyncOperationCreate,
		clientID:  record.ClientID,
		payload:   domain.SyncPayload{Record: &record},
		status:    domain.SyncLogFailed,
		errMsg:    cause.Error(),
	})
	return domain.SyncResult{
		ClientID: record.ClientID,
		Status:   domain.SyncOutcomeFailed,
		Message:  cause.Error(),
	}
}

func (s *Service) validateClientRecord(ctx context.Context, record domain.ClientRecord) error {
	if len(record.Items) == 0 {
		return fmt.Errorf("%w: no items", store.ErrInvalidTransaction)
	}
	if record.TotalAmount < 0 || record.PaymentAmount < 0 {
		return fmt.Errorf("%w: negative amount", store.ErrInvalidTransaction)
	}

	ids := make([]int64, 0, len(record.Items))
	for _, item := range record.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: invalid quantity for product %d", store.ErrInvalidTransaction, item.ProductID)
		}
		if item.Price < 0 {
			return fmt.Errorf("%w: negative price for product %d", store.ErrInvalidTransaction, item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, item := range record.Items {
		if _, exists := products[item.ProductID]; !exists {
			return fmt.Errorf("%w: product %d", store.ErrNotFound, item.ProductID)
		}
	}
	return nil
}

func (s *Service) SyncStatus(ctx context.Context) (domain.SyncStatus, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SyncStatus{}, fmt.Errorf("authentication required")
	}

	key := statusCacheKey(actor.Username)
	if cached, hit, err := s.statusCache.Get(ctx, key); err == nil && hit {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: sync status cache read failed user=%s: %v", actor.Username, err)
	}

	pending, err := s.repo.CountPendingSyncLogs(ctx, actor.Username, "transactions")
	if err != nil {
		return domain.SyncStatus{}, err
	}
	lastUpload, err := s.repo.LastCompletedSyncAt(ctx, actor.Username, "transactions")
	if err != nil {
		return domain.SyncStatus{}, err
	}
	total, err := s.repo.CountTransactionsByUser(ctx, actor.Username)
	if err != nil {
		return domain.SyncStatus{}, err
	}
	offline, err := s.repo.CountOfflineTransactionsByUser(ctx, actor.Username)
	if err != nil {
		return domain.SyncStatus{}, err
	}

	status := domain.SyncStatus{
		PendingUploadCount:      pending,
		LastUploadAt:            lastUpload,
		TotalTransactions:       total,
		OfflineTransactionCount: offline,
	}

	if err := s.statusCache.Set(ctx, key, &status, syncStatusTTL); err != nil {
		log.Printf("[service] WARN: sync status cache write failed user=%s: %v", actor.Username, err)
	}
	return status, nil
}

func (s *Service) PendingOperations(ctx context.Context) ([]domain.SyncLogEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListPendingSyncLogs(ctx, actor.Username)
}

func (s *Service) MarkCompleted(ctx context.Context, req domain.MarkCompletedRequest) (int, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return 0, fmt.Errorf("authentication required")
	}
	if len(req.SyncIDs) == 0 {
		return 0, fmt.Errorf("%w: no sync ids", store.ErrInvalidTransaction)
	}

	updated, err := s.repo.MarkSyncLogsCompleted(ctx, actor.Username, req.SyncIDs, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	s.invalidateStatus(ctx, actor.Username)
	return updated, nil
}

func (s *Service) LogSyncFailure(ctx context.Context, req domain.LogFailureRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required")
	}
	if req.SyncID < 1 || strings.TrimSpace(req.ErrorMessage) == "" {
		return fmt.Errorf("%w: sync_id and error_message required", store.ErrInvalidTransaction)
	}
	if err := s.repo.MarkSyncLogFailed(ctx, actor.Username, req.SyncID, strings.TrimSpace(req.ErrorMessage)); err != nil {
		return err
	}
	s.invalidateStatus(ctx, actor.Username)
	return nil
}

// CleanupSyncLogs deletes completed ledger entries older than the requested
// retention window. Days is bounded to [1, 365]; a zero value is rejected
// rather than treated as "delete everything".
func (s *Service) CleanupSyncLogs(ctx context.Context, req domain.CleanupRequest) (domain.CleanupResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CleanupResponse{}, fmt.Errorf("authentication required")
	}
	if req.Days < 1 || req.Days > 365 {
		return domain.CleanupResponse{}, fmt.Errorf("%w: days must be between 1 and 365", store.ErrInvalidTransaction)
	}

	cutoff := time.Now().UTC().Add(-time.Duration(req.Days) * 24 * time.Hour)
	deleted, err := s.repo.DeleteCompletedSyncLogsBefore(ctx, actor.Username, cutoff)
	if err != nil {
		return domain.CleanupResponse{}, err
	}

	return domain.CleanupResponse{
		Status:       "success",
		Message:      fmt.Sprintf("deleted %d completed sync logs older than %d days", deleted, req.Days),
		DeletedCount: deleted,
	}, nil
}

func (s *Service) SyncHistory(ctx context.Context, limit int) ([]domain.SyncLogEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListSyncHistory(ctx, actor.Username, limit)
}

// ResolveConflict settles a record that exists both on the client and the
// server. keep_server discards the client copy, keep_client overwrites the
// server's mutable fields, merge fills only fields the server left empty.
// Money fields and item lines always keep the server version under merge.
func (s *Service) ResolveConflict(ctx context.Context, req domain.ConflictRequest) (domain.ConflictResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ConflictResponse{}, fmt.Errorf("authentication required")
	}
	if req.ClientID == "" {
		return domain.ConflictResponse{}, fmt.Errorf("%w: client_id required", store.ErrInvalidTransaction)
	}

	existing, err := s.repo.FindTransactionByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ConflictResponse{}, fmt.Errorf("%w: no server transaction for client_id %s", store.ErrNotFound, req.ClientID)
		}
		return domain.ConflictResponse{}, err
	}

	var appliedFields []string
	switch req.Resolution {
	case domain.ResolutionKeepServer:
		// Server copy stands; nothing to write.

	case domain.ResolutionKeepClient:
		if req.ClientData == nil {
			return domain.ConflictResponse{}, fmt.Errorf("%w: client_data required for keep_client", store.ErrInvalidTransaction)
		}
		mapped, err := mapPaymentMethod(req.ClientData.PaymentMethod)
		if err != nil {
			return domain.ConflictResponse{}, err
		}
		record := *req.ClientData
		record.PaymentMethod = mapped
		appliedFields = []string{"customer_name", "payment_method", "payment_amount"}
		if _, err := s.repo.UpdateTransactionFromClient(ctx, existing.ID, record, appliedFields); err != nil {
			return domain.ConflictResponse{}, err
		}

	case domain.ResolutionMerge:
		if req.ClientData == nil {
			return domain.ConflictResponse{}, fmt.Errorf("%w: client_data required for merge", store.ErrInvalidTransaction)
		}
		if existing.CustomerName == "" && strings.TrimSpace(req.ClientData.CustomerName) != "" {
			appliedFields = append(appliedFields, "customer_name")
		}
		if len(appliedFields) > 0 {
			if _, err := s.repo.UpdateTransactionFromClient(ctx, existing.ID, *req.ClientData, appliedFields); err != nil {
				return domain.ConflictResponse{}, err
			}
		}

	default:
		return domain.ConflictResponse{}, fmt.Errorf("%w: unknown resolution %q", store.ErrInvalidTransaction, req.Resolution)
	}

	s.logSync(ctx, syncLogInput{
		username:  actor.Username,
		operation: domain.SyncOperationConflictResolved,
		recordID:  &existing.ID,
		clientID:  req.ClientID,
		payload: domain.SyncPayload{Resolution: &domain.ConflictResolution{
			Resolution:    req.Resolution,
			AppliedFields: appliedFields,
			ClientData:    req.ClientData,
		}},
		status: domain.SyncLogCompleted,
	})
	s.invalidateStatus(ctx, actor.Username)

	return domain.ConflictResponse{
		Status:     "success",
		Message:    fmt.Sprintf("conflict resolved with %s", req.Resolution),
		Resolution: req.Resolution,
	}, nil
}

func (s *Service) DownloadTransactions(ctx context.Context, updatedAfter *time.Time, limit int) ([]domain.DownloadedTransaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}

	transactions, err := s.repo.ListTransactionsByUser(ctx, actor.Username, updatedAfter, limit)
	if err != nil {
		return nil, err
	}

	result := make([]domain.DownloadedTransaction, 0, len(transactions))
	for _, tx := range transactions {
		result = append(result, domain.DownloadedTransaction{
			ID:            tx.ID,
			ClientID:      tx.ClientID,
			CustomerName:  tx.CustomerName,
			TotalAmount:   tx.TotalAmount,
			PaymentMethod: tx.PaymentMethod,
			CreatedAt:     tx.CreatedAt,
			UpdatedAt:     tx.UpdatedAt,
			Items:         tx.Items,
		})
	}
	return result, nil
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

type syncLogInput struct {
	username  string
	operation string
	recordID  *int64
	clientID  string
	payload   domain.SyncPayload
	status    string
	errMsg    string
}

// logSync appends one ledger entry. Ledger write failures are logged and
// swallowed so a reporting problem never undoes an applied transaction.
func (s *Service) logSync(ctx context.Context, input syncLogInput) {
	now := time.Now().UTC()
	entry := domain.SyncLogEntry{
		Username:     input.username,
		Operation:    input.operation,
		TableName:    "transactions",
		RecordID:     input.recordID,
		ClientID:     input.clientID,
		Payload:      input.payload,
		Status:       input.status,
		ErrorMessage: input.errMsg,
		CreatedAt:    now,
	}
	if input.status == domain.SyncLogCompleted {
		entry.SyncedAt = &now
	}

	if _, err := s.repo.CreateSyncLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: failed to write sync log client_id=%s op=%s: %v", input.clientID, input.operation, err)
	}
}

func (s *Service) invalidateStatus(ctx context.Context, username string) {
	if err := s.statusCache.Invalidate(ctx, statusCacheKey(username)); err != nil {
		log.Printf("[service] WARN: sync status cache invalidation failed user=%s: %v", username, err)
	}
}

func statusCacheKey(username string) string {
	return "sync-status:" + username
}

func normalizeCheckoutItems(items []domain.CheckoutItem) []domain.CheckoutItem {
	merged := make(map[int64]int, len(items))
	order := make([]int64, 0, len(items))
	for _, item := range items {
		if item.ProductID < 1 || item.Quantity < 1 {
			continue
		}
		if _, seen := merged[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		merged[item.ProductID] += item.Quantity
	}

	result := make([]domain.CheckoutItem, 0, len(order))
	for _, id := range order {
		result = append(result, domain.CheckoutItem{ProductID: id, Quantity: merged[id]})
	}
	return result
}
