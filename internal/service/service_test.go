package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"kasirku/backend/internal/cache"
	"kasirku/backend/internal/domain"
	"kasirku/backend/internal/store"
	"kasirku/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopSyncStatusCache{}), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func offlineRecord(clientID string, productID int64, qty int, price int64, payment int64) domain.ClientRecord {
	return domain.ClientRecord{
		ClientID:    clientID,
		TotalAmount: price * int64(qty),
		// offline clients speak their own payment vocabulary
		PaymentMethod: "bank_transfer",
		PaymentAmount: payment,
		Items: []domain.ClientItem{
			{ProductID: productID, Quantity: qty, Price: price, ClientItemID: clientID + "-item-1"},
		},
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
}

func TestReconcileAppliesOfflineSale(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	before, err := repo.GetProductByID(ctx, 1)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}

	resp, err := svc.Reconcile(ctx, domain.SyncRequest{
		Transactions: []domain.ClientRecord{offlineRecord("client-tx-1", 1, 2, 3500, 10000)},
	})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if resp.Summary.Success != 1 || resp.Summary.Failed != 0 || resp.Summary.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}
	result := resp.Results[0]
	if result.Status != domain.SyncOutcomeSuccess || result.TransactionID == nil {
		t.Fatalf("unexpected result: %+v", result)
	}

	tx, err := repo.FindTransactionByClientID(ctx, "client-tx-1")
	if err != nil {
		t.Fatalf("find by client id: %v", err)
	}
	if !strings.HasPrefix(tx.TransactionNumber, "TRX") || len(tx.TransactionNumber) != len("TRX")+8+4 {
		t.Fatalf("bad transaction number format: %s", tx.TransactionNumber)
	}
	if tx.PaymentMethod != "debit" {
		t.Fatalf("expected bank_transfer to map to debit, got %s", tx.PaymentMethod)
	}
	if tx.ChangeAmount != 10000-7000 {
		t.Fatalf("expected change 3000, got %d", tx.ChangeAmount)
	}
	if tx.SyncStatus != domain.SyncStatusSynced || tx.LastSyncAt == nil {
		t.Fatalf("expected synced transaction, got status=%q lastSyncAt=%v", tx.SyncStatus, tx.LastSyncAt)
	}

	after, err := repo.GetProductByID(ctx, 1)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.CurrentStock != before.CurrentStock-2 {
		t.Fatalf("expected stock %d, got %d", before.CurrentStock-2, after.CurrentStock)
	}

	movements, err := repo.ListMovementsByProduct(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(movements))
	}
	m := movements[0]
	if m.Type != domain.MovementOut || m.PreviousStock != before.CurrentStock || m.NewStock != before.CurrentStock-2 {
		t.Fatalf("unexpected movement: %+v", m)
	}
	if m.ReferenceID == nil || *m.ReferenceID != tx.ID || m.ReferenceType != domain.ReferenceTypeTransaction {
		t.Fatalf("movement not linked to transaction: %+v", m)
	}

	history, err := svc.SyncHistory(ctx, 10)
	if err != nil {
		t.Fatalf("sync history: %v", err)
	}
	if len(history) != 1 || history[0].Status != domain.SyncLogCompleted || history[0].ClientID != "client-tx-1" {
		t.Fatalf("unexpected ledger state: %+v", history)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	batch := domain.SyncRequest{
		Transactions: []domain.ClientRecord{offlineRecord("client-dup-1", 2, 3, 26500, 80000)},
	}

	first, err := svc.Reconcile(ctx, batch)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if first.Summary.Success != 1 {
		t.Fatalf("first reconcile should succeed: %+v", first.Summary)
	}
	stockAfterFirst, _ := repo.GetProductByID(ctx, 2)

	second, err := svc.Reconcile(ctx, batch)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Summary.Skipped != 1 || second.Summary.Success != 0 || second.Summary.Failed != 0 {
		t.Fatalf("resubmission should be skipped: %+v", second.Summary)
	}
	result := second.Results[0]
	if result.Message != "Transaction already synced" {
		t.Fatalf("unexpected skip message: %q", result.Message)
	}
	if result.TransactionID == nil || *result.TransactionID != *first.Results[0].TransactionID {
		t.Fatalf("skip should point at the original transaction")
	}

	stockAfterSecond, _ := repo.GetProductByID(ctx, 2)
	if stockAfterSecond.CurrentStock != stockAfterFirst.CurrentStock {
		t.Fatalf("resubmission moved stock: %d -> %d", stockAfterFirst.CurrentStock, stockAfterSecond.CurrentStock)
	}

	count, _ := repo.CountTransactionsByUser(ctx, "cashier")
	if count != 1 {
		t.Fatalf("expected exactly 1 transaction, got %d", count)
	}
}

func TestReconcilePartialFailureIsolation(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	bad := offlineRecord("client-bad-1", 999, 1, 5000, 5000)
	resp, err := svc.Reconcile(ctx, domain.SyncRequest{
		Transactions: []domain.ClientRecord{
			offlineRecord("client-ok-1", 1, 1, 3500, 5000),
			bad,
			offlineRecord("client-ok-2", 4, 2, 2600, 6000),
		},
	})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if resp.Status != "partial" {
		t.Fatalf("expected partial status, got %s", resp.Status)
	}
	if resp.Summary.Success != 2 || resp.Summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}

	// Outcomes come back in input order.
	statuses := []string{resp.Results[0].Status, resp.Results[1].Status, resp.Results[2].Status}
	want := []string{domain.SyncOutcomeSuccess, domain.SyncOutcomeFailed, domain.SyncOutcomeSuccess}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("result %d: expected %s, got %s", i, want[i], statuses[i])
		}
	}
	if !strings.Contains(resp.Results[1].Message, "product 999") {
		t.Fatalf("failure message should name the product: %q", resp.Results[1].Message)
	}

	if _, err := repo.FindTransactionByClientID(ctx, "client-bad-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed record must leave no transaction behind")
	}
	if _, err := repo.FindTransactionByClientID(ctx, "client-ok-2"); err != nil {
		t.Fatalf("record after the failed one must still apply: %v", err)
	}
}

func TestReconcileAllowsNegativeStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	resp, err := svc.Reconcile(ctx, domain.SyncRequest{
		Transactions: []domain.ClientRecord{offlineRecord("client-neg-1", 5, 150, 3900, 600000)},
	})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if resp.Summary.Success != 1 {
		t.Fatalf("oversold offline sale must still apply: %+v", resp.Summary)
	}

	product, _ := repo.GetProductByID(ctx, 5)
	if product.CurrentStock != 120-150 {
		t.Fatalf("expected stock -30, got %d", product.CurrentStock)
	}

	movements, _ := repo.ListMovementsByProduct(ctx, 5, 10)
	if len(movements) != 1 || movements[0].PreviousStock != 120 || movements[0].NewStock != -30 {
		t.Fatalf("unexpected movement: %+v", movements)
	}
}

func TestCheckoutRejectsWhatReconcileAccepts(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentMethod: "cash",
		PaymentAmount: 1000000,
		Items:         []domain.CheckoutItem{{ProductID: 5, Quantity: 150}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("synchronous checkout must reject overselling, got %v", err)
	}

	resp, err := svc.Reconcile(ctx, domain.SyncRequest{
		Transactions: []domain.ClientRecord{offlineRecord("client-asym-1", 5, 150, 3900, 600000)},
	})
	if err != nil || resp.Summary.Success != 1 {
		t.Fatalf("same quantity must apply on the reconcile path: err=%v summary=%+v", err, resp.Summary)
	}
}

func TestCheckoutComputesTotalsAndChange(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CustomerName:  "Budi",
		PaymentMethod: "cash",
		PaymentAmount: 20000,
		Items: []domain.CheckoutItem{
			{ProductID: 1, Quantity: 2},
			{ProductID: 4, Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	tx := resp.Transaction
	wantTotal := int64(2*3500 + 3*2600)
	if tx.TotalAmount != wantTotal {
		t.Fatalf("expected total %d, got %d", wantTotal, tx.TotalAmount)
	}
	if tx.ChangeAmount != 20000-wantTotal {
		t.Fatalf("expected change %d, got %d", 20000-wantTotal, tx.ChangeAmount)
	}
	if tx.Status != domain.TxStatusCompleted {
		t.Fatalf("expected completed status, got %s", tx.Status)
	}
	for _, line := range tx.Items {
		if line.ProductName == "" {
			t.Fatalf("line must freeze the product name: %+v", line)
		}
	}

	product, _ := repo.GetProductByID(ctx, 1)
	if product.CurrentStock != 118 {
		t.Fatalf("expected stock 118, got %d", product.CurrentStock)
	}
}

func TestCheckoutRejectsInsufficientPayment(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		PaymentMethod: "cash",
		PaymentAmount: 1000,
		Items:         []domain.CheckoutItem{{ProductID: 1, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestReconcileChangeNeverNegative(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	// Declared payment below total: change clamps to zero instead of going
	// negative, the record still applies.
	record := offlineRecord("client-short-1", 1, 2, 3500, 5000)
	resp, err := svc.Reconcile(ctx, domain.SyncRequest{Transactions: []domain.ClientRecord{record}})
	if err != nil || resp.Summary.Success != 1 {
		t.Fatalf("reconcile: err=%v summary=%+v", err, resp.Summary)
	}

	tx, _ := repo.FindTransactionByClientID(ctx, "client-short-1")
	if tx.ChangeAmount != 0 {
		t.Fatalf("expected change 0, got %d", tx.ChangeAmount)
	}
}

func TestReconcilePaymentMethodMapping(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	cases := []struct {
		method string
		want   string
	}{
		{"cash", "cash"},
		{"bank_transfer", "debit"},
		{"e_wallet", "e-wallet"},
		{"e-wallet", "e-wallet"},
		{"credit", "credit"},
	}
	for i, tc := range cases {
		record := offlineRecord(fmt.Sprintf("client-pm-%d", i), 1, 1, 3500, 5000)
		record.PaymentMethod = tc.method
		resp, err := svc.Reconcile(ctx, domain.SyncRequest{Transactions: []domain.ClientRecord{record}})
		if err != nil || resp.Summary.Success != 1 {
			t.Fatalf("method %s: err=%v summary=%+v", tc.method, err, resp.Summary)
		}
		tx, _ := repo.FindTransactionByClientID(ctx, record.ClientID)
		if tx.PaymentMethod != tc.want {
			t.Fatalf("method %s: expected %s, got %s", tc.method, tc.want, tx.PaymentMethod)
		}
	}
}

func TestReconcileRejectsUnmappedPaymentMethod(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	record := offlineRecord("client-crypto-1", 1, 1, 3500, 5000)
	record.PaymentMethod = "crypto"

	resp, err := svc.Reconcile(ctx, domain.SyncRequest{Transactions: []domain.ClientRecord{record}})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if resp.Summary.Failed != 1 {
		t.Fatalf("unmapped method must fail the record: %+v", resp.Summary)
	}
	if !strings.Contains(resp.Results[0].Message, "unmapped payment method") {
		t.Fatalf("unexpected message: %q", resp.Results[0].Message)
	}
	if _, err := repo.FindTransactionByClientID(ctx, "client-crypto-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed record must not create a transaction")
	}

	history, _ := svc.SyncHistory(ctx, 10)
	if len(history) != 1 || history[0].Status != domain.SyncLogFailed || history[0].ErrorMessage == "" {
		t.Fatalf("expected failed ledger entry with message: %+v", history)
	}
}

func TestSyncStatusCounts(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	_, err := svc.Reconcile(ctx, domain.SyncRequest{
		Transactions: []domain.ClientRecord{
			offlineRecord("client-st-1", 1, 1, 3500, 5000),
			offlineRecord("client-st-2", 4, 1, 2600, 5000),
		},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// One pending entry from a client that has not confirmed yet.
	_, err = repo.CreateSyncLog(context.Background(), domain.SyncLogEntry{
		Username:  "cashier",
		Operation: domain.SyncOperationCreate,
		TableName: "transactions",
		ClientID:  "client-st-3",
		Status:    domain.SyncLogPending,
	})
	if err != nil {
		t.Fatalf("seed pending log: %v", err)
	}

	status, err := svc.SyncStatus(ctx)
	if err != nil {
		t.Fatalf("sync status: %v", err)
	}
	if status.PendingUploadCount != 1 {
		t.Fatalf("expected 1 pending, got %d", status.PendingUploadCount)
	}
	if status.TotalTransactions != 2 || status.OfflineTransactionCount != 2 {
		t.Fatalf("unexpected counts: %+v", status)
	}
	if status.LastUploadAt == nil {
		t.Fatalf("expected last upload timestamp")
	}
}

func TestMarkCompletedOnlyTouchesPendingOwnEntries(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	pending, _ := repo.CreateSyncLog(context.Background(), domain.SyncLogEntry{
		Username: "cashier", Operation: domain.SyncOperationCreate, TableName: "transactions",
		ClientID: "client-mc-1", Status: domain.SyncLogPending,
	})
	other, _ := repo.CreateSyncLog(context.Background(), domain.SyncLogEntry{
		Username: "someone-else", Operation: domain.SyncOperationCreate, TableName: "transactions",
		ClientID: "client-mc-2", Status: domain.SyncLogPending,
	})

	updated, err := svc.MarkCompleted(ctx, domain.MarkCompletedRequest{SyncIDs: []int64{pending.ID, other.ID, 9999}})
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 updated, got %d", updated)
	}

	remaining, _ := svc.PendingOperations(ctx)
	if len(remaining) != 0 {
		t.Fatalf("expected no pending entries for cashier, got %d", len(remaining))
	}

	if _, err := svc.MarkCompleted(ctx, domain.MarkCompletedRequest{}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("empty id list must be rejected, got %v", err)
	}
}

func TestLogSyncFailureRequiresMessage(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	entry, _ := repo.CreateSyncLog(context.Background(), domain.SyncLogEntry{
		Username: "cashier", Operation: domain.SyncOperationCreate, TableName: "transactions",
		ClientID: "client-lf-1", Status: domain.SyncLogPending,
	})

	if err := svc.LogSyncFailure(ctx, domain.LogFailureRequest{SyncID: entry.ID}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("missing error message must be rejected, got %v", err)
	}
	if err := svc.LogSyncFailure(ctx, domain.LogFailureRequest{SyncID: entry.ID, ErrorMessage: "device offline"}); err != nil {
		t.Fatalf("log failure: %v", err)
	}

	history, _ := svc.SyncHistory(ctx, 10)
	if history[0].Status != domain.SyncLogFailed || history[0].ErrorMessage != "device offline" {
		t.Fatalf("unexpected entry after failure: %+v", history[0])
	}
}

func TestCleanupSyncLogsBoundsAndScope(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	for _, days := range []int{0, -5, 366} {
		if _, err := svc.CleanupSyncLogs(ctx, domain.CleanupRequest{Days: days}); !errors.Is(err, store.ErrInvalidTransaction) {
			t.Fatalf("days=%d must be rejected, got %v", days, err)
		}
	}

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-2 * 24 * time.Hour)
	seed := []struct {
		clientID string
		status   string
		syncedAt *time.Time
	}{
		{"client-old-completed", domain.SyncLogCompleted, &old},
		{"client-recent-completed", domain.SyncLogCompleted, &recent},
		{"client-old-failed", domain.SyncLogFailed, nil},
		{"client-pending", domain.SyncLogPending, nil},
	}
	for _, s := range seed {
		_, err := repo.CreateSyncLog(context.Background(), domain.SyncLogEntry{
			Username: "cashier", Operation: domain.SyncOperationCreate, TableName: "transactions",
			ClientID: s.clientID, Status: s.status, SyncedAt: s.syncedAt,
			CreatedAt: time.Now().UTC().Add(-41 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", s.clientID, err)
		}
	}

	resp, err := svc.CleanupSyncLogs(ctx, domain.CleanupRequest{Days: 30})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if resp.DeletedCount != 1 {
		t.Fatalf("expected to delete only the old completed entry, deleted %d", resp.DeletedCount)
	}

	history, _ := svc.SyncHistory(ctx, 10)
	if len(history) != 3 {
		t.Fatalf("expected 3 surviving entries, got %d", len(history))
	}
	for _, entry := range history {
		if entry.ClientID == "client-old-completed" {
			t.Fatalf("old completed entry should be gone")
		}
	}
}

func TestResolveConflictKeepServer(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	record := offlineRecord("client-cf-1", 1, 1, 3500, 5000)
	record.CustomerName = "Original"
	if _, err := svc.Reconcile(ctx, domain.SyncRequest{Transactions: []domain.ClientRecord{record}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	clientCopy := record
	clientCopy.CustomerName = "Edited Offline"
	resp, err := svc.ResolveConflict(ctx, domain.ConflictRequest{
		ClientID:   "client-cf-1",
		Resolution: domain.ResolutionKeepServer,
		ClientData: &clientCopy,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resp.Resolution != domain.ResolutionKeepServer {
		t.Fatalf("unexpected resolution: %+v", resp)
	}

	tx, _ := repo.FindTransactionByClientID(ctx, "client-cf-1")
	if tx.CustomerName != "Original" {
		t.Fatalf("keep_server must not alter the server copy, got %q", tx.CustomerName)
	}
}

func TestResolveConflictKeepClient(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	record := offlineRecord("client-cf-2", 1, 1, 3500, 5000)
	if _, err := svc.Reconcile(ctx, domain.SyncRequest{Transactions: []domain.ClientRecord{record}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	clientCopy := record
	clientCopy.CustomerName = "Ibu Sari"
	clientCopy.PaymentMethod = "e_wallet"
	clientCopy.PaymentAmount = 4000

	if _, err := svc.ResolveConflict(ctx, domain.ConflictRequest{
		ClientID:   "client-cf-2",
		Resolution: domain.ResolutionKeepClient,
		ClientData: &clientCopy,
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	tx, _ := repo.FindTransactionByClientID(ctx, "client-cf-2")
	if tx.CustomerName != "Ibu Sari" {
		t.Fatalf("expected client customer name, got %q", tx.CustomerName)
	}
	if tx.PaymentMethod != "e-wallet" {
		t.Fatalf("client payment method must pass the mapping, got %q", tx.PaymentMethod)
	}
	if tx.PaymentAmount != 4000 || tx.ChangeAmount != 500 {
		t.Fatalf("unexpected amounts: payment=%d change=%d", tx.PaymentAmount, tx.ChangeAmount)
	}
}

func TestResolveConflictMergeFillsOnlyEmptyFields(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	record := offlineRecord("client-cf-3", 1, 2, 3500, 10000)
	if _, err := svc.Reconcile(ctx, domain.SyncRequest{Transactions: []domain.ClientRecord{record}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	clientCopy := record
	clientCopy.CustomerName = "Pak Joko"
	clientCopy.TotalAmount = 1
	clientCopy.PaymentAmount = 1

	if _, err := svc.ResolveConflict(ctx, domain.ConflictRequest{
		ClientID:   "client-cf-3",
		Resolution: domain.ResolutionMerge,
		ClientData: &clientCopy,
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	tx, _ := repo.FindTransactionByClientID(ctx, "client-cf-3")
	if tx.CustomerName != "Pak Joko" {
		t.Fatalf("merge should fill the empty customer name, got %q", tx.CustomerName)
	}
	// Money fields always keep the server version under merge.
	if tx.TotalAmount != 7000 || tx.PaymentAmount != 10000 {
		t.Fatalf("merge must not touch money fields: total=%d payment=%d", tx.TotalAmount, tx.PaymentAmount)
	}
}

func TestResolveConflictUnknownResolution(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	record := offlineRecord("client-cf-4", 1, 1, 3500, 5000)
	if _, err := svc.Reconcile(ctx, domain.SyncRequest{Transactions: []domain.ClientRecord{record}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if _, err := svc.ResolveConflict(ctx, domain.ConflictRequest{
		ClientID:   "client-cf-4",
		Resolution: "newest_wins",
	}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("unknown resolution must be rejected, got %v", err)
	}

	if _, err := svc.ResolveConflict(ctx, domain.ConflictRequest{
		ClientID:   "client-missing",
		Resolution: domain.ResolutionKeepServer,
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing server transaction must be NotFound, got %v", err)
	}
}

func TestDownloadTransactionsFiltersByUpdatedAfter(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	if _, err := svc.Reconcile(ctx, domain.SyncRequest{
		Transactions: []domain.ClientRecord{offlineRecord("client-dl-1", 1, 1, 3500, 5000)},
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	all, err := svc.DownloadTransactions(ctx, nil, 10)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(all) != 1 || all[0].ClientID != "client-dl-1" {
		t.Fatalf("unexpected download payload: %+v", all)
	}
	if len(all[0].Items) != 1 {
		t.Fatalf("download must carry line items")
	}

	future := time.Now().UTC().Add(time.Hour)
	none, err := svc.DownloadTransactions(ctx, &future, 10)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no transactions updated after the future cutoff")
	}

	tx, _ := repo.FindTransactionByClientID(ctx, "client-dl-1")
	if tx == nil {
		t.Fatalf("transaction should exist")
	}
}

func TestAdjustStockRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.AdjustStock(cashierCtx(), 1, domain.StockAdjustRequest{Type: domain.MovementIn, Quantity: 5}); err == nil {
		t.Fatalf("cashier must not adjust stock")
	}

	movement, err := svc.AdjustStock(adminCtx(), 1, domain.StockAdjustRequest{Type: domain.MovementOut, Quantity: 2, Notes: "rusak"})
	if err != nil {
		t.Fatalf("admin adjust: %v", err)
	}
	if movement.PreviousStock != 120 || movement.NewStock != 118 {
		t.Fatalf("unexpected movement: %+v", movement)
	}
}

func TestCreateProductSeedsInitialStockMovement(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU: "sku-baru-01", Name: "Teh Botol", CategoryID: 2, Price: 4500, InitialStock: 5,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if created.SKU != "SKU-BARU-01" {
		t.Fatalf("sku should be uppercased, got %s", created.SKU)
	}
	if created.CurrentStock != 5 {
		t.Fatalf("expected stock 5, got %d", created.CurrentStock)
	}

	movements, _ := repo.ListMovementsByProduct(context.Background(), created.ID, 10)
	if len(movements) != 1 || movements[0].Type != domain.MovementIn || movements[0].NewStock != 5 {
		t.Fatalf("expected one in-movement to 5: %+v", movements)
	}
}

func TestReconcileRequiresActor(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Reconcile(context.Background(), domain.SyncRequest{}); err == nil {
		t.Fatalf("reconcile without actor must fail")
	}
	if _, err := svc.SyncStatus(context.Background()); err == nil {
		t.Fatalf("sync status without actor must fail")
	}
}

// brokenLookupRepo simulates a store whose duplicate check fails with a
// transient error rather than a clean not-found.
type brokenLookupRepo struct {
	*memory.Store
}

func (r brokenLookupRepo) FindTransactionByClientID(_ context.Context, _ string) (*domain.Transaction, error) {
	return nil, fmt.Errorf("connection reset by peer")
}

func TestReconcileLookupErrorStillWritesLedgerEntry(t *testing.T) {
	mem := memory.NewSeeded()
	svc := New(brokenLookupRepo{mem}, cache.NoopSyncStatusCache{})
	ctx := cashierCtx()

	resp, err := svc.Reconcile(ctx, domain.SyncRequest{
		Transactions: []domain.ClientRecord{offlineRecord("client-broken-1", 1, 1, 3500, 5000)},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if resp.Summary.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", resp.Summary)
	}

	// Every attempt leaves a terminal ledger entry, hard failures included.
	history, err := mem.ListSyncHistory(context.Background(), "cashier", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Status != domain.SyncLogFailed || history[0].ClientID != "client-broken-1" {
		t.Fatalf("expected one failed ledger entry: %+v", history)
	}
}

type recordingStatusCache struct {
	invalidated []string
}

func (c *recordingStatusCache) Get(_ context.Context, _ string) (*domain.SyncStatus, bool, error) {
	return nil, false, nil
}

func (c *recordingStatusCache) Set(_ context.Context, _ string, _ *domain.SyncStatus, _ time.Duration) error {
	return nil
}

func (c *recordingStatusCache) Invalidate(_ context.Context, key string) error {
	c.invalidated = append(c.invalidated, key)
	return nil
}

func TestLogSyncFailureInvalidatesStatusCache(t *testing.T) {
	repo := memory.NewSeeded()
	statusCache := &recordingStatusCache{}
	svc := New(repo, statusCache)
	ctx := cashierCtx()

	entry, _ := repo.CreateSyncLog(context.Background(), domain.SyncLogEntry{
		Username: "cashier", Operation: domain.SyncOperationCreate, TableName: "transactions",
		ClientID: "client-inv-1", Status: domain.SyncLogPending,
	})

	if err := svc.LogSyncFailure(ctx, domain.LogFailureRequest{SyncID: entry.ID, ErrorMessage: "device offline"}); err != nil {
		t.Fatalf("log failure: %v", err)
	}

	found := false
	for _, key := range statusCache.invalidated {
		if key == "sync-status:cashier" {
			found = true
		}
	}
	if !found {
		t.Fatalf("pending count cache must be invalidated, got %v", statusCache.invalidated)
	}
}
