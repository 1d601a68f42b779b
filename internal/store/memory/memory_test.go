package memory

import (
	"context"
	"testing"
)

func TestGetProductsByIDsIncludesInactive(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	s.mu.Lock()
	p := s.products[1]
	p.Active = false
	s.products[1] = p
	s.mu.Unlock()

	products, err := s.GetProductsByIDs(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("get products: %v", err)
	}
	// Offline sales can reference products deactivated after capture; the
	// lookup must still resolve them so those records reconcile.
	if _, ok := products[1]; !ok {
		t.Fatalf("inactive product must still resolve, got %v", products)
	}
	if _, ok := products[2]; !ok {
		t.Fatalf("active product missing, got %v", products)
	}
}
