package market

import (
	"errors"
	"testing"

	"github.com/rickgao/nft-marketplace/internal/model"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.create(assetA, seller, 100); err != nil {
		t.Fatalf("create() unexpected error: %v", err)
	}

	got, ok := r.Get(assetA)
	if !ok {
		t.Fatal("listing not found")
	}
	if got.Seller != seller {
		t.Errorf("Seller = %q, want %q", got.Seller, seller)
	}
	if got.Price != 100 {
		t.Errorf("Price = %d, want 100", got.Price)
	}
}

func TestRegistry_Create_Errors(t *testing.T) {
	r := NewRegistry()
	if err := r.create(assetA, seller, 100); err != nil {
		t.Fatalf("create() unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		key     model.AssetKey
		price   uint64
		wantErr error
	}{
		{name: "duplicate", key: assetA, price: 50, wantErr: ErrAlreadyListed},
		{name: "zero price new key", key: assetB, price: 0, wantErr: ErrInvalidPrice},
		{name: "zero price listed key", key: assetA, price: 0, wantErr: ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.create(tt.key, other, tt.price)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if _, ok := r.Get(assetB); ok {
		t.Error("zero-price listing must never be stored")
	}
}

func TestRegistry_Update(t *testing.T) {
	r := NewRegistry()

	if err := r.update(assetA, 10); !errors.Is(err, ErrNotListed) {
		t.Errorf("update() on absent key error = %v, want ErrNotListed", err)
	}

	if err := r.create(assetA, seller, 100); err != nil {
		t.Fatalf("create() unexpected error: %v", err)
	}
	if err := r.update(assetA, 0); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("update() zero price error = %v, want ErrInvalidPrice", err)
	}
	if err := r.update(assetA, 250); err != nil {
		t.Fatalf("update() unexpected error: %v", err)
	}

	got, _ := r.Get(assetA)
	if got.Price != 250 {
		t.Errorf("Price = %d, want 250", got.Price)
	}
	if got.Seller != seller {
		t.Errorf("Seller = %q, want %q (unchanged)", got.Seller, seller)
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()

	if _, err := r.remove(assetA); !errors.Is(err, ErrNotListed) {
		t.Errorf("remove() on absent key error = %v, want ErrNotListed", err)
	}
	if err := r.create(assetA, seller, 100); err != nil {
		t.Fatalf("create() unexpected error: %v", err)
	}

	removed, err := r.remove(assetA)
	if err != nil {
		t.Fatalf("remove() unexpected error: %v", err)
	}
	if removed.Price != 100 {
		t.Errorf("removed.Price = %d, want 100", removed.Price)
	}
	if _, err := r.read(assetA); !errors.Is(err, ErrNotListed) {
		t.Errorf("read() after remove error = %v, want ErrNotListed", err)
	}
}

func TestRegistry_Snapshot_Sorted(t *testing.T) {
	r := NewRegistry()
	keys := []model.AssetKey{
		{Collection: "b", TokenID: 2},
		{Collection: "a", TokenID: 10},
		{Collection: "b", TokenID: 1},
		{Collection: "a", TokenID: 3},
	}
	for _, k := range keys {
		if err := r.create(k, seller, 1); err != nil {
			t.Fatalf("create(%s) unexpected error: %v", k, err)
		}
	}

	snap := r.Snapshot()
	want := []string{"a/3", "a/10", "b/1", "b/2"}
	if len(snap) != len(want) {
		t.Fatalf("len(snapshot) = %d, want %d", len(snap), len(want))
	}
	for i, e := range snap {
		if e.Key.String() != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, e.Key, want[i])
		}
	}
}
