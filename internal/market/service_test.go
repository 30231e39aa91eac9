package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/nft-marketplace/internal/custody"
	"github.com/rickgao/nft-marketplace/internal/model"
	"github.com/rickgao/nft-marketplace/internal/settlement"
)

// fakeCustody is an in-memory AssetCustody with injectable failures.
type fakeCustody struct {
	mu          sync.Mutex
	owners      map[model.AssetKey]model.Identity
	approved    map[model.AssetKey]bool
	transferErr error
	lookupErr   error
	transfers   int
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{
		owners:   make(map[model.AssetKey]model.Identity),
		approved: make(map[model.AssetKey]bool),
	}
}

func (c *fakeCustody) mint(key model.AssetKey, owner model.Identity, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[key] = owner
	c.approved[key] = approved
}

func (c *fakeCustody) OwnerOf(_ context.Context, key model.AssetKey) (model.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookupErr != nil {
		return "", c.lookupErr
	}
	owner, ok := c.owners[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, model.ErrAssetNotFound)
	}
	return owner, nil
}

func (c *fakeCustody) IsApprovedForMarketplace(_ context.Context, key model.AssetKey) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approved[key], nil
}

func (c *fakeCustody) Transfer(_ context.Context, key model.AssetKey, from, to model.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transferErr != nil {
		return c.transferErr
	}
	if c.owners[key] != from {
		return errors.New("from is not owner")
	}
	c.owners[key] = to
	c.approved[key] = false
	c.transfers++
	return nil
}

func (c *fakeCustody) ownerOf(key model.AssetKey) model.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[key]
}

// fakeSettlement records payouts.
type fakeSettlement struct {
	mu      sync.Mutex
	sent    map[model.Identity]uint64
	sendErr error
}

func newFakeSettlement() *fakeSettlement {
	return &fakeSettlement{sent: make(map[model.Identity]uint64)}
}

func (s *fakeSettlement) SendFunds(_ context.Context, to model.Identity, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent[to] += amount
	return nil
}

func (s *fakeSettlement) total(to model.Identity) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[to]
}

// eventLog collects published events.
type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) Publish(ev model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Event, len(l.events))
	copy(out, l.events)
	return out
}

type fixture struct {
	svc     *Service
	custody *fakeCustody
	payer   *fakeSettlement
	events  *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		custody: newFakeCustody(),
		payer:   newFakeSettlement(),
		events:  &eventLog{},
	}
	f.svc = NewService(NewRegistry(), NewLedger(), f.custody, f.payer, WithPublisher(f.events))
	return f
}

const (
	seller model.Identity = "seller"
	buyer  model.Identity = "buyer"
	other  model.Identity = "other"
)

var (
	assetA = model.AssetKey{Collection: "0xpug", TokenID: 0}
	assetB = model.AssetKey{Collection: "0xpug", TokenID: 1}
)

func TestListItem(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		price    uint64
		caller   model.Identity
		wantErr  error
		wantList bool
	}{
		{
			name:     "owner approved",
			setup:    func(f *fixture) { f.custody.mint(assetA, seller, true) },
			price:    100,
			caller:   seller,
			wantList: true,
		},
		{
			name:    "zero price",
			setup:   func(f *fixture) { f.custody.mint(assetA, seller, true) },
			price:   0,
			caller:  seller,
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "zero price from non-owner",
			setup:   func(f *fixture) { f.custody.mint(assetA, seller, false) },
			price:   0,
			caller:  other,
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "not owner",
			setup:   func(f *fixture) { f.custody.mint(assetA, seller, true) },
			price:   100,
			caller:  other,
			wantErr: ErrNotOwner,
		},
		{
			name:    "unknown asset",
			setup:   func(f *fixture) {},
			price:   100,
			caller:  seller,
			wantErr: ErrNotOwner,
		},
		{
			name:    "not approved",
			setup:   func(f *fixture) { f.custody.mint(assetA, seller, false) },
			price:   100,
			caller:  seller,
			wantErr: ErrNotApprovedForMarketplace,
		},
		{
			name: "custody lookup error",
			setup: func(f *fixture) {
				f.custody.mint(assetA, seller, true)
				f.custody.lookupErr = errors.New("rpc unavailable")
			},
			price:   100,
			caller:  seller,
			wantErr: ErrCustody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			ev, err := f.svc.ListItem(context.Background(), assetA, tt.price, tt.caller)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ListItem() error = %v, want %v", err, tt.wantErr)
				}
				if _, ok := f.svc.GetListing(assetA); ok {
					t.Error("listing should not exist after failed ListItem")
				}
				if n := len(f.events.all()); n != 0 {
					t.Errorf("published %d events, want 0", n)
				}
				return
			}
			if err != nil {
				t.Fatalf("ListItem() unexpected error: %v", err)
			}

			got, ok := f.svc.GetListing(assetA)
			if !ok {
				t.Fatal("listing not found")
			}
			if got.Seller != tt.caller || got.Price != tt.price {
				t.Errorf("listing = %+v, want {%s %d}", got, tt.caller, tt.price)
			}
			if ev.Kind != model.EventItemListed || ev.Key != assetA || ev.Price != tt.price || ev.Actor != tt.caller {
				t.Errorf("event = %+v", ev)
			}
			if ev.Seq != 1 {
				t.Errorf("Seq = %d, want 1", ev.Seq)
			}
		})
	}
}

func TestListItem_AlreadyListedAnyCaller(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	ctx := context.Background()

	if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}

	for _, caller := range []model.Identity{seller, other, buyer} {
		_, err := f.svc.ListItem(ctx, assetA, 50, caller)
		if !errors.Is(err, ErrAlreadyListed) {
			t.Errorf("ListItem() by %s error = %v, want ErrAlreadyListed", caller, err)
		}
	}

	got, _ := f.svc.GetListing(assetA)
	if got.Price != 100 {
		t.Errorf("Price = %d, want 100 (unchanged)", got.Price)
	}
}

func TestUpdateListing(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	ctx := context.Background()

	if _, err := f.svc.UpdateListing(ctx, assetA, 200, seller); !errors.Is(err, ErrNotListed) {
		t.Fatalf("UpdateListing() before listing error = %v, want ErrNotListed", err)
	}
	// Existence is checked before ownership.
	if _, err := f.svc.UpdateListing(ctx, assetA, 200, other); !errors.Is(err, ErrNotListed) {
		t.Fatalf("UpdateListing() by non-owner before listing error = %v, want ErrNotListed", err)
	}

	if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}

	ev, err := f.svc.UpdateListing(ctx, assetA, 200, seller)
	if err != nil {
		t.Fatalf("UpdateListing() unexpected error: %v", err)
	}
	if ev.Kind != model.EventItemListed || ev.Price != 200 {
		t.Errorf("event = %+v, want item_listed at 200", ev)
	}

	got, _ := f.svc.GetListing(assetA)
	if got != (model.Listing{Seller: seller, Price: 200}) {
		t.Errorf("listing = %+v, want {seller 200}", got)
	}

	if _, err := f.svc.UpdateListing(ctx, assetA, 300, other); !errors.Is(err, ErrNotOwner) {
		t.Errorf("UpdateListing() by other error = %v, want ErrNotOwner", err)
	}
	if _, err := f.svc.UpdateListing(ctx, assetA, 0, seller); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("UpdateListing() zero price error = %v, want ErrInvalidPrice", err)
	}

	got, _ = f.svc.GetListing(assetA)
	if got.Price != 200 {
		t.Errorf("Price = %d, want 200 after failed updates", got.Price)
	}
}

func TestCancelItem(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	ctx := context.Background()

	if _, err := f.svc.CancelItem(ctx, assetA, seller); !errors.Is(err, ErrNotListed) {
		t.Fatalf("CancelItem() before listing error = %v, want ErrNotListed", err)
	}
	if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	if _, err := f.svc.CancelItem(ctx, assetA, other); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("CancelItem() by other error = %v, want ErrNotOwner", err)
	}

	ev, err := f.svc.CancelItem(ctx, assetA, seller)
	if err != nil {
		t.Fatalf("CancelItem() unexpected error: %v", err)
	}
	if ev.Kind != model.EventItemRemoved || ev.Reason != model.ReasonCancelled {
		t.Errorf("event = %+v, want item_removed/cancelled", ev)
	}
	if _, ok := f.svc.GetListing(assetA); ok {
		t.Error("listing should be gone after cancel")
	}

	// Relisting after cancel is allowed.
	if _, err := f.svc.ListItem(ctx, assetA, 150, seller); err != nil {
		t.Errorf("ListItem() after cancel unexpected error: %v", err)
	}
}

func TestBuyItem_PriceMustMatchExactly(t *testing.T) {
	tests := []struct {
		name string
		paid uint64
	}{
		{name: "underpay", paid: 99},
		{name: "overpay", paid: 101},
		{name: "zero", paid: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.custody.mint(assetA, seller, true)
			ctx := context.Background()
			if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
				t.Fatalf("ListItem() unexpected error: %v", err)
			}

			_, err := f.svc.BuyItem(ctx, assetA, buyer, tt.paid)
			if !errors.Is(err, ErrPriceNotMet) {
				t.Fatalf("BuyItem() error = %v, want ErrPriceNotMet", err)
			}
			var opErr *OpError
			if !errors.As(err, &opErr) {
				t.Fatalf("error %T is not *OpError", err)
			}
			if opErr.Price != 100 || opErr.Paid != tt.paid {
				t.Errorf("OpError price/paid = %d/%d, want 100/%d", opErr.Price, opErr.Paid, tt.paid)
			}
			if _, ok := f.svc.GetListing(assetA); !ok {
				t.Error("listing should remain after failed buy")
			}
			if got := f.svc.GetProceeds(seller); got != 0 {
				t.Errorf("proceeds = %d, want 0", got)
			}
		})
	}
}

func TestBuyItem_TwiceFailsNotListed(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	ctx := context.Background()

	if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	if _, err := f.svc.BuyItem(ctx, assetA, buyer, 100); err != nil {
		t.Fatalf("first BuyItem() unexpected error: %v", err)
	}
	if _, err := f.svc.BuyItem(ctx, assetA, other, 100); !errors.Is(err, ErrNotListed) {
		t.Fatalf("second BuyItem() error = %v, want ErrNotListed", err)
	}
	if got := f.svc.GetProceeds(seller); got != 100 {
		t.Errorf("proceeds = %d, want 100 (credited once)", got)
	}
}

func TestBuyItem_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture)
		caller  model.Identity
		wantErr error
	}{
		{
			name:    "self purchase",
			mutate:  func(f *fixture) {},
			caller:  seller,
			wantErr: ErrSelfPurchase,
		},
		{
			name:    "seller transferred asset away",
			mutate:  func(f *fixture) { f.custody.mint(assetA, other, true) },
			caller:  buyer,
			wantErr: ErrListingStale,
		},
		{
			name:    "approval revoked",
			mutate:  func(f *fixture) { f.custody.mint(assetA, seller, false) },
			caller:  buyer,
			wantErr: ErrListingStale,
		},
		{
			name:    "custody unavailable",
			mutate:  func(f *fixture) { f.custody.lookupErr = errors.New("timeout") },
			caller:  buyer,
			wantErr: ErrCustody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.custody.mint(assetA, seller, true)
			ctx := context.Background()
			if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
				t.Fatalf("ListItem() unexpected error: %v", err)
			}
			tt.mutate(f)

			if _, err := f.svc.BuyItem(ctx, assetA, tt.caller, 100); !errors.Is(err, tt.wantErr) {
				t.Fatalf("BuyItem() error = %v, want %v", err, tt.wantErr)
			}
			if _, ok := f.svc.GetListing(assetA); !ok {
				t.Error("listing should remain after failed precondition")
			}
			if got := f.svc.GetProceeds(seller); got != 0 {
				t.Errorf("proceeds = %d, want 0", got)
			}
		})
	}
}

func TestBuyItem_OrderingAndTransferFailure(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	ctx := context.Background()
	if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}

	cause := errors.New("custody offline")
	f.custody.transferErr = cause

	ev, err := f.svc.BuyItem(ctx, assetA, buyer, 100)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("BuyItem() error = %v, want ErrTransferFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("BuyItem() error should wrap the collaborator cause")
	}
	if ev.Kind != model.EventItemBought {
		t.Errorf("event kind = %q, want item_bought (sale committed)", ev.Kind)
	}
	// Internal state was committed before the external call.
	if _, ok := f.svc.GetListing(assetA); ok {
		t.Error("listing should be removed before transfer")
	}
	if got := f.svc.GetProceeds(seller); got != 100 {
		t.Errorf("proceeds = %d, want 100", got)
	}
}

// reentrantCustody observes marketplace state during Transfer.
type reentrantCustody struct {
	*fakeCustody
	svc         *Service
	sawListing  bool
	sawProceeds uint64
}

func (c *reentrantCustody) Transfer(ctx context.Context, key model.AssetKey, from, to model.Identity) error {
	_, c.sawListing = c.svc.GetListing(key)
	c.sawProceeds = c.svc.GetProceeds(from)
	return c.fakeCustody.Transfer(ctx, key, from, to)
}

func TestBuyItem_StateCommittedBeforeTransfer(t *testing.T) {
	base := newFakeCustody()
	base.mint(assetA, seller, true)
	custody := &reentrantCustody{fakeCustody: base}
	svc := NewService(NewRegistry(), NewLedger(), custody, newFakeSettlement())
	custody.svc = svc
	ctx := context.Background()

	if _, err := svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	if _, err := svc.BuyItem(ctx, assetA, buyer, 100); err != nil {
		t.Fatalf("BuyItem() unexpected error: %v", err)
	}
	if custody.sawListing {
		t.Error("transfer observed the listing still present")
	}
	if custody.sawProceeds != 100 {
		t.Errorf("transfer observed proceeds %d, want 100", custody.sawProceeds)
	}
}

// callbackCustody calls back into the Service for the same asset during
// Transfer.
type callbackCustody struct {
	*fakeCustody
	svc *Service

	cancelErr error
	listErr   error
	buyErr    error
	pruned    bool
	pruneErr  error
}

func (c *callbackCustody) Transfer(ctx context.Context, key model.AssetKey, from, to model.Identity) error {
	_, c.cancelErr = c.svc.CancelItem(ctx, key, to)
	_, c.listErr = c.svc.ListItem(ctx, key, 50, from)
	_, c.buyErr = c.svc.BuyItem(ctx, key, other, 100)
	_, c.pruned, c.pruneErr = c.svc.PruneStale(ctx, key)
	return c.fakeCustody.Transfer(ctx, key, from, to)
}

func TestBuyItem_SameKeyCallbackDuringTransfer(t *testing.T) {
	base := newFakeCustody()
	base.mint(assetA, seller, true)
	cb := &callbackCustody{fakeCustody: base}
	svc := NewService(NewRegistry(), NewLedger(), cb, newFakeSettlement())
	cb.svc = svc
	ctx := context.Background()

	if _, err := svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.BuyItem(ctx, assetA, buyer, 100)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("BuyItem() unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("BuyItem() did not return while Transfer called back into the Service")
	}

	for name, err := range map[string]error{
		"CancelItem": cb.cancelErr,
		"ListItem":   cb.listErr,
		"BuyItem":    cb.buyErr,
	} {
		if !errors.Is(err, ErrTransferPending) {
			t.Errorf("%s during transfer error = %v, want ErrTransferPending", name, err)
		}
	}
	if cb.pruned || cb.pruneErr != nil {
		t.Errorf("PruneStale during transfer = %v, %v; want false, nil", cb.pruned, cb.pruneErr)
	}

	if got := base.ownerOf(assetA); got != buyer {
		t.Errorf("owner = %q, want %q", got, buyer)
	}
	if got := svc.GetProceeds(seller); got != 100 {
		t.Errorf("proceeds = %d, want 100", got)
	}
	// The guard is released once Transfer returns.
	if _, err := svc.CancelItem(ctx, assetA, buyer); !errors.Is(err, ErrNotListed) {
		t.Errorf("CancelItem() after transfer error = %v, want ErrNotListed", err)
	}
}

// liveMarket wires a Service to the in-memory custody registry and the log
// settlement driver.
func liveMarket(t *testing.T, opts ...Option) (*Service, *custody.Registry, *settlement.LogDriver) {
	t.Helper()
	reg := custody.NewRegistry(nil)
	payer := settlement.NewLogDriver(nil)
	svc := NewService(NewRegistry(), NewLedger(), reg, payer, opts...)

	if err := reg.Mint(assetA, seller); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := reg.Approve(assetA, seller, true); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if _, err := svc.ListItem(context.Background(), assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	return svc, reg, payer
}

func TestBuyItem_CancelledContext(t *testing.T) {
	t.Run("before commit", func(t *testing.T) {
		svc, reg, _ := liveMarket(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ev, err := svc.BuyItem(ctx, assetA, buyer, 100)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("BuyItem() error = %v, want context.Canceled", err)
		}
		if ev.Seq != 0 {
			t.Errorf("event seq = %d, want no event", ev.Seq)
		}
		if _, ok := svc.GetListing(assetA); !ok {
			t.Error("listing removed by a cancelled buy")
		}
		if got := svc.GetProceeds(seller); got != 0 {
			t.Errorf("proceeds = %d, want 0", got)
		}
		if owner, _ := reg.OwnerOf(context.Background(), assetA); owner != seller {
			t.Errorf("owner = %q, want %q", owner, seller)
		}
	})

	t.Run("after commit", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cancelOnSale := PublisherFunc(func(ev model.Event) {
			if ev.Kind == model.EventItemBought {
				cancel()
			}
		})
		svc, reg, _ := liveMarket(t, WithPublisher(cancelOnSale))

		if _, err := svc.BuyItem(ctx, assetA, buyer, 100); err != nil {
			t.Fatalf("BuyItem() unexpected error: %v", err)
		}
		if owner, _ := reg.OwnerOf(context.Background(), assetA); owner != buyer {
			t.Errorf("owner = %q, want %q", owner, buyer)
		}
		if got := svc.GetProceeds(seller); got != 100 {
			t.Errorf("proceeds = %d, want 100", got)
		}
	})
}

func TestWithdrawProceeds_CancelledContext(t *testing.T) {
	t.Run("before commit", func(t *testing.T) {
		svc, _, payer := liveMarket(t)
		if _, err := svc.BuyItem(context.Background(), assetA, buyer, 100); err != nil {
			t.Fatalf("BuyItem() unexpected error: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := svc.WithdrawProceeds(ctx, seller); !errors.Is(err, context.Canceled) {
			t.Fatalf("WithdrawProceeds() error = %v, want context.Canceled", err)
		}
		if got := svc.GetProceeds(seller); got != 100 {
			t.Errorf("proceeds = %d, want 100 retained", got)
		}
		if got := payer.TotalPaid(seller); got != 0 {
			t.Errorf("TotalPaid = %d, want 0", got)
		}
	})

	t.Run("after commit", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cancelOnWithdraw := PublisherFunc(func(ev model.Event) {
			if ev.Kind == model.EventProceedsWithdrawn {
				cancel()
			}
		})
		svc, _, payer := liveMarket(t, WithPublisher(cancelOnWithdraw))
		if _, err := svc.BuyItem(context.Background(), assetA, buyer, 100); err != nil {
			t.Fatalf("BuyItem() unexpected error: %v", err)
		}

		if _, err := svc.WithdrawProceeds(ctx, seller); err != nil {
			t.Fatalf("WithdrawProceeds() unexpected error: %v", err)
		}
		if got := payer.TotalPaid(seller); got != 100 {
			t.Errorf("TotalPaid = %d, want 100", got)
		}
		if got := svc.GetProceeds(seller); got != 0 {
			t.Errorf("proceeds = %d, want 0", got)
		}
	})
}

// reentrantSettlement tries to withdraw again while funds are being sent.
type reentrantSettlement struct {
	svc      *Service
	innerErr error
	calls    int
}

func (s *reentrantSettlement) SendFunds(ctx context.Context, to model.Identity, amount uint64) error {
	s.calls++
	if s.calls == 1 {
		_, s.innerErr = s.svc.WithdrawProceeds(ctx, to)
	}
	return nil
}

func TestWithdrawProceeds_ReentrantCallSeesZeroBalance(t *testing.T) {
	custody := newFakeCustody()
	custody.mint(assetA, seller, true)
	payer := &reentrantSettlement{}
	svc := NewService(NewRegistry(), NewLedger(), custody, payer)
	payer.svc = svc
	ctx := context.Background()

	if _, err := svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	if _, err := svc.BuyItem(ctx, assetA, buyer, 100); err != nil {
		t.Fatalf("BuyItem() unexpected error: %v", err)
	}
	if _, err := svc.WithdrawProceeds(ctx, seller); err != nil {
		t.Fatalf("WithdrawProceeds() unexpected error: %v", err)
	}
	if !errors.Is(payer.innerErr, ErrNoProceeds) {
		t.Errorf("reentrant withdraw error = %v, want ErrNoProceeds", payer.innerErr)
	}
	if payer.calls != 1 {
		t.Errorf("SendFunds calls = %d, want 1", payer.calls)
	}
}

func TestWithdrawProceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.WithdrawProceeds(ctx, seller); !errors.Is(err, ErrNoProceeds) {
		t.Fatalf("WithdrawProceeds() on zero balance error = %v, want ErrNoProceeds", err)
	}

	f.custody.mint(assetA, seller, true)
	f.custody.mint(assetB, seller, true)
	for _, k := range []model.AssetKey{assetA, assetB} {
		if _, err := f.svc.ListItem(ctx, k, 40, seller); err != nil {
			t.Fatalf("ListItem(%s) unexpected error: %v", k, err)
		}
		if _, err := f.svc.BuyItem(ctx, k, buyer, 40); err != nil {
			t.Fatalf("BuyItem(%s) unexpected error: %v", k, err)
		}
	}

	ev, err := f.svc.WithdrawProceeds(ctx, seller)
	if err != nil {
		t.Fatalf("WithdrawProceeds() unexpected error: %v", err)
	}
	if ev.Amount != 80 || ev.Kind != model.EventProceedsWithdrawn {
		t.Errorf("event = %+v, want proceeds_withdrawn of 80", ev)
	}
	if got := f.payer.total(seller); got != 80 {
		t.Errorf("sent = %d, want 80", got)
	}
	if got := f.svc.GetProceeds(seller); got != 0 {
		t.Errorf("proceeds = %d, want 0", got)
	}
	if _, err := f.svc.WithdrawProceeds(ctx, seller); !errors.Is(err, ErrNoProceeds) {
		t.Errorf("repeat WithdrawProceeds() error = %v, want ErrNoProceeds", err)
	}
}

func TestWithdrawProceeds_SettlementFailure(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	ctx := context.Background()
	if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	if _, err := f.svc.BuyItem(ctx, assetA, buyer, 100); err != nil {
		t.Fatalf("BuyItem() unexpected error: %v", err)
	}

	f.payer.sendErr = errors.New("bank offline")
	ev, err := f.svc.WithdrawProceeds(ctx, seller)
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("WithdrawProceeds() error = %v, want ErrSettlementFailed", err)
	}
	if ev.Amount != 100 {
		t.Errorf("event amount = %d, want 100", ev.Amount)
	}
	if got := f.svc.GetProceeds(seller); got != 0 {
		t.Errorf("proceeds = %d, want 0 (debited before send)", got)
	}
}

func TestBuyItem_ProceedsOverflow(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	f.custody.mint(assetB, seller, true)
	ctx := context.Background()

	if _, err := f.svc.ListItem(ctx, assetA, math.MaxUint64, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	if _, err := f.svc.BuyItem(ctx, assetA, buyer, math.MaxUint64); err != nil {
		t.Fatalf("BuyItem() unexpected error: %v", err)
	}
	if _, err := f.svc.ListItem(ctx, assetB, 1, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	if _, err := f.svc.BuyItem(ctx, assetB, buyer, 1); !errors.Is(err, ErrProceedsOverflow) {
		t.Fatalf("BuyItem() error = %v, want ErrProceedsOverflow", err)
	}
	if _, ok := f.svc.GetListing(assetB); !ok {
		t.Error("listing should remain after overflow rejection")
	}
}

func TestScenario_ListBuyWithdraw(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	ctx := context.Background()

	if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}
	got, ok := f.svc.GetListing(assetA)
	if !ok || got != (model.Listing{Seller: seller, Price: 100}) {
		t.Fatalf("GetListing() = %+v, %v; want {seller 100}", got, ok)
	}

	ev, err := f.svc.BuyItem(ctx, assetA, buyer, 100)
	if err != nil {
		t.Fatalf("BuyItem() unexpected error: %v", err)
	}
	if ev.Kind != model.EventItemBought || ev.Actor != buyer || ev.Price != 100 {
		t.Errorf("event = %+v, want item_bought by buyer at 100", ev)
	}
	if _, ok := f.svc.GetListing(assetA); ok {
		t.Error("listing should be gone after buy")
	}
	if got := f.svc.GetProceeds(seller); got != 100 {
		t.Errorf("GetProceeds(seller) = %d, want 100", got)
	}
	if owner := f.custody.ownerOf(assetA); owner != buyer {
		t.Errorf("owner = %s, want buyer", owner)
	}

	if _, err := f.svc.WithdrawProceeds(ctx, seller); err != nil {
		t.Fatalf("WithdrawProceeds() unexpected error: %v", err)
	}
	if got := f.payer.total(seller); got != 100 {
		t.Errorf("seller received %d, want 100", got)
	}
	if got := f.svc.GetProceeds(seller); got != 0 {
		t.Errorf("GetProceeds(seller) = %d, want 0", got)
	}

	kinds := []model.EventKind{}
	for _, e := range f.events.all() {
		kinds = append(kinds, e.Kind)
	}
	want := []model.EventKind{model.EventItemListed, model.EventItemBought, model.EventProceedsWithdrawn}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
	if f.svc.Seq() != 3 {
		t.Errorf("Seq() = %d, want 3", f.svc.Seq())
	}
}

func TestPruneStale(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	f.custody.mint(assetB, seller, true)
	ctx := context.Background()

	for _, k := range []model.AssetKey{assetA, assetB} {
		if _, err := f.svc.ListItem(ctx, k, 10, seller); err != nil {
			t.Fatalf("ListItem(%s) unexpected error: %v", k, err)
		}
	}

	// assetA still backed.
	if _, pruned, err := f.svc.PruneStale(ctx, assetA); err != nil || pruned {
		t.Errorf("PruneStale(A) = %v, %v; want false, nil", pruned, err)
	}

	// assetB given away outside the marketplace.
	f.custody.mint(assetB, other, false)
	ev, pruned, err := f.svc.PruneStale(ctx, assetB)
	if err != nil || !pruned {
		t.Fatalf("PruneStale(B) = %v, %v; want true, nil", pruned, err)
	}
	if ev.Reason != model.ReasonStale || ev.Seller != seller {
		t.Errorf("event = %+v, want stale removal for seller", ev)
	}
	if _, ok := f.svc.GetListing(assetB); ok {
		t.Error("stale listing should be removed")
	}

	// Unlisted key is a no-op.
	if _, pruned, err := f.svc.PruneStale(ctx, model.AssetKey{Collection: "none", TokenID: 1}); err != nil || pruned {
		t.Errorf("PruneStale(unlisted) = %v, %v; want false, nil", pruned, err)
	}
}

func TestConcurrentBuys_SingleWinner(t *testing.T) {
	f := newFixture(t)
	f.custody.mint(assetA, seller, true)
	ctx := context.Background()
	if _, err := f.svc.ListItem(ctx, assetA, 100, seller); err != nil {
		t.Fatalf("ListItem() unexpected error: %v", err)
	}

	const buyers = 32
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.BuyItem(ctx, assetA, model.Identity(fmt.Sprintf("buyer-%d", i)), 100)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNotListed), errors.Is(err, ErrTransferPending):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful buys = %d, want 1", wins)
	}
	if got := f.svc.GetProceeds(seller); got != 100 {
		t.Errorf("proceeds = %d, want 100", got)
	}
	if f.custody.transfers != 1 {
		t.Errorf("transfers = %d, want 1", f.custody.transfers)
	}
}

func TestConcurrentSales_DisjointKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 64
	for i := 0; i < n; i++ {
		k := model.AssetKey{Collection: "0xpug", TokenID: uint64(i)}
		f.custody.mint(k, seller, true)
		if _, err := f.svc.ListItem(ctx, k, 5, seller); err != nil {
			t.Fatalf("ListItem(%s) unexpected error: %v", k, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := model.AssetKey{Collection: "0xpug", TokenID: uint64(i)}
			if _, err := f.svc.BuyItem(ctx, k, buyer, 5); err != nil {
				t.Errorf("BuyItem(%s) unexpected error: %v", k, err)
			}
		}(i)
	}
	wg.Wait()

	if got := f.svc.GetProceeds(seller); got != 5*n {
		t.Errorf("proceeds = %d, want %d", got, 5*n)
	}
	if got := len(f.svc.Listings()); got != 0 {
		t.Errorf("listings = %d, want 0", got)
	}
	if got := f.svc.keyLocks.size(); got != 0 {
		t.Errorf("tracked key locks = %d, want 0", got)
	}
}
