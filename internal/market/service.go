package market

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// AssetCustody is the system of record for asset ownership.
type AssetCustody interface {
	// OwnerOf returns the current owner. Unknown assets wrap model.ErrAssetNotFound.
	OwnerOf(ctx context.Context, key model.AssetKey) (model.Identity, error)

	// IsApprovedForMarketplace reports whether the marketplace may transfer the asset.
	IsApprovedForMarketplace(ctx context.Context, key model.AssetKey) (bool, error)

	// Transfer moves the asset. Fails if from is not the current owner.
	// Calls back into the Service for the same asset fail with
	// ErrTransferPending until Transfer returns.
	Transfer(ctx context.Context, key model.AssetKey, from, to model.Identity) error
}

// PaymentSettlement moves funds out of the marketplace.
type PaymentSettlement interface {
	SendFunds(ctx context.Context, to model.Identity, amount uint64) error
}

// Publisher receives committed events. Publish must not block.
type Publisher interface {
	Publish(ev model.Event)
}

// PublisherFunc is a function adapter for Publisher.
type PublisherFunc func(model.Event)

func (f PublisherFunc) Publish(ev model.Event) {
	f(ev)
}

// Service implements the marketplace operations over a Registry and Ledger.
type Service struct {
	registry   *Registry
	ledger     *Ledger
	custody    AssetCustody
	settlement PaymentSettlement
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time

	seq      atomic.Uint64
	keyLocks keyedMutex[model.AssetKey]
	idLocks  keyedMutex[model.Identity]

	// Keys sold but not yet transferred. Guarded by pendingMu.
	pendingMu sync.Mutex
	pending   map[model.AssetKey]struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires the stores and collaborators into a marketplace.
func NewService(registry *Registry, ledger *Ledger, custody AssetCustody, settlement PaymentSettlement, opts ...Option) *Service {
	s := &Service{
		registry:   registry,
		ledger:     ledger,
		custody:    custody,
		settlement: settlement,
		publisher:  PublisherFunc(func(model.Event) {}),
		logger:     slog.Default(),
		now:        time.Now,
		pending:    make(map[model.AssetKey]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListItem offers an asset the caller owns at price.
func (s *Service) ListItem(ctx context.Context, key model.AssetKey, price uint64, caller model.Identity) (model.Event, error) {
	unlock := s.keyLocks.lock(key)
	defer unlock()

	fail := func(err, cause error) (model.Event, error) {
		return model.Event{}, &OpError{Op: "list", Key: key, Identity: caller, Price: price, Err: err, Cause: cause}
	}

	if s.inTransfer(key) {
		return fail(ErrTransferPending, nil)
	}
	if price == 0 {
		return fail(ErrInvalidPrice, nil)
	}
	if _, ok := s.registry.Get(key); ok {
		return fail(ErrAlreadyListed, nil)
	}

	owner, err := s.custody.OwnerOf(ctx, key)
	switch {
	case errors.Is(err, model.ErrAssetNotFound):
		return fail(ErrNotOwner, err)
	case err != nil:
		return fail(ErrCustody, err)
	case owner != caller:
		return fail(ErrNotOwner, nil)
	}

	approved, err := s.custody.IsApprovedForMarketplace(ctx, key)
	if err != nil {
		return fail(ErrCustody, err)
	}
	if !approved {
		return fail(ErrNotApprovedForMarketplace, nil)
	}

	if err := s.registry.create(key, caller, price); err != nil {
		return fail(err, nil)
	}

	ev := s.commit(model.Event{
		Kind:   model.EventItemListed,
		Key:    key,
		Actor:  caller,
		Seller: caller,
		Price:  price,
	})
	s.logger.Debug("item listed", "key", key.String(), "seller", caller, "price", price)
	return ev, nil
}

// UpdateListing changes the price of the caller's listing.
func (s *Service) UpdateListing(ctx context.Context, key model.AssetKey, newPrice uint64, caller model.Identity) (model.Event, error) {
	unlock := s.keyLocks.lock(key)
	defer unlock()

	fail := func(err error) (model.Event, error) {
		return model.Event{}, &OpError{Op: "update", Key: key, Identity: caller, Price: newPrice, Err: err}
	}

	if s.inTransfer(key) {
		return fail(ErrTransferPending)
	}
	listing, err := s.registry.read(key)
	if err != nil {
		return fail(err)
	}
	if listing.Seller != caller {
		return fail(ErrNotOwner)
	}
	if err := s.registry.update(key, newPrice); err != nil {
		return fail(err)
	}

	ev := s.commit(model.Event{
		Kind:   model.EventItemListed,
		Key:    key,
		Actor:  caller,
		Seller: caller,
		Price:  newPrice,
	})
	s.logger.Debug("listing updated", "key", key.String(), "seller", caller, "old_price", listing.Price, "price", newPrice)
	return ev, nil
}

// CancelItem withdraws the caller's listing.
func (s *Service) CancelItem(ctx context.Context, key model.AssetKey, caller model.Identity) (model.Event, error) {
	unlock := s.keyLocks.lock(key)
	defer unlock()

	fail := func(err error) (model.Event, error) {
		return model.Event{}, &OpError{Op: "cancel", Key: key, Identity: caller, Err: err}
	}

	if s.inTransfer(key) {
		return fail(ErrTransferPending)
	}
	listing, err := s.registry.read(key)
	if err != nil {
		return fail(err)
	}
	if listing.Seller != caller {
		return fail(ErrNotOwner)
	}
	if _, err := s.registry.remove(key); err != nil {
		return fail(err)
	}

	ev := s.commit(model.Event{
		Kind:   model.EventItemRemoved,
		Key:    key,
		Actor:  caller,
		Seller: caller,
		Price:  listing.Price,
		Reason: model.ReasonCancelled,
	})
	s.logger.Debug("item removed", "key", key.String(), "seller", caller)
	return ev, nil
}

// BuyItem purchases a listed asset for exactly its price. The listing is
// removed and the seller credited before the asset is transferred; if the
// transfer fails the committed event is returned with an error wrapping
// ErrTransferFailed. Once the sale commits, cancelling ctx no longer
// affects the transfer.
func (s *Service) BuyItem(ctx context.Context, key model.AssetKey, caller model.Identity, paid uint64) (model.Event, error) {
	ev, err := s.commitSale(ctx, key, caller, paid)
	if err != nil {
		return model.Event{}, err
	}
	defer s.endTransfer(key)

	if err := s.custody.Transfer(context.WithoutCancel(ctx), key, ev.Seller, caller); err != nil {
		s.logger.Error("asset transfer failed after sale committed",
			"key", key.String(),
			"seller", ev.Seller,
			"buyer", caller,
			"seq", ev.Seq,
			"error", err,
		)
		return ev, &OpError{Op: "buy", Key: key, Identity: caller, Price: ev.Price, Paid: paid, Err: ErrTransferFailed, Cause: err}
	}

	s.logger.Debug("item bought", "key", key.String(), "seller", ev.Seller, "buyer", caller, "price", paid)
	return ev, nil
}

// commitSale checks the buy preconditions and commits the sale under the key
// lock. On success key is marked in transfer; the caller must endTransfer.
func (s *Service) commitSale(ctx context.Context, key model.AssetKey, caller model.Identity, paid uint64) (model.Event, error) {
	unlock := s.keyLocks.lock(key)
	defer unlock()

	listing, err := s.registry.read(key)
	fail := func(err, cause error) (model.Event, error) {
		return model.Event{}, &OpError{Op: "buy", Key: key, Identity: caller, Price: listing.Price, Paid: paid, Err: err, Cause: cause}
	}
	if s.inTransfer(key) {
		return fail(ErrTransferPending, nil)
	}
	if err != nil {
		return fail(err, nil)
	}
	if paid != listing.Price {
		return fail(ErrPriceNotMet, nil)
	}
	if caller == listing.Seller {
		return fail(ErrSelfPurchase, nil)
	}

	backed, err := s.backedByCustody(ctx, key, listing.Seller)
	if err != nil {
		return fail(ErrCustody, err)
	}
	if !backed {
		return fail(ErrListingStale, nil)
	}

	// Last point at which the caller can walk away.
	if err := ctx.Err(); err != nil {
		return fail(err, nil)
	}

	unlockSeller := s.idLocks.lock(listing.Seller)
	defer unlockSeller()
	if !s.ledger.canCredit(listing.Seller, paid) {
		return fail(ErrProceedsOverflow, nil)
	}
	if _, err := s.registry.remove(key); err != nil {
		return fail(err, nil)
	}
	s.ledger.credit(listing.Seller, paid)
	ev := s.commit(model.Event{
		Kind:   model.EventItemBought,
		Key:    key,
		Actor:  caller,
		Seller: listing.Seller,
		Price:  listing.Price,
		Amount: paid,
	})
	s.beginTransfer(key)
	return ev, nil
}

// WithdrawProceeds pays out the caller's whole balance. The balance is
// zeroed before funds are sent; if sending fails the committed event is
// returned with an error wrapping ErrSettlementFailed. Once the balance is
// debited, cancelling ctx no longer affects the payout.
func (s *Service) WithdrawProceeds(ctx context.Context, caller model.Identity) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, &OpError{Op: "withdraw", Identity: caller, Err: err}
	}

	unlock := s.idLocks.lock(caller)
	amount, err := s.ledger.takeAll(caller)
	if err != nil {
		unlock()
		return model.Event{}, &OpError{Op: "withdraw", Identity: caller, Err: err}
	}
	ev := s.commit(model.Event{
		Kind:   model.EventProceedsWithdrawn,
		Actor:  caller,
		Amount: amount,
	})
	unlock()

	if err := s.settlement.SendFunds(context.WithoutCancel(ctx), caller, amount); err != nil {
		s.logger.Error("settlement failed after proceeds debited",
			"identity", caller,
			"amount", amount,
			"seq", ev.Seq,
			"error", err,
		)
		return ev, &OpError{Op: "withdraw", Identity: caller, Err: ErrSettlementFailed, Cause: err}
	}

	s.logger.Debug("proceeds withdrawn", "identity", caller, "amount", amount)
	return ev, nil
}

// PruneStale removes the listing for key if its seller no longer owns the
// asset or has revoked approval. It reports whether a listing was removed.
func (s *Service) PruneStale(ctx context.Context, key model.AssetKey) (model.Event, bool, error) {
	unlock := s.keyLocks.lock(key)
	defer unlock()

	listing, ok := s.registry.Get(key)
	if !ok || s.inTransfer(key) {
		return model.Event{}, false, nil
	}

	backed, err := s.backedByCustody(ctx, key, listing.Seller)
	if err != nil {
		return model.Event{}, false, &OpError{Op: "prune", Key: key, Identity: listing.Seller, Err: ErrCustody, Cause: err}
	}
	if backed {
		return model.Event{}, false, nil
	}

	if _, err := s.registry.remove(key); err != nil {
		return model.Event{}, false, &OpError{Op: "prune", Key: key, Identity: listing.Seller, Err: err}
	}
	ev := s.commit(model.Event{
		Kind:   model.EventItemRemoved,
		Key:    key,
		Seller: listing.Seller,
		Price:  listing.Price,
		Reason: model.ReasonStale,
	})
	s.logger.Info("stale listing pruned", "key", key.String(), "seller", listing.Seller)
	return ev, true, nil
}

// GetListing returns the active listing for key.
func (s *Service) GetListing(key model.AssetKey) (model.Listing, bool) {
	return s.registry.Get(key)
}

// GetProceeds returns the withdrawable balance of id.
func (s *Service) GetProceeds(id model.Identity) uint64 {
	return s.ledger.Balance(id)
}

// Listings returns all active listings sorted by key.
func (s *Service) Listings() []ListingEntry {
	return s.registry.Snapshot()
}

// Seq returns the sequence number of the last committed event.
func (s *Service) Seq() uint64 {
	return s.seq.Load()
}

// backedByCustody reports whether seller still owns key and the marketplace
// is still approved to move it.
func (s *Service) backedByCustody(ctx context.Context, key model.AssetKey, seller model.Identity) (bool, error) {
	owner, err := s.custody.OwnerOf(ctx, key)
	if errors.Is(err, model.ErrAssetNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if owner != seller {
		return false, nil
	}
	return s.custody.IsApprovedForMarketplace(ctx, key)
}

func (s *Service) inTransfer(key model.AssetKey) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	_, ok := s.pending[key]
	return ok
}

func (s *Service) beginTransfer(key model.AssetKey) {
	s.pendingMu.Lock()
	s.pending[key] = struct{}{}
	s.pendingMu.Unlock()
}

func (s *Service) endTransfer(key model.AssetKey) {
	s.pendingMu.Lock()
	delete(s.pending, key)
	s.pendingMu.Unlock()
}

// commit stamps ev and publishes it. Callers hold the record lock so that
// Seq order matches commit order for each key and identity.
func (s *Service) commit(ev model.Event) model.Event {
	ev.ID = uuid.New()
	ev.Seq = s.seq.Add(1)
	ev.At = s.now().UnixMicro()
	s.publisher.Publish(ev)
	return ev
}
