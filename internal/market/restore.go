package market

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// ErrRestoreConflict is returned when a journaled event does not apply
// cleanly to the state rebuilt so far.
var ErrRestoreConflict = errors.New("journal does not replay cleanly")

// Restore rebuilds the registry and ledger from journaled events. It must
// run before any operation is served. Events are applied in Seq order and
// are not re-published. Gaps in Seq are logged and replay continues, so a
// journal with lost batches still restores what it holds.
func (s *Service) Restore(events []model.Event) error {
	if s.seq.Load() != 0 || s.registry.Len() != 0 {
		return errors.New("restore requires an empty marketplace")
	}

	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Seq < sorted[j].Seq
	})

	var last uint64
	for _, ev := range sorted {
		if ev.Seq <= last {
			return fmt.Errorf("restore event %d: %w: duplicate or out of order seq", ev.Seq, ErrRestoreConflict)
		}
		if ev.Seq != last+1 {
			s.logger.Warn("journal seq gap", "expected", last+1, "got", ev.Seq)
		}
		if err := s.apply(ev); err != nil {
			return fmt.Errorf("restore event %d (%s %s): %w", ev.Seq, ev.Kind, ev.Key, err)
		}
		last = ev.Seq
	}
	s.seq.Store(last)

	s.logger.Info("marketplace restored",
		"events", len(sorted),
		"seq", last,
		"listings", s.registry.Len(),
	)
	return nil
}

// apply replays a single event against the stores.
func (s *Service) apply(ev model.Event) error {
	switch ev.Kind {
	case model.EventItemListed:
		if existing, ok := s.registry.Get(ev.Key); ok {
			if existing.Seller != ev.Seller {
				return fmt.Errorf("%w: relisted by %s, listed by %s", ErrRestoreConflict, ev.Seller, existing.Seller)
			}
			return s.registry.update(ev.Key, ev.Price)
		}
		return s.registry.create(ev.Key, ev.Seller, ev.Price)

	case model.EventItemRemoved:
		_, err := s.registry.remove(ev.Key)
		return err

	case model.EventItemBought:
		listing, err := s.registry.read(ev.Key)
		if err != nil {
			return err
		}
		if listing.Seller != ev.Seller || listing.Price != ev.Amount {
			return fmt.Errorf("%w: sale of %s/%d does not match listing %s/%d",
				ErrRestoreConflict, ev.Seller, ev.Amount, listing.Seller, listing.Price)
		}
		if !s.ledger.canCredit(ev.Seller, ev.Amount) {
			return ErrProceedsOverflow
		}
		if _, err := s.registry.remove(ev.Key); err != nil {
			return err
		}
		s.ledger.credit(ev.Seller, ev.Amount)
		return nil

	case model.EventProceedsWithdrawn:
		amount, err := s.ledger.takeAll(ev.Actor)
		if err != nil {
			return err
		}
		if amount != ev.Amount {
			return fmt.Errorf("%w: withdrew %d, balance was %d", ErrRestoreConflict, ev.Amount, amount)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown event kind %q", ErrRestoreConflict, ev.Kind)
}
