package journal

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// encMode uses Core Deterministic Encoding so the same event always encodes
// to the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("journal: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("journal: CBOR decoder initialization failed: " + err.Error())
	}
}

// eventRecord is the stored form of model.Event. Integer keys keep payloads
// small; never renumber a field.
type eventRecord struct {
	ID         uuid.UUID `cbor:"1,keyasint"`
	Seq        uint64    `cbor:"2,keyasint"`
	Kind       string    `cbor:"3,keyasint"`
	Collection string    `cbor:"4,keyasint,omitempty"`
	TokenID    uint64    `cbor:"5,keyasint,omitempty"`
	Actor      string    `cbor:"6,keyasint,omitempty"`
	Seller     string    `cbor:"7,keyasint,omitempty"`
	Price      uint64    `cbor:"8,keyasint,omitempty"`
	Amount     uint64    `cbor:"9,keyasint,omitempty"`
	Reason     string    `cbor:"10,keyasint,omitempty"`
	At         int64     `cbor:"11,keyasint"`
}

// encodeEvent returns the CBOR payload for ev.
func encodeEvent(ev model.Event) ([]byte, error) {
	rec := eventRecord{
		ID:         ev.ID,
		Seq:        ev.Seq,
		Kind:       string(ev.Kind),
		Collection: ev.Key.Collection,
		TokenID:    ev.Key.TokenID,
		Actor:      string(ev.Actor),
		Seller:     string(ev.Seller),
		Price:      ev.Price,
		Amount:     ev.Amount,
		Reason:     ev.Reason,
		At:         ev.At,
	}
	data, err := encMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	return data, nil
}

// decodeEvent parses a CBOR payload written by encodeEvent.
func decodeEvent(data []byte) (model.Event, error) {
	var rec eventRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	kind := model.EventKind(rec.Kind)
	if !kind.Valid() {
		return model.Event{}, fmt.Errorf("decode event %d: unknown kind %q", rec.Seq, rec.Kind)
	}
	return model.Event{
		ID:     rec.ID,
		Seq:    rec.Seq,
		Kind:   kind,
		Key:    model.AssetKey{Collection: rec.Collection, TokenID: rec.TokenID},
		Actor:  model.Identity(rec.Actor),
		Seller: model.Identity(rec.Seller),
		Price:  rec.Price,
		Amount: rec.Amount,
		Reason: rec.Reason,
		At:     rec.At,
	}, nil
}
