package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// Precondition failures. Operations wrap these in *OpError.
var (
	ErrInvalidPrice              = errors.New("price must be above zero")
	ErrPriceNotMet               = errors.New("price not met")
	ErrNotOwner                  = errors.New("not owner")
	ErrNotApprovedForMarketplace = errors.New("not approved for marketplace")
	ErrSelfPurchase              = errors.New("seller cannot buy own listing")
	ErrAlreadyListed             = errors.New("already listed")
	ErrNotListed                 = errors.New("not listed")
	ErrNoProceeds                = errors.New("no proceeds")
	ErrListingStale              = errors.New("listing no longer backed by custody")
	ErrProceedsOverflow          = errors.New("proceeds balance would overflow")
	ErrTransferPending           = errors.New("asset transfer in progress")
)

// Collaborator failures. The underlying cause is wrapped alongside.
var (
	ErrCustody          = errors.New("asset custody lookup failed")
	ErrTransferFailed   = errors.New("asset transfer failed")
	ErrSettlementFailed = errors.New("payment settlement failed")
)

// Class groups errors by how a caller should treat them.
type Class string

const (
	ClassValidation    Class = "validation"
	ClassAuthorization Class = "authorization"
	ClassState         Class = "state"
	ClassExternal      Class = "external"
	ClassUnknown       Class = "unknown"
)

// ClassOf returns the class of err, or ClassUnknown.
func ClassOf(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrPriceNotMet), errors.Is(err, ErrSelfPurchase):
		return ClassValidation
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotApprovedForMarketplace):
		return ClassAuthorization
	case errors.Is(err, ErrAlreadyListed), errors.Is(err, ErrNotListed), errors.Is(err, ErrNoProceeds),
		errors.Is(err, ErrListingStale), errors.Is(err, ErrProceedsOverflow), errors.Is(err, ErrTransferPending):
		return ClassState
	case errors.Is(err, ErrCustody), errors.Is(err, ErrTransferFailed), errors.Is(err, ErrSettlementFailed):
		return ClassExternal
	}
	return ClassUnknown
}

// OpError describes a failed marketplace operation.
type OpError struct {
	Op       string         // "list", "update", "cancel", "buy", "withdraw", "prune"
	Key      model.AssetKey // Zero for withdraw
	Identity model.Identity // Caller
	Price    uint64         // Listing price, when relevant
	Paid     uint64         // Amount offered (buy)
	Err      error          // Sentinel
	Cause    error          // Collaborator error, if any
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Key != (model.AssetKey{}) {
		b.WriteString(" ")
		b.WriteString(e.Key.String())
	}
	if e.Identity != "" {
		fmt.Fprintf(&b, " by %s", e.Identity)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if errors.Is(e.Err, ErrPriceNotMet) {
		fmt.Fprintf(&b, " (price %d, paid %d)", e.Price, e.Paid)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the collaborator cause.
func (e *OpError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
