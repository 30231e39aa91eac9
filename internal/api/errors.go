package api

import (
	"errors"
	"net/http"

	"github.com/rickgao/nft-marketplace/internal/auth"
	"github.com/rickgao/nft-marketplace/internal/custody"
	"github.com/rickgao/nft-marketplace/internal/market"
)

var (
	errNegativeAmount  = errors.New("amount must not be negative")
	errExcessPrecision = errors.New("amount has more decimals than the currency")
	errAmountOverflow  = errors.New("amount out of range")
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal"
)

// errorCodes maps sentinel errors to stable wire codes. Order matters: an
// OpError unwraps to both its sentinel and its cause, and the sentinel wins.
var errorCodes = []struct {
	err  error
	code string
}{
	{market.ErrInvalidPrice, "invalid_price"},
	{market.ErrPriceNotMet, "price_not_met"},
	{market.ErrSelfPurchase, "self_purchase"},
	{market.ErrNotOwner, "not_owner"},
	{market.ErrNotApprovedForMarketplace, "not_approved_for_marketplace"},
	{market.ErrAlreadyListed, "already_listed"},
	{market.ErrNotListed, "not_listed"},
	{market.ErrNoProceeds, "no_proceeds"},
	{market.ErrListingStale, "listing_stale"},
	{market.ErrProceedsOverflow, "proceeds_overflow"},
	{market.ErrTransferPending, "transfer_pending"},
	{market.ErrCustody, "custody_failed"},
	{market.ErrTransferFailed, "transfer_failed"},
	{market.ErrSettlementFailed, "settlement_failed"},
	{custody.ErrUnknownAsset, CodeNotFound},
	{custody.ErrAlreadyMinted, "already_minted"},
	{custody.ErrNotTokenOwner, "not_token_owner"},
	{auth.ErrMissingToken, CodeUnauthenticated},
	{auth.ErrInvalidToken, CodeUnauthenticated},
}

// errorCode returns the wire code for err.
func errorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}

// statusFor maps err to an HTTP status.
func statusFor(err error) int {
	switch errorCode(err) {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound, "not_listed":
		return http.StatusNotFound
	case "already_minted":
		return http.StatusConflict
	case "not_token_owner":
		return http.StatusForbidden
	}

	switch market.ClassOf(err) {
	case market.ClassValidation:
		return http.StatusBadRequest
	case market.ClassAuthorization:
		return http.StatusForbidden
	case market.ClassState:
		return http.StatusConflict
	case market.ClassExternal:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
