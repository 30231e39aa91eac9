package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/nft-marketplace/internal/custody"
	"github.com/rickgao/nft-marketplace/internal/feed"
	"github.com/rickgao/nft-marketplace/internal/model"
)

// pathKey reads the {collection}/{token} path values.
func pathKey(r *http.Request) (model.AssetKey, error) {
	collection := r.PathValue("collection")
	if collection == "" {
		return model.AssetKey{}, fmt.Errorf("collection is required")
	}
	id, err := strconv.ParseUint(r.PathValue("token"), 10, 64)
	if err != nil {
		return model.AssetKey{}, fmt.Errorf("invalid token id %q", r.PathValue("token"))
	}
	return model.AssetKey{Collection: collection, TokenID: id}, nil
}

// parseAmount parses a base-unit decimal string.
func parseAmount(field, s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an unsigned integer in base units: %q", field, s)
	}
	return v, nil
}

func (s *Server) listingJSON(key model.AssetKey, l model.Listing) ListingJSON {
	return ListingJSON{
		Collection:   key.Collection,
		TokenID:      strconv.FormatUint(key.TokenID, 10),
		Seller:       string(l.Seller),
		Price:        strconv.FormatUint(l.Price, 10),
		PriceDisplay: s.currency.Display(l.Price),
		Currency:     s.currency.Symbol,
	}
}

// respond records the operation and writes its outcome. A committed event
// that came back with an error is included in the error body.
func (s *Server) respond(w http.ResponseWriter, op string, start time.Time, status int, ev model.Event, err error) {
	s.metrics.Record(op, err, time.Since(start))
	if err == nil {
		s.writeJSON(w, status, EventResponse{Event: feed.NewEventMessage(ev)})
		return
	}
	if ev.Seq == 0 {
		s.fail(w, err)
		return
	}
	msg := feed.NewEventMessage(ev)
	s.logger.Error("operation committed with downstream failure", "op", op, "seq", ev.Seq, "error", err)
	s.writeError(w, statusFor(err), errorCode(err), err.Error(), &ErrorResponse{Event: &msg})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), nil)
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	seller := r.URL.Query().Get("seller")

	resp := ListingsResponse{Listings: []ListingJSON{}}
	for _, e := range s.svc.Listings() {
		if collection != "" && e.Key.Collection != collection {
			continue
		}
		if seller != "" && string(e.Seller) != seller {
			continue
		}
		resp.Listings = append(resp.Listings, s.listingJSON(e.Key, e.Listing))
	}
	resp.Count = len(resp.Listings)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	l, ok := s.svc.GetListing(key)
	if !ok {
		s.writeError(w, http.StatusNotFound, "not_listed", key.String()+" is not listed", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.listingJSON(key, l))
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request, caller string) {
	start := time.Now()
	var req ListRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Collection == "" {
		s.badRequest(w, fmt.Errorf("collection is required"))
		return
	}
	id, err := parseAmount("token_id", req.TokenID)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	key := model.AssetKey{Collection: req.Collection, TokenID: id}
	ev, err := s.svc.ListItem(r.Context(), key, price, model.Identity(caller))
	s.respond(w, "list", start, http.StatusCreated, ev, err)
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, r *http.Request, caller string) {
	start := time.Now()
	key, err := pathKey(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req UpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	ev, err := s.svc.UpdateListing(r.Context(), key, price, model.Identity(caller))
	s.respond(w, "update", start, http.StatusOK, ev, err)
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request, caller string) {
	start := time.Now()
	key, err := pathKey(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	ev, err := s.svc.CancelItem(r.Context(), key, model.Identity(caller))
	s.respond(w, "cancel", start, http.StatusOK, ev, err)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request, caller string) {
	start := time.Now()
	key, err := pathKey(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req BuyRequest
	if !s.decode(w, r, &req) {
		return
	}
	paid, err := parseAmount("paid", req.Paid)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	ev, err := s.svc.BuyItem(r.Context(), key, model.Identity(caller), paid)
	if ev.Seq != 0 {
		s.metrics.AddVolume(ev.Amount)
	}
	s.respond(w, "buy", start, http.StatusOK, ev, err)
}

func (s *Server) handleGetProceeds(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("identity")
	amount := s.svc.GetProceeds(model.Identity(id))
	s.writeJSON(w, http.StatusOK, ProceedsResponse{
		Identity:      id,
		Amount:        strconv.FormatUint(amount, 10),
		AmountDisplay: s.currency.Display(amount),
		Currency:      s.currency.Symbol,
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, caller string) {
	start := time.Now()
	ev, err := s.svc.WithdrawProceeds(r.Context(), model.Identity(caller))
	if err == nil {
		s.metrics.AddPayout(ev.Amount)
	}
	s.respond(w, "withdraw", start, http.StatusOK, ev, err)
}

func assetResponse(a custody.Asset) AssetResponse {
	return AssetResponse{
		Collection: a.Key.Collection,
		TokenID:    strconv.FormatUint(a.Key.TokenID, 10),
		Owner:      string(a.Owner),
		Approved:   a.Approved,
	}
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request, caller string) {
	collection := r.PathValue("collection")
	var req MintRequest
	if !s.decode(w, r, &req) {
		return
	}

	var key model.AssetKey
	if req.TokenID == "" {
		var err error
		if key, err = s.custody.MintNext(collection, model.Identity(caller)); err != nil {
			s.fail(w, err)
			return
		}
	} else {
		id, err := parseAmount("token_id", req.TokenID)
		if err != nil {
			s.badRequest(w, err)
			return
		}
		key = model.AssetKey{Collection: collection, TokenID: id}
		if err := s.custody.Mint(key, model.Identity(caller)); err != nil {
			s.fail(w, err)
			return
		}
	}

	s.writeJSON(w, http.StatusCreated, AssetResponse{
		Collection: key.Collection,
		TokenID:    strconv.FormatUint(key.TokenID, 10),
		Owner:      caller,
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, caller string) {
	key, err := pathKey(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req ApproveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.custody.Approve(key, model.Identity(caller), req.Approved); err != nil {
		s.fail(w, err)
		return
	}
	a, err := s.custody.Asset(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, assetResponse(a))
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	a, err := s.custody.Asset(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, assetResponse(a))
}
