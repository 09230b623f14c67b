package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gavelnet/gavel/custody"
	"github.com/gavelnet/gavel/engine"
	"github.com/gavelnet/gavel/ledger"
)

// Handler serves the auction REST API.
type Handler struct {
	log    *slog.Logger
	engine *engine.Engine
	feed   http.Handler
}

// NewHandler creates a Handler. feed may be nil when the live event stream is
// not mounted.
func NewHandler(log *slog.Logger, eng *engine.Engine, feed http.Handler) *Handler {
	return &Handler{log: log, engine: eng, feed: feed}
}

// RegisterRoutes attaches all API routes to r. REST routes get a request
// timeout; the websocket feed is mounted outside it because the connection is
// long-lived.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", h.handleHealth)

		r.Route("/auctions", func(r chi.Router) {
			r.Post("/", h.handleStartAuction)
			r.Get("/", h.handleListAuctions)
			r.Route("/{auctionID}", func(r chi.Router) {
				r.Get("/", h.handleGetAuction)
				r.Post("/bids", h.handlePlaceBid)
				r.Get("/bids/{bidder}", h.handleGetBid)
				r.Post("/bids/withdraw", h.handleWithdrawBid)
				r.Post("/end", h.handleEndAuction)
				r.Post("/claim", h.handleClaim)
				r.Post("/redeem", h.handleRedeem)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Post("/", h.handleCreateSettings)
			r.Get("/{settingsID}", h.handleGetSettings)
		})
	})

	if h.feed != nil {
		r.Handle("/ws", h.feed)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStartAuction(w http.ResponseWriter, r *http.Request) {
	var req StartAuctionRequest
	if !h.decode(w, r, &req) {
		return
	}
	auction, err := h.engine.Start(r.Context(), engine.StartRequest{
		Vault:          custody.VaultID(req.Vault),
		Settings:       engine.SettingsID(req.Settings),
		Starter:        party(req.Starter),
		PaymentAccount: ledger.AccountID(req.PaymentAccount),
		Amount:         req.Amount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, auctionResponse(auction))
}

func (h *Handler) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions := h.engine.ListAuctions()
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, auctionResponse(a))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id := engine.AuctionID(chi.URLParam(r, "auctionID"))
	auction, err := h.engine.GetAuction(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, auctionResponse(auction))
}

func (h *Handler) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req PlaceBidRequest
	if !h.decode(w, r, &req) {
		return
	}
	auction, err := h.engine.PlaceBid(r.Context(), engine.PlaceBidRequest{
		Auction:         engine.AuctionID(chi.URLParam(r, "auctionID")),
		Bidder:          party(req.Bidder),
		PaymentAccount:  ledger.AccountID(req.PaymentAccount),
		Amount:          req.Amount,
		ObservedVersion: req.ObservedVersion,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, auctionResponse(auction))
}

func (h *Handler) handleGetBid(w http.ResponseWriter, r *http.Request) {
	bid, err := h.engine.GetBid(
		engine.AuctionID(chi.URLParam(r, "auctionID")),
		party(chi.URLParam(r, "bidder")),
	)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bidResponse(bid))
}

func (h *Handler) handleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	var req WithdrawBidRequest
	if !h.decode(w, r, &req) {
		return
	}
	refund, err := h.engine.WithdrawBid(r.Context(), engine.WithdrawBidRequest{
		Auction:     engine.AuctionID(chi.URLParam(r, "auctionID")),
		Bidder:      party(req.Bidder),
		Destination: ledger.AccountID(req.Destination),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, WithdrawResponse{Refund: refund})
}

func (h *Handler) handleEndAuction(w http.ResponseWriter, r *http.Request) {
	var req EndAuctionRequest
	if !h.decode(w, r, &req) {
		return
	}
	fee, err := h.engine.End(r.Context(), engine.EndRequest{
		Auction:        engine.AuctionID(chi.URLParam(r, "auctionID")),
		Caller:         party(req.Caller),
		FeeDestination: ledger.AccountID(req.FeeDestination),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, EndResponse{Fee: fee})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.engine.Claim(r.Context(), engine.ClaimRequest{
		Auction:     engine.AuctionID(chi.URLParam(r, "auctionID")),
		Caller:      party(req.Caller),
		Destination: req.Destination,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !h.decode(w, r, &req) {
		return
	}
	redemption, err := h.engine.Redeem(r.Context(), engine.RedeemRequest{
		Auction:     engine.AuctionID(chi.URLParam(r, "auctionID")),
		Caller:      party(req.Caller),
		Destination: ledger.AccountID(req.Destination),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RedeemResponse{
		FromTreasury: redemption.FromTreasury,
		FromReserve:  redemption.FromReserve,
		Total:        redemption.Total(),
	})
}

func (h *Handler) handleCreateSettings(w http.ResponseWriter, r *http.Request) {
	var req CreateSettingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	settings, err := h.engine.CreateSettings(party(req.Caller),
		req.Duration, req.SoftClosePeriod, req.BidIncrement, req.FacilitatorFeeRate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, settings)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.engine.GetSettings(engine.SettingsID(chi.URLParam(r, "settingsID")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusForError(err), ErrorResponse{Error: err.Error()})
}

// statusForError maps engine and ledger sentinel errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrAuctionNotFound),
		errors.Is(err, engine.ErrBidNotFound),
		errors.Is(err, engine.ErrSettingsNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, custody.ErrVaultNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrBidTooLow),
		errors.Is(err, engine.ErrInvalidFacilitatorFee),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAlreadyStarted),
		errors.Is(err, engine.ErrBidAlreadyExists),
		errors.Is(err, engine.ErrVersionConflict),
		errors.Is(err, engine.ErrAuctionEnded),
		errors.Is(err, engine.ErrAuctionNotEnded),
		errors.Is(err, engine.ErrNotYetEndable),
		errors.Is(err, engine.ErrAlreadyClaimed),
		errors.Is(err, engine.ErrNothingToRedeem),
		errors.Is(err, engine.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotWinner),
		errors.Is(err, engine.ErrTopBidNotWithdrawable),
		errors.Is(err, engine.ErrNotAuthority),
		errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
