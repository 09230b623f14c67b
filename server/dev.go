package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gavelnet/gavel/custody"
	"github.com/gavelnet/gavel/ledger"
)

// DevHandler serves development-only provisioning routes: minting funded
// ledger accounts and vaults so a local deployment can run auctions
// end-to-end. It must never be mounted in production; account creation and
// vault custody belong to upstream infrastructure there.
type DevHandler struct {
	log       *slog.Logger
	lg        *ledger.Ledger
	vault     *custody.TokenVault
	authority ledger.Party
}

// NewDevHandler creates a DevHandler. Vaults it provisions are owned by
// authority, the same party the engine combines them under.
func NewDevHandler(log *slog.Logger, lg *ledger.Ledger, vault *custody.TokenVault, authority ledger.Party) *DevHandler {
	return &DevHandler{log: log, lg: lg, vault: vault, authority: authority}
}

// CreateAccountRequest mints a funded owner account.
type CreateAccountRequest struct {
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

// AccountResponse is the public view of a ledger account.
type AccountResponse struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
	Version uint64 `json:"version"`
}

// CreateVaultRequest provisions a vault with a fractional claim distribution.
type CreateVaultRequest struct {
	Holdings map[string]uint64 `json:"holdings"`
}

// VaultResponse reports a provisioned vault.
type VaultResponse struct {
	ID        string `json:"id"`
	Authority string `json:"authority"`
}

// RegisterRoutes attaches the provisioning routes under /dev.
func (h *DevHandler) RegisterRoutes(r chi.Router) {
	r.Route("/dev", func(r chi.Router) {
		r.Post("/accounts", h.handleCreateAccount)
		r.Get("/accounts/{accountID}", h.handleGetAccount)
		r.Post("/vaults", h.handleCreateVault)
	})
}

func (h *DevHandler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "owner is required"})
		return
	}
	id := h.lg.CreateAccount(ledger.Party(req.Owner), req.Balance)
	h.log.Info("dev account created", "account", id, "owner", req.Owner, "balance", req.Balance)
	h.writeJSON(w, http.StatusCreated, AccountResponse{
		ID:      string(id),
		Owner:   req.Owner,
		Balance: req.Balance,
		Version: 1,
	})
}

func (h *DevHandler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.lg.Get(ledger.AccountID(chi.URLParam(r, "accountID")))
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, AccountResponse{
		ID:      string(acct.ID),
		Owner:   string(acct.Owner),
		Balance: acct.Balance,
		Version: acct.Version,
	})
}

func (h *DevHandler) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req CreateVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	holdings := make(map[ledger.Party]uint64, len(req.Holdings))
	for holder, units := range req.Holdings {
		holdings[ledger.Party(holder)] = units
	}
	id := h.vault.CreateVault(h.authority, holdings)
	h.log.Info("dev vault created", "vault", id)
	h.writeJSON(w, http.StatusCreated, VaultResponse{
		ID:        string(id),
		Authority: string(h.authority),
	})
}

func (h *DevHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response", "err", err)
	}
}
