package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"swapgateway/internal/coordination"
	"swapgateway/internal/gwerrors"
	"swapgateway/internal/orchestrator"
)

// nonceRoutes implements the C6 external coordination API of spec.md
// §4.6/§6.1: the same lease-and-nonce machinery C4 uses internally, exposed
// to a cooperating out-of-process submitter.
type nonceRoutes struct {
	state    *coordination.State
	networks *orchestrator.NetworkRegistry
}

func newNonceRoutes(state *coordination.State, networks *orchestrator.NetworkRegistry) *nonceRoutes {
	return &nonceRoutes{state: state, networks: networks}
}

func (nr *nonceRoutes) mount(r chi.Router) {
	r.Post("/acquire", nr.acquire)
	r.Post("/release", nr.release)
	r.Post("/invalidate", nr.invalidate)
	r.Get("/status", nr.status)
}

func (nr *nonceRoutes) acquire(w http.ResponseWriter, r *http.Request) {
	var body nonceAcquireRequestDTO
	if err := decodeJSONBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	if body.Network == "" || body.WalletAddress == "" {
		writeBadRequest(w, gwerrors.New(gwerrors.KindValidation, "network and walletAddress are required"))
		return
	}
	adapters, err := nr.networks.Get(body.Network)
	if err != nil {
		writeGatewayError(w, gwerrors.Wrap(gwerrors.KindInternal, err))
		return
	}

	ttl := coordination.DefaultLeaseTTL
	if body.TTLMs != nil {
		ttl = time.Duration(*body.TTLMs) * time.Millisecond
	}
	key := coordination.NewWalletKey(body.Network, body.WalletAddress)
	lockID, expiresAt := nr.state.Locks.AcquireLeased(key, ttl)

	nonce, err := nr.state.Nonces.NextNonce(r.Context(), adapters.RPC, key)
	if err != nil {
		nr.state.Locks.ReleaseLease(lockID, false)
		writeGatewayError(w, err)
		return
	}
	nr.state.Locks.SetLeaseNonce(lockID, nonce)

	writeJSON(w, http.StatusOK, nonceAcquireResponseDTO{
		LockID:    lockID,
		Nonce:     nonce,
		ExpiresAt: expiresAt.UnixMilli(),
	})
}

func (nr *nonceRoutes) release(w http.ResponseWriter, r *http.Request) {
	var body nonceReleaseRequestDTO
	if err := decodeJSONBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	if body.LockID == "" {
		writeBadRequest(w, gwerrors.New(gwerrors.KindValidation, "lockId is required"))
		return
	}
	ok := nr.state.Locks.ReleaseLease(body.LockID, body.TransactionSent)
	resp := nonceReleaseResponseDTO{Success: ok}
	if !ok {
		msg := "lease not found"
		resp.Message = &msg
	}
	// A missing lease is still a 200: per spec.md §4.6, "not found" is
	// success=false but not an HTTP error.
	writeJSON(w, http.StatusOK, resp)
}

func (nr *nonceRoutes) invalidate(w http.ResponseWriter, r *http.Request) {
	var body nonceInvalidateRequestDTO
	if err := decodeJSONBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	if body.Network == "" || body.WalletAddress == "" {
		writeBadRequest(w, gwerrors.New(gwerrors.KindValidation, "network and walletAddress are required"))
		return
	}
	key := coordination.NewWalletKey(body.Network, body.WalletAddress)
	nr.state.Nonces.Invalidate(key)
	writeJSON(w, http.StatusOK, nonceInvalidateResponseDTO{Success: true})
}

func (nr *nonceRoutes) status(w http.ResponseWriter, r *http.Request) {
	snapshots := nr.state.Locks.Status()
	locks := make([]nonceLockViewDTO, 0, len(snapshots))
	for _, s := range snapshots {
		locks = append(locks, nonceLockViewDTO{
			LockID:    s.LockID,
			Address:   s.Address,
			Scope:     s.Scope,
			Nonce:     s.Nonce,
			ExpiresAt: s.ExpiresAt.UnixMilli(),
			IsExpired: s.IsExpired,
		})
	}
	writeJSON(w, http.StatusOK, nonceStatusResponseDTO{
		ActiveLocks: len(locks),
		Locks:       locks,
	})
}
