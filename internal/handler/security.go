package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/owner"
)

// Request headers understood by the API.
const (
	headerUserID     = "X-User-ID"
	headerGuestToken = "X-Guest-Token"
	headerAdminToken = "X-Admin-Token"
	headerActor      = "X-Actor"
)

// adminActor is recorded in audit logs when no X-Actor header is sent.
const adminActor = "admin"

var errUnauthorized = errors.New("unauthorized")

// requireAdmin rejects requests without a valid admin token.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAdmin(r) {
			writeError(w, r, errUnauthorized)
			return
		}
		next(w, r)
	})
}

// isAdmin compares the digests of the presented and configured tokens in
// constant time.
func (h *Handler) isAdmin(r *http.Request) bool {
	if len(h.admin) == 0 {
		return false
	}
	token := r.Header.Get(headerAdminToken)
	if token == "" {
		return false
	}
	got := sha256.Sum256([]byte(token))
	want := sha256.Sum256(h.admin)
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// actor names the caller of an administrative operation.
func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(headerActor)); a != "" {
		return a
	}
	return adminActor
}

// resolveOwner builds the cart owner from the identity headers. A user id
// takes precedence over a guest token; neither fails with
// owner.ErrInvalidOwner. X-User-ID is taken as is and must be set by an
// authenticating gateway that strips client-supplied values.
func resolveOwner(r *http.Request) (owner.Owner, error) {
	if raw := strings.TrimSpace(r.Header.Get(headerUserID)); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return owner.Owner{}, errors.Wrapf(errBadRequest, "invalid %s", headerUserID)
		}
		return owner.User(id), nil
	}
	return owner.Resolve(0, r.Header.Get(headerGuestToken))
}
