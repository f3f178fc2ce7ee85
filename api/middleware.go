/*
middleware.go - Trusted-identity extraction

Token verification happens upstream (gateway). By the time a request
reaches this service the identity has been resolved, and the gateway
forwards it as headers:

  X-Account-Id: numeric account id
  X-Role:       SUPER_ADMIN | MANAGER | SELLER

Requests without a complete identity are rejected with 401. Nothing here
is authorization; ownership and role checks live in the market package.
*/
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/warp/consign-engine/market"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	headerAccountID = "X-Account-Id"
	headerRole      = "X-Role"
)

// RequireIdentity extracts the caller identity from the gateway headers
// and stores it in the request context.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, err := strconv.ParseInt(r.Header.Get(headerAccountID), 10, 64)
		if err != nil || accountID <= 0 {
			writeError(w, http.StatusUnauthorized, "missing or invalid account identity", nil)
			return
		}

		role := market.Role(r.Header.Get(headerRole))
		switch role {
		case market.RoleSuperAdmin, market.RoleManager, market.RoleSeller:
		default:
			writeError(w, http.StatusUnauthorized, "missing or invalid role", nil)
			return
		}

		id := market.Identity{AccountID: market.AccountID(accountID), Role: role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// identityFrom returns the identity stored by RequireIdentity.
func identityFrom(r *http.Request) market.Identity {
	id, _ := r.Context().Value(identityKey).(market.Identity)
	return id
}
