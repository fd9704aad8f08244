package account

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"payments-backend/apperr"
	"payments-backend/auth"
	"payments-backend/store"
)

type Env struct {
	Store store.Store
}

// GetAccountHandler serves an account's public view. A principal may
// only read its own account.
func (env *Env) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.Principal(r)
	if err != nil {
		auth.RespondWithError(w, r, err)
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		auth.RespondWithError(w, r, apperr.New(apperr.MalformedRequest, "invalid account id"))
		return
	}

	if principal != id {
		auth.RespondWithError(w, r, apperr.New(apperr.PermissionDenied, ""))
		return
	}

	user, err := env.Store.UserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// An authenticated principal without a backing row is an
			// internal inconsistency, not a caller error.
			auth.RespondWithError(w, r, fmt.Errorf("authenticated principal %s has no account row", id))
			return
		}
		auth.RespondWithError(w, r, fmt.Errorf("could not load account: %w", err))
		return
	}

	// PasswordHash is excluded by its json tag.
	auth.JSON(w, http.StatusOK, user)
}
