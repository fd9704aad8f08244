package transactions

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"payments-backend/apperr"
	"payments-backend/auth"
	"payments-backend/store"
)

type PostTransactionRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Recipient uuid.UUID       `json:"recipient"`
	Sender    uuid.UUID       `json:"sender"`
}

type Env struct {
	Engine *Engine
}

func (env *Env) PostTransactionHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.Principal(r)
	if err != nil {
		auth.RespondWithError(w, r, err)
		return
	}

	var req PostTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.RespondWithError(w, r, apperr.New(apperr.MalformedRequest, "invalid request body"))
		return
	}

	created, err := env.Engine.Transfer(r.Context(), principal, req.Sender, req.Recipient, req.Amount)
	if err != nil {
		auth.RespondWithError(w, r, err)
		return
	}

	auth.JSON(w, http.StatusOK, created)
}

func (env *Env) GetTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.Principal(r)
	if err != nil {
		auth.RespondWithError(w, r, err)
		return
	}

	userID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		auth.RespondWithError(w, r, apperr.New(apperr.MalformedRequest, "invalid account id"))
		return
	}

	transactions, err := env.Engine.TransactionsFor(r.Context(), principal, userID)
	if err != nil {
		auth.RespondWithError(w, r, err)
		return
	}

	auth.JSON(w, http.StatusOK, map[string][]store.Transaction{"transactions": transactions})
}
