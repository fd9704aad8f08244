package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"payments-backend/apperr"
	"payments-backend/store"
)

// dummyHash is compared against when a login names an unknown user, so
// the missing-user and wrong-password paths cost the same.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("payments-backend dummy credential"), bcrypt.DefaultCost)

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Env struct {
	Store  store.Store
	Issuer *TokenIssuer
}

func (env *Env) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, r, apperr.New(apperr.MalformedRequest, "invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		RespondWithError(w, r, apperr.New(apperr.MalformedRequest, "username and password are required"))
		return
	}

	if _, err := env.Store.UserByUsername(r.Context(), req.Username); err == nil {
		RespondWithError(w, r, apperr.New(apperr.UsernameTaken, ""))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, r, fmt.Errorf("could not check username: %w", err))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		RespondWithError(w, r, fmt.Errorf("could not hash password: %w", err))
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		RespondWithError(w, r, fmt.Errorf("could not generate account id: %w", err))
		return
	}

	user := store.User{
		ID:           id,
		Username:     req.Username,
		PasswordHash: string(hash),
		// New accounts start with a random demo balance.
		Balance: decimal.NewFromInt(int64(rand.Intn(1 << 16))),
	}
	if err := env.Store.CreateUser(r.Context(), user); err != nil {
		// A concurrent signup for the same username loses the race at
		// the store's uniqueness constraint.
		if errors.Is(err, store.ErrUsernameTaken) {
			RespondWithError(w, r, apperr.New(apperr.UsernameTaken, ""))
			return
		}
		RespondWithError(w, r, fmt.Errorf("could not create user: %w", err))
		return
	}

	logrus.WithField("id", user.ID).Info("user signed up")
	JSON(w, http.StatusOK, map[string]uuid.UUID{"id": user.ID})
}

func (env *Env) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, r, apperr.New(apperr.MalformedRequest, "invalid request body"))
		return
	}

	// Never reveal whether the username exists; both failure paths run a
	// bcrypt comparison and produce an identical response.
	user, err := env.Store.UserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			RespondWithError(w, r, apperr.New(apperr.InvalidUsernameOrPassword, ""))
			return
		}
		RespondWithError(w, r, fmt.Errorf("could not look up user: %w", err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		RespondWithError(w, r, apperr.New(apperr.InvalidUsernameOrPassword, ""))
		return
	}

	token, err := env.Issuer.Issue(user.ID)
	if err != nil {
		RespondWithError(w, r, fmt.Errorf("could not issue access token: %w", err))
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"id":           user.ID,
		"access_token": token,
	})
}
