package main

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"payments-backend/account"
	"payments-backend/auth"
	"payments-backend/clock"
	"payments-backend/config"
	"payments-backend/events/kafka"
	"payments-backend/store"
	"payments-backend/store/memory"
	"payments-backend/store/postgres"
	"payments-backend/transactions"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("could not load configuration")
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logrus.WithError(err).Fatal("could not open database")
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetConnMaxIdleTime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			logrus.WithError(err).Fatal("could not ping database")
		}
		logrus.Info("connected to the database")
		st = postgres.NewStore(db)
	} else {
		logrus.Warn("DATABASE_URL not set, using the in-memory store")
		st = memory.NewStore()
	}

	clk := clock.System{}
	tokenCfg := auth.TokenConfig{
		SigningKey: cfg.SigningKey,
		Issuer:     cfg.TokenIssuer,
		Audience:   cfg.TokenAudience,
		ClientID:   cfg.TokenClientID,
		Lifetime:   cfg.TokenLifetime,
	}
	issuer, err := auth.NewTokenIssuer(tokenCfg, clk)
	if err != nil {
		logrus.WithError(err).Fatal("could not build token issuer")
	}
	validator, err := auth.NewTokenValidator(tokenCfg, clk)
	if err != nil {
		logrus.WithError(err).Fatal("could not build token validator")
	}

	engine := transactions.NewEngine(st, clk)
	if cfg.KafkaBrokers != "" {
		publisher := kafka.NewPublisher(strings.Split(cfg.KafkaBrokers, ","))
		defer publisher.Close()
		engine.Events = publisher
		logrus.WithField("brokers", cfg.KafkaBrokers).Info("kafka event publisher enabled")
	}

	authEnv := &auth.Env{Store: st, Issuer: issuer}
	accountEnv := &account.Env{Store: st}
	transactionsEnv := &transactions.Env{Engine: engine}

	rateLimiter := auth.NewRateLimiter(5, time.Minute)
	authenticated := auth.Authentication(validator)

	r := mux.NewRouter()
	r.Use(transactions.Metrics)
	r.Use(withDeadline(cfg.RequestTimeout))

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		auth.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Login and signup are the only routes that do not require a bearer
	// token; login is rate limited against credential guessing.
	r.HandleFunc("/auth/signup", authEnv.SignupHandler).Methods(http.MethodPost)
	r.Handle("/auth/login", rateLimiter.Middleware(http.HandlerFunc(authEnv.LoginHandler))).Methods(http.MethodPost)

	r.Handle("/accounts/{id}", authenticated(http.HandlerFunc(accountEnv.GetAccountHandler))).Methods(http.MethodGet)
	r.Handle("/accounts/{id}/transactions", authenticated(http.HandlerFunc(transactionsEnv.GetTransactionsHandler))).Methods(http.MethodGet)
	r.Handle("/transactions", authenticated(http.HandlerFunc(transactionsEnv.PostTransactionHandler))).Methods(http.MethodPost)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      auth.Logger(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logrus.WithField("port", cfg.Port).Info("starting server")
	if err := server.ListenAndServe(); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}

// withDeadline attaches the global per-request deadline. Store calls past
// the deadline fail with context.DeadlineExceeded, which the respond
// helper converts into a retryable ServiceUnavailable; an in-flight unit
// of work rolls back rather than committing half a transfer.
func withDeadline(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
