package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/veilpool/veilpool-node/gate"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/pool"
	"github.com/veilpool/veilpool-node/types"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host string
	Port int
	Gate *gate.Gate
}

// API type represents the API HTTP server over the access gate and the pool
// ledgers behind it.
type API struct {
	router *chi.Mux
	gate   *gate.Gate
}

// New creates a new API instance with the given configuration and starts the
// HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Gate == nil {
		return nil, fmt.Errorf("missing access gate")
	}
	a := &API{gate: conf.Gate}
	a.initRouter()
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	// pool endpoints
	log.Infow("register handler", "endpoint", PoolsEndpoint, "method", "GET")
	a.router.Get(PoolsEndpoint, a.listPools)
	log.Infow("register handler", "endpoint", PoolEndpoint, "method", "GET")
	a.router.Get(PoolEndpoint, a.poolInfo)
	log.Infow("register handler", "endpoint", PoolRootEndpoint, "method", "GET")
	a.router.Get(PoolRootEndpoint, a.poolRoot)
	log.Infow("register handler", "endpoint", AllowedEndpoint, "method", "GET")
	a.router.Get(AllowedEndpoint, a.allowed)
	// deposit endpoints
	log.Infow("register handler", "endpoint", DepositsEndpoint, "method", "POST")
	a.router.Post(DepositsEndpoint, a.newDeposit)
	log.Infow("register handler", "endpoint", CanDepositPath, "method", "POST")
	a.router.Post(CanDepositPath, a.canDeposit)
	log.Infow("register handler", "endpoint", DepositRecordEndpoint, "method", "GET")
	a.router.Get(DepositRecordEndpoint, a.depositRecord)
	log.Infow("register handler", "endpoint", CommitmentsEndpoint, "method", "GET")
	a.router.Get(CommitmentsEndpoint, a.commitments)
	// withdrawal endpoints
	log.Infow("register handler", "endpoint", WithdrawalsEndpoint, "method", "POST")
	a.router.Post(WithdrawalsEndpoint, a.newWithdrawal)
	log.Infow("register handler", "endpoint", NullifierEndpoint, "method", "GET")
	a.router.Get(NullifierEndpoint, a.nullifierStatus)
	log.Infow("register handler", "endpoint", NullifierBatchEndpoint, "method", "POST")
	a.router.Post(NullifierBatchEndpoint, a.nullifierStatusBatch)
	log.Infow("register handler", "endpoint", WithdrawalRecordEndpoint, "method", "GET")
	a.router.Get(WithdrawalRecordEndpoint, a.withdrawalRecord)
}

// ledgerOf resolves the pool URL parameter into its ledger.
func (a *API) ledgerOf(r *http.Request) (*pool.Ledger, bool) {
	return a.gate.Ledger(types.PoolID(chi.URLParam(r, PoolURLParam)))
}
