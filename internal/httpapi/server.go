// Package httpapi exposes the fund lifecycle as a JSON REST API.
//
// The caller wallet is read from the X-Wallet-Address header; it is assumed
// to be authenticated by the wallet layer in front of the service. Request
// bodies are decoded strictly into typed schemas before reaching the
// services.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"edufund/internal/distribution"
	"edufund/internal/domain"
	"edufund/internal/escrow"
	"edufund/internal/ledger"
	"edufund/internal/observability"
	"edufund/internal/storage"
	"edufund/internal/voting"
)

// Options tunes the HTTP surface.
type Options struct {
	RateLimitRPS   float64 // per caller, 0 disables
	RateLimitBurst int
	CORSOrigins    []string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		CORSOrigins:    []string{"*"},
		RequestTimeout: 2 * time.Minute,
		MaxBodyBytes:   1 << 20,
	}
}

// Deps are the services behind the API. Journal, Balances and Monitor are
// optional; their routes answer 404 when unset.
type Deps struct {
	Escrow       *escrow.Service
	Voting       *voting.Service
	Distribution *distribution.Engine
	Journal      storage.PayoutJournal
	Balances     ledger.BalanceReader
	Monitor      *escrow.Monitor
}

// Server routes REST requests to the services.
type Server struct {
	deps Deps
	opts Options
	log  logrus.FieldLogger
}

// NewServer creates a Server.
func NewServer(deps Deps, opts Options, log logrus.FieldLogger) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultOptions().MaxBodyBytes
	}
	return &Server{
		deps: deps,
		opts: opts,
		log:  log.WithField("component", "httpapi"),
	}
}

// Handler builds the router with its middleware chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument, s.withTimeout)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	if s.opts.RateLimitRPS > 0 {
		v1.Use(newRateLimiter(s.opts.RateLimitRPS, s.opts.RateLimitBurst, s.log).middleware)
	}

	v1.HandleFunc("/funds", s.listFunds).Methods(http.MethodGet)
	v1.HandleFunc("/funds", s.createFund).Methods(http.MethodPost)
	v1.HandleFunc("/funds/{id}", s.getFund).Methods(http.MethodGet)
	v1.HandleFunc("/funds/{id}/ranking", s.ranking).Methods(http.MethodGet)
	v1.HandleFunc("/funds/{id}/apply", s.apply).Methods(http.MethodPost)
	v1.HandleFunc("/funds/{id}/vote", s.vote).Methods(http.MethodPost)
	v1.HandleFunc("/funds/{id}/distribute", s.distribute).Methods(http.MethodPost)
	v1.HandleFunc("/funds/{id}/payouts", s.payouts).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/balance/{address}", s.balance).Methods(http.MethodGet)
	v1.HandleFunc("/escrow/solvency", s.solvency).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusNotFound, codeRouteNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	return corsMiddleware(s.opts.CORSOrigins)(r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) listFunds(w http.ResponseWriter, r *http.Request) {
	var filter escrow.ListFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := domain.ParseFundStatus(raw)
		if !ok {
			s.writeError(w, r, badRequest("unknown status %q", raw))
			return
		}
		filter.Status = st
	}
	filter.Owner = strings.TrimSpace(r.URL.Query().Get("owner"))

	funds, err := s.deps.Escrow.ListFunds(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]fundSummary, len(funds))
	for i, f := range funds {
		out[i] = toFundSummary(f)
	}
	writeJSON(w, http.StatusOK, map[string]any{"funds": out})
}

func (s *Server) createFund(w http.ResponseWriter, r *http.Request) {
	var req createFundRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := s.deps.Escrow.CreateFund(r.Context(), escrow.CreateFundParams{
		Name:        req.Name,
		Description: req.Description,
		TotalAmount: req.TotalAmount,
		Slots:       req.Slots,
		Owner:       callerWallet(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundBody(f))
}

func (s *Server) getFund(w http.ResponseWriter, r *http.Request) {
	f, err := s.deps.Escrow.GetFund(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFundBody(f))
}

func (s *Server) ranking(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Distribution.Preview(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRankingBody(p))
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.GPA == nil {
		s.writeError(w, r, badRequest("gpa is required"))
		return
	}
	// The applicant is always the caller; a body cannot apply for
	// another wallet.
	app, err := s.deps.Voting.SubmitApplication(r.Context(), mux.Vars(r)["id"], voting.ApplicationParams{
		Name:          req.Name,
		GPA:           *req.GPA,
		PortfolioLink: req.PortfolioLink,
		Wallet:        callerWallet(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplicantBody(app))
}

func (s *Server) vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ApplicantID == nil {
		s.writeError(w, r, badRequest("applicantId is required"))
		return
	}

	fundID := mux.Vars(r)["id"]
	res, err := s.deps.Voting.CastVote(r.Context(), fundID, *req.ApplicantID, callerWallet(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voteBody{
		FundID:            fundID,
		ApplicantID:       *req.ApplicantID,
		VoteCount:         res.VoteCount,
		LastVoteTimestamp: res.LastVoteTimestamp,
	})
}

// distribute runs a distribution. A partial failure answers 502 with the
// per-winner result next to the error so the operator knows what to retry.
func (s *Server) distribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	var claimed []distribution.ClaimedWinner
	if req.Winners != nil {
		claimed = make([]distribution.ClaimedWinner, len(req.Winners))
		for i, cw := range req.Winners {
			claimed[i] = distribution.ClaimedWinner{Wallet: cw.Wallet, Amount: cw.Amount}
		}
	}

	res, err := s.deps.Distribution.Distribute(r.Context(), mux.Vars(r)["id"], callerWallet(r), claimed)
	if err != nil {
		if res == nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, statusFor(err), errorBody{
			Error:  errorDetailFor(err),
			Result: toDistributeBody(res),
		})
		return
	}
	writeJSON(w, http.StatusOK, toDistributeBody(res))
}

func (s *Server) payouts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeErrorCode(w, http.StatusNotFound, codeRouteNotFound, "payout journal is not configured")
		return
	}
	fundID := mux.Vars(r)["id"]
	if _, err := s.deps.Escrow.GetFund(r.Context(), fundID); err != nil {
		s.writeError(w, r, err)
		return
	}

	events, err := s.deps.Journal.GetByFundID(r.Context(), fundID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fundId": fundID,
		"events": toPayoutEventBodies(events),
	})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Balances == nil {
		writeErrorCode(w, http.StatusNotFound, codeRouteNotFound, "ledger balance is not available")
		return
	}

	address := strings.TrimSpace(mux.Vars(r)["address"])
	if v, ok := s.deps.Balances.(ledger.AddressValidator); ok {
		norm, err := v.NormalizeAddress(address)
		if err != nil {
			s.writeError(w, r, domain.ErrInvalidAddress)
			return
		}
		address = norm
	}

	bal, err := s.deps.Balances.Balance(r.Context(), address)
	if err != nil {
		s.writeError(w, r, upstream(err))
		return
	}
	writeJSON(w, http.StatusOK, balanceBody{Address: address, Balance: bal})
}

func (s *Server) solvency(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeErrorCode(w, http.StatusNotFound, codeRouteNotFound, "solvency monitor is not configured")
		return
	}
	sol, err := s.deps.Monitor.Check(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSolvencyBody(sol))
}

// upstream tags a ledger error as an upstream failure.
func upstream(err error) error {
	return &upstreamError{err: err}
}

type upstreamError struct{ err error }

func (e *upstreamError) Error() string { return "ledger: " + e.err.Error() }

func (e *upstreamError) Unwrap() []error { return []error{domain.ErrUpstream, e.err} }
