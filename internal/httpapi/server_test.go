package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edufund/internal/distribution"
	"edufund/internal/domain"
	"edufund/internal/escrow"
	"edufund/internal/ledger/stub"
	"edufund/internal/storage/memory"
	"edufund/internal/voting"
)

const sponsor = "sponsor"

type testAPI struct {
	handler http.Handler
	ledger  *stub.Ledger
	journal *memory.PayoutJournal
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := memory.NewFundStore()
	journal := memory.NewPayoutJournal()
	led := stub.NewLedger("vault", decimal.NewFromInt(1000))

	var clock atomic.Int64
	clock.Store(1_700_000_000_000)
	now := func() time.Time { return time.UnixMilli(clock.Add(1000)) }

	var seq atomic.Int64
	newID := func() string { return fmt.Sprintf("fund-%d", seq.Add(1)) }

	deps := Deps{
		Escrow: escrow.NewService(store, log,
			escrow.WithClock(now),
			escrow.WithIDGenerator(newID),
			escrow.WithPlatformFeeBps(500),
			escrow.WithAddressValidator(led),
		),
		Voting: voting.NewService(store, log,
			voting.WithClock(now),
			voting.WithAddressValidator(led),
		),
		Distribution: distribution.NewEngine(store, led, distribution.DefaultConfig(), log,
			distribution.WithJournal(journal),
			distribution.WithClock(now),
		),
		Journal:  journal,
		Balances: led,
		Monitor:  escrow.NewMonitor(store, led, led.VaultAddress(), log),
	}
	return &testAPI{
		handler: NewServer(deps, opts, log).Handler(),
		ledger:  led,
		journal: journal,
	}
}

func (a *testAPI) do(t *testing.T, method, path, wallet, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if wallet != "" {
		req.Header.Set(WalletHeader, wallet)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[errorBody](t, rec)
	assert.Equal(t, code, body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
}

// seedFund creates a fund of 10 with two slots and three applicants a, b
// and c. Votes leave a with two, c with one and b with none.
func (a *testAPI) seedFund(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/funds", sponsor,
		`{"name":"Merit","description":"STEM","totalAmount":"10","slots":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[fundBody](t, rec).ID

	for _, w := range []string{"a", "b", "c"} {
		rec = a.do(t, http.MethodPost, "/v1/funds/"+id+"/apply", w,
			`{"name":"Student `+w+`","gpa":3.5,"portfolioLink":"https://example.org/`+w+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	for _, v := range []struct {
		voter     string
		applicant int
	}{{"v1", 0}, {"v2", 0}, {"v1", 2}} {
		rec = a.do(t, http.MethodPost, "/v1/funds/"+id+"/vote", v.voter,
			fmt.Sprintf(`{"applicantId":%d}`, v.applicant))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return id
}

func TestFundLifecycle(t *testing.T) {
	api := newTestAPI(t, DefaultOptions())
	id := api.seedFund(t)

	rec := api.do(t, http.MethodGet, "/v1/funds/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	fund := decode[fundBody](t, rec)
	assert.Equal(t, "Merit", fund.Name)
	assert.Equal(t, sponsor, fund.Owner)
	assert.Equal(t, "Active", fund.Status)
	assert.True(t, decimal.RequireFromString("0.5").Equal(fund.PlatformFee))
	require.Len(t, fund.Applications, 3)
	assert.Equal(t, 2, fund.Applications[0].VoteCount)
	assert.Equal(t, []string{"v1", "v2"}, fund.Applications[0].Voters)
	assert.Equal(t, []string{}, fund.Applications[1].Voters)
	assert.Nil(t, fund.Distribution)

	rec = api.do(t, http.MethodGet, "/v1/funds/"+id+"/ranking", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rk := decode[rankingBody](t, rec)
	assert.Equal(t, 2, rk.Winners)
	assert.False(t, rk.Frozen)
	require.Len(t, rk.Ranking, 3)
	assert.Equal(t, []int{0, 2, 1}, []int{rk.Ranking[0].ApplicantID, rk.Ranking[1].ApplicantID, rk.Ranking[2].ApplicantID})
	assert.True(t, rk.Ranking[1].Winner)
	assert.False(t, rk.Ranking[2].Winner)

	rec = api.do(t, http.MethodPost, "/v1/funds/"+id+"/distribute", "v1", "")
	assertError(t, rec, http.StatusForbidden, "NOT_OWNER")

	rec = api.do(t, http.MethodPost, "/v1/funds/"+id+"/distribute", sponsor, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[distributeBody](t, rec)
	assert.True(t, res.Complete)
	assert.Equal(t, "Completed", res.FundStatus)
	assert.True(t, decimal.NewFromInt(5).Equal(res.PerPersonAmount))
	require.Len(t, res.Winners, 2)
	assert.Equal(t, "a", res.Winners[0].Wallet)
	assert.Equal(t, "c", res.Winners[1].Wallet)
	assert.Equal(t, "Paid", res.Winners[1].Status)
	assert.NotEmpty(t, res.Winners[0].TxRef)

	rec = api.do(t, http.MethodGet, "/v1/ledger/balance/c", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.NewFromInt(5).Equal(decode[balanceBody](t, rec).Balance))

	rec = api.do(t, http.MethodGet, "/v1/funds/"+id+"/payouts", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payouts struct {
		FundID string            `json:"fundId"`
		Events []payoutEventBody `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payouts))
	assert.Equal(t, id, payouts.FundID)
	assert.Len(t, payouts.Events, 2)

	rec = api.do(t, http.MethodPost, "/v1/funds/"+id+"/vote", "v3", `{"applicantId":1}`)
	assertError(t, rec, http.StatusConflict, "FUND_CLOSED")

	rec = api.do(t, http.MethodPost, "/v1/funds/"+id+"/distribute", sponsor, "")
	assertError(t, rec, http.StatusConflict, "FUND_CLOSED")
}

func TestListFunds(t *testing.T) {
	api := newTestAPI(t, DefaultOptions())
	api.seedFund(t)
	rec := api.do(t, http.MethodPost, "/v1/funds", "other", `{"name":"Arts","totalAmount":3,"slots":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	type list struct {
		Funds []fundSummary `json:"funds"`
	}

	rec = api.do(t, http.MethodGet, "/v1/funds", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[list](t, rec)
	require.Len(t, all.Funds, 2)
	assert.Equal(t, "Merit", all.Funds[0].Name)
	assert.Equal(t, 3, all.Funds[0].ApplicantCount)

	rec = api.do(t, http.MethodGet, "/v1/funds?owner=other", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[list](t, rec).Funds, 1)

	rec = api.do(t, http.MethodGet, "/v1/funds?status=completed", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[list](t, rec).Funds)

	rec = api.do(t, http.MethodGet, "/v1/funds?status=Frozen", "", "")
	assertError(t, rec, http.StatusBadRequest, codeInvalidRequest)
}

func TestRequestErrors(t *testing.T) {
	api := newTestAPI(t, DefaultOptions())
	id := api.seedFund(t)

	tests := []struct {
		name   string
		method string
		path   string
		wallet string
		body   string
		status int
		code   string
	}{
		{"create without caller", http.MethodPost, "/v1/funds", "", `{"name":"X","totalAmount":"1","slots":1}`, http.StatusUnauthorized, "WALLET_REQUIRED"},
		{"create zero amount", http.MethodPost, "/v1/funds", sponsor, `{"name":"X","totalAmount":"0","slots":1}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"create zero slots", http.MethodPost, "/v1/funds", sponsor, `{"name":"X","totalAmount":"1","slots":0}`, http.StatusBadRequest, "INVALID_SLOTS"},
		{"create unknown field", http.MethodPost, "/v1/funds", sponsor, `{"name":"X","totalAmount":"1","slots":1,"owner":"me"}`, http.StatusBadRequest, codeInvalidRequest},
		{"create malformed json", http.MethodPost, "/v1/funds", sponsor, `{"name":`, http.StatusBadRequest, codeInvalidRequest},
		{"create empty body", http.MethodPost, "/v1/funds", sponsor, "", http.StatusBadRequest, codeInvalidRequest},
		{"create trailing data", http.MethodPost, "/v1/funds", sponsor, `{"name":"X","totalAmount":"1","slots":1}{}`, http.StatusBadRequest, codeInvalidRequest},
		{"unknown fund", http.MethodGet, "/v1/funds/nope", "", "", http.StatusNotFound, "FUND_NOT_FOUND"},
		{"ranking unknown fund", http.MethodGet, "/v1/funds/nope/ranking", "", "", http.StatusNotFound, "FUND_NOT_FOUND"},
		{"payouts unknown fund", http.MethodGet, "/v1/funds/nope/payouts", "", "", http.StatusNotFound, "FUND_NOT_FOUND"},
		{"apply missing gpa", http.MethodPost, "/v1/funds/" + id + "/apply", "d", `{"name":"D"}`, http.StatusBadRequest, codeInvalidRequest},
		{"apply bad gpa", http.MethodPost, "/v1/funds/" + id + "/apply", "d", `{"name":"D","gpa":4.5}`, http.StatusBadRequest, "INVALID_GPA"},
		{"apply twice", http.MethodPost, "/v1/funds/" + id + "/apply", "a", `{"name":"A","gpa":3}`, http.StatusConflict, "DUPLICATE_APPLICATION"},
		{"apply without wallet", http.MethodPost, "/v1/funds/" + id + "/apply", "", `{"name":"A","gpa":3}`, http.StatusUnauthorized, "WALLET_REQUIRED"},
		{"apply unknown fund", http.MethodPost, "/v1/funds/nope/apply", "d", `{"name":"D","gpa":3}`, http.StatusNotFound, "FUND_NOT_FOUND"},
		{"vote without voter", http.MethodPost, "/v1/funds/" + id + "/vote", "", `{"applicantId":0}`, http.StatusUnauthorized, "VOTER_REQUIRED"},
		{"vote twice", http.MethodPost, "/v1/funds/" + id + "/vote", "v1", `{"applicantId":0}`, http.StatusConflict, "DUPLICATE_VOTE"},
		{"vote unknown applicant", http.MethodPost, "/v1/funds/" + id + "/vote", "v1", `{"applicantId":9}`, http.StatusNotFound, "APPLICANT_NOT_FOUND"},
		{"vote missing applicant", http.MethodPost, "/v1/funds/" + id + "/vote", "v1", `{}`, http.StatusBadRequest, codeInvalidRequest},
		{"distribute without caller", http.MethodPost, "/v1/funds/" + id + "/distribute", "", "", http.StatusForbidden, "NOT_OWNER"},
		{"distribute wrong winners", http.MethodPost, "/v1/funds/" + id + "/distribute", sponsor, `{"winners":[{"wallet":"b"},{"wallet":"a"}]}`, http.StatusConflict, "WINNER_MISMATCH"},
		{"unknown route", http.MethodGet, "/v1/nothing", "", "", http.StatusNotFound, codeRouteNotFound},
		{"wrong method", http.MethodDelete, "/v1/funds/" + id, "", "", http.StatusMethodNotAllowed, codeMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.wallet, tt.body)
			assertError(t, rec, tt.status, tt.code)
		})
	}

	// None of the rejected requests changed the fund.
	rec := api.do(t, http.MethodGet, "/v1/funds/"+id, "", "")
	fund := decode[fundBody](t, rec)
	assert.Len(t, fund.Applications, 3)
	assert.Equal(t, 2, fund.Applications[0].VoteCount)
	assert.Equal(t, "Active", fund.Status)
}

func TestApply_CallerWalletIsApplicant(t *testing.T) {
	api := newTestAPI(t, DefaultOptions())
	id := api.seedFund(t)
	path := "/v1/funds/" + id + "/apply"

	// A body cannot name a different applicant wallet.
	for _, w := range []string{"dana", "sock1", "sock2"} {
		rec := api.do(t, http.MethodPost, path, "mallory",
			`{"name":"Dana","gpa":3.9,"applicantWallet":"`+w+`"}`)
		assertError(t, rec, http.StatusBadRequest, "INVALID_REQUEST")
	}

	rec := api.do(t, http.MethodPost, path, "", `{"name":"Dana","gpa":3.9}`)
	assertError(t, rec, http.StatusUnauthorized, "WALLET_REQUIRED")

	rec = api.do(t, http.MethodPost, path, "dana", `{"name":"Dana","gpa":0}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	app := decode[applicantBody](t, rec)
	assert.Equal(t, 3, app.ID)
	assert.Equal(t, "dana", app.ApplicantWallet)
	assert.Zero(t, app.VoteCount)

	rec = api.do(t, http.MethodGet, "/v1/funds/"+id, "", "")
	fund := decode[fundBody](t, rec)
	require.Len(t, fund.Applications, 4)
	for _, a := range fund.Applications {
		assert.NotEqual(t, "mallory", a.ApplicantWallet)
	}
}

func TestVote_ReturnsCounters(t *testing.T) {
	api := newTestAPI(t, DefaultOptions())
	id := api.seedFund(t)

	rec := api.do(t, http.MethodPost, "/v1/funds/"+id+"/vote", "b", `{"applicantId":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[voteBody](t, rec)
	assert.Equal(t, id, v.FundID)
	assert.Equal(t, 1, v.ApplicantID)
	assert.Equal(t, 1, v.VoteCount)
	assert.Positive(t, v.LastVoteTimestamp)
}

func TestDistribute_PartialFailureCarriesResult(t *testing.T) {
	api := newTestAPI(t, DefaultOptions())
	id := api.seedFund(t)
	api.ledger.FailOnCall[2] = errors.New("rpc unavailable")

	rec := api.do(t, http.MethodPost, "/v1/funds/"+id+"/distribute", sponsor, `{"winners":[{"wallet":"a","amount":"5"},{"wallet":"c"}]}`)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	body := decode[errorBody](t, rec)
	assert.Equal(t, "TRANSFER_FAILED", body.Error.Code)
	require.NotNil(t, body.Result)
	assert.False(t, body.Result.Complete)
	assert.Equal(t, "Active", body.Result.FundStatus)
	require.Len(t, body.Result.Winners, 2)
	assert.Equal(t, "Paid", body.Result.Winners[0].Status)
	assert.Equal(t, "Failed", body.Result.Winners[1].Status)
	assert.Contains(t, body.Result.Winners[1].Error, "rpc unavailable")

	rec = api.do(t, http.MethodGet, "/v1/funds/"+id+"/ranking", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[rankingBody](t, rec).Frozen)

	rec = api.do(t, http.MethodPost, "/v1/funds/"+id+"/distribute", sponsor, "{}")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[distributeBody](t, rec)
	assert.True(t, res.Complete)
	assert.Equal(t, 2, res.Attempt)

	transfers := api.ledger.Transfers()
	require.Len(t, transfers, 2, "the paid winner is not paid twice")
	assert.Equal(t, "a", transfers[0].To)
	assert.Equal(t, "c", transfers[1].To)
}

func TestSolvency(t *testing.T) {
	api := newTestAPI(t, DefaultOptions())
	api.seedFund(t)

	rec := api.do(t, http.MethodGet, "/v1/escrow/solvency", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sol := decode[solvencyBody](t, rec)
	assert.Equal(t, "vault", sol.VaultAddress)
	assert.True(t, decimal.NewFromInt(10).Equal(sol.Outstanding))
	assert.Equal(t, 1, sol.ActiveFunds)
	assert.True(t, sol.Solvent)
}

func TestOptionalRoutes(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := memory.NewFundStore()
	led := stub.NewLedger("vault", decimal.Zero)
	h := NewServer(Deps{
		Escrow:       escrow.NewService(store, log),
		Voting:       voting.NewService(store, log),
		Distribution: distribution.NewEngine(store, led, distribution.DefaultConfig(), log),
	}, DefaultOptions(), log).Handler()

	for _, path := range []string{"/v1/funds/x/payouts", "/v1/ledger/balance/a", "/v1/escrow/solvency"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestBodyLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBodyBytes = 64
	api := newTestAPI(t, opts)

	long := `{"name":"` + strings.Repeat("x", 100) + `","totalAmount":"1","slots":1}`
	rec := api.do(t, http.MethodPost, "/v1/funds", sponsor, long)
	assertError(t, rec, http.StatusRequestEntityTooLarge, codeRequestTooLarge)
}

func TestRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.RateLimitRPS = 0.001
	opts.RateLimitBurst = 1
	api := newTestAPI(t, opts)

	rec := api.do(t, http.MethodGet, "/v1/funds", "w1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/funds", "w1", "")
	assertError(t, rec, http.StatusTooManyRequests, codeRateLimited)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = api.do(t, http.MethodGet, "/v1/funds", "w2", "")
	assert.Equal(t, http.StatusOK, rec.Code, "buckets are per caller")

	for i := 0; i < 3; i++ {
		rec = api.do(t, http.MethodGet, "/health", "w1", "")
		assert.Equal(t, http.StatusOK, rec.Code, "health is not limited")
	}
}

func TestRateLimiter_RotatingKeysKeepActiveBuckets(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	clock := time.UnixMilli(1_700_000_000_000)
	rl := newRateLimiter(0.001, 1, log)
	rl.capacity = 4
	rl.now = func() time.Time { return clock }

	require.True(t, rl.limiter("w1").Allow())
	require.False(t, rl.limiter("w1").Allow())

	for i := 0; i < 50; i++ {
		clock = clock.Add(time.Second)
		assert.True(t, rl.limiter(fmt.Sprintf("rotated-%d", i)).Allow())
		assert.False(t, rl.limiter("w1").Allow(), "round %d: the active caller stays limited", i)
		assert.LessOrEqual(t, len(rl.limiters), rl.capacity)
	}

	// Idle buckets go first once the map is full.
	clock = clock.Add(limiterIdle + time.Minute)
	rl.limiter("fresh")
	assert.Len(t, rl.limiters, 1)
}

func TestCORS(t *testing.T) {
	opts := DefaultOptions()
	opts.CORSOrigins = []string{"https://app.example"}
	api := newTestAPI(t, opts)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/v1/funds", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://app.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), WalletHeader)

	rec = preflight("https://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/v1/funds", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assertError(t, rec, http.StatusForbidden, "CORS_ORIGIN_NOT_ALLOWED")

	// Requests without Origin are not browser cross-origin requests.
	rec = api.do(t, http.MethodGet, "/v1/funds", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, DefaultOptions())
	api.seedFund(t)

	rec := api.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = api.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/v1/funds/{id}/vote"`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrFundNotFound, http.StatusNotFound},
		{domain.ErrApplicantNotFound, http.StatusNotFound},
		{domain.ErrDuplicateVote, http.StatusConflict},
		{domain.ErrDistributionInProgress, http.StatusConflict},
		{domain.ErrNotOwner, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", domain.ErrNotOwner), http.StatusForbidden},
		{domain.ErrInvalidGPA, http.StatusBadRequest},
		{domain.ErrVoterRequired, http.StatusUnauthorized},
		{domain.ErrWalletRequired, http.StatusUnauthorized},
		{domain.ErrTransferFailed, http.StatusBadGateway},
		{upstream(errors.New("rpc down")), http.StatusBadGateway},
		{badRequest("bad"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}

	assert.Equal(t, errorDetail{Code: codeInternal, Message: "internal error"}, errorDetailFor(errors.New("pq: secret")))
	assert.Equal(t, codeUpstream, errorDetailFor(upstream(errors.New("rpc down"))).Code)
}

func TestDecodeJSON_AllowEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	var dst distributeRequest
	require.NoError(t, decodeJSON(httptest.NewRecorder(), req, 1024, &dst, true))
	assert.Nil(t, dst.Winners)
}
