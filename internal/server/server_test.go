package server

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crowdcoin/internal/campaign"
	"crowdcoin/internal/chain"
	"crowdcoin/internal/config"
	"crowdcoin/internal/contract"
	"crowdcoin/internal/devchain"
	"crowdcoin/internal/session"
	"crowdcoin/internal/txlog"
	"crowdcoin/internal/view"
)

var oneEther = big.NewInt(1_000_000_000_000_000_000)

type harness struct {
	srv      *Server
	svc      *campaign.Service
	accounts []common.Address
	ts       *httptest.Server
	client   *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	backend, err := devchain.New()
	if err != nil {
		t.Fatalf("devchain: %v", err)
	}
	conn, err := chain.Connect(ctx, chain.Options{Mode: chain.ModeDev, Accounts: 3, Backend: backend}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	accounts, err := conn.Accounts(ctx)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	for _, a := range accounts {
		backend.Fund(a, new(big.Int).Mul(big.NewInt(100), oneEther))
	}
	factory := backend.DeployFactory(accounts[0])

	metrics := NewMetrics()
	journal := txlog.NewMemoryStore()
	svc, err := campaign.New(ctx, conn,
		contract.NewFactory(conn, contract.WithReceiptPoll(time.Millisecond), contract.WithObserver(metrics)),
		factory.Hex(), campaign.WithJournal(journal, time.Hour))
	if err != nil {
		t.Fatalf("campaign service: %v", err)
	}

	cfg := &config.AppConfig{
		Service: config.ServiceConfig{RefreshInterval: time.Second},
		Chain:   config.ChainConfig{CallTimeout: 10 * time.Second},
	}
	srv := NewServer(cfg, Deps{
		Service:  svc,
		Chain:    conn,
		Sessions: session.NewManager("test-secret", time.Hour, time.Hour, nil),
		Metrics:  metrics,
		Journal:  journal,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})

	jar, _ := cookiejar.New(nil)
	return &harness{
		srv:      srv,
		svc:      svc,
		accounts: accounts,
		ts:       ts,
		client:   &http.Client{Jar: jar, Timeout: 15 * time.Second},
	}
}

func (h *harness) newCampaign(t *testing.T, minimum string) *campaign.Campaign {
	t.Helper()
	ctx := context.Background()
	if _, err := h.svc.CreateCampaign(ctx, minimum, common.Address{}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	addrs, err := h.svc.GetCampaigns(ctx)
	if err != nil || len(addrs) == 0 {
		t.Fatalf("campaigns: %v %v", addrs, err)
	}
	c, err := h.svc.GetCampaignByAddress(ctx, addrs[len(addrs)-1].Hex())
	if err != nil {
		t.Fatalf("bind campaign: %v", err)
	}
	return c
}

func (h *harness) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := h.client.Get(h.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return readBody(t, resp)
}

func (h *harness) post(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := h.client.PostForm(h.ts.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return readBody(t, resp)
}

// pollUntil re-fetches path until the body contains want.
func (h *harness) pollUntil(t *testing.T, path, want string) string {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var body string
	for time.Now().Before(deadline) {
		_, body = h.get(t, path)
		if strings.Contains(body, want) {
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s never contained %q; last body:\n%s", path, want, body)
	return ""
}

func readBody(t *testing.T, resp *http.Response) (int, string) {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func TestIndexListsCampaigns(t *testing.T) {
	h := newHarness(t)
	c := h.newCampaign(t, "100")

	code, body := h.get(t, "/")
	if code != http.StatusOK {
		t.Fatalf("expected 200 got %d", code)
	}
	if !strings.Contains(body, c.Address.Hex()) {
		t.Fatalf("index does not list %s", c.Address.Hex())
	}
	if !strings.Contains(body, "/campaigns/"+c.Address.Hex()) {
		t.Fatalf("index does not link to the campaign")
	}
}

func TestCreateCampaignForm(t *testing.T) {
	h := newHarness(t)

	code, body := h.post(t, "/campaigns/new", url.Values{"minContribution": {"abc"}})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", code)
	}
	if !strings.Contains(body, "Oops!") {
		t.Fatalf("expected error banner, got:\n%s", body)
	}

	code, body = h.post(t, "/campaigns/new", url.Values{"minContribution": {"100"}})
	if code != http.StatusOK {
		t.Fatalf("expected redirect to index, got %d", code)
	}
	addrs, err := h.svc.GetCampaigns(context.Background())
	if err != nil || len(addrs) != 1 {
		t.Fatalf("expected one campaign, got %v %v", addrs, err)
	}
	if !strings.Contains(body, addrs[0].Hex()) {
		t.Fatalf("index after create does not list the campaign")
	}
}

func TestShowUnknownCampaignRendersNotFound(t *testing.T) {
	h := newHarness(t)

	for _, addr := range []string{"not-an-address", h.accounts[1].Hex()} {
		code, body := h.get(t, "/campaigns/"+addr)
		if code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 got %d", addr, code)
		}
		if !strings.Contains(body, "Could not find campaign details for address") {
			t.Fatalf("%s: missing not found message", addr)
		}
	}
}

func TestShowCampaignSummary(t *testing.T) {
	h := newHarness(t)
	c := h.newCampaign(t, "250")

	code, body := h.get(t, "/campaigns/"+c.Address.Hex())
	if code != http.StatusOK {
		t.Fatalf("expected 200 got %d", code)
	}
	for _, want := range []string{h.accounts[0].Hex(), "250", "Minimum Contribution (wei)", "Contribute!"} {
		if !strings.Contains(body, want) {
			t.Fatalf("summary page missing %q", want)
		}
	}
	if strings.Contains(body, `http-equiv="refresh"`) {
		t.Fatalf("idle page should not refresh itself")
	}
}

func TestContributeShowsSuccessBanner(t *testing.T) {
	h := newHarness(t)
	c := h.newCampaign(t, "100")
	path := "/campaigns/" + c.Address.Hex()

	ok, err := h.svc.IsApprover(context.Background(), c, h.accounts[0])
	if err != nil || ok {
		t.Fatalf("account must not be an approver before contributing: %v %v", ok, err)
	}

	h.get(t, path)
	code, _ := h.post(t, path+"/contribute", url.Values{"value": {"1.5"}})
	if code != http.StatusOK {
		t.Fatalf("expected redirect to the campaign page, got %d", code)
	}
	h.pollUntil(t, pollURL(path), view.ContributeSuccessMessage)

	ok, err = h.svc.IsApprover(context.Background(), c, h.accounts[0])
	if err != nil || !ok {
		t.Fatalf("contributor should be an approver: %v %v", ok, err)
	}
	sum, err := h.svc.GetCampaignSummary(context.Background(), c)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := new(big.Int).Div(new(big.Int).Mul(big.NewInt(3), oneEther), big.NewInt(2))
	if sum.Balance.Cmp(want) != 0 {
		t.Fatalf("expected balance %s got %s", want, sum.Balance)
	}
	if sum.NumApprovers.Int64() != 1 {
		t.Fatalf("expected 1 approver got %s", sum.NumApprovers)
	}
}

func TestContributeBelowMinimumShowsError(t *testing.T) {
	h := newHarness(t)
	c := h.newCampaign(t, "1000000000000000000000")
	path := "/campaigns/" + c.Address.Hex()

	h.get(t, path)
	h.post(t, path+"/contribute", url.Values{"value": {"1"}})
	body := h.pollUntil(t, pollURL(path), "Oops!")
	if strings.Contains(body, view.ContributeSuccessMessage) {
		t.Fatalf("rejected contribution must not show success")
	}
	if !strings.Contains(body, "contribution below minimum") {
		t.Fatalf("expected the revert reason in the banner")
	}
	if ok, err := h.svc.IsApprover(context.Background(), c, h.accounts[0]); err != nil || ok {
		t.Fatalf("rejected contributor must not be an approver: %v %v", ok, err)
	}
}

func TestApproveAndFinalizeFromRequestsPage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.newCampaign(t, "100")

	if _, err := h.svc.Contribute(ctx, c, oneEther, h.accounts[0]); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	_, err := h.svc.CreateCampaignRequest(ctx, c, campaign.RequestInput{
		Description: "buy batteries",
		Amount:      "0.25",
		Recipient:   h.accounts[2].Hex(),
	}, h.accounts[0])
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	path := requestsPath(c.Address)
	code, body := h.get(t, path)
	if code != http.StatusOK {
		t.Fatalf("expected 200 got %d", code)
	}
	if !strings.Contains(body, "buy batteries") || !strings.Contains(body, "0.25") {
		t.Fatalf("request row missing:\n%s", body)
	}

	h.post(t, path+"/0/approve", nil)
	h.pollUntil(t, pollURL(path), "Approved")
	// the row reload after approval carries the new count
	h.pollUntil(t, pollURL(path), "1/1")

	h.post(t, path+"/0/finalize", nil)
	h.pollUntil(t, pollURL(path), "Finalized")

	reqs, err := h.svc.GetCampaignRequests(ctx, c)
	if err != nil || len(reqs) != 1 || !reqs[0].IsComplete {
		t.Fatalf("request should be complete: %+v %v", reqs, err)
	}

	records, err := h.svc.Journal(ctx, 10)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	_, body = h.get(t, "/transactions")
	for _, r := range records {
		if !strings.Contains(body, r.TxHash) {
			t.Fatalf("transactions page missing %s", r.TxHash)
		}
	}
}

func TestSelectAccount(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.PostForm(h.ts.URL+"/account", url.Values{"account": {"0x000000000000000000000000000000000000dEaD"}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if code, _ := readBody(t, resp); code != http.StatusForbidden {
		t.Fatalf("expected 403 for an unknown account, got %d", code)
	}

	code, body := h.post(t, "/account", url.Values{"account": {h.accounts[1].Hex()}})
	if code != http.StatusOK {
		t.Fatalf("expected redirect to index, got %d", code)
	}
	if !strings.Contains(body, `value="`+h.accounts[1].Hex()+`" selected`) {
		t.Fatalf("selected account not reflected in the selector")
	}
}

func TestAPISummaryUsesDecimalStrings(t *testing.T) {
	h := newHarness(t)
	c := h.newCampaign(t, "100")

	resp, err := h.client.Get(h.ts.URL + "/api/v1/campaigns/" + c.Address.Hex())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["minimumContribution"] != "100" {
		t.Fatalf("expected minimumContribution \"100\" got %#v", out["minimumContribution"])
	}
	if out["balance"] != "0" {
		t.Fatalf("expected balance \"0\" got %#v", out["balance"])
	}
	if out["manager"] != h.accounts[0].Hex() {
		t.Fatalf("unexpected manager %#v", out["manager"])
	}
}

func TestAPIUnknownCampaignIs404(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Get(h.ts.URL + "/api/v1/campaigns/" + h.accounts[1].Hex() + "/requests")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var out struct {
		Status string `json:"status"`
		RPC    struct {
			Connected bool   `json:"connected"`
			Mode      string `json:"mode"`
		} `json:"rpc"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "healthy" || !out.RPC.Connected || out.RPC.Mode != "dev" {
		t.Fatalf("unexpected health %+v", out)
	}
}

func TestMetricsCountContractCalls(t *testing.T) {
	h := newHarness(t)
	h.newCampaign(t, "100")
	h.get(t, "/")

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"crowdcoin_contract_calls_total", "crowdcoin_http_requests_total", "crowdcoin_active_sessions"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s", want)
		}
	}
}
