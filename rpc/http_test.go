package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lendvault/core"
	"lendvault/crypto"
	"lendvault/eventlog"
	"lendvault/native/vault"
	"lendvault/rpc/modules"
	"lendvault/storage"
)

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func newTestServer(t *testing.T) (*Server, crypto.Address, *httptest.Server) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate owner key: %v", err)
	}
	owner := key.PubKey().Address()
	node := core.NewNode(storage.NewMemDB(), owner, vault.DefaultRiskParameters(), eventlog.NewMemoryLog())
	server := NewServer(node)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return server, owner, ts
}

func post(t *testing.T, ts *httptest.Server, token, method string, params ...interface{}) (*http.Response, *rpcEnvelope) {
	t.Helper()
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}
	if params == nil {
		request["params"] = []interface{}{}
	}
	payload, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", method, err)
	}
	defer resp.Body.Close()

	envelope := &rpcEnvelope{}
	if err := json.NewDecoder(resp.Body).Decode(envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, envelope
}

func TestHealthz(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestVaultLifecycleOverRPC(t *testing.T) {
	_, owner, ts := newTestServer(t)

	borrowerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate borrower key: %v", err)
	}
	borrower := borrowerKey.PubKey().Address().String()
	ownerStr := owner.String()

	steps := []struct {
		method string
		params map[string]string
	}{
		{"vault_mintCollateral", map[string]string{"caller": ownerStr, "recipient": borrower, "amount": "1000"}},
		{"vault_fundTreasury", map[string]string{"caller": ownerStr, "amount": "10000"}},
		{"vault_depositCollateral", map[string]string{"account": borrower, "amount": "1000"}},
		{"vault_borrow", map[string]string{"account": borrower, "amount": "500"}},
	}
	for _, step := range steps {
		resp, envelope := post(t, ts, "", step.method, step.params)
		if envelope.Error != nil {
			t.Fatalf("%s failed: %+v", step.method, envelope.Error)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", step.method, resp.StatusCode)
		}
	}

	_, envelope := post(t, ts, "", "vault_getPosition", map[string]string{"account": borrower})
	if envelope.Error != nil {
		t.Fatalf("get position: %+v", envelope.Error)
	}
	var position modules.PositionView
	if err := json.Unmarshal(envelope.Result, &position); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if position.Collateral != "1000" || position.RemainingDebt != "500" {
		t.Fatalf("unexpected position: %+v", position)
	}

	_, envelope = post(t, ts, "", "vault_generateYield", map[string]string{"amount": "200"})
	if envelope.Error != nil {
		t.Fatalf("generate yield: %+v", envelope.Error)
	}
	var distribution modules.DistributionView
	if err := json.Unmarshal(envelope.Result, &distribution); err != nil {
		t.Fatalf("decode distribution: %v", err)
	}
	if distribution.TotalYield != "200" || distribution.UsersProcessed != 1 {
		t.Fatalf("unexpected distribution: %+v", distribution)
	}

	_, envelope = post(t, ts, "", "vault_getTotals")
	if envelope.Error != nil {
		t.Fatalf("get totals: %+v", envelope.Error)
	}
	var totals modules.TotalsView
	if err := json.Unmarshal(envelope.Result, &totals); err != nil {
		t.Fatalf("decode totals: %v", err)
	}
	if totals.TotalDebt != "300" || totals.BorrowersCount != 1 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	_, envelope = post(t, ts, "", "vault_getEvents", map[string]uint64{"after": 0})
	if envelope.Error != nil {
		t.Fatalf("get events: %+v", envelope.Error)
	}
	var events []json.RawMessage
	if err := json.Unmarshal(envelope.Result, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
}

func TestBorrowBeyondLTVReturnsConflict(t *testing.T) {
	_, owner, ts := newTestServer(t)

	borrowerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate borrower key: %v", err)
	}
	borrower := borrowerKey.PubKey().Address().String()
	ownerStr := owner.String()

	post(t, ts, "", "vault_mintCollateral", map[string]string{"caller": ownerStr, "recipient": borrower, "amount": "1000"})
	post(t, ts, "", "vault_fundTreasury", map[string]string{"caller": ownerStr, "amount": "10000"})
	post(t, ts, "", "vault_depositCollateral", map[string]string{"account": borrower, "amount": "1000"})

	resp, envelope := post(t, ts, "", "vault_borrow", map[string]string{"account": borrower, "amount": "501"})
	if envelope.Error == nil {
		t.Fatal("expected over-LTV borrow to fail")
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestUnauthorizedCallerRejectedByEngine(t *testing.T) {
	_, _, ts := newTestServer(t)

	strangerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	stranger := strangerKey.PubKey().Address().String()

	resp, envelope := post(t, ts, "", "vault_fundTreasury", map[string]string{"caller": stranger, "amount": "100"})
	if envelope.Error == nil {
		t.Fatal("expected non-owner funding to fail")
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if envelope.Error.Code != codeUnauthorized {
		t.Fatalf("expected code %d, got %d", codeUnauthorized, envelope.Error.Code)
	}
}

func TestBearerTokenGuardsPrivilegedMethods(t *testing.T) {
	server, owner, _ := newTestServer(t)
	server.authToken = "secret-token"
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	ownerStr := owner.String()
	params := map[string]string{"caller": ownerStr, "amount": "100"}

	resp, envelope := post(t, ts, "", "vault_fundTreasury", params)
	if envelope.Error == nil {
		t.Fatal("expected missing token to be rejected")
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp, envelope = post(t, ts, "wrong-token", "vault_fundTreasury", params)
	if envelope.Error == nil {
		t.Fatal("expected wrong token to be rejected")
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	_, envelope = post(t, ts, "secret-token", "vault_fundTreasury", params)
	if envelope.Error != nil {
		t.Fatalf("expected valid token to pass: %+v", envelope.Error)
	}
}

func TestUnknownMethodReturnsNotFound(t *testing.T) {
	_, _, ts := newTestServer(t)

	_, envelope := post(t, ts, "", "vault_unknown")
	if envelope.Error == nil {
		t.Fatal("expected unknown method error")
	}
	if envelope.Error.Code != codeMethodNotFound {
		t.Fatalf("expected code %d, got %d", codeMethodNotFound, envelope.Error.Code)
	}
}

func TestInvalidParamsRejected(t *testing.T) {
	_, _, ts := newTestServer(t)

	cases := []struct {
		name   string
		method string
		params []interface{}
	}{
		{"missing params", "vault_borrow", nil},
		{"bad address", "vault_borrow", []interface{}{map[string]string{"account": "nope", "amount": "10"}}},
		{"bad query address", "vault_getPosition", []interface{}{map[string]string{"account": "nope"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var envelope *rpcEnvelope
			if tc.params == nil {
				_, envelope = post(t, ts, "", tc.method)
			} else {
				_, envelope = post(t, ts, "", tc.method, tc.params...)
			}
			if envelope.Error == nil {
				t.Fatal("expected error")
			}
			if envelope.Error.Code != codeInvalidParams {
				t.Fatalf("expected code %d, got %d", codeInvalidParams, envelope.Error.Code)
			}
		})
	}
}

func TestZeroYieldRejected(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, envelope := post(t, ts, "", "vault_generateYield", map[string]string{"amount": "0"})
	if envelope.Error == nil {
		t.Fatal("expected zero yield to fail")
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMaxBorrowEndpoint(t *testing.T) {
	_, owner, ts := newTestServer(t)

	borrowerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate borrower key: %v", err)
	}
	borrower := borrowerKey.PubKey().Address().String()
	ownerStr := owner.String()

	post(t, ts, "", "vault_mintCollateral", map[string]string{"caller": ownerStr, "recipient": borrower, "amount": "1000"})
	post(t, ts, "", "vault_depositCollateral", map[string]string{"account": borrower, "amount": "1000"})

	_, envelope := post(t, ts, "", "vault_maxBorrow", map[string]string{"account": borrower})
	if envelope.Error != nil {
		t.Fatalf("max borrow: %+v", envelope.Error)
	}
	var result map[string]string
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result["maxBorrow"] != "500" {
		t.Fatalf("expected headroom 500, got %s", result["maxBorrow"])
	}
}
