package x402_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/fastx402/x402-go"
	"github.com/fastx402/x402-go/eip712"
)

// Full protocol exchange over real HTTP with real signatures: challenge,
// sign, retry, grant, then replay rejection.
func TestEndToEnd(t *testing.T) {
	cfg := x402.Config{
		Merchant: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		EndpointPricing: map[string]x402.PricingRule{
			"/paid": {Price: "0.01", Description: "API access fee"},
		},
	}
	srv, err := x402.NewServer(cfg, eip712.NewVerifier(), x402.NewMemoryLedger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/paid", func(w http.ResponseWriter, r *http.Request) {
		payment, err := x402.RequirePayment(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write([]byte("paid by " + payment.Signer))
	})
	ts := httptest.NewServer(srv.Middleware()(mux))
	defer ts.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer := eip712.NewKeySignerFromKey(key)

	// Capture the proof the client sends so the replay can reuse it.
	var sentProof string
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if h := req.Header.Get(x402.HeaderPayment); h != "" {
			sentProof = h
		}
		return http.DefaultTransport.RoundTrip(req)
	})

	client := x402.NewClient(signer, x402.WithHTTPClient(&http.Client{Transport: transport}))

	resp, err := client.Get(context.Background(), ts.URL+"/paid")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if want := "paid by " + signer.Address(); string(body) != want {
		t.Errorf("want %q, got %q", want, body)
	}
	if sentProof == "" {
		t.Fatal("client never sent a proof")
	}

	// Replaying the consumed proof yields a fresh 402 naming the reuse.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/paid", nil)
	req.Header.Set(x402.HeaderPayment, sentProof)
	replay, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("replay request: %v", err)
	}
	defer replay.Body.Close()

	if replay.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("replay: expected 402, got %d", replay.StatusCode)
	}
	var rejection x402.PaymentRequiredResponse
	if err := json.NewDecoder(replay.Body).Decode(&rejection); err != nil {
		t.Fatalf("decode replay body: %v", err)
	}
	if !strings.Contains(rejection.Error, "nonce_reused") {
		t.Errorf("expected nonce_reused rejection, got %q", rejection.Error)
	}
	if rejection.Nonce == "" {
		t.Error("rejection must carry a fresh challenge")
	}
}

// A signature from one merchant's challenge never authorizes another
// merchant, even with an otherwise identical configuration.
func TestEndToEnd_CrossMerchantReplay(t *testing.T) {
	newServer := func(merchant string) *httptest.Server {
		cfg := x402.Config{
			Merchant:        merchant,
			EndpointPricing: map[string]x402.PricingRule{"/paid": {Price: "0.01"}},
		}
		srv, err := x402.NewServer(cfg, eip712.NewVerifier(), x402.NewMemoryLedger())
		if err != nil {
			t.Fatalf("NewServer: %v", err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/paid", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		})
		return httptest.NewServer(srv.Middleware()(mux))
	}

	merchantA := newServer("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	defer merchantA.Close()
	merchantB := newServer("0x0000000000000000000000000000000000000001")
	defer merchantB.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer := eip712.NewKeySignerFromKey(key)

	// Obtain and sign a challenge from merchant A.
	resp, err := http.Get(merchantA.URL + "/paid")
	if err != nil {
		t.Fatalf("challenge request: %v", err)
	}
	challenge, err := x402.ReadChallenge(resp)
	if err != nil {
		t.Fatalf("ReadChallenge: %v", err)
	}
	signature, err := signer.SignChallenge(context.Background(), challenge)
	if err != nil {
		t.Fatalf("SignChallenge: %v", err)
	}

	// Rebind the signed challenge to merchant B and present it there.
	forged := *challenge
	forged.Merchant = "0x0000000000000000000000000000000000000001"
	header, err := x402.EncodeProof(&x402.Proof{Challenge: forged, Signature: *signature})
	if err != nil {
		t.Fatalf("EncodeProof: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, merchantB.URL+"/paid", nil)
	req.Header.Set(x402.HeaderPayment, header)
	cross, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cross-merchant request: %v", err)
	}
	defer cross.Body.Close()

	if cross.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", cross.StatusCode)
	}
	var rejection x402.PaymentRequiredResponse
	if err := json.NewDecoder(cross.Body).Decode(&rejection); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if !strings.Contains(rejection.Error, "invalid_signature") {
		t.Errorf("expected invalid_signature rejection, got %q", rejection.Error)
	}
}

// A client cannot mint its own cut-price challenge: the merchant address is
// public, so a correctly signed self-issued challenge must still be rejected
// when its terms differ from the route's pricing rule.
func TestEndToEnd_SelfIssuedChallengeRejected(t *testing.T) {
	cfg := x402.Config{
		Merchant: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		EndpointPricing: map[string]x402.PricingRule{
			"/paid": {Price: "0.01"},
		},
	}
	srv, err := x402.NewServer(cfg, eip712.NewVerifier(), x402.NewMemoryLedger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/paid", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	ts := httptest.NewServer(srv.Middleware()(mux))
	defer ts.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer := eip712.NewKeySignerFromKey(key)

	now := time.Now().Unix()
	forged := x402.Challenge{
		Price:     "0",
		Currency:  "USDC",
		ChainID:   8453,
		Merchant:  cfg.Merchant,
		Nonce:     "00000000000000000000000000000001",
		IssuedAt:  now,
		ExpiresAt: now + 300,
	}
	signature, err := signer.SignChallenge(context.Background(), &forged)
	if err != nil {
		t.Fatalf("SignChallenge: %v", err)
	}
	header, err := x402.EncodeProof(&x402.Proof{Challenge: forged, Signature: *signature})
	if err != nil {
		t.Fatalf("EncodeProof: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/paid", nil)
	req.Header.Set(x402.HeaderPayment, header)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	var rejection x402.PaymentRequiredResponse
	if err := json.NewDecoder(resp.Body).Decode(&rejection); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if !strings.Contains(rejection.Error, "malformed") {
		t.Errorf("expected malformed rejection, got %q", rejection.Error)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
