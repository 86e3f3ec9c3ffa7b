package claim

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Hezlepinc/lead-ingestor-v2/config"
)

func testConfig(apiRoot string) *config.Config {
	return &config.Config{
		Region: config.RegionConfig{Name: "North Region", DealerID: 42},
		API:    config.APIConfig{Root: apiRoot, ClaimTimeoutMs: 2000},
	}
}

func staticTokens(token string) TokenSource {
	return func() string { return token }
}

func TestClaimSuccess(t *testing.T) {
	var gotBody claimRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/Opportunity/Claim" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCoordinator(testConfig(srv.URL), staticTokens("tok-1"))
	res := c.Claim(context.Background(), "opp-123")

	if !res.Success || res.Status != http.StatusOK {
		t.Errorf("result = %+v, want success with 200", res)
	}
	if res.Latency <= 0 {
		t.Error("latency not measured")
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody.OpportunityID != "opp-123" || gotBody.DealerID != 42 {
		t.Errorf("claim body = %+v", gotBody)
	}
}

func TestClaimRetriesOnceOn401WithFreshToken(t *testing.T) {
	var requests atomic.Int64
	var authSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authSeen = append(authSeen, r.Header.Get("Authorization"))
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var reads atomic.Int64
	tokens := func() string {
		if reads.Add(1) == 1 {
			return "stale"
		}
		return "fresh"
	}

	c := NewCoordinator(testConfig(srv.URL), tokens)
	res := c.Claim(context.Background(), "opp-123")

	if !res.Success || res.Status != http.StatusOK {
		t.Errorf("result = %+v, want success with 200", res)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
	if len(authSeen) != 2 || authSeen[0] != "Bearer stale" || authSeen[1] != "Bearer fresh" {
		t.Errorf("auth headers = %v, want stale then fresh", authSeen)
	}
}

func TestClaim401CappedAtTwoAttempts(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewCoordinator(testConfig(srv.URL), staticTokens("tok"))
	res := c.Claim(context.Background(), "opp-123")

	if res.Success || res.Status != http.StatusUnauthorized {
		t.Errorf("result = %+v, want failed 401", res)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d requests, want exactly 2", got)
	}
}

func TestClaimConflictIsTerminal(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewCoordinator(testConfig(srv.URL), staticTokens("tok"))
	res := c.Claim(context.Background(), "opp-123")

	if res.Success {
		t.Error("409 reported as success")
	}
	if res.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", res.Status)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on conflict)", got)
	}
}

func TestClaimTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewCoordinator(testConfig(srv.URL), staticTokens("tok"))
	res := c.Claim(context.Background(), "opp-123")

	if res.Success || res.Status != 0 {
		t.Errorf("result = %+v, want failed with status 0", res)
	}
}

func TestClaimLatencySpansRetry(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCoordinator(testConfig(srv.URL), staticTokens("tok"))
	res := c.Claim(context.Background(), "opp-123")

	if res.Latency < 60*time.Millisecond {
		t.Errorf("latency = %v, want at least both round trips", res.Latency)
	}
}

func TestClaimOtherStatuses(t *testing.T) {
	cases := []struct {
		status  int
		success bool
	}{
		{http.StatusCreated, true},
		{http.StatusNoContent, true},
		{http.StatusBadRequest, false},
		{http.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		c := NewCoordinator(testConfig(srv.URL), staticTokens("tok"))
		res := c.Claim(context.Background(), "opp-123")
		srv.Close()

		if res.Success != tc.success || res.Status != tc.status {
			t.Errorf("status %d: result = %+v, want success=%v", tc.status, res, tc.success)
		}
	}
}

func TestClaimSendsRequestID(t *testing.T) {
	var requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCoordinator(testConfig(srv.URL), staticTokens("tok"))
	c.Claim(context.Background(), "opp-123")

	if strings.TrimSpace(requestID) == "" {
		t.Error("claim request carried no X-Request-Id")
	}
}
