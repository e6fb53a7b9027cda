//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := doGet(t, path)
			body := expect[healthResponse](t, resp, http.StatusOK)

			if body.Status != "ok" {
				t.Fatalf("status: got %q, want ok", body.Status)
			}
			if len(body.Checks) != 0 {
				t.Errorf("failing checks: %v", body.Checks)
			}
		})
	}
}

func TestHealthEndpoints_RequestID(t *testing.T) {
	resp := do(t, http.MethodGet, "/readyz", http.Header{"X-Request-ID": {"it-ready-1"}}, nil)
	expect[healthResponse](t, resp, http.StatusOK)

	if got := resp.Header.Get("X-Request-ID"); got != "it-ready-1" {
		t.Errorf("request id: got %q, want it-ready-1", got)
	}
}
