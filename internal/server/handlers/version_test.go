package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fetchVersion(t *testing.T) VersionResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp VersionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestVersionHandlerReportsBuildAndGateway(t *testing.T) {
	SetVersionInfo("1.2.3", "abcd123", "2026-10-01T12:00:00Z")
	SetGatewayInfo(&GatewayInfo{Name: "completions", Provider: "openrouter", Model: "google/gemini-2.0-flash-exp:free"})
	t.Cleanup(func() { SetGatewayInfo(nil) })

	resp := fetchVersion(t)
	if resp.App.Name != "aigateway" || resp.App.Version != "1.2.3" || resp.App.Commit != "abcd123" {
		t.Fatalf("unexpected app info: %+v", resp.App)
	}
	if resp.Gateway == nil || resp.Gateway.Provider != "openrouter" {
		t.Fatalf("expected gateway provider openrouter, got %+v", resp.Gateway)
	}
	if resp.Dependencies.Gofulmen == "" || resp.Dependencies.Crucible == "" {
		t.Fatal("expected dependency versions to be populated")
	}
}

func TestVersionHandlerOmitsGatewayWhenUnset(t *testing.T) {
	SetGatewayInfo(nil)

	resp := fetchVersion(t)
	if resp.Gateway != nil {
		t.Fatalf("expected no gateway section, got %+v", resp.Gateway)
	}
	if resp.Runtime.NumCPU == 0 {
		t.Fatal("expected runtime info")
	}
}
