package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medivoice/backend/internal/config"
	"github.com/medivoice/backend/internal/model/profile"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.ProfileConfig{
		SupabaseURL: server.URL,
		ServiceKey:  "test-service-key",
		Timeout:     5 * time.Second,
	})
	client.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return client
}

func TestUpsertSendsMergeDuplicates(t *testing.T) {
	var gotPrefer, gotAuth string
	var gotBody profile.PatientProfile

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		gotPrefer = r.Header.Get("Prefer")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	err := client.Upsert(context.Background(), profile.PatientProfile{
		UserID: "user-1",
		Name:   "Jordan",
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if gotPrefer != "resolution=merge-duplicates" {
		t.Errorf("missing upsert preference header, got %q", gotPrefer)
	}
	if gotAuth != "Bearer test-service-key" {
		t.Errorf("unexpected authorization header %q", gotAuth)
	}
	if gotBody.CreatedAt == "" || gotBody.UpdatedAt == "" {
		t.Error("expected timestamps to be filled on upsert")
	}
}

func TestGetReturnsFirstRow(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_id"); got != "eq.user-1" {
			t.Errorf("unexpected filter %q", got)
		}
		json.NewEncoder(w).Encode([]profile.PatientProfile{
			{UserID: "user-1", Name: "Jordan"},
		})
	})

	p, err := client.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name != "Jordan" {
		t.Errorf("unexpected profile name %q", p.Name)
	}
}

func TestGetNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})

	if _, err := client.Get(context.Background(), "missing"); err != ErrProfileNotFound {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestUpdateSendsOnlySetFields(t *testing.T) {
	var patch map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			t.Errorf("failed to decode patch: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	name := "Sam"
	err := client.Update(context.Background(), "user-1", profile.UpdatePatientProfile{Name: &name})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if patch["name"] != "Sam" {
		t.Errorf("expected name in patch, got %v", patch)
	}
	if _, present := patch["age"]; present {
		t.Error("unset field leaked into patch")
	}
	if _, present := patch["updated_at"]; !present {
		t.Error("updated_at missing from patch")
	}
}

func TestDeleteExpectsNoContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.Delete(context.Background(), "user-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

func TestStoreErrorSurfacesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	})

	if err := client.Delete(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestDisabledClient(t *testing.T) {
	client := NewClient(config.ProfileConfig{})
	if client.Enabled() {
		t.Fatal("client without credentials must report disabled")
	}
	if _, err := client.Get(context.Background(), "user-1"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := client.Upsert(context.Background(), profile.PatientProfile{}); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
