package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

const answerSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\n"

func newRelayAgainst(t *testing.T, handler http.HandlerFunc) *SignalingRelay {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewSignalingRelay(SignalingOptions{
		BaseURL: server.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o-realtime-preview",
	}, nil)
}

func TestCreateSessionRecordsCredential(t *testing.T) {
	relay := newRelayAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4o-realtime-preview" {
			t.Errorf("unexpected model %v", body["model"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id": "sess_123",
			"client_secret": map[string]any{
				"value":      "ek_secret",
				"expires_at": 1767225600,
			},
		})
	})

	ticket, err := relay.CreateSession(context.Background(), "local-1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if ticket.UpstreamSessionID != "sess_123" || ticket.ClientSecret.Value != "ek_secret" {
		t.Errorf("unexpected ticket: %+v", ticket)
	}
	if !relay.HasSession("local-1") {
		t.Error("credential not recorded")
	}
}

func TestCreateSessionUpstreamRejection(t *testing.T) {
	relay := newRelayAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	})

	_, err := relay.CreateSession(context.Background(), "local-1")
	if !errors.Is(err, ErrUpstreamAuth) {
		t.Fatalf("expected ErrUpstreamAuth, got %v", err)
	}
	if relay.HasSession("local-1") {
		t.Error("credential recorded despite failure")
	}
}

func TestRelayOfferUsesEphemeralCredential(t *testing.T) {
	var sawOffer string
	relay := newRelayAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realtime/sessions":
			json.NewEncoder(w).Encode(map[string]any{
				"id":            "sess_123",
				"client_secret": map[string]any{"value": "ek_secret", "expires_at": 1},
			})
		case "/realtime":
			if got := r.Header.Get("Authorization"); got != "Bearer ek_secret" {
				t.Errorf("offer must use the ephemeral secret, got %q", got)
			}
			if got := r.Header.Get("Content-Type"); got != "application/sdp" {
				t.Errorf("unexpected content type %q", got)
			}
			body, _ := io.ReadAll(r.Body)
			sawOffer = string(body)
			io.WriteString(w, answerSDP)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	if _, err := relay.CreateSession(context.Background(), "local-1"); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	answer, err := relay.RelayOffer(context.Background(), "local-1", "v=0\r\nofferbits\r\n")
	if err != nil {
		t.Fatalf("RelayOffer failed: %v", err)
	}
	if answer != answerSDP {
		t.Errorf("answer must be returned verbatim, got %q", answer)
	}
	if sawOffer != "v=0\r\nofferbits\r\n" {
		t.Errorf("offer not forwarded verbatim: %q", sawOffer)
	}
}

func TestRelayOfferWithoutSession(t *testing.T) {
	relay := newRelayAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := relay.RelayOffer(context.Background(), "unknown", "v=0\r\n")
	if !errors.Is(err, ErrSignalingSessionNotFound) {
		t.Fatalf("expected ErrSignalingSessionNotFound, got %v", err)
	}
}

func TestRelayOfferRejectsMalformedAnswer(t *testing.T) {
	relay := newRelayAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realtime/sessions":
			json.NewEncoder(w).Encode(map[string]any{
				"id":            "sess_123",
				"client_secret": map[string]any{"value": "ek_secret", "expires_at": 1},
			})
		default:
			io.WriteString(w, "<html>gateway error</html>")
		}
	})

	if _, err := relay.CreateSession(context.Background(), "local-1"); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	_, err := relay.RelayOffer(context.Background(), "local-1", "v=0\r\n")
	if !errors.Is(err, ErrBadAnswer) {
		t.Fatalf("expected ErrBadAnswer, got %v", err)
	}
}

func TestTeardownReleasesCredential(t *testing.T) {
	relay := newRelayAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "sess_123",
			"client_secret": map[string]any{"value": "ek_secret", "expires_at": 1},
		})
	})

	if _, err := relay.CreateSession(context.Background(), "local-1"); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	relay.Teardown("local-1")
	relay.Teardown("local-1") // idempotent

	if relay.HasSession("local-1") {
		t.Error("credential survived teardown")
	}
	if _, err := relay.RelayOffer(context.Background(), "local-1", "v=0\r\n"); !errors.Is(err, ErrSignalingSessionNotFound) {
		t.Errorf("expected ErrSignalingSessionNotFound after teardown, got %v", err)
	}
}
