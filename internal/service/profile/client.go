package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/medivoice/backend/internal/config"
	"github.com/medivoice/backend/internal/model/profile"
)

var (
	ErrNotConfigured   = errors.New("profile store not configured")
	ErrProfileNotFound = errors.New("profile not found")
)

const profilesTable = "/rest/v1/user_profiles"

// ProfileSummary is the trimmed row shape returned by List.
type ProfileSummary struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Age       *int   `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Client talks to the external patient-profile store over its REST interface.
// All methods return ErrNotConfigured when the credentials are absent, so the
// rest of the service degrades instead of failing to start.
type Client struct {
	cfg  config.ProfileConfig
	http *http.Client
	now  func() time.Time
}

// NewClient builds a profile store client from the configuration.
func NewClient(cfg config.ProfileConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
	}
}

// Enabled reports whether the store is reachable in this deployment.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled()
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("apikey", c.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)
	req.Header.Set("Content-Type", "application/json")
}

// Upsert saves the profile, replacing an existing row for the same user id.
func (c *Client) Upsert(ctx context.Context, p profile.PatientProfile) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	now := c.now().UTC().Format(time.RFC3339)
	if p.CreatedAt == "" {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SupabaseURL+profilesTable, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build upsert request: %w", err)
	}
	c.headers(req)
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("profile upsert failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return storeError("upsert", resp)
	}

	log.Printf("[profile] profile saved user=%s", p.UserID)
	return nil
}

// Get fetches one profile by user id.
func (c *Client) Get(ctx context.Context, userID string) (profile.PatientProfile, error) {
	if !c.Enabled() {
		return profile.PatientProfile{}, ErrNotConfigured
	}

	endpoint := c.cfg.SupabaseURL + profilesTable + "?user_id=eq." + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return profile.PatientProfile{}, fmt.Errorf("failed to build get request: %w", err)
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return profile.PatientProfile{}, fmt.Errorf("profile query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return profile.PatientProfile{}, storeError("query", resp)
	}

	var rows []profile.PatientProfile
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return profile.PatientProfile{}, fmt.Errorf("failed to decode profile rows: %w", err)
	}
	if len(rows) == 0 {
		return profile.PatientProfile{}, ErrProfileNotFound
	}

	return rows[0], nil
}

// Update applies a partial update to the user's row.
func (c *Client) Update(ctx context.Context, userID string, update profile.UpdatePatientProfile) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	// The row carries its own updated_at; merge it into the patch body.
	patch := map[string]any{"updated_at": c.now().UTC().Format(time.RFC3339)}
	if update.Name != nil {
		patch["name"] = *update.Name
	}
	if update.Age != nil {
		patch["age"] = *update.Age
	}
	if update.Gender != nil {
		patch["gender"] = *update.Gender
	}
	if update.DateOfBirth != nil {
		patch["date_of_birth"] = *update.DateOfBirth
	}
	if update.MedicalHistory != nil {
		patch["medical_history"] = *update.MedicalHistory
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal profile patch: %w", err)
	}

	endpoint := c.cfg.SupabaseURL + profilesTable + "?user_id=eq." + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build update request: %w", err)
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("profile update failed: %w", err)
	}
	defer resp.Body.Close()

	// The store answers a PATCH with 204 No Content.
	if resp.StatusCode != http.StatusNoContent {
		return storeError("update", resp)
	}

	log.Printf("[profile] profile updated user=%s", userID)
	return nil
}

// Delete removes the user's row. Deleting an absent row succeeds.
func (c *Client) Delete(ctx context.Context, userID string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	endpoint := c.cfg.SupabaseURL + profilesTable + "?user_id=eq." + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("profile deletion failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return storeError("delete", resp)
	}

	log.Printf("[profile] profile deleted user=%s", userID)
	return nil
}

// List returns summaries of every profile, newest first.
func (c *Client) List(ctx context.Context) ([]ProfileSummary, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	endpoint := c.cfg.SupabaseURL + profilesTable +
		"?select=" + url.QueryEscape("user_id,name,age,gender,created_at") +
		"&order=" + url.QueryEscape("created_at.desc")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile listing failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, storeError("list", resp)
	}

	var rows []ProfileSummary
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode profile list: %w", err)
	}
	return rows, nil
}

func storeError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	log.Printf("[profile] %s rejected by store: %d %s", op, resp.StatusCode, string(body))
	return fmt.Errorf("profile store %s failed: status %d", op, resp.StatusCode)
}
