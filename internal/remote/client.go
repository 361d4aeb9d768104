package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldline/internal/retry"
)

// Client talks to the remote inspection persistence API.
// The zero HTTPClient falls back to a shared client with DefaultTimeout.
// Fields are not modified after construction; one Client is shared by the
// prober, the orchestrator and the workflow.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
}

const DefaultTimeout = 15 * time.Second

var defaultHTTPClient = &http.Client{Timeout: DefaultTimeout}

// New creates a client whose requests time out after timeout, or
// DefaultTimeout when timeout is not positive.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// ChecklistUpsert is the payload of a remote checklist upsert.
type ChecklistUpsert struct {
	ChecklistItemID string         `json:"checklist_item_id"`
	Status          string         `json:"status"`
	Notes           *string        `json:"notes,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	AIResult        map[string]any `json:"ai_result,omitempty"`
}

type inspectionCreated struct {
	ID string `json:"id"`
}

// CreateInspection opens the remote session record and returns its id.
func (c *Client) CreateInspection(ctx context.Context, propertyID, inspectorID string) (string, error) {
	if propertyID == "" {
		return "", errors.New("property id is required")
	}
	body := map[string]any{
		"property_id":  propertyID,
		"inspector_id": inspectorID,
	}
	var resp inspectionCreated
	if err := c.do(ctx, "create inspection", http.MethodPost, "inspections", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", NewStatusError("create inspection", http.StatusBadGateway, "response missing id")
	}
	return resp.ID, nil
}

// UpsertChecklistItem writes one checklist item of an inspection.
func (c *Client) UpsertChecklistItem(ctx context.Context, inspectionID string, item ChecklistUpsert) error {
	endpoint := fmt.Sprintf("inspections/%s/checklist/%s", url.PathEscape(inspectionID), url.PathEscape(item.ChecklistItemID))
	return c.do(ctx, "upsert checklist item", http.MethodPut, endpoint, item, nil)
}

// Ping checks reachability of the backend.
func (c *Client) Ping(ctx context.Context) error {
	return c.Get(ctx, "ping", "health")
}

// Get issues a GET and discards the body. An empty endpoint targets BaseURL itself.
func (c *Client) Get(ctx context.Context, op, endpoint string) error {
	return c.do(ctx, op, http.MethodGet, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return retry.MarkTerminal(Wrap(op, errors.New("remote base url not configured")))
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	target := c.base()
	if endpoint != "" {
		target += "/" + strings.TrimLeft(endpoint, "/")
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Wrap(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return NewStatusError(op, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Wrap(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
