package degaslinesdk

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
)

// Client is a minimal Degasline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set. Servers
	// only accept it with the legacy header switch on.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

// Batch is a registered roasted batch.
type Batch struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	RoastDate string `json:"roast_date"`
	Process   string `json:"process"`
	Variety   string `json:"variety,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// NewBatch is the registration payload.
type NewBatch struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	RoastDate string `json:"roast_date"`
	Process   string `json:"process"`
	Variety   string `json:"variety,omitempty"`
}

// Shipment overrides the server's default lane. Leave FlightFrequencyDays
// nil for the default; Days(0) sends an explicit zero.
type Shipment struct {
	Route               string `json:"route,omitempty"`
	FlightFrequencyDays *int   `json:"flight_frequency_days,omitempty"`
}

// Days returns a pointer for Shipment.FlightFrequencyDays.
func Days(n int) *int { return &n }

type Simulation struct {
	RoastDevelopment string `json:"roast_development,omitempty"`
	Packaging        string `json:"packaging,omitempty"`
	Climate          string `json:"climate,omitempty"`
}

type RuleBasedResult struct {
	BatchID            string `json:"batch_id"`
	OptimalPackDate    string `json:"optimal_pack_date"`
	LatestSafeDispatch string `json:"latest_safe_dispatch"`
	RiskLevel          string `json:"risk_level"`
	DispatchBlocked    bool   `json:"dispatch_blocked"`
	BlockReason        string `json:"block_reason"`
	Reasoning          string `json:"reasoning"`
}

type PressureSample struct {
	Day      int     `json:"day"`
	Pressure float64 `json:"pressure"`
	Limit    float64 `json:"limit"`
}

type PhysicalResult struct {
	BatchID             string           `json:"batch_id"`
	PressureCurve       []PressureSample `json:"pressure_curve"`
	DaysToSafety        int              `json:"days_to_safety"`
	RecommendedShipDate string           `json:"recommended_ship_date"`
	CriticalWarning     *string          `json:"critical_warning,omitempty"`
	SafetyFactor        float64          `json:"safety_factor"`
	RiskLevel           string           `json:"risk_level"`
}

// Assessment is a stored advisory.
type Assessment struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batch_id"`
	Model     string         `json:"model"`
	RiskLevel string         `json:"risk_level"`
	Blocked   bool           `json:"blocked"`
	ReadyDate string         `json:"ready_date"`
	Result    map[string]any `json:"result"`
	ActorID   string         `json:"actor_id"`
	CreatedAt string         `json:"created_at"`
}

type RuleBasedAdvice struct {
	Result     RuleBasedResult `json:"result"`
	Assessment Assessment      `json:"assessment"`
}

type PhysicalAdvice struct {
	Result     PhysicalResult `json:"result"`
	Assessment Assessment     `json:"assessment"`
}

// Advice is one model's entry in a Comparison.
type Advice struct {
	Model     string           `json:"model"`
	RiskLevel string           `json:"risk_level"`
	Blocked   bool             `json:"blocked"`
	ReadyDate string           `json:"ready_date"`
	RuleBased *RuleBasedResult `json:"rule_based,omitempty"`
	Physical  *PhysicalResult  `json:"physical,omitempty"`
}

type Comparison struct {
	BatchID             string   `json:"batch_id"`
	Advices             []Advice `json:"advices"`
	RiskAgreement       bool     `json:"risk_agreement"`
	ReadyDateSpreadDays int      `json:"ready_date_spread_days"`
}

type FleetItem struct {
	BatchID    string      `json:"batch_id"`
	Comparison *Comparison `json:"comparison,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the envelope error code when the
// body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateBatch registers a batch.
func (c *Client) CreateBatch(ctx context.Context, b NewBatch) (Batch, error) {
	var resp Batch
	err := c.do(ctx, http.MethodPost, c.apiPath("batches"), b, &resp)
	return resp, err
}

// Batch fetches a batch by id.
func (c *Client) Batch(ctx context.Context, id string) (Batch, error) {
	var resp Batch
	err := c.do(ctx, http.MethodGet, c.apiPath("batches/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// RecentBatches lists batches, most recently roasted first.
func (c *Client) RecentBatches(ctx context.Context, limit int) ([]Batch, error) {
	endpoint := c.apiPath("batches")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Batch
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Assessments lists stored advisories for a batch, newest first.
func (c *Client) Assessments(ctx context.Context, batchID string) ([]Assessment, error) {
	var resp []Assessment
	err := c.do(ctx, http.MethodGet, c.apiPath(fmt.Sprintf("batches/%s/assessments", url.PathEscape(batchID))), nil, &resp)
	return resp, err
}

// AdviseRuleBased runs the rule model. Blank shipment fields use the
// server defaults.
func (c *Client) AdviseRuleBased(ctx context.Context, batchID string, shipment Shipment) (RuleBasedAdvice, error) {
	var resp RuleBasedAdvice
	err := c.do(ctx, http.MethodPost, c.apiPath(fmt.Sprintf("batches/%s/advice/rule-based", url.PathEscape(batchID))), shipment, &resp)
	return resp, err
}

// AdvisePhysical runs the pressure simulation for a stored batch.
func (c *Client) AdvisePhysical(ctx context.Context, batchID string, sim Simulation) (PhysicalAdvice, error) {
	var resp PhysicalAdvice
	err := c.do(ctx, http.MethodPost, c.apiPath(fmt.Sprintf("batches/%s/advice/physical", url.PathEscape(batchID))), sim, &resp)
	return resp, err
}

// Compare runs both models on a stored batch.
func (c *Client) Compare(ctx context.Context, batchID string, shipment Shipment, sim Simulation) (Comparison, error) {
	body := struct {
		Shipment   Shipment   `json:"shipment"`
		Simulation Simulation `json:"simulation"`
	}{shipment, sim}
	var resp Comparison
	err := c.do(ctx, http.MethodPost, c.apiPath(fmt.Sprintf("batches/%s/advice/compare", url.PathEscape(batchID))), body, &resp)
	return resp, err
}

// Simulate runs the pressure model on an unsaved batch.
func (c *Client) Simulate(ctx context.Context, roastDate, process string, sim Simulation) (PhysicalResult, error) {
	body := struct {
		RoastDate string `json:"roast_date"`
		Process   string `json:"process"`
		Simulation
	}{roastDate, process, sim}
	var resp PhysicalResult
	err := c.do(ctx, http.MethodPost, c.apiPath("simulate"), body, &resp)
	return resp, err
}

// AssessFleet compares the most recently roasted batches.
func (c *Client) AssessFleet(ctx context.Context, limit int, shipment Shipment, sim Simulation) ([]FleetItem, error) {
	body := struct {
		Limit      int        `json:"limit,omitempty"`
		Shipment   Shipment   `json:"shipment"`
		Simulation Simulation `json:"simulation"`
	}{limit, shipment, sim}
	var resp struct {
		Items []FleetItem `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, c.apiPath("fleet/assess"), body, &resp)
	return resp.Items, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "", "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, optionally filtered by type.
func (c *Client) EventsPage(ctx context.Context, limit int, eventType, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.apiPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
