package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for roast and shipping dates.
const DateLayout = "2006-01-02"

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type RoastDevelopment string

const (
	RoastLight  RoastDevelopment = "light"
	RoastMedium RoastDevelopment = "medium"
	RoastDark   RoastDevelopment = "dark"
)

type Packaging string

const (
	PackagingValve     Packaging = "valve"
	PackagingNoValve   Packaging = "no-valve"
	PackagingSealedTin Packaging = "sealed-tin"
)

type Climate string

const (
	ClimateArctic    Climate = "arctic"
	ClimateTemperate Climate = "temperate"
	ClimateTropical  Climate = "tropical"
)

// Batch is a roasted batch as supplied by the inventory store.
type Batch struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	RoastDate time.Time `json:"roast_date"`
	Process   string    `json:"process"`
	Variety   string    `json:"variety,omitempty"`
	CreatedAt string    `json:"created_at,omitempty" format:"date-time"`
}

type ShipmentContext struct {
	Route               string `json:"route"`
	FlightFrequencyDays int    `json:"flight_frequency_days"`
}

type DegassingConfig struct {
	Process          string           `json:"process"`
	RoastDevelopment RoastDevelopment `json:"roast_development"`
	Packaging        Packaging        `json:"packaging"`
	Climate          Climate          `json:"climate"`
}

type RuleBasedResult struct {
	BatchID            string    `json:"batch_id"`
	OptimalPackDate    string    `json:"optimal_pack_date" format:"date"`
	LatestSafeDispatch string    `json:"latest_safe_dispatch" format:"date"`
	RiskLevel          RiskLevel `json:"risk_level" enum:"low,medium,high"`
	DispatchBlocked    bool      `json:"dispatch_blocked"`
	BlockReason        string    `json:"block_reason"`
	Reasoning          string    `json:"reasoning"`
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
	RecommendedShipDate string           `json:"recommended_ship_date" format:"date"`
	CriticalWarning     *string          `json:"critical_warning,omitempty"`
	SafetyFactor        float64          `json:"safety_factor"`
	RiskLevel           RiskLevel        `json:"risk_level" enum:"low,medium,high,critical"`
}

// Assessment is a persisted advisory produced by one model for one batch.
type Assessment struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batch_id"`
	Model     string          `json:"model" enum:"rule-based,physical"`
	RiskLevel RiskLevel       `json:"risk_level"`
	Blocked   bool            `json:"blocked"`
	ReadyDate string          `json:"ready_date" format:"date"`
	Result    json.RawMessage `json:"result"`
	ActorID   string          `json:"actor_id"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp and returns
// the UTC calendar day at midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Day(t), nil
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders the calendar day of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
