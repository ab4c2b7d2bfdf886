package server

import (
	"encoding/json"

	"degasline/internal/domain"
	"degasline/internal/engine"
)

// Request payloads

type CreateBatchRequest struct {
	ID        string `json:"id" example:"R-2024-031"`
	Label     string `json:"label,omitempty"`
	RoastDate string `json:"roast_date" example:"2024-03-01"`
	Process   string `json:"process" example:"washed"`
	Variety   string `json:"variety,omitempty"`
}

type ShipmentRequest struct {
	Route               string `json:"route,omitempty" example:"BOG-DXB"`
	FlightFrequencyDays *int   `json:"flight_frequency_days,omitempty" example:"7"`
}

type SimulationRequest struct {
	RoastDevelopment string `json:"roast_development,omitempty" example:"medium"`
	Packaging        string `json:"packaging,omitempty" example:"valve"`
	Climate          string `json:"climate,omitempty" example:"temperate"`
}

type CompareRequest struct {
	Shipment   ShipmentRequest   `json:"shipment,omitempty"`
	Simulation SimulationRequest `json:"simulation,omitempty"`
}

type SimulateRequest struct {
	ID               string `json:"id,omitempty"`
	RoastDate        string `json:"roast_date" example:"2024-03-01"`
	Process          string `json:"process" example:"natural"`
	RoastDevelopment string `json:"roast_development,omitempty"`
	Packaging        string `json:"packaging,omitempty"`
	Climate          string `json:"climate,omitempty"`
}

type FleetRequest struct {
	Limit      int               `json:"limit,omitempty" minimum:"0" maximum:"200"`
	Shipment   ShipmentRequest   `json:"shipment,omitempty"`
	Simulation SimulationRequest `json:"simulation,omitempty"`
}

// Responses

type BatchResponse struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	RoastDate string `json:"roast_date" format:"date"`
	Process   string `json:"process"`
	Variety   string `json:"variety,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type AssessmentResponse struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batch_id"`
	Model     string         `json:"model" enum:"rule-based,physical"`
	RiskLevel string         `json:"risk_level" enum:"low,medium,high,critical"`
	Blocked   bool           `json:"blocked"`
	ReadyDate string         `json:"ready_date" format:"date"`
	Result    map[string]any `json:"result"`
	ActorID   string         `json:"actor_id"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type RuleBasedAdviceResponse struct {
	Result     domain.RuleBasedResult `json:"result"`
	Assessment AssessmentResponse     `json:"assessment"`
}

type PhysicalAdviceResponse struct {
	Result     domain.PhysicalResult `json:"result"`
	Assessment AssessmentResponse    `json:"assessment"`
}

type FleetResponse struct {
	Items []engine.FleetItem `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status" example:"ok"`
	SchemaVersion int    `json:"schema_version"`
}

// Conversion helpers

// toEngine keeps an omitted frequency nil so the configured default applies;
// an explicit 0 is passed through.
func (r ShipmentRequest) toEngine() engine.Shipment {
	return engine.Shipment{Route: r.Route, FlightFrequencyDays: r.FlightFrequencyDays}
}

func (r SimulationRequest) toDomain() domain.DegassingConfig {
	return domain.DegassingConfig{
		RoastDevelopment: domain.RoastDevelopment(r.RoastDevelopment),
		Packaging:        domain.Packaging(r.Packaging),
		Climate:          domain.Climate(r.Climate),
	}
}

func batchResponse(b domain.Batch) BatchResponse {
	return BatchResponse{
		ID:        b.ID,
		Label:     b.Label,
		RoastDate: domain.FormatDate(b.RoastDate),
		Process:   b.Process,
		Variety:   b.Variety,
		CreatedAt: b.CreatedAt,
	}
}

func mapBatches(items []domain.Batch) []BatchResponse {
	out := make([]BatchResponse, 0, len(items))
	for _, b := range items {
		out = append(out, batchResponse(b))
	}
	return out
}

func assessmentResponse(a domain.Assessment) AssessmentResponse {
	return AssessmentResponse{
		ID:        a.ID,
		BatchID:   a.BatchID,
		Model:     a.Model,
		RiskLevel: string(a.RiskLevel),
		Blocked:   a.Blocked,
		ReadyDate: a.ReadyDate,
		Result:    decodeJSONMap(string(a.Result)),
		ActorID:   a.ActorID,
		CreatedAt: a.CreatedAt,
	}
}

func mapAssessments(items []domain.Assessment) []AssessmentResponse {
	out := make([]AssessmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, assessmentResponse(a))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
