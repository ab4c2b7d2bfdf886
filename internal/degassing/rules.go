package degassing

import (
	"fmt"
	"strings"

	"degasline/internal/domain"
)

const (
	// LongHaulMarker flags the long-haul lane in a route label.
	LongHaulMarker = "DXB"

	longHaulExtraDays    = 2
	sparseFlightDays     = 3
	dispatchBufferDays   = 5
	highRiskScore        = 5
	mediumRiskScore      = 3
	dispatchBlockMessage = "ALERT: critical risk from insufficient degassing for an extended air route."
)

// ProcessDecayProfile is the rule model's resting window for a process.
type ProcessDecayProfile struct {
	MinDays     int `json:"min_days"`
	OptimalDays int `json:"optimal_days"`
	Risk        int `json:"risk"`
}

var decayProfiles = map[Process]ProcessDecayProfile{
	Washed:  {MinDays: 7, OptimalDays: 10, Risk: 1},
	Honey:   {MinDays: 10, OptimalDays: 14, Risk: 2},
	Natural: {MinDays: 14, OptimalDays: 18, Risk: 3},
}

// Profiles returns a copy of the rule profiles keyed by process.
func Profiles() map[Process]ProcessDecayProfile {
	out := make(map[Process]ProcessDecayProfile, len(decayProfiles))
	for p, profile := range decayProfiles {
		out[p] = profile
	}
	return out
}

// Profile returns the rule profile for a raw process name.
func Profile(raw string) (ProcessDecayProfile, bool) {
	p, ok := ResolveProcess(raw)
	if !ok {
		return ProcessDecayProfile{}, false
	}
	profile, ok := decayProfiles[p]
	return profile, ok
}

// RuleBased is the heuristic advisor: a process lookup adjusted by route and
// flight frequency.
type RuleBased struct{}

func (RuleBased) Model() Model { return ModelRuleBased }

func (r RuleBased) Advise(batch domain.Batch, req Request) (Advice, error) {
	res, err := r.Evaluate(batch, req.Shipment)
	if err != nil {
		return Advice{}, err
	}
	return Advice{
		Model:     ModelRuleBased,
		RiskLevel: res.RiskLevel,
		Blocked:   res.DispatchBlocked,
		ReadyDate: res.OptimalPackDate,
		RuleBased: &res,
	}, nil
}

// Evaluate scores a batch for the given shipment.
func (RuleBased) Evaluate(batch domain.Batch, shipment domain.ShipmentContext) (domain.RuleBasedResult, error) {
	profile, ok := Profile(batch.Process)
	if !ok {
		return domain.RuleBasedResult{}, &UnrecognizedProcessError{Value: batch.Process}
	}

	riskScore := profile.Risk
	extraDays := 0
	if strings.Contains(shipment.Route, LongHaulMarker) {
		extraDays += longHaulExtraDays
		riskScore++
	}
	if shipment.FlightFrequencyDays > sparseFlightDays {
		riskScore++
	}

	risk := domain.RiskLow
	switch {
	case riskScore >= highRiskScore:
		risk = domain.RiskHigh
	case riskScore >= mediumRiskScore:
		risk = domain.RiskMedium
	}

	blocked := risk == domain.RiskHigh
	reason := ""
	if blocked {
		reason = dispatchBlockMessage
	}

	roast := domain.Day(batch.RoastDate)
	packDate := roast.AddDate(0, 0, profile.OptimalDays+extraDays)
	latest := packDate.AddDate(0, 0, dispatchBufferDays)

	return domain.RuleBasedResult{
		BatchID:            batch.ID,
		OptimalPackDate:    domain.FormatDate(packDate),
		LatestSafeDispatch: domain.FormatDate(latest),
		RiskLevel:          risk,
		DispatchBlocked:    blocked,
		BlockReason:        reason,
		Reasoning: fmt.Sprintf("Analysis for %s: route %s (+%dd), flight frequency %dd. Score: %d",
			batch.Process, shipment.Route, extraDays, shipment.FlightFrequencyDays, riskScore),
	}, nil
}
