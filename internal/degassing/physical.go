package degassing

import (
	"math"

	"degasline/internal/domain"
)

const (
	// HorizonDays is the last day sampled on the pressure curve.
	HorizonDays = 21

	valveSafetyLimit  = 0.8
	sealedSafetyLimit = 0.3
	shipMarginDays    = 2
	criticalDays      = 14
	mediumDays        = 7
	criticalWarning   = "ALERT: excessive stabilization time. Risk of rancidity or package rupture in tropical climate."
)

// decayRates are per-day exponential decay constants.
var decayRates = map[Process]float64{
	Washed:             0.15,
	Honey:              0.12,
	HoneyYellow:        0.12,
	HoneyRed:           0.11,
	HoneyBlack:         0.10,
	Natural:            0.10,
	SemiWashed:         0.14,
	DoubleFermentation: 0.13,
	CoFermentation:     0.13,
	Anaerobic:          0.11,
}

var basePressures = map[domain.RoastDevelopment]float64{
	domain.RoastLight:  1.2,
	domain.RoastMedium: 1.8,
	domain.RoastDark:   2.5,
}

var climateFactors = map[domain.Climate]float64{
	domain.ClimateArctic:    0.7,
	domain.ClimateTemperate: 1.0,
	domain.ClimateTropical:  1.4,
}

var safetyLimits = map[domain.Packaging]float64{
	domain.PackagingValve:     valveSafetyLimit,
	domain.PackagingNoValve:   sealedSafetyLimit,
	domain.PackagingSealedTin: sealedSafetyLimit,
}

// DecayRate returns the base decay constant for a raw process name.
func DecayRate(raw string) (float64, bool) {
	p, ok := ResolveProcess(raw)
	if !ok {
		return 0, false
	}
	k, ok := decayRates[p]
	return k, ok
}

// Physical simulates internal pressure as P(t) = P0 * exp(-k*t).
type Physical struct{}

func (Physical) Model() Model { return ModelPhysical }

func (s Physical) Advise(batch domain.Batch, req Request) (Advice, error) {
	cfg := req.Simulation
	if cfg.Process == "" {
		cfg.Process = batch.Process
	}
	res, err := s.Simulate(batch, cfg)
	if err != nil {
		return Advice{}, err
	}
	return Advice{
		Model:     ModelPhysical,
		RiskLevel: res.RiskLevel,
		Blocked:   res.RiskLevel == domain.RiskCritical,
		ReadyDate: res.RecommendedShipDate,
		Physical:  &res,
	}, nil
}

// Simulate builds the pressure curve for cfg and derives the ship date and
// risk tier from it. cfg.Process drives the decay rate.
func (Physical) Simulate(batch domain.Batch, cfg domain.DegassingConfig) (domain.PhysicalResult, error) {
	m, err := newModel(cfg)
	if err != nil {
		return domain.PhysicalResult{}, err
	}

	curve := make([]domain.PressureSample, 0, HorizonDays+1)
	daysToSafety := 0
	for day := 0; day <= HorizonDays; day++ {
		p := m.pressure(day)
		curve = append(curve, domain.PressureSample{
			Day:      day,
			Pressure: round(p, 3),
			Limit:    m.limit,
		})
		if p > m.limit {
			daysToSafety = day + 1
		}
	}

	risk := domain.RiskLow
	var warning *string
	switch {
	case daysToSafety > criticalDays:
		risk = domain.RiskCritical
		msg := criticalWarning
		warning = &msg
	case daysToSafety > mediumDays:
		risk = domain.RiskMedium
	}

	ship := domain.Day(batch.RoastDate).AddDate(0, 0, daysToSafety+shipMarginDays)
	return domain.PhysicalResult{
		BatchID:             batch.ID,
		PressureCurve:       curve,
		DaysToSafety:        daysToSafety,
		RecommendedShipDate: domain.FormatDate(ship),
		CriticalWarning:     warning,
		SafetyFactor:        round((1-m.pressure(daysToSafety)/m.limit)*100, 1),
		RiskLevel:           risk,
	}, nil
}

type decayModel struct {
	p0    float64
	k     float64
	limit float64
}

func newModel(cfg domain.DegassingConfig) (decayModel, error) {
	k, ok := DecayRate(cfg.Process)
	if !ok {
		return decayModel{}, &UnrecognizedParameterError{Parameter: "process", Value: cfg.Process}
	}
	factor, ok := climateFactors[cfg.Climate]
	if !ok {
		return decayModel{}, &UnrecognizedParameterError{Parameter: "climate", Value: string(cfg.Climate)}
	}
	p0, ok := basePressures[cfg.RoastDevelopment]
	if !ok {
		return decayModel{}, &UnrecognizedParameterError{Parameter: "roast development", Value: string(cfg.RoastDevelopment)}
	}
	limit, ok := safetyLimits[cfg.Packaging]
	if !ok {
		return decayModel{}, &UnrecognizedParameterError{Parameter: "packaging", Value: string(cfg.Packaging)}
	}
	return decayModel{p0: p0, k: k * factor, limit: limit}, nil
}

func (m decayModel) pressure(day int) float64 {
	return m.p0 * math.Exp(-m.k*float64(day))
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
