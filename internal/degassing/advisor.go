package degassing

import (
	"fmt"

	"degasline/internal/domain"
)

type Model string

const (
	ModelRuleBased Model = "rule-based"
	ModelPhysical  Model = "physical"
)

// Request carries the inputs of every model. Each advisor reads only its
// own part.
type Request struct {
	Shipment   domain.ShipmentContext `json:"shipment"`
	Simulation domain.DegassingConfig `json:"simulation"`
}

// Advice is one model's answer. Exactly one of RuleBased and Physical is set.
type Advice struct {
	Model     Model                   `json:"model"`
	RiskLevel domain.RiskLevel        `json:"risk_level"`
	Blocked   bool                    `json:"blocked"`
	ReadyDate string                  `json:"ready_date"`
	RuleBased *domain.RuleBasedResult `json:"rule_based,omitempty"`
	Physical  *domain.PhysicalResult  `json:"physical,omitempty"`
}

// Advisor answers "when is this batch safe to pack and ship".
type Advisor interface {
	Model() Model
	Advise(batch domain.Batch, req Request) (Advice, error)
}

var (
	_ Advisor = RuleBased{}
	_ Advisor = Physical{}
)

// Default returns both models, rule-based first.
func Default() []Advisor {
	return []Advisor{RuleBased{}, Physical{}}
}

// Comparison lists each model's advice side by side. It does not reconcile
// them; RiskAgreement and ReadyDateSpreadDays only describe how far apart
// they are.
type Comparison struct {
	BatchID             string   `json:"batch_id"`
	Advices             []Advice `json:"advices"`
	RiskAgreement       bool     `json:"risk_agreement"`
	ReadyDateSpreadDays int      `json:"ready_date_spread_days"`
}

// AdviceError tags a failure with the model that produced it.
type AdviceError struct {
	Model Model
	Err   error
}

func (e *AdviceError) Error() string { return fmt.Sprintf("%s: %v", e.Model, e.Err) }

func (e *AdviceError) Unwrap() error { return e.Err }

// Compare runs every advisor on the same batch. The first failure aborts the
// comparison and is returned as an *AdviceError.
func Compare(batch domain.Batch, req Request, advisors ...Advisor) (Comparison, error) {
	if len(advisors) == 0 {
		advisors = Default()
	}
	cmp := Comparison{BatchID: batch.ID, RiskAgreement: true}
	var minDay, maxDay int
	for i, a := range advisors {
		adv, err := a.Advise(batch, req)
		if err != nil {
			return Comparison{}, &AdviceError{Model: a.Model(), Err: err}
		}
		ready, err := domain.ParseDate(adv.ReadyDate)
		if err != nil {
			return Comparison{}, &AdviceError{Model: a.Model(), Err: err}
		}
		day := int(ready.Sub(domain.Day(batch.RoastDate)).Hours() / 24)
		if i == 0 {
			minDay, maxDay = day, day
		} else {
			if adv.RiskLevel != cmp.Advices[0].RiskLevel {
				cmp.RiskAgreement = false
			}
			minDay = min(minDay, day)
			maxDay = max(maxDay, day)
		}
		cmp.Advices = append(cmp.Advices, adv)
	}
	cmp.ReadyDateSpreadDays = maxDay - minDay
	return cmp, nil
}
