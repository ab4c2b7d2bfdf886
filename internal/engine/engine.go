package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"degasline/internal/config"
	"degasline/internal/degassing"
	"degasline/internal/domain"
	"degasline/internal/events"
	"degasline/internal/metrics"
	"degasline/internal/repo"
)

// ErrBatchExists is returned when registering an id that is already stored.
var ErrBatchExists = errors.New("batch already exists")

// InputError reports a malformed field in caller input.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Advisors []degassing.Advisor
	Metrics  *metrics.Recorder
	Logger   zerolog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{},
		Config:   cfg,
		Advisors: degassing.Default(),
		Logger:   zerolog.Nop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// BatchInput is the caller-facing form of a batch before validation.
type BatchInput struct {
	ID        string
	Label     string
	RoastDate string
	Process   string
	Variety   string
}

// ParseBatch validates in and returns the batch with its process resolved
// to the canonical name. The id is optional here; RegisterBatch requires it.
func ParseBatch(in BatchInput) (domain.Batch, error) {
	roast, err := domain.ParseDate(in.RoastDate)
	if err != nil {
		return domain.Batch{}, &InputError{Field: "roast_date", Message: err.Error()}
	}
	p, ok := degassing.ResolveProcess(in.Process)
	if !ok {
		return domain.Batch{}, &degassing.UnrecognizedProcessError{Value: in.Process}
	}
	return domain.Batch{
		ID:        strings.TrimSpace(in.ID),
		Label:     strings.TrimSpace(in.Label),
		RoastDate: roast,
		Process:   string(p),
		Variety:   strings.TrimSpace(in.Variety),
	}, nil
}

func (e Engine) RegisterBatch(ctx context.Context, in BatchInput, actorID string) (domain.Batch, error) {
	if strings.TrimSpace(in.ID) == "" {
		return domain.Batch{}, &InputError{Field: "id", Message: "required"}
	}
	b, err := ParseBatch(in)
	if err != nil {
		return domain.Batch{}, err
	}
	b.CreatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Batch{}, err
	}
	defer tx.Rollback()
	exists, err := e.Repo.BatchExists(ctx, tx, b.ID)
	if err != nil {
		return domain.Batch{}, err
	}
	if exists {
		return domain.Batch{}, fmt.Errorf("%w: %s", ErrBatchExists, b.ID)
	}
	if err := e.Repo.InsertBatch(ctx, tx, b); err != nil {
		return domain.Batch{}, fmt.Errorf("insert batch: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.BatchRegistered, "batch", b.ID, actorID, events.EventPayload{
		"roast_date": domain.FormatDate(b.RoastDate),
		"process":    b.Process,
	}); err != nil {
		return domain.Batch{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Batch{}, err
	}
	e.Logger.Info().Str("batch_id", b.ID).Str("process", b.Process).Str("actor_id", actorID).Msg("batch registered")
	return b, nil
}

// Shipment overrides the configured lane. A nil FlightFrequencyDays keeps
// the configured frequency; any explicit value, 0 included, is used as given.
type Shipment struct {
	Route               string
	FlightFrequencyDays *int
}

// Options carries caller overrides for every model. Blank fields fall back
// to the config.
type Options struct {
	Shipment   Shipment
	Simulation domain.DegassingConfig
}

// Request fills unset shipment and simulation fields from the config. The
// stored batch always supplies the process.
func (e Engine) Request(batch domain.Batch, opts Options) degassing.Request {
	ship := e.Config.ShipmentDefaults()
	if strings.TrimSpace(opts.Shipment.Route) != "" {
		ship.Route = opts.Shipment.Route
	}
	if opts.Shipment.FlightFrequencyDays != nil {
		ship.FlightFrequencyDays = *opts.Shipment.FlightFrequencyDays
	}
	sim := e.Config.SimulationDefaults()
	if opts.Simulation.RoastDevelopment != "" {
		sim.RoastDevelopment = opts.Simulation.RoastDevelopment
	}
	if opts.Simulation.Packaging != "" {
		sim.Packaging = opts.Simulation.Packaging
	}
	if opts.Simulation.Climate != "" {
		sim.Climate = opts.Simulation.Climate
	}
	sim.Process = batch.Process
	return degassing.Request{Shipment: ship, Simulation: sim}
}

func (e Engine) AdviseRuleBased(ctx context.Context, batchID string, shipment Shipment, actorID string) (domain.RuleBasedResult, domain.Assessment, error) {
	advices, assessments, err := e.advise(ctx, batchID, Options{Shipment: shipment}, actorID, degassing.RuleBased{})
	if err != nil {
		return domain.RuleBasedResult{}, domain.Assessment{}, err
	}
	return *advices[0].RuleBased, assessments[0], nil
}

func (e Engine) SimulatePhysical(ctx context.Context, batchID string, cfg domain.DegassingConfig, actorID string) (domain.PhysicalResult, domain.Assessment, error) {
	advices, assessments, err := e.advise(ctx, batchID, Options{Simulation: cfg}, actorID, degassing.Physical{})
	if err != nil {
		return domain.PhysicalResult{}, domain.Assessment{}, err
	}
	return *advices[0].Physical, assessments[0], nil
}

func (e Engine) advise(ctx context.Context, batchID string, opts Options, actorID string, advisor degassing.Advisor) ([]degassing.Advice, []domain.Assessment, error) {
	batch, err := e.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	adv, err := advisor.Advise(batch, e.Request(batch, opts))
	if err != nil {
		e.Metrics.ObserveFailure(string(advisor.Model()))
		return nil, nil, err
	}
	advices := []degassing.Advice{adv}
	assessments, err := e.record(ctx, batch, advices, actorID, nil)
	if err != nil {
		return nil, nil, err
	}
	return advices, assessments, nil
}

// Compare runs every configured advisor on one batch and persists one
// assessment per model.
func (e Engine) Compare(ctx context.Context, batchID string, opts Options, actorID string) (degassing.Comparison, error) {
	batch, err := e.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return degassing.Comparison{}, err
	}
	return e.compareBatch(ctx, batch, opts, actorID)
}

func (e Engine) compareBatch(ctx context.Context, batch domain.Batch, opts Options, actorID string) (degassing.Comparison, error) {
	advisors := e.Advisors
	if len(advisors) == 0 {
		advisors = degassing.Default()
	}
	cmp, err := degassing.Compare(batch, e.Request(batch, opts), advisors...)
	if err != nil {
		var advErr *degassing.AdviceError
		if errors.As(err, &advErr) {
			e.Metrics.ObserveFailure(string(advErr.Model))
		}
		return degassing.Comparison{}, err
	}
	summary := events.EventPayload{
		"risk_agreement":         cmp.RiskAgreement,
		"ready_date_spread_days": cmp.ReadyDateSpreadDays,
	}
	if _, err := e.record(ctx, batch, cmp.Advices, actorID, summary); err != nil {
		return degassing.Comparison{}, err
	}
	return cmp, nil
}

// record persists advices in one transaction. A non-nil summary also appends
// batch.compared.
func (e Engine) record(ctx context.Context, batch domain.Batch, advices []degassing.Advice, actorID string, summary events.EventPayload) ([]domain.Assessment, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var out []domain.Assessment
	for _, adv := range advices {
		a, err := assessmentFor(batch, adv, actorID, now)
		if err != nil {
			return nil, err
		}
		if err := e.Repo.InsertAssessment(ctx, tx, a); err != nil {
			return nil, fmt.Errorf("insert assessment: %w", err)
		}
		if err := e.events().Append(ctx, tx, events.AssessmentCreated, "batch", batch.ID, actorID, events.EventPayload{
			"assessment_id": a.ID,
			"model":         a.Model,
			"risk_level":    a.RiskLevel,
			"blocked":       a.Blocked,
			"ready_date":    a.ReadyDate,
		}); err != nil {
			return nil, err
		}
		if a.Blocked {
			if err := e.events().Append(ctx, tx, events.DispatchBlocked, "batch", batch.ID, actorID, blockedPayload(a, adv)); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	if summary != nil {
		if err := e.events().Append(ctx, tx, events.BatchCompared, "batch", batch.ID, actorID, summary); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, adv := range advices {
		e.observe(batch, adv)
	}
	return out, nil
}

func (e Engine) observe(batch domain.Batch, adv degassing.Advice) {
	e.Metrics.ObserveAdvice(string(adv.Model), string(adv.RiskLevel), adv.Blocked)
	evt := e.Logger.Info()
	if adv.Blocked {
		evt = e.Logger.Warn()
	}
	if adv.Physical != nil {
		e.Metrics.ObserveDaysToSafety(adv.Physical.DaysToSafety)
		evt = evt.Int("days_to_safety", adv.Physical.DaysToSafety)
	}
	evt.Str("batch_id", batch.ID).
		Str("model", string(adv.Model)).
		Str("risk", string(adv.RiskLevel)).
		Bool("blocked", adv.Blocked).
		Str("ready_date", adv.ReadyDate).
		Msg("advisory recorded")
}

func assessmentFor(batch domain.Batch, adv degassing.Advice, actorID, now string) (domain.Assessment, error) {
	var result any = adv.RuleBased
	if adv.Physical != nil {
		result = adv.Physical
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("marshal %s result: %w", adv.Model, err)
	}
	return domain.Assessment{
		ID:        uuid.NewString(),
		BatchID:   batch.ID,
		Model:     string(adv.Model),
		RiskLevel: adv.RiskLevel,
		Blocked:   adv.Blocked,
		ReadyDate: adv.ReadyDate,
		Result:    raw,
		ActorID:   actorID,
		CreatedAt: now,
	}, nil
}

func blockedPayload(a domain.Assessment, adv degassing.Advice) events.EventPayload {
	p := events.EventPayload{
		"assessment_id": a.ID,
		"model":         a.Model,
		"risk_level":    a.RiskLevel,
		"ready_date":    a.ReadyDate,
	}
	switch {
	case adv.RuleBased != nil:
		p["reason"] = adv.RuleBased.BlockReason
	case adv.Physical != nil && adv.Physical.CriticalWarning != nil:
		p["reason"] = *adv.Physical.CriticalWarning
	}
	return p
}

// Simulate runs the pressure model on an unsaved batch. Nothing is persisted.
func (e Engine) Simulate(in BatchInput, cfg domain.DegassingConfig) (domain.PhysicalResult, error) {
	if cfg.Process != "" && strings.TrimSpace(in.Process) == "" {
		in.Process = cfg.Process
	}
	batch, err := ParseBatch(in)
	if err != nil {
		return domain.PhysicalResult{}, err
	}
	req := e.Request(batch, Options{Simulation: cfg})
	res, err := degassing.Physical{}.Simulate(batch, req.Simulation)
	if err != nil {
		e.Metrics.ObserveFailure(string(degassing.ModelPhysical))
		return domain.PhysicalResult{}, err
	}
	return res, nil
}
