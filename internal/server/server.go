package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"degasline/internal/degassing"
	"degasline/internal/domain"
	"degasline/internal/engine"
	"degasline/internal/metrics"
	"degasline/internal/migrate"
	"degasline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Metrics defaults to the engine's recorder.
	Metrics *metrics.Recorder
	Logger  zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"unrecognized_process"`
	Message string         `json:"message" example:"process \"wet-hulled\" is not recognized"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the degassing API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = cfg.Engine.Metrics
	}
	if rec == nil {
		rec = metrics.New()
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, cfg.Logger))
	router.Method(http.MethodGet, "/metrics", rec.Handler())

	hcfg := huma.DefaultConfig("Degasline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	hcfg.SchemasPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerBatches(group, cfg.Engine)
	registerAdvice(group, cfg.Engine)
	registerSimulate(group, cfg.Engine)
	registerFleet(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var procErr *degassing.UnrecognizedProcessError
	if errors.As(err, &procErr) {
		return newAPIError(http.StatusBadRequest, "unrecognized_process", err.Error(), map[string]any{"value": procErr.Value})
	}
	var paramErr *degassing.UnrecognizedParameterError
	if errors.As(err, &paramErr) {
		code := "unrecognized_parameter"
		if paramErr.Parameter == "process" {
			code = "unrecognized_process"
		}
		return newAPIError(http.StatusBadRequest, code, err.Error(), map[string]any{"parameter": paramErr.Parameter, "value": paramErr.Value})
	}
	var inputErr *engine.InputError
	if errors.As(err, &inputErr) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": inputErr.Field})
	}
	switch {
	case errors.Is(err, engine.ErrBatchExists):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas != nil {
		oas.Components.Schemas.Map()["ApiError"] = &huma.Schema{
			Type: "object",
			Properties: map[string]*huma.Schema{
				"error": {
					Type:     "object",
					Required: []string{"code", "message"},
					Properties: map[string]*huma.Schema{
						"code":    {Type: "string"},
						"message": {Type: "string"},
						"details": {Type: "object"},
					},
				},
			},
		}
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Degasline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		v, err := migrate.Version(ctx, e.DB)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", SchemaVersion: v}}, nil
	})
}

type batchPath struct {
	BatchID string `path:"batch_id"`
}

func registerBatches(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-batch",
		Method:        http.MethodPost,
		Path:          "/batches",
		Summary:       "Register a roasted batch",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateBatchRequest `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.RegisterBatch(ctx, engine.BatchInput{
			ID:        input.Body.ID,
			Label:     input.Body.Label,
			RoastDate: input.Body.RoastDate,
			Process:   input.Body.Process,
			Variety:   input.Body.Variety,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-batches",
		Method:      http.MethodGet,
		Path:        "/batches",
		Summary:     "List the most recently roasted batches",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"10"`
	}) (*struct {
		Body []BatchResponse `json:"body"`
	}, error) {
		items, err := e.Repo.RecentBatches(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []BatchResponse `json:"body"`
		}{Body: mapBatches(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-batch",
		Method:      http.MethodGet,
		Path:        "/batches/{batch_id}",
		Summary:     "Get batch",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *batchPath) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		b, err := e.Repo.GetBatch(ctx, input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assessments",
		Method:      http.MethodGet,
		Path:        "/batches/{batch_id}/assessments",
		Summary:     "List stored assessments for a batch, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BatchID string `path:"batch_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []AssessmentResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetBatch(ctx, input.BatchID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssessments(ctx, input.BatchID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssessmentResponse `json:"body"`
		}{Body: mapAssessments(items)}, nil
	})
}

func registerAdvice(api huma.API, e engine.Engine) {
	adviceErrors := []int{http.StatusBadRequest, http.StatusNotFound}

	huma.Register(api, huma.Operation{
		OperationID: "advise-rule-based",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/advice/rule-based",
		Summary:     "Rule-based pack and dispatch advice",
		Errors:      adviceErrors,
	}, func(ctx context.Context, input *struct {
		BatchID string          `path:"batch_id"`
		Body    ShipmentRequest `json:"body" required:"false"`
	}) (*struct {
		Body RuleBasedAdviceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, a, err := e.AdviseRuleBased(ctx, input.BatchID, input.Body.toEngine(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleBasedAdviceResponse `json:"body"`
		}{Body: RuleBasedAdviceResponse{Result: res, Assessment: assessmentResponse(a)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advise-physical",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/advice/physical",
		Summary:     "Simulate the pressure curve of a stored batch",
		Errors:      adviceErrors,
	}, func(ctx context.Context, input *struct {
		BatchID string            `path:"batch_id"`
		Body    SimulationRequest `json:"body" required:"false"`
	}) (*struct {
		Body PhysicalAdviceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, a, err := e.SimulatePhysical(ctx, input.BatchID, input.Body.toDomain(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PhysicalAdviceResponse `json:"body"`
		}{Body: PhysicalAdviceResponse{Result: res, Assessment: assessmentResponse(a)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advise-compare",
		Method:      http.MethodPost,
		Path:        "/batches/{batch_id}/advice/compare",
		Summary:     "Run every model and return their advice side by side",
		Errors:      adviceErrors,
	}, func(ctx context.Context, input *struct {
		BatchID string         `path:"batch_id"`
		Body    CompareRequest `json:"body" required:"false"`
	}) (*struct {
		Body degassing.Comparison `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cmp, err := e.Compare(ctx, input.BatchID, engine.Options{
			Shipment:   input.Body.Shipment.toEngine(),
			Simulation: input.Body.Simulation.toDomain(),
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body degassing.Comparison `json:"body"`
		}{Body: cmp}, nil
	})
}

func registerSimulate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "simulate",
		Method:      http.MethodPost,
		Path:        "/simulate",
		Summary:     "Simulate an unsaved batch; nothing is stored",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SimulateRequest `json:"body"`
	}) (*struct {
		Body domain.PhysicalResult `json:"body"`
	}, error) {
		in := input.Body
		res, err := e.Simulate(engine.BatchInput{ID: in.ID, RoastDate: in.RoastDate, Process: in.Process}, SimulationRequest{
			RoastDevelopment: in.RoastDevelopment,
			Packaging:        in.Packaging,
			Climate:          in.Climate,
		}.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PhysicalResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerFleet(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "fleet-assess",
		Method:      http.MethodPost,
		Path:        "/fleet/assess",
		Summary:     "Compare models across the most recently roasted batches",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body FleetRequest `json:"body" required:"false"`
	}) (*struct {
		Body FleetResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.AssessRecent(ctx, input.Body.Limit, engine.Options{
			Shipment:   input.Body.Shipment.toEngine(),
			Simulation: input.Body.Simulation.toDomain(),
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []engine.FleetItem{}
		}
		return &struct {
			Body FleetResponse `json:"body"`
		}{Body: FleetResponse{Items: items}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, repo.EventFilter{Type: input.Type, EntityID: input.EntityID, Before: cursorID})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
