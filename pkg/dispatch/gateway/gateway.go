// Package gateway implements the Backend Gateway: the engine's only
// synchronous request/reply surface onto the backend REST service. Every
// call is best-effort — failures are reported as an error to the caller
// rather than thrown, so the caller decides policy (spec.md §4.1, §7).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/emergency-platform/dispatch-engine/internal/apperrors"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/cache"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/model"
	"github.com/emergency-platform/dispatch-engine/pkg/metrics"
)

var tracer = otel.Tracer("dispatch-engine/gateway")

// Gateway is the narrow capability contract the rest of the engine depends
// on (spec.md §9's "narrow capability contract plus an implementation").
type Gateway interface {
	GetStaticData(ctx context.Context) (cache.Bundle, error)
	GetCandidates(ctx context.Context, interventionID string) ([]model.Candidate, int, error)
	GetPendingInterventions(ctx context.Context) ([]model.PendingIntervention, error)
	AssignUnit(ctx context.Context, interventionID, unitID, role string) (string, error)
	ReleaseAssignment(ctx context.Context, assignmentID string) error
	UpdateUnitStatus(ctx context.Context, unitID, status string) error
}

// Config configures the HTTP gateway: base URL, per-call timeouts and the
// OIDC client-credentials token source (spec.md §4.1, §6).
type Config struct {
	BaseURL string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// WriteTimeout is part of the documented per-call timeout budget but
	// net/http.Client has no separate write deadline; it folds into
	// ReadTimeout via the client's overall request Timeout.
	WriteTimeout time.Duration

	OIDCTokenURL     string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCScopes       []string
}

func (c Config) oidcEnabled() bool {
	return c.OIDCTokenURL != "" && c.OIDCClientID != ""
}

// HTTPGateway is the production Gateway implementation.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	log     logr.Logger

	breaker *gobreaker.CircuitBreaker[any]
}

// New builds an HTTPGateway. When cfg carries OIDC settings the client's
// transport silently acquires and refreshes a bearer token via
// clientcredentials; otherwise plain HTTP is used (e.g. in local
// development against an unauthenticated stub). Either way, token
// acquisition and refresh are fully opaque to gateway callers.
func New(cfg Config, log logr.Logger) *HTTPGateway {
	base := &http.Transport{
		DialContext: (&net.Dialer{Timeout: orDefault(cfg.ConnectTimeout, 10 * time.Second)}).DialContext,
	}

	var client *http.Client
	if cfg.oidcEnabled() {
		ccCfg := &clientcredentials.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			TokenURL:     cfg.OIDCTokenURL,
			Scopes:       cfg.OIDCScopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base})
		client = ccCfg.Client(ctx)
	} else {
		client = &http.Client{Transport: base}
	}
	client.Timeout = orDefault(cfg.ReadTimeout, 30*time.Second)

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "backend-gateway",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		client:  client,
		log:     log.WithName("backend-gateway"),
		breaker: breaker,
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// --- request helpers ---------------------------------------------------

func (g *HTTPGateway) do(ctx context.Context, spanName, method, path string, body any, out any) error {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.doOnce(ctx, method, path, body, out)
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			err = apperrors.NewUnavailableError(spanName, err)
		}
		metrics.RecordGatewayCall(spanName, outcomeFor(err))
		return err
	}
	span.SetAttributes(attribute.String("dispatch.gateway.op", spanName))
	metrics.RecordGatewayCall(spanName, "ok")
	return nil
}

// outcomeFor maps a gateway error to the metrics label describing it.
func outcomeFor(err error) string {
	if apperrors.IsType(err, apperrors.ErrorTypeMalformed) {
		return "malformed"
	}
	return "unavailable"
}

func (g *HTTPGateway) doOnce(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewMalformedResponseError(path, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return apperrors.NewUnavailableError(path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return apperrors.NewUnavailableError(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Newf(apperrors.ErrorTypeUnavailable, "backend returned status %d for %s", resp.StatusCode, path)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewMalformedResponseError(path, err)
	}
	return nil
}

// --- static data ---------------------------------------------------------

type staticDataResponse struct {
	Config     []model.ConfigItem `json:"config"`
	UnitTypes  []model.UnitType   `json:"unit_types"`
	EventTypes []model.EventType  `json:"event_types"`
	Bases      []model.Base       `json:"bases"`
}

func (g *HTTPGateway) GetStaticData(ctx context.Context) (cache.Bundle, error) {
	var resp staticDataResponse
	if err := g.do(ctx, "get_static_data", http.MethodGet, "/v1/dispatch/static", nil, &resp); err != nil {
		return cache.Bundle{}, err
	}
	return cache.Bundle{
		ConfigItems: resp.Config,
		UnitTypes:   resp.UnitTypes,
		EventTypes:  resp.EventTypes,
		Bases:       resp.Bases,
	}, nil
}

// --- candidates ------------------------------------------------------------

type candidatesResponse struct {
	EventSeverity int               `json:"event_severity"`
	Candidates    []model.Candidate `json:"candidates"`
}

func (g *HTTPGateway) GetCandidates(ctx context.Context, interventionID string) ([]model.Candidate, int, error) {
	var resp candidatesResponse
	path := fmt.Sprintf("/v1/interventions/%s/candidates", interventionID)
	if err := g.do(ctx, "get_candidates", http.MethodGet, path, nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Candidates, resp.EventSeverity, nil
}

// --- pending interventions --------------------------------------------------

type pendingResponse struct {
	Interventions []model.PendingIntervention `json:"interventions"`
}

func (g *HTTPGateway) GetPendingInterventions(ctx context.Context) ([]model.PendingIntervention, error) {
	var resp pendingResponse
	if err := g.do(ctx, "get_pending_interventions", http.MethodGet, "/v1/dispatch/pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Interventions, nil
}

// --- assignment mutation --------------------------------------------------

type assignRequest struct {
	UnitID string `json:"unit_id"`
	Role   string `json:"role"`
}

type assignResponse struct {
	ID string `json:"id"`
}

func (g *HTTPGateway) AssignUnit(ctx context.Context, interventionID, unitID, role string) (string, error) {
	var resp assignResponse
	path := fmt.Sprintf("/v1/interventions/%s/assignments", interventionID)
	body := assignRequest{UnitID: unitID, Role: role}
	if err := g.do(ctx, "assign_unit", http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", apperrors.NewMalformedResponseError("assign_unit", fmt.Errorf("missing assignment id in response"))
	}
	return resp.ID, nil
}

type statusPatch struct {
	Status string `json:"status"`
}

func (g *HTTPGateway) ReleaseAssignment(ctx context.Context, assignmentID string) error {
	path := fmt.Sprintf("/v1/assignments/%s/status", assignmentID)
	return g.do(ctx, "release_assignment", http.MethodPatch, path, statusPatch{Status: "released"}, nil)
}

func (g *HTTPGateway) UpdateUnitStatus(ctx context.Context, unitID, status string) error {
	path := fmt.Sprintf("/v1/units/%s/status", unitID)
	return g.do(ctx, "update_unit_status", http.MethodPatch, path, statusPatch{Status: status}, nil)
}
