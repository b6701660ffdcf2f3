package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevum/verdict/internal/clock"
	"github.com/aevum/verdict/internal/evaluation"
	"github.com/aevum/verdict/internal/rules"
	"github.com/aevum/verdict/internal/ruleengine"
	"github.com/aevum/verdict/internal/store"
)

// --- In-memory repositories ---

type memRuleRepo struct {
	mu       sync.Mutex
	versions map[string]map[int]*ruleengine.Rule
}

func newMemRuleRepo() *memRuleRepo {
	return &memRuleRepo{versions: map[string]map[int]*ruleengine.Rule{}}
}

func (r *memRuleRepo) GetByID(_ context.Context, id string, version int) (*ruleengine.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byVersion, ok := r.versions[id]
	if !ok {
		return nil, nil
	}
	if version == 0 {
		for v := range byVersion {
			if v > version {
				version = v
			}
		}
	}
	rule, ok := byVersion[version]
	if !ok {
		return nil, nil
	}
	copied := *rule
	return &copied, nil
}

func (r *memRuleRepo) GetLatestVersion(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := 0
	for v := range r.versions[id] {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

func (r *memRuleRepo) GetActive(ctx context.Context) ([]ruleengine.Rule, error) {
	return r.GetByStatus(ctx, ruleengine.RuleStatusActive)
}

func (r *memRuleRepo) GetByStatus(ctx context.Context, status ruleengine.RuleStatus) ([]ruleengine.Rule, error) {
	ids := func() []string {
		r.mu.Lock()
		defer r.mu.Unlock()
		out := make([]string, 0, len(r.versions))
		for id := range r.versions {
			out = append(out, id)
		}
		return out
	}()

	var out []ruleengine.Rule
	for _, id := range ids {
		latest, _ := r.GetByID(ctx, id, 0)
		if latest != nil && latest.Status == status {
			out = append(out, *latest)
		}
	}
	return out, nil
}

func (r *memRuleRepo) Create(_ context.Context, rule *ruleengine.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byVersion, ok := r.versions[rule.ID]
	if !ok {
		byVersion = map[int]*ruleengine.Rule{}
		r.versions[rule.ID] = byVersion
	}
	if _, exists := byVersion[rule.Version]; exists {
		return fmt.Errorf("rule %q version %d: %w", rule.ID, rule.Version, store.ErrVersionConflict)
	}
	copied := *rule
	byVersion[rule.Version] = &copied
	return nil
}

func (r *memRuleRepo) Update(_ context.Context, rule *ruleengine.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byVersion, ok := r.versions[rule.ID]
	if !ok {
		return fmt.Errorf("no such rule")
	}
	existing, ok := byVersion[rule.Version]
	if !ok {
		return fmt.Errorf("no such row")
	}
	existing.Status = rule.Status
	existing.UpdatedAt = rule.UpdatedAt
	existing.UpdatedBy = rule.UpdatedBy
	return nil
}

func (r *memRuleRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.versions, id)
	return nil
}

type memDecisionRepo struct {
	mu          sync.Mutex
	byRequestID map[string]*ruleengine.Decision
}

func newMemDecisionRepo() *memDecisionRepo {
	return &memDecisionRepo{byRequestID: map[string]*ruleengine.Decision{}}
}

func (r *memDecisionRepo) GetByID(_ context.Context, id string) (*ruleengine.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byRequestID {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (r *memDecisionRepo) GetByRequestID(_ context.Context, requestID string) (*ruleengine.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byRequestID[requestID], nil
}

func (r *memDecisionRepo) GetByRuleID(_ context.Context, ruleID string) ([]ruleengine.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ruleengine.Decision
	for _, d := range r.byRequestID {
		if d.RuleID == ruleID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memDecisionRepo) Create(_ context.Context, decision *ruleengine.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byRequestID[decision.RequestID]; exists {
		return fmt.Errorf("request %q: %w", decision.RequestID, store.ErrDuplicateRequestID)
	}
	copied := *decision
	r.byRequestID[decision.RequestID] = &copied
	return nil
}

// contestedDecisionRepo commits a concurrent winner between the idempotency
// check and the first insert, making that insert lose the uniqueness race.
type contestedDecisionRepo struct {
	*memDecisionRepo
	winner *ruleengine.Decision
	raced  bool
}

func (r *contestedDecisionRepo) Create(ctx context.Context, decision *ruleengine.Decision) error {
	if !r.raced {
		r.raced = true
		r.memDecisionRepo.mu.Lock()
		r.memDecisionRepo.byRequestID[r.winner.RequestID] = r.winner
		r.memDecisionRepo.mu.Unlock()
		return fmt.Errorf("request %q: %w", decision.RequestID, store.ErrDuplicateRequestID)
	}
	return r.memDecisionRepo.Create(ctx, decision)
}

// --- Harness ---

func newTestAPI(t *testing.T) *API {
	t.Helper()

	ruleRepo := newMemRuleRepo()
	decisionRepo := newMemDecisionRepo()
	clk := clock.NewFixed(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	evaluator := ruleengine.NewEvaluator(nil)

	ruleSvc := rules.NewService(ruleRepo, nil, clk, nil)
	evalSvc := evaluation.NewService(ruleRepo, decisionRepo, nil, evaluator, clk, nil, nil)

	return NewAPI(ruleSvc, evalSvc, nil)
}

func doJSON(t *testing.T, api *API, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	api.Router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func highValueRuleRequest() RuleRequest {
	return RuleRequest{
		ID:   "rule-1",
		Name: "High value orders",
		Conditions: []ruleengine.RuleCondition{
			{Field: "amount", Operator: ruleengine.OperatorGreaterThan, Value: ruleengine.Int(100)},
			{Field: "country", Operator: ruleengine.OperatorEquals, Value: ruleengine.String("BR"),
				LogicalOperator: ruleengine.LogicalAnd},
		},
		Actions: []ruleengine.RuleAction{
			{Type: ruleengine.ActionStoreDecision, Order: 0},
		},
		Actor: "alice",
	}
}

func evaluateBody(requestID string) EvaluateRequest {
	return EvaluateRequest{
		RuleID:    "rule-1",
		RequestID: requestID,
		Context: map[string]ruleengine.Value{
			"amount":  ruleengine.Int(150),
			"country": ruleengine.String("BR"),
		},
	}
}

// --- Tests ---

func TestAPI_RuleLifecycle(t *testing.T) {
	api := newTestAPI(t)

	t.Run("Should create a rule at version 1 in Draft", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/rules", highValueRuleRequest())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		created := decode[ruleengine.Rule](t, rec)
		assert.Equal(t, "rule-1", created.ID)
		assert.Equal(t, 1, created.Version)
		assert.Equal(t, ruleengine.RuleStatusDraft, created.Status)
		assert.Equal(t, "alice", created.CreatedBy)
	})

	t.Run("Should reject a rule without a name", func(t *testing.T) {
		bad := highValueRuleRequest()
		bad.ID = "rule-no-name"
		bad.Name = "   "

		rec := doJSON(t, api, http.MethodPost, "/api/v1/rules", bad)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "ERR_INVALID_INPUT", resp.Code)
	})

	t.Run("Should reject a structurally invalid rule", func(t *testing.T) {
		bad := highValueRuleRequest()
		bad.ID = "rule-bad-op"
		bad.Conditions[0].Operator = "Between"

		rec := doJSON(t, api, http.MethodPost, "/api/v1/rules", bad)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "ERR_INVALID_RULE", resp.Code)
	})

	t.Run("Should activate the rule", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/rules/rule-1/activate?actor=ops", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		activated := decode[ruleengine.Rule](t, rec)
		assert.Equal(t, ruleengine.RuleStatusActive, activated.Status)
		assert.Equal(t, "ops", activated.UpdatedBy)
	})

	t.Run("Should list active rules", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodGet, "/api/v1/rules", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		listed := decode[[]ruleengine.Rule](t, rec)
		require.Len(t, listed, 1)
		assert.Equal(t, "rule-1", listed[0].ID)
	})

	t.Run("Should append a version on update and keep the old one", func(t *testing.T) {
		update := highValueRuleRequest()
		update.Name = "High value orders v2"
		update.Actor = "bob"

		rec := doJSON(t, api, http.MethodPut, "/api/v1/rules/rule-1", update)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		updated := decode[ruleengine.Rule](t, rec)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, "alice", updated.CreatedBy)
		assert.Equal(t, "bob", updated.UpdatedBy)

		rec = doJSON(t, api, http.MethodGet, "/api/v1/rules/rule-1?version=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		v1 := decode[ruleengine.Rule](t, rec)
		assert.Equal(t, "High value orders", v1.Name)
	})

	t.Run("Should return 404 for an unknown rule", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodGet, "/api/v1/rules/ghost", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "ERR_RULE_NOT_FOUND", resp.Code)
	})

	t.Run("Should reject a malformed version parameter", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodGet, "/api/v1/rules/rule-1?version=banana", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should delete the rule and answer 404 afterwards", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodDelete, "/api/v1/rules/rule-1", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, api, http.MethodGet, "/api/v1/rules/rule-1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAPI_Evaluations(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/rules", highValueRuleRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doJSON(t, api, http.MethodPost, "/api/v1/rules/rule-1/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var firstDecision ruleengine.Decision

	t.Run("Should evaluate and answer 201 with an approved decision", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/evaluations", evaluateBody("req-1"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		firstDecision = decode[ruleengine.Decision](t, rec)
		assert.Equal(t, ruleengine.DecisionStatusApproved, firstDecision.Status)
		assert.Equal(t, "rule-1", firstDecision.RuleID)
		assert.Equal(t, []string{
			"amount GreaterThan 100",
			"country Equals BR",
		}, firstDecision.MatchedConditions)
		assert.Regexp(t, "^[0-9a-f]{64}$", firstDecision.DeterministicHash)
	})

	t.Run("Should replay with 200 and the same decision", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/evaluations", evaluateBody("req-1"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		replayed := decode[ruleengine.Decision](t, rec)
		assert.Equal(t, firstDecision.ID, replayed.ID)
		assert.Equal(t, firstDecision.DeterministicHash, replayed.DeterministicHash)
	})

	t.Run("Should record a rejected decision for a non-match", func(t *testing.T) {
		body := evaluateBody("req-rejected")
		body.Context["amount"] = ruleengine.Int(10)

		rec := doJSON(t, api, http.MethodPost, "/api/v1/evaluations", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		decision := decode[ruleengine.Decision](t, rec)
		assert.Equal(t, ruleengine.DecisionStatusRejected, decision.Status)
		assert.Empty(t, decision.ExecutedActions)
	})

	t.Run("Should answer 404 when the rule does not exist", func(t *testing.T) {
		body := evaluateBody("req-ghost-rule")
		body.RuleID = "ghost"

		rec := doJSON(t, api, http.MethodPost, "/api/v1/evaluations", body)
		require.Equal(t, http.StatusNotFound, rec.Code)

		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "ERR_RULE_NOT_FOUND", resp.Code)
	})

	t.Run("Should answer 422 when evaluation fails and persist nothing", func(t *testing.T) {
		body := evaluateBody("req-eval-error")
		delete(body.Context, "amount")

		rec := doJSON(t, api, http.MethodPost, "/api/v1/evaluations", body)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "ERR_EVALUATION_FAILED", resp.Code)

		rec = doJSON(t, api, http.MethodGet, "/api/v1/decisions?request_id=req-eval-error", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code,
			"a failed evaluation must not leave a decision behind")
	})

	t.Run("Should reject a missing request id", func(t *testing.T) {
		body := evaluateBody("")

		rec := doJSON(t, api, http.MethodPost, "/api/v1/evaluations", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should reject malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluations",
			bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		api.Router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "ERR_INVALID_JSON", resp.Code)
	})

	t.Run("Should fetch decisions by id and request id", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodGet, "/api/v1/decisions/"+firstDecision.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		byID := decode[ruleengine.Decision](t, rec)
		assert.Equal(t, firstDecision.ID, byID.ID)

		rec = doJSON(t, api, http.MethodGet, "/api/v1/decisions?request_id=req-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		byRequest := decode[ruleengine.Decision](t, rec)
		assert.Equal(t, firstDecision.ID, byRequest.ID)
	})

	t.Run("Should list decisions for a rule", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodGet, "/api/v1/rules/rule-1/decisions", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		listed := decode[[]ruleengine.Decision](t, rec)
		assert.GreaterOrEqual(t, len(listed), 2)
	})

	t.Run("Should answer 404 for unknown decision lookups", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodGet, "/api/v1/decisions/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = doJSON(t, api, http.MethodGet, "/api/v1/decisions?request_id=ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAPI_EvaluateLosingInsertRace(t *testing.T) {
	winner := &ruleengine.Decision{
		ID:        "winner-id",
		RuleID:    "rule-1",
		RequestID: "req-race",
		Status:    ruleengine.DecisionStatusApproved,
	}

	ruleRepo := newMemRuleRepo()
	decisionRepo := &contestedDecisionRepo{memDecisionRepo: newMemDecisionRepo(), winner: winner}
	clk := clock.NewFixed(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	ruleSvc := rules.NewService(ruleRepo, nil, clk, nil)
	evalSvc := evaluation.NewService(ruleRepo, decisionRepo, nil, ruleengine.NewEvaluator(nil), clk, nil, nil)
	api := NewAPI(ruleSvc, evalSvc, nil)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/rules", highValueRuleRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doJSON(t, api, http.MethodPost, "/api/v1/rules/rule-1/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("Should answer 200 with the decision the concurrent winner stored", func(t *testing.T) {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/evaluations", evaluateBody("req-race"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		got := decode[ruleengine.Decision](t, rec)
		assert.Equal(t, "winner-id", got.ID)
	})
}

func TestAPI_HealthCheck(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
