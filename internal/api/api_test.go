package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/approval"
	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/orchestrator"
	"github.com/shaiso/conveyor/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Fakes ---

// fakeInvoker — исполнитель действий: отвечает настраиваемой функцией.
type fakeInvoker struct {
	mu sync.Mutex
	fn func(ctx context.Context, plugin, operation string, params map[string]any) (any, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, plugin, operation string, params map[string]any) (any, error) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, plugin, operation, params)
	}
	return map[string]any{"ok": true}, nil
}

// memWorkflows — хранилище определений в памяти. Служит одновременно
// WorkflowStore для API и источником workflow для оркестратора.
type memWorkflows struct {
	mu       sync.Mutex
	current  map[string]*domain.WorkflowDefinition
	versions map[string]*domain.WorkflowDefinition
}

func newMemWorkflows() *memWorkflows {
	return &memWorkflows{
		current:  make(map[string]*domain.WorkflowDefinition),
		versions: make(map[string]*domain.WorkflowDefinition),
	}
}

func versionKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

func (m *memWorkflows) Save(_ context.Context, def *domain.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[def.ID] = def
	m.versions[versionKey(def.ID, def.Version)] = def
	return nil
}

func (m *memWorkflows) GetDefinition(_ context.Context, workflowID string) (*domain.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.current[workflowID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return def, nil
}

func (m *memWorkflows) GetVersion(_ context.Context, workflowID string, version int) (*domain.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.versions[versionKey(workflowID, version)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return def, nil
}

func (m *memWorkflows) List(_ context.Context) ([]domain.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defs := make([]domain.WorkflowDefinition, 0, len(m.current))
	for _, def := range m.current {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func (m *memWorkflows) Delete(_ context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.current[workflowID]; !ok {
		return repo.ErrNotFound
	}
	delete(m.current, workflowID)
	return nil
}

// memSchedules — хранилище расписаний в памяти.
type memSchedules struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Schedule
}

func newMemSchedules() *memSchedules {
	return &memSchedules{items: make(map[uuid.UUID]*domain.Schedule)}
}

func (m *memSchedules) Create(_ context.Context, schedule *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *schedule
	m.items[schedule.ID] = &cp
	return nil
}

func (m *memSchedules) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSchedules) List(_ context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Schedule
	for _, s := range m.items {
		if filter.WorkflowID != "" && s.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Enabled != nil && s.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *memSchedules) Update(_ context.Context, schedule *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[schedule.ID]; !ok {
		return repo.ErrNotFound
	}
	cp := *schedule
	m.items[schedule.ID] = &cp
	return nil
}

func (m *memSchedules) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memSchedules) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.Enabled = enabled
	return nil
}

// --- Test env ---

type testEnv struct {
	base      string
	workflows *memWorkflows
	schedules *memSchedules
	tracker   *approval.Tracker
	invoker   *fakeInvoker
}

// newTestEnv поднимает httptest-сервер с полным стеком: реальный
// оркестратор, реальный трекер согласований, хранилища в памяти.
func newTestEnv(t *testing.T, defs ...*domain.WorkflowDefinition) *testEnv {
	t.Helper()

	workflows := newMemWorkflows()
	for _, def := range defs {
		if err := workflows.Save(context.Background(), def); err != nil {
			t.Fatalf("save workflow: %v", err)
		}
	}
	schedules := newMemSchedules()
	invoker := &fakeInvoker{}
	// Короткий интервал опроса: наблюдатель согласований замечает
	// решение сразу и авто-возобновление укладывается в waitExecution.
	tracker := approval.NewTracker(approval.Config{
		Interval: 10 * time.Millisecond,
		Logger:   testLogger(),
	})
	orch := orchestrator.New(orchestrator.Config{
		Workflows: workflows,
		Plugins:   invoker,
		Approvals: tracker,
		Logger:    testLogger(),
	})
	t.Cleanup(orch.Stop)

	h := NewHandler(Config{
		Engine:    orch,
		Approvals: tracker,
		Workflows: workflows,
		Schedules: schedules,
		Logger:    testLogger(),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{
		base:      srv.URL,
		workflows: workflows,
		schedules: schedules,
		tracker:   tracker,
		invoker:   invoker,
	}
}

// do выполняет запрос и декодирует JSON-ответ.
func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.base+path, rdr)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response of %s %s: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

// data извлекает объект data из конверта ответа.
func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %v", body)
	}
	return d
}

// dataList извлекает массив data из конверта ответа.
func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()
	if body["data"] == nil {
		return nil
	}
	d, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("response has no data list: %v", body)
	}
	return d
}

// errCode извлекает код ошибки из конверта ответа.
func errCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

// waitExecution опрашивает GET /executions/{id} до нужного статуса.
func (e *testEnv) waitExecution(t *testing.T, id, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, body := e.do(t, http.MethodGet, "/api/v1/executions/"+id, nil)
		if status == http.StatusOK {
			d := data(t, body)
			if d["status"] == want {
				return d
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach status %s", id, want)
	return nil
}

func actionStep(id string, deps ...string) domain.Step {
	return domain.Step{
		ID:        id,
		Type:      domain.StepTypeAction,
		DependsOn: deps,
		Action:    &domain.ActionConfig{Plugin: "test", Operation: id},
	}
}

func simpleWorkflow(id string) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:      id,
		Version: 1,
		Steps:   []domain.Step{actionStep("work")},
	}
}

func approvalWorkflow(id string, cfg *domain.ApprovalConfig) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:      id,
		Version: 1,
		Steps: []domain.Step{
			actionStep("prepare"),
			{
				ID:            "review",
				Type:          domain.StepTypeHumanApproval,
				DependsOn:     []string{"prepare"},
				HumanApproval: cfg,
			},
			actionStep("apply", "review"),
		},
	}
}

// --- Workflows ---

func TestRegisterWorkflow_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	def := map[string]any{
		"id":   "wf-deploy",
		"name": "Deploy",
		"steps": []map[string]any{
			{"id": "build", "type": "action", "action": map[string]any{"plugin": "sh", "operation": "build"}},
			{"id": "ship", "type": "action", "depends_on": []string{"build"},
				"action": map[string]any{"plugin": "sh", "operation": "ship"}},
		},
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/workflows", def)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%v)", status, body)
	}
	d := data(t, body)
	if d["id"] != "wf-deploy" {
		t.Errorf("data.id = %v, want wf-deploy", d["id"])
	}
	if d["version"] != float64(1) {
		t.Errorf("data.version = %v, want 1", d["version"])
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/workflows/wf-deploy", nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d, want 200", status)
	}
	d = data(t, body)
	steps, _ := d["steps"].([]any)
	if len(steps) != 2 {
		t.Errorf("definition has %d steps, want 2", len(steps))
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/workflows", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d, want 200", status)
	}
	if got := len(dataList(t, body)); got != 1 {
		t.Errorf("list returned %d workflows, want 1", got)
	}
}

func TestRegisterWorkflow_InvalidDefinition(t *testing.T) {
	env := newTestEnv(t)

	def := map[string]any{
		"id": "wf-broken",
		"steps": []map[string]any{
			{"id": "x", "type": "teleport"},
		},
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/workflows", def)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if code := errCode(t, body); code != string(ErrCodeBadRequest) {
		t.Errorf("error code = %s, want %s", code, ErrCodeBadRequest)
	}
}

func TestGetWorkflow_SpecificVersion(t *testing.T) {
	v1 := simpleWorkflow("wf-versioned")
	v2 := &domain.WorkflowDefinition{
		ID:      "wf-versioned",
		Version: 2,
		Steps:   []domain.Step{actionStep("work"), actionStep("extra", "work")},
	}
	env := newTestEnv(t, v1, v2)

	status, body := env.do(t, http.MethodGet, "/api/v1/workflows/wf-versioned?version=1", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if got := data(t, body)["version"]; got != float64(1) {
		t.Errorf("version = %v, want 1", got)
	}

	// Без параметра отдаётся текущая
	_, body = env.do(t, http.MethodGet, "/api/v1/workflows/wf-versioned", nil)
	if got := data(t, body)["version"]; got != float64(2) {
		t.Errorf("current version = %v, want 2", got)
	}

	status, _ = env.do(t, http.MethodGet, "/api/v1/workflows/wf-versioned?version=9", nil)
	if status != http.StatusNotFound {
		t.Errorf("missing version status = %d, want 404", status)
	}
}

func TestDeleteWorkflow_NotFound(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodDelete, "/api/v1/workflows/ghost", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if code := errCode(t, body); code != string(ErrCodeNotFound) {
		t.Errorf("error code = %s, want %s", code, ErrCodeNotFound)
	}
}

// --- Executions ---

func TestStartExecution_Completes(t *testing.T) {
	env := newTestEnv(t, simpleWorkflow("wf-hello"))

	status, body := env.do(t, http.MethodPost, "/api/v1/workflows/wf-hello/executions",
		map[string]any{"inputs": map[string]any{"name": "world"}})
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%v)", status, body)
	}
	d := data(t, body)
	id, _ := d["id"].(string)
	if id == "" {
		t.Fatal("data.id is empty")
	}
	if d["workflow_id"] != "wf-hello" {
		t.Errorf("workflow_id = %v, want wf-hello", d["workflow_id"])
	}

	final := env.waitExecution(t, id, "completed")
	steps, _ := final["steps"].(map[string]any)
	if len(steps) != 1 {
		t.Fatalf("steps = %v, want 1 entry", steps)
	}
}

func TestStartExecution_UnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/workflows/ghost/executions", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (%v)", status, body)
	}
}

func TestListExecutions_FiltersByStatus(t *testing.T) {
	env := newTestEnv(t, simpleWorkflow("wf-ok"), simpleWorkflow("wf-bad"))
	env.invoker.fn = func(_ context.Context, _, _ string, _ map[string]any) (any, error) {
		return nil, fmt.Errorf("no capacity")
	}

	_, body := env.do(t, http.MethodPost, "/api/v1/workflows/wf-bad/executions", nil)
	badID, _ := data(t, body)["id"].(string)
	env.waitExecution(t, badID, "failed")

	env.invoker.mu.Lock()
	env.invoker.fn = nil
	env.invoker.mu.Unlock()

	_, body = env.do(t, http.MethodPost, "/api/v1/workflows/wf-ok/executions", nil)
	okID, _ := data(t, body)["id"].(string)
	env.waitExecution(t, okID, "completed")

	status, body := env.do(t, http.MethodGet, "/api/v1/executions?status=failed", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	items := dataList(t, body)
	if len(items) != 1 {
		t.Fatalf("filtered list has %d items, want 1 (%v)", len(items), items)
	}
	got, _ := items[0].(map[string]any)
	if got["id"] != badID {
		t.Errorf("filtered item id = %v, want %s", got["id"], badID)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/executions?workflow_id=wf-ok", nil)
	if got := len(dataList(t, body)); got != 1 {
		t.Errorf("workflow filter returned %d items, want 1", got)
	}
}

func TestFailExecution_CancelsPendingApproval(t *testing.T) {
	env := newTestEnv(t, approvalWorkflow("wf-gated", &domain.ApprovalConfig{
		Approvers: []string{"alice"},
		Message:   "release gate",
	}))

	_, body := env.do(t, http.MethodPost, "/api/v1/workflows/wf-gated/executions", nil)
	id, _ := data(t, body)["id"].(string)
	env.waitExecution(t, id, "paused")

	status, body := env.do(t, http.MethodPost, "/api/v1/executions/"+id+"/fail",
		map[string]any{"reason": "operator abort"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", status, body)
	}
	d := data(t, body)
	if d["status"] != "failed" {
		t.Errorf("status = %v, want failed", d["status"])
	}
	if d["error"] != "operator abort" {
		t.Errorf("error = %v, want operator abort", d["error"])
	}

	// Отменённый запрос исчезает из очереди согласований
	_, body = env.do(t, http.MethodGet, "/api/v1/approvals", nil)
	if got := len(dataList(t, body)); got != 0 {
		t.Errorf("pending approvals = %d, want 0", got)
	}
}

func TestResumeExecution_NotPaused(t *testing.T) {
	env := newTestEnv(t, simpleWorkflow("wf-quick"))

	_, body := env.do(t, http.MethodPost, "/api/v1/workflows/wf-quick/executions", nil)
	id, _ := data(t, body)["id"].(string)
	env.waitExecution(t, id, "completed")

	status, body := env.do(t, http.MethodPost, "/api/v1/executions/"+id+"/resume", nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (%v)", status, body)
	}
	if code := errCode(t, body); code != string(ErrCodeInvalidState) {
		t.Errorf("error code = %s, want %s", code, ErrCodeInvalidState)
	}
}

// --- Approvals ---

func TestApprovalFlow_ApproveResumes(t *testing.T) {
	env := newTestEnv(t, approvalWorkflow("wf-release", &domain.ApprovalConfig{
		Approvers: []string{"alice", "bob"},
		Message:   "ship it?",
	}))

	_, body := env.do(t, http.MethodPost, "/api/v1/workflows/wf-release/executions", nil)
	id, _ := data(t, body)["id"].(string)
	paused := env.waitExecution(t, id, "paused")
	approvalID, _ := paused["pending_approval_id"].(string)
	if approvalID == "" {
		t.Fatal("paused execution has no pending_approval_id")
	}

	// Запрос виден своему согласующему и не виден постороннему
	_, body = env.do(t, http.MethodGet, "/api/v1/approvals?approver=alice", nil)
	if got := len(dataList(t, body)); got != 1 {
		t.Fatalf("alice sees %d approvals, want 1", got)
	}
	_, body = env.do(t, http.MethodGet, "/api/v1/approvals?approver=mallory", nil)
	if got := len(dataList(t, body)); got != 0 {
		t.Fatalf("mallory sees %d approvals, want 0", got)
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/response",
		map[string]any{"approver_id": "alice", "decision": "approve"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", status, body)
	}
	if got := data(t, body)["status"]; got != "approved" {
		t.Errorf("approval status = %v, want approved", got)
	}

	// Выполнение возобновляется и доходит до конца без явного resume
	final := env.waitExecution(t, id, "completed")
	steps, _ := final["steps"].(map[string]any)
	apply, _ := steps["apply"].(map[string]any)
	if apply["status"] != "completed" {
		t.Errorf("apply step status = %v, want completed", apply["status"])
	}
}

func TestApprovalResponse_Errors(t *testing.T) {
	env := newTestEnv(t, approvalWorkflow("wf-strict", &domain.ApprovalConfig{
		Approvers:      []string{"alice", "bob"},
		ApprovalType:   domain.ApprovalAll,
		RequireComment: true,
		Message:        "audit gate",
	}))

	_, body := env.do(t, http.MethodPost, "/api/v1/workflows/wf-strict/executions", nil)
	id, _ := data(t, body)["id"].(string)
	paused := env.waitExecution(t, id, "paused")
	approvalID, _ := paused["pending_approval_id"].(string)

	tests := []struct {
		name     string
		body     map[string]any
		wantCode ErrorCode
		wantHTTP int
	}{
		{
			name:     "unknown approver is rejected",
			body:     map[string]any{"approver_id": "mallory", "decision": "approve", "comment": "hi"},
			wantCode: ErrCodeForbidden,
			wantHTTP: http.StatusForbidden,
		},
		{
			name:     "comment is enforced",
			body:     map[string]any{"approver_id": "alice", "decision": "approve"},
			wantCode: ErrCodeBadRequest,
			wantHTTP: http.StatusBadRequest,
		},
		{
			name:     "bad decision value",
			body:     map[string]any{"approver_id": "alice", "decision": "maybe"},
			wantCode: ErrCodeBadRequest,
			wantHTTP: http.StatusBadRequest,
		},
		{
			name:     "first valid response is accepted",
			body:     map[string]any{"approver_id": "alice", "decision": "approve", "comment": "lgtm"},
			wantHTTP: http.StatusOK,
		},
		{
			name:     "duplicate response conflicts",
			body:     map[string]any{"approver_id": "alice", "decision": "approve", "comment": "again"},
			wantCode: ErrCodeConflict,
			wantHTTP: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/response", tt.body)
			if status != tt.wantHTTP {
				t.Fatalf("status = %d, want %d (%v)", status, tt.wantHTTP, body)
			}
			if tt.wantCode != "" {
				if code := errCode(t, body); code != string(tt.wantCode) {
					t.Errorf("error code = %s, want %s", code, tt.wantCode)
				}
			}
		})
	}
}

func TestGetApproval_NotFound(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodGet, "/api/v1/approvals/ghost", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

// --- Schedules ---

func TestScheduleCRUD(t *testing.T) {
	env := newTestEnv(t, simpleWorkflow("wf-nightly"))

	status, body := env.do(t, http.MethodPost, "/api/v1/workflows/wf-nightly/schedules",
		map[string]any{"name": "nightly", "cron_expr": "0 3 * * *", "enabled": true})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, want 201 (%v)", status, body)
	}
	d := data(t, body)
	id, _ := d["id"].(string)
	if d["next_due_at"] == nil {
		t.Error("next_due_at is not set on create")
	}
	if d["timezone"] != "UTC" {
		t.Errorf("timezone = %v, want UTC", d["timezone"])
	}

	status, body = env.do(t, http.MethodPut, "/api/v1/schedules/"+id,
		map[string]any{"cron_expr": "30 4 * * *"})
	if status != http.StatusOK {
		t.Fatalf("update status = %d, want 200 (%v)", status, body)
	}
	if got := data(t, body)["cron_expr"]; got != "30 4 * * *" {
		t.Errorf("cron_expr = %v, want 30 4 * * *", got)
	}

	status, body = env.do(t, http.MethodPut, "/api/v1/schedules/"+id+"/enabled",
		map[string]any{"enabled": false})
	if status != http.StatusOK {
		t.Fatalf("disable status = %d, want 200 (%v)", status, body)
	}
	if got := data(t, body)["enabled"]; got != false {
		t.Errorf("enabled = %v, want false", got)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/schedules?enabled=false", nil)
	if got := len(dataList(t, body)); got != 1 {
		t.Errorf("disabled list has %d items, want 1", got)
	}

	status, _ = env.do(t, http.MethodDelete, "/api/v1/schedules/"+id, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", status)
	}
	status, _ = env.do(t, http.MethodGet, "/api/v1/schedules/"+id, nil)
	if status != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", status)
	}
}

func TestCreateSchedule_Validation(t *testing.T) {
	env := newTestEnv(t, simpleWorkflow("wf-nightly"))

	tests := []struct {
		name     string
		path     string
		body     map[string]any
		wantHTTP int
	}{
		{
			name:     "unknown workflow",
			path:     "/api/v1/workflows/ghost/schedules",
			body:     map[string]any{"name": "n", "interval_sec": 60},
			wantHTTP: http.StatusNotFound,
		},
		{
			name:     "missing trigger",
			path:     "/api/v1/workflows/wf-nightly/schedules",
			body:     map[string]any{"name": "n"},
			wantHTTP: http.StatusBadRequest,
		},
		{
			name:     "broken cron",
			path:     "/api/v1/workflows/wf-nightly/schedules",
			body:     map[string]any{"name": "n", "cron_expr": "99 99 * * *"},
			wantHTTP: http.StatusBadRequest,
		},
		{
			name:     "missing name",
			path:     "/api/v1/workflows/wf-nightly/schedules",
			body:     map[string]any{"interval_sec": 60},
			wantHTTP: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, tt.path, tt.body)
			if status != tt.wantHTTP {
				t.Fatalf("status = %d, want %d (%v)", status, tt.wantHTTP, body)
			}
		})
	}
}

func TestSetScheduleEnabled_RecomputesNextDue(t *testing.T) {
	env := newTestEnv(t, simpleWorkflow("wf-nightly"))

	_, body := env.do(t, http.MethodPost, "/api/v1/workflows/wf-nightly/schedules",
		map[string]any{"name": "nightly", "interval_sec": 3600, "enabled": false})
	id, _ := data(t, body)["id"].(string)

	// Сдвигаем next_due_at в прошлое, имитируя долгий простой
	sid, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse schedule id: %v", err)
	}
	stored, err := env.schedules.GetByID(context.Background(), sid)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	past := time.Now().UTC().Add(-24 * time.Hour)
	stored.NextDueAt = &past
	if err := env.schedules.Update(context.Background(), stored); err != nil {
		t.Fatalf("update schedule: %v", err)
	}

	status, body := env.do(t, http.MethodPut, "/api/v1/schedules/"+id+"/enabled",
		map[string]any{"enabled": true})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", status, body)
	}
	d := data(t, body)
	nextStr, _ := d["next_due_at"].(string)
	next, err := time.Parse(time.RFC3339, nextStr)
	if err != nil {
		t.Fatalf("parse next_due_at %q: %v", nextStr, err)
	}
	if !next.After(time.Now()) {
		t.Errorf("next_due_at = %s, want a future time", nextStr)
	}
}

// --- Middleware ---

func TestRecovery_PanicTurnsInto500(t *testing.T) {
	handler := Chain(
		Recovery(testLogger()),
		Logging(testLogger()),
	)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if code := errCode(t, body); code != string(ErrCodeInternalError) {
		t.Errorf("error code = %s, want %s", code, ErrCodeInternalError)
	}
}
