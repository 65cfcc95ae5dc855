package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/conveyor/internal/repo"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// WorkflowResponse — сводка workflow из API.
type WorkflowResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Version     int    `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
	CreatedAt   string `json:"created_at"`
}

// StepResponse — результат шага из API.
type StepResponse struct {
	StepID     string `json:"step_id"`
	Status     string `json:"status"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// ExecutionResponse — выполнение из API.
type ExecutionResponse struct {
	ID                string                  `json:"id"`
	WorkflowID        string                  `json:"workflow_id"`
	WorkflowVersion   int                     `json:"workflow_version,omitempty"`
	Status            string                  `json:"status"`
	Inputs            map[string]any          `json:"inputs,omitempty"`
	Outputs           map[string]any          `json:"outputs,omitempty"`
	Error             string                  `json:"error,omitempty"`
	FailedStepID      string                  `json:"failed_step_id,omitempty"`
	PendingApprovalID string                  `json:"pending_approval_id,omitempty"`
	Steps             map[string]StepResponse `json:"steps,omitempty"`
	StartedAt         string                  `json:"started_at,omitempty"`
	FinishedAt        string                  `json:"finished_at,omitempty"`
	CreatedAt         string                  `json:"created_at"`
}

// ApprovalAnswer — ответ согласующего из API.
type ApprovalAnswer struct {
	ApproverID  string `json:"approver_id"`
	Decision    string `json:"decision"`
	Comment     string `json:"comment,omitempty"`
	RespondedAt string `json:"responded_at"`
}

// ApprovalResponse — запрос согласования из API.
type ApprovalResponse struct {
	ID             string           `json:"id"`
	ExecutionID    string           `json:"execution_id"`
	StepID         string           `json:"step_id"`
	Status         string           `json:"status"`
	Approvers      []string         `json:"approvers"`
	ApprovalType   string           `json:"approval_type"`
	Title          string           `json:"title,omitempty"`
	Message        string           `json:"message,omitempty"`
	Payload        map[string]any   `json:"payload,omitempty"`
	RequireComment bool             `json:"require_comment,omitempty"`
	Escalated      bool             `json:"escalated,omitempty"`
	ExpiresAt      string           `json:"expires_at,omitempty"`
	Responses      []ApprovalAnswer `json:"responses,omitempty"`
	CreatedAt      string           `json:"created_at"`
	DecidedAt      string           `json:"decided_at,omitempty"`
}

// DecisionResultResponse — статус согласования после учтённого решения.
type DecisionResultResponse struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
}

// ScheduleResponse — расписание из API.
type ScheduleResponse struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	Name            string         `json:"name,omitempty"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSec     int            `json:"interval_sec,omitempty"`
	Timezone        string         `json:"timezone"`
	Enabled         bool           `json:"enabled"`
	NextDueAt       string         `json:"next_due_at,omitempty"`
	LastRunAt       string         `json:"last_run_at,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// --- Request types ---

// StartExecutionRequest — запуск выполнения.
type StartExecutionRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

// FailExecutionRequest — принудительный перевод выполнения в failed.
type FailExecutionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ApprovalDecisionRequest — решение согласующего.
type ApprovalDecisionRequest struct {
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Comment    string `json:"comment,omitempty"`
}

// CreateScheduleRequest — создание расписания.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// UpdateScheduleRequest — частичное обновление расписания.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	Inputs      *map[string]any `json:"inputs,omitempty"`
}

// ListExecutionsOpts — параметры фильтрации выполнений.
type ListExecutionsOpts struct {
	WorkflowID string
	Status     string
	Limit      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Workflows ---

// ListWorkflows возвращает все зарегистрированные workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]WorkflowResponse, error) {
	var workflows []WorkflowResponse
	err := c.list(ctx, "/api/v1/workflows", nil, &workflows)
	return workflows, err
}

// RegisterWorkflow регистрирует определение workflow (сырой JSON).
func (c *Client) RegisterWorkflow(ctx context.Context, def json.RawMessage) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.post(ctx, "/api/v1/workflows", def, &wf)
	return &wf, err
}

// GetWorkflow возвращает полное определение workflow как сырой JSON.
// version <= 0 означает текущую версию.
func (c *Client) GetWorkflow(ctx context.Context, id string, version int) (json.RawMessage, error) {
	path := "/api/v1/workflows/" + id
	if version > 0 {
		path += "?version=" + strconv.Itoa(version)
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return dr.Data, nil
}

// DeleteWorkflow удаляет workflow вместе с версиями и расписаниями.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/v1/workflows/"+id)
}

// --- Executions ---

// StartExecution запускает выполнение workflow в фоне.
func (c *Client) StartExecution(ctx context.Context, workflowID string, inputs map[string]any) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post(ctx, "/api/v1/workflows/"+workflowID+"/executions", StartExecutionRequest{Inputs: inputs}, &exec)
	return &exec, err
}

// ListExecutions возвращает выполнения с фильтрацией.
func (c *Client) ListExecutions(ctx context.Context, opts ListExecutionsOpts) ([]ExecutionResponse, error) {
	params := url.Values{}
	if opts.WorkflowID != "" {
		params.Set("workflow_id", opts.WorkflowID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var execs []ExecutionResponse
	err := c.list(ctx, "/api/v1/executions", params, &execs)
	return execs, err
}

// GetExecution возвращает выполнение по ID.
func (c *Client) GetExecution(ctx context.Context, id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.get(ctx, "/api/v1/executions/"+id, &exec)
	return &exec, err
}

// ResumeExecution возобновляет приостановленное выполнение.
func (c *Client) ResumeExecution(ctx context.Context, id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post(ctx, "/api/v1/executions/"+id+"/resume", nil, &exec)
	return &exec, err
}

// FailExecution принудительно завершает выполнение как failed.
func (c *Client) FailExecution(ctx context.Context, id, reason string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post(ctx, "/api/v1/executions/"+id+"/fail", FailExecutionRequest{Reason: reason}, &exec)
	return &exec, err
}

// --- Approvals ---

// ListApprovals возвращает ожидающие согласования.
// Если approver не пустой — только адресованные ему.
func (c *Client) ListApprovals(ctx context.Context, approver string) ([]ApprovalResponse, error) {
	params := url.Values{}
	if approver != "" {
		params.Set("approver", approver)
	}

	var approvals []ApprovalResponse
	err := c.list(ctx, "/api/v1/approvals", params, &approvals)
	return approvals, err
}

// GetApproval возвращает запрос согласования по ID.
func (c *Client) GetApproval(ctx context.Context, id string) (*ApprovalResponse, error) {
	var approval ApprovalResponse
	err := c.get(ctx, "/api/v1/approvals/"+id, &approval)
	return &approval, err
}

// SubmitApproval отправляет решение согласующего.
func (c *Client) SubmitApproval(ctx context.Context, id string, req ApprovalDecisionRequest) (*DecisionResultResponse, error) {
	var result DecisionResultResponse
	err := c.post(ctx, "/api/v1/approvals/"+id+"/response", req, &result)
	return &result, err
}

// --- Schedules ---

// ListSchedules возвращает расписания. Если workflowID не пустой — фильтрует.
func (c *Client) ListSchedules(ctx context.Context, workflowID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if workflowID != "" {
		params.Set("workflow_id", workflowID)
	}

	var schedules []ScheduleResponse
	err := c.list(ctx, "/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт расписание для workflow.
func (c *Client) CreateSchedule(ctx context.Context, workflowID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post(ctx, "/api/v1/workflows/"+workflowID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает расписание по ID.
func (c *Client) GetSchedule(ctx context.Context, id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get(ctx, "/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет расписание.
func (c *Client) UpdateSchedule(ctx context.Context, id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put(ctx, "/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет расписание.
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/v1/schedules/"+id)
}

// EnableSchedule включает расписание.
func (c *Client) EnableSchedule(ctx context.Context, id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": true}
	err := c.put(ctx, "/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// DisableSchedule выключает расписание.
func (c *Client) DisableSchedule(ctx context.Context, id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": false}
	err := c.put(ctx, "/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPut, path, body, result)
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	// NOT_FOUND транслируется в repo.ErrNotFound, чтобы вызывающие
	// (в частности планировщик) различали его через errors.Is.
	if er.Error.Code == "NOT_FOUND" {
		return fmt.Errorf("%w: %s", repo.ErrNotFound, er.Error.Message)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
