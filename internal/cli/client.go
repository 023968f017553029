package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/shaiso/conveyor/internal/domain"
)

// CreateWorkflowResult: ответ на создание workflow.
type CreateWorkflowResult struct {
	Workflow   domain.Workflow `json:"workflow"`
	Validation struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	} `json:"validation"`
}

// StepsResult: шаги выполнения.
type StepsResult struct {
	ExecutionID string                 `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Steps       []domain.StepResult    `json:"steps"`
}

// ExecuteRequest: ручной запуск workflow.
type ExecuteRequest struct {
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	TriggeredBy string         `json:"triggered_by,omitempty"`
}

// CreateScheduleRequest: создание расписания.
type CreateScheduleRequest struct {
	Name        string         `json:"name,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

// ListExecutionsOpts: параметры фильтрации выполнений.
type ListExecutionsOpts struct {
	WorkflowID string
	Status     string
	Limit      int
}

// APIError: ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details []string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

// Client: HTTP-клиент conveyor API.
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

// ListWorkflows возвращает workflow.
func (c *Client) ListWorkflows() ([]domain.Workflow, error) {
	var workflows []domain.Workflow
	err := c.get("/api/v1/workflows", nil, &workflows)
	return workflows, err
}

// GetWorkflow возвращает workflow по ID.
func (c *Client) GetWorkflow(id string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := c.get("/api/v1/workflows/"+id, nil, &wf)
	return &wf, err
}

// CreateWorkflow отправляет JSON-документ workflow.
func (c *Client) CreateWorkflow(document []byte) (*CreateWorkflowResult, error) {
	var result CreateWorkflowResult
	err := c.send(http.MethodPost, "/api/v1/workflows", json.RawMessage(document), &result)
	return &result, err
}

// --- Executions ---

// Execute ставит ручной запуск workflow в очередь.
func (c *Client) Execute(workflowID string, req ExecuteRequest) (*domain.Execution, error) {
	var exec domain.Execution
	err := c.send(http.MethodPost, "/api/v1/workflows/"+workflowID+"/execute", req, &exec)
	return &exec, err
}

// ListExecutions возвращает выполнения с фильтрацией.
func (c *Client) ListExecutions(opts ListExecutionsOpts) ([]domain.Execution, error) {
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

	var execs []domain.Execution
	err := c.get("/api/v1/executions", params, &execs)
	return execs, err
}

// GetExecution возвращает выполнение по ID.
func (c *Client) GetExecution(id string) (*domain.Execution, error) {
	var exec domain.Execution
	err := c.get("/api/v1/executions/"+id, nil, &exec)
	return &exec, err
}

// ListSteps возвращает журнал шагов выполнения.
func (c *Client) ListSteps(id string) (*StepsResult, error) {
	var steps StepsResult
	err := c.get("/api/v1/executions/"+id+"/steps", nil, &steps)
	return &steps, err
}

// CancelExecution отменяет выполнение.
func (c *Client) CancelExecution(id string) (*domain.Execution, error) {
	var exec domain.Execution
	err := c.send(http.MethodPost, "/api/v1/executions/"+id+"/cancel", nil, &exec)
	return &exec, err
}

// RetryExecution перезапускает завершившееся с ошибкой выполнение.
func (c *Client) RetryExecution(id string) (*domain.Execution, error) {
	var exec domain.Execution
	err := c.send(http.MethodPost, "/api/v1/executions/"+id+"/retry", nil, &exec)
	return &exec, err
}

// --- Schedules ---

// ListSchedules возвращает расписания workflow.
func (c *Client) ListSchedules(workflowID string) ([]domain.Schedule, error) {
	var schedules []domain.Schedule
	err := c.get("/api/v1/workflows/"+workflowID+"/schedules", nil, &schedules)
	return schedules, err
}

// CreateSchedule создаёт расписание workflow.
func (c *Client) CreateSchedule(workflowID string, req CreateScheduleRequest) (*domain.Schedule, error) {
	var sched domain.Schedule
	err := c.send(http.MethodPost, "/api/v1/workflows/"+workflowID+"/schedules", req, &sched)
	return &sched, err
}

// SetScheduleEnabled включает или выключает расписание.
func (c *Client) SetScheduleEnabled(id string, enabled bool) (*domain.Schedule, error) {
	var sched domain.Schedule
	body := map[string]bool{"enabled": enabled}
	err := c.send(http.MethodPut, "/api/v1/schedules/"+id+"/enabled", body, &sched)
	return &sched, err
}

// --- Nodes ---

// ListNodes возвращает определения типов узлов.
func (c *Client) ListNodes(category string) ([]domain.NodeDefinition, error) {
	params := url.Values{}
	if category != "" {
		params.Set("category", category)
	}
	var defs []domain.NodeDefinition
	err := c.get("/api/v1/nodes", params, &defs)
	return defs, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}
	return c.send(http.MethodGet, path, nil, result)
}

// send выполняет запрос и разбирает поле data ответа в result.
// Ответы со списком ({"data": [...], "total": N}) разбираются так же.
func (c *Client) send(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return apiErr
	}
	apiErr.Code = er.Error.Code
	apiErr.Message = er.Error.Message
	apiErr.Details = er.Error.Details
	return apiErr
}
