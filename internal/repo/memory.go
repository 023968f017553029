package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// NewMemoryStore создаёт хранилища в памяти с семантикой PostgreSQL
// репозиториев (условные переходы статусов, upsert шагов).
// Используется в тестах и для локального запуска (conveyor local).
func NewMemoryStore() *Stores {
	m := &memory{
		workflows:   make(map[uuid.UUID]domain.Workflow),
		executions:  make(map[uuid.UUID]domain.Execution),
		steps:       make(map[stepKey]domain.StepResult),
		schedules:   make(map[uuid.UUID]domain.Schedule),
		credentials: make(map[uuid.UUID]domain.Credential),
		policies:    make(map[policyKey]domain.NodePolicy),
	}
	return &Stores{
		Workflows:   (*memWorkflows)(m),
		Executions:  (*memExecutions)(m),
		Steps:       (*memSteps)(m),
		Schedules:   (*memSchedules)(m),
		Credentials: (*memCredentials)(m),
		Policies:    (*memPolicies)(m),
	}
}

type stepKey struct {
	executionID uuid.UUID
	nodeID      string
}

type policyKey struct {
	orgID    uuid.UUID
	nodeType string
}

// memory: общее состояние всех хранилищ под одним мьютексом.
type memory struct {
	mu sync.RWMutex

	workflows   map[uuid.UUID]domain.Workflow
	executions  map[uuid.UUID]domain.Execution
	execOrder   []uuid.UUID
	steps       map[stepKey]domain.StepResult
	stepOrder   []stepKey
	schedules   map[uuid.UUID]domain.Schedule
	credentials map[uuid.UUID]domain.Credential
	policies    map[policyKey]domain.NodePolicy
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit = limitOrDefault(limit); len(items) > limit {
		items = items[:limit]
	}
	return items
}

// --- Workflows ---

type memWorkflows memory

func (s *memWorkflows) Create(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; ok {
		return ErrAlreadyExists
	}
	s.workflows[wf.ID] = *wf
	return nil
}

func (s *memWorkflows) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wf, nil
}

func (s *memWorkflows) List(_ context.Context, filter WorkflowFilter) ([]domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Workflow
	for _, wf := range s.workflows {
		if filter.OrganizationID != nil && wf.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.Active != nil && wf.IsActive != *filter.Active {
			continue
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *memWorkflows) Update(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.workflows[wf.ID]
	if !ok {
		return ErrNotFound
	}
	updated := *wf
	updated.LastExecutedAt = old.LastExecutedAt
	updated.ExecutionCount = old.ExecutionCount
	updated.CreatedAt = old.CreatedAt
	s.workflows[wf.ID] = updated
	return nil
}

func (s *memWorkflows) RecordExecution(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return ErrNotFound
	}
	wf.LastExecutedAt = &at
	wf.ExecutionCount++
	s.workflows[id] = wf
	return nil
}

// --- Executions ---

type memExecutions memory

func (s *memExecutions) Create(_ context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; ok {
		return ErrAlreadyExists
	}
	s.executions[exec.ID] = *exec
	s.execOrder = append(s.execOrder, exec.ID)
	return nil
}

func (s *memExecutions) GetByID(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &exec, nil
}

func (s *memExecutions) GetStatus(_ context.Context, id uuid.UUID) (domain.ExecutionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return "", ErrNotFound
	}
	return exec.Status, nil
}

func (s *memExecutions) List(_ context.Context, filter ExecutionFilter) ([]domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Execution
	// Новые первыми
	for i := len(s.execOrder) - 1; i >= 0; i-- {
		exec := s.executions[s.execOrder[i]]
		if filter.WorkflowID != nil && exec.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		out = append(out, exec)
	}
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *memExecutions) Start(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return ErrNotFound
	}
	if exec.Status != domain.ExecutionStatusPending {
		return ErrInvalidState
	}
	exec.Status = domain.ExecutionStatusRunning
	exec.StartedAt = &startedAt
	s.executions[id] = exec
	return nil
}

func (s *memExecutions) Finalize(_ context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.executions[exec.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status.IsTerminal() {
		return ErrInvalidState
	}
	stored.Status = exec.Status
	stored.NodeResults = exec.NodeResults
	stored.Error = exec.Error
	stored.StartedAt = exec.StartedAt
	stored.StoppedAt = exec.StoppedAt
	stored.DurationMs = exec.DurationMs
	s.executions[exec.ID] = stored
	return nil
}

func (s *memExecutions) Cancel(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return ErrNotFound
	}
	if exec.Status.IsTerminal() {
		return ErrInvalidState
	}
	exec.Status = domain.ExecutionStatusCanceled
	exec.StoppedAt = &at
	if exec.StartedAt != nil {
		exec.DurationMs = at.Sub(*exec.StartedAt).Milliseconds()
	}
	s.executions[id] = exec
	return nil
}

// --- Steps ---

type memSteps memory

func (s *memSteps) Upsert(_ context.Context, step *domain.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stepKey{executionID: step.ExecutionID, nodeID: step.NodeID}
	if old, ok := s.steps[key]; ok {
		step.ID = old.ID
	} else {
		s.stepOrder = append(s.stepOrder, key)
	}
	s.steps[key] = *step
	return nil
}

func (s *memSteps) ListByExecution(_ context.Context, executionID uuid.UUID) ([]domain.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StepResult
	for _, key := range s.stepOrder {
		if key.executionID == executionID {
			out = append(out, s.steps[key])
		}
	}
	return out, nil
}

// --- Schedules ---

type memSchedules memory

func (s *memSchedules) Create(_ context.Context, sch *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sch.ID]; ok {
		return ErrAlreadyExists
	}
	s.schedules[sch.ID] = *sch
	return nil
}

func (s *memSchedules) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sch, nil
}

func (s *memSchedules) List(_ context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Schedule
	for _, sch := range s.schedules {
		if filter.WorkflowID != nil && sch.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.Enabled != nil && sch.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, sch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *memSchedules) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Schedule
	for _, sch := range s.schedules {
		if sch.IsDue(now) {
			out = append(out, sch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDueAt.Before(*out[j].NextDueAt) })
	return paginate(out, limit, 0), nil
}

func (s *memSchedules) Update(_ context.Context, sch *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.schedules[sch.ID]
	if !ok {
		return ErrNotFound
	}
	updated := *sch
	updated.LastRunAt = old.LastRunAt
	updated.LastExecutionID = old.LastExecutionID
	updated.CreatedAt = old.CreatedAt
	s.schedules[sch.ID] = updated
	return nil
}

func (s *memSchedules) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *memSchedules) RecordRun(_ context.Context, id, executionID uuid.UUID, runAt, nextDue time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sch.LastRunAt = &runAt
	sch.LastExecutionID = &executionID
	sch.NextDueAt = &nextDue
	sch.UpdatedAt = time.Now()
	s.schedules[id] = sch
	return nil
}

// --- Credentials ---

type memCredentials memory

func (s *memCredentials) Create(_ context.Context, c *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[c.ID]; ok {
		return ErrAlreadyExists
	}
	s.credentials[c.ID] = *c
	return nil
}

func (s *memCredentials) GetCredential(_ context.Context, orgID, id uuid.UUID) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	if !ok || c.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *memCredentials) List(_ context.Context, orgID uuid.UUID) ([]domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Credential
	for _, c := range s.credentials {
		if c.OrganizationID == orgID {
			c.Data = nil
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memCredentials) Delete(_ context.Context, orgID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(s.credentials, id)
	return nil
}

// --- Policies ---

type memPolicies memory

func (s *memPolicies) Set(_ context.Context, p *domain.NodePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policyKey{orgID: p.OrganizationID, nodeType: p.NodeType}] = *p
	return nil
}

func (s *memPolicies) List(_ context.Context, orgID uuid.UUID) ([]domain.NodePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.NodePolicy
	for key, p := range s.policies {
		if key.orgID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeType < out[j].NodeType })
	return out, nil
}

func (s *memPolicies) IsNodeEnabled(_ context.Context, orgID uuid.UUID, nodeType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyKey{orgID: orgID, nodeType: nodeType}]
	if !ok {
		return true, nil
	}
	return p.Enabled, nil
}

var (
	_ WorkflowStore   = (*memWorkflows)(nil)
	_ ExecutionStore  = (*memExecutions)(nil)
	_ StepStore       = (*memSteps)(nil)
	_ ScheduleStore   = (*memSchedules)(nil)
	_ CredentialStore = (*memCredentials)(nil)
	_ PolicyStore     = (*memPolicies)(nil)

	_ WorkflowStore   = (*WorkflowRepo)(nil)
	_ ExecutionStore  = (*ExecutionRepo)(nil)
	_ StepStore       = (*StepRepo)(nil)
	_ ScheduleStore   = (*ScheduleRepo)(nil)
	_ CredentialStore = (*CredentialRepo)(nil)
	_ PolicyStore     = (*PolicyRepo)(nil)
)
