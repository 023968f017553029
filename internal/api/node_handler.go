package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// ListNodes возвращает определения зарегистрированных типов узлов.
// GET /api/v1/nodes?category=...
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.Definitions()

	if c := r.URL.Query().Get("category"); c != "" {
		filtered := defs[:0]
		for _, d := range defs {
			if string(d.Category) == c {
				filtered = append(filtered, d)
			}
		}
		defs = filtered
	}
	List(w, defs, len(defs))
}

// ListCredentials возвращает credentials организации без данных.
// GET /api/v1/credentials?organization_id=...
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
	if err != nil {
		BadRequest(w, "organization_id is required")
		return
	}

	creds, err := h.stores.Credentials.List(r.Context(), orgID)
	if HandleError(w, h.logger, err, "") {
		return
	}
	List(w, creds, len(creds))
}

// CreateCredential шифрует и сохраняет credentials.
// POST /api/v1/credentials
func (h *Handler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	if h.sealer == nil {
		Error(w, http.StatusNotImplemented, ErrCodeNotImplemented, "credential vault is not configured")
		return
	}

	var req CreateCredentialRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.OrganizationID == uuid.Nil || req.Name == "" || len(req.Data) == 0 {
		BadRequest(w, "organization_id, name and data are required")
		return
	}

	sealed, err := h.sealer.Seal(req.Data)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	now := time.Now()
	cred := &domain.Credential{
		ID:             uuid.New(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Type:           req.Type,
		Data:           sealed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if HandleError(w, h.logger, h.stores.Credentials.Create(r.Context(), cred), "") {
		return
	}
	Created(w, cred)
}

// ListPolicies возвращает политики типов узлов организации.
// GET /api/v1/policies?organization_id=...
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
	if err != nil {
		BadRequest(w, "organization_id is required")
		return
	}

	policies, err := h.stores.Policies.List(r.Context(), orgID)
	if HandleError(w, h.logger, err, "") {
		return
	}
	List(w, policies, len(policies))
}

// SetPolicy включает или выключает тип узла для организации.
// PUT /api/v1/policies/{type}
func (h *Handler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	nodeType := r.PathValue("type")
	if !h.registry.Has(nodeType) {
		NotFound(w, "unknown node type")
		return
	}

	var req SetPolicyRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.OrganizationID == uuid.Nil {
		BadRequest(w, "organization_id is required")
		return
	}

	policy := &domain.NodePolicy{
		OrganizationID: req.OrganizationID,
		NodeType:       nodeType,
		Enabled:        req.Enabled,
		UpdatedAt:      time.Now(),
	}
	if HandleError(w, h.logger, h.stores.Policies.Set(r.Context(), policy), "") {
		return
	}
	if h.policies != nil {
		h.policies.Invalidate(req.OrganizationID, nodeType)
	}
	Success(w, policy)
}
