package handler

import (
	"encoding/json"
	"net/http"

	"github.com/flowtrack/be-sales-approvals/internal/errors"
	"github.com/flowtrack/be-sales-approvals/internal/logger"
	"github.com/flowtrack/be-sales-approvals/internal/service"
	"github.com/flowtrack/be-sales-approvals/internal/store"
)

// HTTPHandler exposes the workflow engine, notification feed and admin
// operations over HTTP. The caller supplies actor identity and role in each
// request, as the excluded UI layer did.
type HTTPHandler struct {
	workflow      *service.WorkflowService
	notifications *service.NotificationService
	users         *service.UserService
	log           *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	workflow *service.WorkflowService,
	notifications *service.NotificationService,
	users *service.UserService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		workflow:      workflow,
		notifications: notifications,
		users:         users,
		log:           log,
	}
}

// Routes registers all endpoints on the given mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/api/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListQueue(w, r)
		case http.MethodPost:
			h.CreateRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/requests/get", h.GetRequest)
	mux.HandleFunc("/api/v1/requests/approve", h.ApproveRequest)
	mux.HandleFunc("/api/v1/requests/reject", h.RejectRequest)
	mux.HandleFunc("/api/v1/requests/fulfillment", h.SubmitFulfillment)
	mux.HandleFunc("/api/v1/requests/assessment", h.AttachAssessment)
	mux.HandleFunc("/api/v1/requests/processed", h.ProcessedHistory)
	mux.HandleFunc("/api/v1/requests/stats", h.Stats)

	mux.HandleFunc("/api/v1/notifications", h.ListNotifications)
	mux.HandleFunc("/api/v1/notifications/read", h.MarkNotificationRead)
	mux.HandleFunc("/api/v1/notifications/read-all", h.MarkAllNotificationsRead)

	mux.HandleFunc("/api/v1/auth/login", h.Login)
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListUsers(w, r)
		case http.MethodPost:
			h.SaveUser(w, r)
		case http.MethodDelete:
			h.DeleteUser(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/roles/labels", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.RoleLabels(w, r)
		case http.MethodPut:
			h.UpdateRoleLabels(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// ── Requests ─────────────────────────────────────────────────────────────────

// CreateRequest handles new sales request submissions.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferenceCode  string `json:"referenceCode"`
		CustomerName   string `json:"customerName"`
		Territory      string `json:"territory"`
		Weight         string `json:"weight"`
		Destination    string `json:"destination"`
		RequestedPrice int64  `json:"requestedPrice"`
		SubmitterEmail string `json:"submitterEmail"`
		CreatedBy      string `json:"createdBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.workflow.CreateRequest(r.Context(), service.CreateRequestInput{
		ReferenceCode:  req.ReferenceCode,
		CustomerName:   req.CustomerName,
		Territory:      req.Territory,
		Weight:         req.Weight,
		Destination:    req.Destination,
		RequestedPrice: req.RequestedPrice,
		SubmitterEmail: req.SubmitterEmail,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// ListQueue returns the role's visible queue.
func (h *HTTPHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	role := store.Role(r.URL.Query().Get("role"))
	if role == "" {
		http.Error(w, "Role is required", http.StatusBadRequest)
		return
	}

	requests, err := h.workflow.VisibleQueue(r.Context(), role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"requests": requests, "total": len(requests)})
}

// GetRequest returns a single request by id.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	req, err := h.workflow.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, req)
}

// ApproveRequest handles an approval at the actor's chain level.
func (h *HTTPHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		ActedBy string `json:"actedBy"`
		Note    string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.workflow.Approve(r.Context(), req.ID, store.Role(req.Role), req.ActedBy, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

// RejectRequest handles a rejection at the actor's chain level.
func (h *HTTPHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		ActedBy string `json:"actedBy"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.workflow.Reject(r.Context(), req.ID, store.Role(req.Role), req.ActedBy, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

// SubmitFulfillment records shipment details for an approved request.
func (h *HTTPHandler) SubmitFulfillment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID           string `json:"id"`
		ShipmentRefs string `json:"shipmentRefs"`
		Remarks      string `json:"remarks"`
		ActedBy      string `json:"actedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.workflow.SubmitFulfillment(r.Context(), req.ID, req.ShipmentRefs, req.Remarks, req.ActedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

// AttachAssessment is the write-back endpoint for the risk-analysis
// collaborator.
func (h *HTTPHandler) AttachAssessment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID         string               `json:"id"`
		Assessment store.RiskAssessment `json:"assessment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.workflow.AttachAssessment(r.Context(), req.ID, &req.Assessment); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

// ProcessedHistory returns the requests an approver level already acted on.
func (h *HTTPHandler) ProcessedHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	role := store.Role(r.URL.Query().Get("role"))
	if role == "" {
		http.Error(w, "Role is required", http.StatusBadRequest)
		return
	}

	requests, err := h.workflow.ProcessedHistory(r.Context(), role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"requests": requests, "total": len(requests)})
}

// Stats returns pipeline totals.
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.workflow.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// ── Notifications ────────────────────────────────────────────────────────────

// ListNotifications returns the recipient's feed, newest first.
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		http.Error(w, "Recipient is required", http.StatusBadRequest)
		return
	}

	notifications, err := h.notifications.ListFor(r.Context(), recipient)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications, "total": len(notifications)})
}

// MarkNotificationRead marks one notification as read.
func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID        string `json:"id"`
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.notifications.MarkRead(r.Context(), req.ID, req.Recipient); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllNotificationsRead marks the recipient's entire feed as read.
func (h *HTTPHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.notifications.MarkAllRead(r.Context(), req.Recipient); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// ── Auth & admin ─────────────────────────────────────────────────────────────

// Login checks credentials against the user table.
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

// ListUsers returns all accounts.
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"users": users, "total": len(users)})
}

// SaveUser creates or updates an account.
func (h *HTTPHandler) SaveUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.SaveUser(r.Context(), service.SaveUserInput{
		ID:       req.ID,
		Name:     req.Name,
		Username: req.Username,
		Password: req.Password,
		Role:     store.Role(req.Role),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

// DeleteUser removes an account.
func (h *HTTPHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.users.DeleteUser(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RoleLabels returns the display-name mapping.
func (h *HTTPHandler) RoleLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.users.RoleLabels(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, labels)
}

// UpdateRoleLabels replaces the display-name mapping.
func (h *HTTPHandler) UpdateRoleLabels(w http.ResponseWriter, r *http.Request) {
	var labels store.RoleLabels
	if err := json.NewDecoder(r.Body).Decode(&labels); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.users.UpdateRoleLabels(r.Context(), labels); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, labels)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

// writeError maps service error codes onto HTTP status codes.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeValidationFailed:
		status = http.StatusBadRequest
	case errors.CodeInvalidTransition, errors.CodeConflict:
		status = http.StatusConflict
	case errors.CodeUnauthorized:
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    errors.Code(err),
			"message": err.Error(),
		},
	})
}
