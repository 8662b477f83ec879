package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowtrack/be-sales-approvals/internal/client"
	"github.com/flowtrack/be-sales-approvals/internal/errors"
	"github.com/flowtrack/be-sales-approvals/internal/logger"
	"github.com/flowtrack/be-sales-approvals/internal/store"
)

// RiskAnalyzer produces an advisory assessment from a request's immutable
// facts. Implementations may take arbitrarily long; the engine never waits
// on them while holding a record.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, req *store.SalesRequest) (*store.RiskAssessment, error)
}

// attachRetries bounds CAS retries for the assessment write-back, which can
// race with concurrent approval actions.
const attachRetries = 3

// WorkflowService is the approval workflow engine: it owns the request
// state machine, its role-gated transitions, the append-only history each
// transition produces, and the notification side effects.
type WorkflowService struct {
	store           store.Store
	notifier        *NotificationService
	events          *client.EventPublisher
	analyzer        RiskAnalyzer
	levels          int
	analysisTimeout time.Duration
	log             *logger.Logger
}

// NewWorkflowService creates the engine for an approver chain of the given
// length (2 or 3 levels). analyzer and events may be nil to disable the
// background risk analysis and the NATS event mirror.
func NewWorkflowService(
	st store.Store,
	notifier *NotificationService,
	events *client.EventPublisher,
	analyzer RiskAnalyzer,
	levels int,
	analysisTimeout time.Duration,
	log *logger.Logger,
) *WorkflowService {
	if analysisTimeout <= 0 {
		analysisTimeout = 30 * time.Second
	}
	return &WorkflowService{
		store:           st,
		notifier:        notifier,
		events:          events,
		analyzer:        analyzer,
		levels:          levels,
		analysisTimeout: analysisTimeout,
		log:             log,
	}
}

// CreateRequestInput carries the immutable facts of a new sales request.
type CreateRequestInput struct {
	ReferenceCode  string
	CustomerName   string
	Territory      string
	Weight         string
	Destination    string
	RequestedPrice int64
	SubmitterEmail string
	CreatedBy      string // submitting user's identity (username)
}

// CreateRequest validates the facts, persists the request at the first
// pending level and kicks off the background risk analysis. No notification
// is sent on creation.
func (s *WorkflowService) CreateRequest(ctx context.Context, in CreateRequestInput) (*store.SalesRequest, error) {
	required := map[string]string{
		"reference_code":  in.ReferenceCode,
		"customer_name":   in.CustomerName,
		"territory":       in.Territory,
		"weight":          in.Weight,
		"destination":     in.Destination,
		"submitter_email": in.SubmitterEmail,
		"created_by":      in.CreatedBy,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return nil, errors.InvalidInput(field, "must not be empty")
		}
	}
	if in.RequestedPrice < 0 {
		return nil, errors.InvalidInput("requested_price", "must not be negative")
	}

	now := time.Now().UTC()
	req := &store.SalesRequest{
		ID:             uuid.NewString(),
		ReferenceCode:  in.ReferenceCode,
		CustomerName:   in.CustomerName,
		Territory:      in.Territory,
		Weight:         in.Weight,
		Destination:    in.Destination,
		RequestedPrice: in.RequestedPrice,
		SubmitterEmail: in.SubmitterEmail,
		CreatedBy:      in.CreatedBy,
		Status:         store.StatusPendingL1,
		CreatedAt:      now,
		UpdatedAt:      now,
		History: []store.HistoryEvent{{
			Action:    store.ActionCreated,
			Timestamp: now,
			Actor:     store.RoleSalesperson,
			Note:      "Request submitted for approval",
		}},
	}

	if err := s.store.InsertRequest(ctx, req); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create sales request")
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("reference_code", req.ReferenceCode).
		Str("created_by", req.CreatedBy).
		Int64("requested_price", req.RequestedPrice).
		Msg("Sales request created")

	s.events.PublishRequestEvent(client.EventRequestSubmitted, req.ID, in.CreatedBy, nil, store.SeverityInfo,
		map[string]any{"reference_code": req.ReferenceCode})

	if s.analyzer != nil {
		go s.runRiskAnalysis(req.Clone())
	}

	return req, nil
}

// runRiskAnalysis fetches the advisory assessment and writes it back.
// Fully decoupled from the create call: it holds no lock on the record and
// an analyzer failure degrades to the placeholder, never to a workflow error.
func (s *WorkflowService) runRiskAnalysis(req *store.SalesRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.analysisTimeout)
	defer cancel()

	assessment, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).
			Str("request_id", req.ID).
			Msg("Risk analysis failed; attaching placeholder assessment")
		assessment = client.PlaceholderAssessment()
	}

	if err := s.AttachAssessment(ctx, req.ID, assessment); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", req.ID).
			Msg("Failed to attach risk assessment")
	}
}

// Approve advances a pending request one level up the chain, or to Approved
// when the actor is the last level. The actor's level must exactly match the
// request's current pending level.
func (s *WorkflowService) Approve(ctx context.Context, id string, actorRole store.Role, actedBy, note string) (*store.SalesRequest, error) {
	level := actorRole.ApproverLevel()
	if level == 0 {
		return nil, errors.InvalidTransition("role %q cannot approve requests", actorRole)
	}
	if level > s.levels {
		return nil, errors.InvalidTransition("approver level %d is not part of the %d-level chain", level, s.levels)
	}

	req, err := s.getRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != store.PendingForLevel(level) {
		return nil, errors.InvalidTransition(
			"request is %q; level %d approver may only act on %q", req.Status, level, store.PendingForLevel(level))
	}

	next := store.StatusApproved
	if level < s.levels {
		next = store.PendingForLevel(level + 1)
	}

	now := time.Now().UTC()
	req.Status = next
	req.UpdatedAt = now
	req.History = append(req.History, store.HistoryEvent{
		Action:    store.ActionApproved,
		Timestamp: now,
		Actor:     actorRole,
		Note:      note,
	})

	if err := s.updateRequest(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("actor_role", string(actorRole)).
		Str("status", string(next)).
		Msg("Sales request approved")

	if next == store.StatusApproved {
		msg := fmt.Sprintf("Your request %s has been approved.", req.ReferenceCode)
		s.emit(ctx, req.CreatedBy, msg, store.SeveritySuccess, req.ID)
		s.events.PublishRequestEvent(client.EventRequestApproved, req.ID, actedBy,
			[]string{req.CreatedBy}, store.SeveritySuccess, nil)
	} else {
		// Intermediate escalation: no notification to the creator.
		s.events.PublishRequestEvent(client.EventRequestEscalated, req.ID, actedBy,
			nil, store.SeverityInfo, map[string]any{"next_status": string(next)})
	}

	return req, nil
}

// Reject moves a pending request to Rejected. The actor's level must match
// the current pending level and the justification must not be blank.
func (s *WorkflowService) Reject(ctx context.Context, id string, actorRole store.Role, actedBy, reason string) (*store.SalesRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errors.InvalidInput("reason", "rejection justification is required")
	}

	level := actorRole.ApproverLevel()
	if level == 0 {
		return nil, errors.InvalidTransition("role %q cannot reject requests", actorRole)
	}
	if level > s.levels {
		return nil, errors.InvalidTransition("approver level %d is not part of the %d-level chain", level, s.levels)
	}

	req, err := s.getRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != store.PendingForLevel(level) {
		return nil, errors.InvalidTransition(
			"request is %q; level %d approver may only act on %q", req.Status, level, store.PendingForLevel(level))
	}

	now := time.Now().UTC()
	req.Status = store.StatusRejected
	req.RejectionReason = reason
	req.UpdatedAt = now
	req.History = append(req.History, store.HistoryEvent{
		Action:    store.ActionRejected,
		Timestamp: now,
		Actor:     actorRole,
		Note:      reason,
	})

	if err := s.updateRequest(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("actor_role", string(actorRole)).
		Str("reason", reason).
		Msg("Sales request rejected")

	msg := fmt.Sprintf("Your request %s was rejected: %s", req.ReferenceCode, reason)
	s.emit(ctx, req.CreatedBy, msg, store.SeverityError, req.ID)
	s.events.PublishRequestEvent(client.EventRequestRejected, req.ID, actedBy,
		[]string{req.CreatedBy}, store.SeverityError, map[string]any{"reason": reason})

	return req, nil
}

// SubmitFulfillment records shipment details and closes the request.
// Only the original creator may submit; the request must be Approved.
// Re-submitting on a Completed request overwrites the fulfillment payload
// without appending a second Completed history event.
func (s *WorkflowService) SubmitFulfillment(ctx context.Context, id, shipmentRefs, remarks, actedBy string) (*store.SalesRequest, error) {
	if strings.TrimSpace(shipmentRefs) == "" {
		return nil, errors.InvalidInput("shipment_refs", "at least one shipment reference is required")
	}

	req, err := s.getRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.CreatedBy != actedBy {
		return nil, errors.New(errors.CodeValidationFailed, "only the request creator can submit fulfillment")
	}
	if req.Status != store.StatusApproved && req.Status != store.StatusCompleted {
		return nil, errors.Newf(errors.CodeValidationFailed,
			"fulfillment can only be submitted for an approved request (status: %s)", req.Status)
	}

	now := time.Now().UTC()
	alreadyCompleted := req.Status == store.StatusCompleted

	req.Fulfillment = &store.Fulfillment{
		ShipmentRefs: shipmentRefs,
		Remarks:      remarks,
		SubmittedAt:  now,
	}
	req.Status = store.StatusCompleted
	req.UpdatedAt = now
	if !alreadyCompleted {
		req.History = append(req.History, store.HistoryEvent{
			Action:    store.ActionCompleted,
			Timestamp: now,
			Actor:     store.RoleSalesperson,
			Note:      "Shipment details submitted. Request closed.",
		})
	}

	if err := s.updateRequest(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("shipment_refs", shipmentRefs).
		Bool("overwrite", alreadyCompleted).
		Msg("Fulfillment submitted")

	// Fulfillment closes the loop silently: no feed notification.
	if !alreadyCompleted {
		s.events.PublishRequestEvent(client.EventRequestCompleted, req.ID, actedBy, nil, store.SeverityInfo, nil)
	}

	return req, nil
}

// AttachAssessment sets or replaces the advisory assessment. It never
// touches status or history, emits nothing, and is safe at any point in the
// request lifecycle, however late the analysis arrives.
func (s *WorkflowService) AttachAssessment(ctx context.Context, id string, assessment *store.RiskAssessment) error {
	if assessment == nil {
		return errors.InvalidInput("assessment", "must not be nil")
	}
	if assessment.RiskScore < 0 || assessment.RiskScore > 100 {
		return errors.InvalidInput("risk_score", "must be between 0 and 100")
	}
	switch assessment.RiskLevel {
	case "Low", "Medium", "High":
	default:
		return errors.InvalidInput("risk_level", "must be Low, Medium or High")
	}

	var lastErr error
	for attempt := 0; attempt < attachRetries; attempt++ {
		req, err := s.getRequest(ctx, id)
		if err != nil {
			return err
		}

		a := *assessment
		req.Assessment = &a

		err = s.store.UpdateRequest(ctx, req)
		if err == nil {
			s.log.Debug().
				Str("request_id", id).
				Int("risk_score", assessment.RiskScore).
				Str("risk_level", assessment.RiskLevel).
				Msg("Risk assessment attached")
			return nil
		}
		if !stderrors.Is(err, store.ErrVersionConflict) {
			return errors.Wrap(err, errors.CodeInternal, "failed to attach assessment")
		}
		lastErr = err
	}
	return errors.Wrap(lastErr, errors.CodeInternal, "failed to attach assessment after retries")
}

// VisibleQueue returns the requests a role should act on or watch.
// Admin and Salesperson see everything newest-first; an approver sees only
// requests currently pending at their level.
func (s *WorkflowService) VisibleQueue(ctx context.Context, role store.Role) ([]*store.SalesRequest, error) {
	if !role.Valid() {
		return nil, errors.InvalidInput("role", "unknown role")
	}

	all, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, err
	}

	level := role.ApproverLevel()
	if level == 0 {
		return all, nil
	}

	out := make([]*store.SalesRequest, 0, len(all))
	for _, req := range all {
		if req.Status == store.PendingForLevel(level) {
			out = append(out, req)
		}
	}
	return out, nil
}

// ProcessedHistory returns, for an approver role, the requests its level has
// already passed judgment on: anything that moved beyond that level's
// pending state. Non-approver roles get an empty view.
func (s *WorkflowService) ProcessedHistory(ctx context.Context, role store.Role) ([]*store.SalesRequest, error) {
	if !role.Valid() {
		return nil, errors.InvalidInput("role", "unknown role")
	}

	level := role.ApproverLevel()
	if level == 0 {
		return []*store.SalesRequest{}, nil
	}

	all, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*store.SalesRequest, 0, len(all))
	for _, req := range all {
		if pending := req.Status.PendingLevel(); pending > level || pending == 0 {
			out = append(out, req)
		}
	}
	return out, nil
}

// DashboardStats summarizes the request pipeline.
type DashboardStats struct {
	TotalRequests int   `json:"totalRequests"`
	Approved      int   `json:"approved"`
	Rejected      int   `json:"rejected"`
	PendingValue  int64 `json:"pendingValue"`
	ApprovedValue int64 `json:"approvedValue"`
}

// Stats computes pipeline totals across all requests. Completed requests
// count as approved volume.
func (s *WorkflowService) Stats(ctx context.Context) (*DashboardStats, error) {
	all, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{}
	for _, req := range all {
		stats.TotalRequests++
		switch {
		case req.Status == store.StatusApproved || req.Status == store.StatusCompleted:
			stats.Approved++
			stats.ApprovedValue += req.RequestedPrice
		case req.Status == store.StatusRejected:
			stats.Rejected++
		case req.Status.IsPending():
			stats.PendingValue += req.RequestedPrice
		}
	}
	return stats, nil
}

// GetRequest returns a single request by id.
func (s *WorkflowService) GetRequest(ctx context.Context, id string) (*store.SalesRequest, error) {
	return s.getRequest(ctx, id)
}

func (s *WorkflowService) getRequest(ctx context.Context, id string) (*store.SalesRequest, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFound("sales_request", id)
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to load sales request")
	}
	return req, nil
}

// updateRequest persists a mutated record, mapping a lost CAS race to
// InvalidTransition: the loser observed a state that no longer exists.
func (s *WorkflowService) updateRequest(ctx context.Context, req *store.SalesRequest) error {
	err := s.store.UpdateRequest(ctx, req)
	if err == nil {
		return nil
	}
	if stderrors.Is(err, store.ErrVersionConflict) {
		return errors.InvalidTransition("request was modified concurrently; reload and retry")
	}
	if stderrors.Is(err, store.ErrNotFound) {
		return errors.NotFound("sales_request", req.ID)
	}
	return errors.Wrap(err, errors.CodeInternal, "failed to update sales request")
}

// emit writes a feed notification and logs a warning on failure; at-least-once
// delivery is not required to be transactional with the status write.
func (s *WorkflowService) emit(ctx context.Context, recipient, message, severity, requestID string) {
	if err := s.notifier.Emit(ctx, recipient, message, severity, requestID); err != nil {
		s.log.Warn().Err(err).
			Str("recipient", recipient).
			Str("request_id", requestID).
			Msg("Failed to emit notification")
	}
}
