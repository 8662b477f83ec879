package store

import "time"

// ── Roles ────────────────────────────────────────────────────────────────────

// Role identifies what a user is allowed to do in the approval chain.
// Authorization logic works on these values only; display labels live in a
// separate, purely cosmetic table.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleSalesperson Role = "salesperson"
	RoleApproverL1  Role = "approver_l1"
	RoleApproverL2  Role = "approver_l2"
	RoleApproverL3  Role = "approver_l3"
)

// ApproverLevel returns the position of an approver role in the escalation
// chain (1-based), or 0 for non-approver roles.
func (r Role) ApproverLevel() int {
	switch r {
	case RoleApproverL1:
		return 1
	case RoleApproverL2:
		return 2
	case RoleApproverL3:
		return 3
	}
	return 0
}

// ApproverForLevel returns the approver role at the given chain level.
func ApproverForLevel(level int) Role {
	switch level {
	case 1:
		return RoleApproverL1
	case 2:
		return RoleApproverL2
	case 3:
		return RoleApproverL3
	}
	return ""
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSalesperson, RoleApproverL1, RoleApproverL2, RoleApproverL3:
		return true
	}
	return false
}

// RoleLabels maps a role to its display name. Mutable by admins, never
// consulted for authorization.
type RoleLabels map[Role]string

// DefaultRoleLabels is the seed display-name mapping.
func DefaultRoleLabels() RoleLabels {
	return RoleLabels{
		RoleAdmin:       "Administrator",
		RoleSalesperson: "Salesperson",
		RoleApproverL1:  "Regional Manager (L1)",
		RoleApproverL2:  "VP of Sales (L2)",
		RoleApproverL3:  "Global Director (L3)",
	}
}

// ── Request status ───────────────────────────────────────────────────────────

// RequestStatus is the lifecycle state of a sales request.
type RequestStatus string

const (
	// StatusDraft exists only as a state-machine concept before persistence;
	// requests are never stored in this state.
	StatusDraft RequestStatus = "draft"

	StatusPendingL1 RequestStatus = "pending_l1"
	StatusPendingL2 RequestStatus = "pending_l2"
	StatusPendingL3 RequestStatus = "pending_l3"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCompleted RequestStatus = "completed"
)

// PendingForLevel returns the pending status for a chain level.
func PendingForLevel(level int) RequestStatus {
	switch level {
	case 1:
		return StatusPendingL1
	case 2:
		return StatusPendingL2
	case 3:
		return StatusPendingL3
	}
	return ""
}

// PendingLevel returns the chain level a pending status belongs to,
// or 0 when the status is not a pending state.
func (s RequestStatus) PendingLevel() int {
	switch s {
	case StatusPendingL1:
		return 1
	case StatusPendingL2:
		return 2
	case StatusPendingL3:
		return 3
	}
	return 0
}

// IsPending reports whether the status is any pending approval state.
func (s RequestStatus) IsPending() bool { return s.PendingLevel() > 0 }

// ── Sales request aggregate ──────────────────────────────────────────────────

// HistoryEvent is one immutable entry in a request's audit trail.
type HistoryEvent struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Actor     Role      `json:"actor"`
	Note      string    `json:"note,omitempty"`
}

// History event actions.
const (
	ActionCreated   = "Created"
	ActionApproved  = "Approved"
	ActionRejected  = "Rejected"
	ActionCompleted = "Completed"
)

// RiskAssessment is the advisory annotation produced by the external
// risk-analysis service. It never gates a transition.
type RiskAssessment struct {
	RiskScore      int    `json:"riskScore"` // 0-100
	RiskLevel      string `json:"riskLevel"` // Low | Medium | High
	Summary        string `json:"summary"`
	Recommendation string `json:"recommendation"`
}

// Fulfillment records the post-approval shipment details submitted by the
// request's creator.
type Fulfillment struct {
	ShipmentRefs string    `json:"shipmentRefs"`
	Remarks      string    `json:"remarks,omitempty"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// SalesRequest is the aggregate root tracked through the approval chain.
// Reference code through CreatedBy are immutable facts set at creation.
type SalesRequest struct {
	ID              string          `json:"id"`
	ReferenceCode   string          `json:"referenceCode"`
	CustomerName    string          `json:"customerName"`
	Territory       string          `json:"territory"`
	Weight          string          `json:"weight"`
	Destination     string          `json:"destination"`
	RequestedPrice  int64           `json:"requestedPrice"` // cents
	SubmitterEmail  string          `json:"submitterEmail"`
	CreatedBy       string          `json:"createdBy"` // denormalized name, not a live user reference
	Status          RequestStatus   `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	Assessment      *RiskAssessment `json:"assessment,omitempty"`
	Fulfillment     *Fulfillment    `json:"fulfillment,omitempty"`
	History         []HistoryEvent  `json:"history"`

	// Version supports optimistic concurrency on read-modify-write.
	// Incremented by the store on every successful update.
	Version int64 `json:"-"`
}

// Clone returns a deep copy so store-held records never alias caller data.
func (r *SalesRequest) Clone() *SalesRequest {
	cp := *r
	cp.History = make([]HistoryEvent, len(r.History))
	copy(cp.History, r.History)
	if r.Assessment != nil {
		a := *r.Assessment
		cp.Assessment = &a
	}
	if r.Fulfillment != nil {
		f := *r.Fulfillment
		cp.Fulfillment = &f
	}
	return &cp
}

// ── Users ────────────────────────────────────────────────────────────────────

// User is an account managed by admins. PasswordHash is a bcrypt hash;
// it is never serialized outward.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// ── Notifications ────────────────────────────────────────────────────────────

// Notification severities.
const (
	SeveritySuccess = "success"
	SeverityError   = "error"
	SeverityInfo    = "info"
)

// Notification is one entry in a user's pull-based notification feed.
// Created only by the workflow engine; owned by its recipient.
type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	RequestID string    `json:"requestId,omitempty"`
}
