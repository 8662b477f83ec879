package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/flowtrack/be-sales-approvals/internal/errors"
	"github.com/flowtrack/be-sales-approvals/internal/logger"
	"github.com/flowtrack/be-sales-approvals/internal/service"
	"github.com/flowtrack/be-sales-approvals/internal/store"
)

func newEngine(levels int) (*service.WorkflowService, *service.NotificationService, *store.MemoryStore) {
	st := store.NewMemoryStore()
	notifier := service.NewNotificationService(st, logger.Nop())
	wf := service.NewWorkflowService(st, notifier, nil, nil, levels, 0, logger.Nop())
	return wf, notifier, st
}

func createRequest(t *testing.T, wf *service.WorkflowService, createdBy string, price int64) *store.SalesRequest {
	t.Helper()
	req, err := wf.CreateRequest(context.Background(), service.CreateRequestInput{
		ReferenceCode:  "IC-2024-001",
		CustomerName:   "Global Logistics Inc.",
		Territory:      "North America / East Coast",
		Weight:         "500kg",
		Destination:    "New York, NY",
		RequestedPrice: price,
		SubmitterEmail: "sales@example.com",
		CreatedBy:      createdBy,
	})
	require.NoError(t, err)
	return req
}

func TestCreateRequest(t *testing.T) {
	wf, _, _ := newEngine(2)

	req := createRequest(t, wf, "john", 10000)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, store.StatusPendingL1, req.Status)
	require.Len(t, req.History, 1)
	assert.Equal(t, store.ActionCreated, req.History[0].Action)
	assert.Equal(t, store.RoleSalesperson, req.History[0].Actor)
}

func TestCreateRequestValidation(t *testing.T) {
	wf, _, _ := newEngine(2)
	ctx := context.Background()

	_, err := wf.CreateRequest(ctx, service.CreateRequestInput{
		ReferenceCode:  "IC-2024-002",
		CustomerName:   "", // missing
		Territory:      "EMEA",
		Weight:         "100kg",
		Destination:    "Berlin",
		RequestedPrice: 500,
		SubmitterEmail: "a@b.com",
		CreatedBy:      "john",
	})
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.Code(err))

	_, err = wf.CreateRequest(ctx, service.CreateRequestInput{
		ReferenceCode:  "IC-2024-003",
		CustomerName:   "ACME",
		Territory:      "EMEA",
		Weight:         "100kg",
		Destination:    "Berlin",
		RequestedPrice: -1,
		SubmitterEmail: "a@b.com",
		CreatedBy:      "john",
	})
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.Code(err))
}

// Full two-level scenario: create by john, sarah (L1) approves, mike (L2)
// rejects with a reason. Only the rejection notifies the creator.
func TestTwoLevelChainRejection(t *testing.T) {
	wf, notifier, _ := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 10000)

	afterL1, err := wf.Approve(ctx, req.ID, store.RoleApproverL1, "sarah", "ok")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingL2, afterL1.Status)
	assert.Len(t, afterL1.History, 2)

	// No notification on the escalation step.
	feed, err := notifier.ListFor(ctx, "john")
	require.NoError(t, err)
	assert.Empty(t, feed)

	rejected, err := wf.Reject(ctx, req.ID, store.RoleApproverL2, "mike", "price too low")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, rejected.Status)
	assert.Equal(t, "price too low", rejected.RejectionReason)
	assert.Len(t, rejected.History, 3)

	feed, err = notifier.ListFor(ctx, "john")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, store.SeverityError, feed[0].Severity)
	assert.Equal(t, req.ID, feed[0].RequestID)
	assert.False(t, feed[0].Read)
}

func TestTerminalApprovalAndFulfillment(t *testing.T) {
	wf, notifier, _ := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 25000)

	_, err := wf.Approve(ctx, req.ID, store.RoleApproverL1, "sarah", "")
	require.NoError(t, err)

	approved, err := wf.Approve(ctx, req.ID, store.RoleApproverL2, "mike", "good margin")
	require.NoError(t, err)
	assert.Equal(t, store.StatusApproved, approved.Status)

	// Exactly one success notification to the creator.
	feed, err := notifier.ListFor(ctx, "john")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, store.SeveritySuccess, feed[0].Severity)

	completed, err := wf.SubmitFulfillment(ctx, req.ID, "HAWB123", "shipped via JFK", "john")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, completed.Status)
	require.NotNil(t, completed.Fulfillment)
	assert.Equal(t, "HAWB123", completed.Fulfillment.ShipmentRefs)
	assert.False(t, completed.Fulfillment.SubmittedAt.IsZero())

	// Fulfillment closes the loop silently.
	feed, err = notifier.ListFor(ctx, "john")
	require.NoError(t, err)
	assert.Len(t, feed, 1)

	// A second submission overwrites the payload without a second
	// Completed history event.
	again, err := wf.SubmitFulfillment(ctx, req.ID, "HAWB999", "", "john")
	require.NoError(t, err)
	assert.Equal(t, "HAWB999", again.Fulfillment.ShipmentRefs)
	assert.Equal(t, 1, countAction(again.History, store.ActionCompleted))
}

func TestThreeLevelChain(t *testing.T) {
	wf, _, _ := newEngine(3)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 5000)

	r, err := wf.Approve(ctx, req.ID, store.RoleApproverL1, "sarah", "")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingL2, r.Status)

	r, err = wf.Approve(ctx, req.ID, store.RoleApproverL2, "mike", "")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingL3, r.Status)

	r, err = wf.Approve(ctx, req.ID, store.RoleApproverL3, "david", "")
	require.NoError(t, err)
	assert.Equal(t, store.StatusApproved, r.Status)
}

func TestWrongLevelActorFails(t *testing.T) {
	wf, _, st := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 10000)

	_, err := wf.Approve(ctx, req.ID, store.RoleApproverL2, "mike", "")
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.Code(err))

	// No history mutation on the failed attempt.
	stored, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingL1, stored.Status)
	assert.Len(t, stored.History, 1)
}

func TestNonApproverCannotTransition(t *testing.T) {
	wf, _, _ := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 10000)

	_, err := wf.Approve(ctx, req.ID, store.RoleSalesperson, "john", "")
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.Code(err))

	_, err = wf.Reject(ctx, req.ID, store.RoleAdmin, "admin", "nope")
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.Code(err))
}

func TestRejectRequiresReason(t *testing.T) {
	wf, _, st := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 10000)

	_, err := wf.Reject(ctx, req.ID, store.RoleApproverL1, "sarah", "   ")
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.Code(err))

	stored, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingL1, stored.Status)
	assert.Empty(t, stored.RejectionReason)
	assert.Len(t, stored.History, 1)
}

func TestTransitionOnUnknownRequest(t *testing.T) {
	wf, _, _ := newEngine(2)

	_, err := wf.Approve(context.Background(), "no-such-id", store.RoleApproverL1, "sarah", "")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.Code(err))
}

func TestFulfillmentGuards(t *testing.T) {
	wf, _, _ := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 10000)

	// Not approved yet.
	_, err := wf.SubmitFulfillment(ctx, req.ID, "HAWB123", "", "john")
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.Code(err))

	_, err = wf.Approve(ctx, req.ID, store.RoleApproverL1, "sarah", "")
	require.NoError(t, err)
	_, err = wf.Approve(ctx, req.ID, store.RoleApproverL2, "mike", "")
	require.NoError(t, err)

	// Only the creator may submit.
	_, err = wf.SubmitFulfillment(ctx, req.ID, "HAWB123", "", "sarah")
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.Code(err))

	// Refs are required.
	_, err = wf.SubmitFulfillment(ctx, req.ID, "  ", "", "john")
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.Code(err))
}

func TestAttachAssessment(t *testing.T) {
	wf, _, st := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 10000)

	_, err := wf.Approve(ctx, req.ID, store.RoleApproverL1, "sarah", "")
	require.NoError(t, err)
	_, err = wf.Approve(ctx, req.ID, store.RoleApproverL2, "mike", "")
	require.NoError(t, err)
	_, err = wf.SubmitFulfillment(ctx, req.ID, "HAWB123", "", "john")
	require.NoError(t, err)

	// Late-arriving assessment still lands on a completed request.
	err = wf.AttachAssessment(ctx, req.ID, &store.RiskAssessment{
		RiskScore:      72,
		RiskLevel:      "High",
		Summary:        "Large volume to a new customer.",
		Recommendation: "Verify credit terms before shipping.",
	})
	require.NoError(t, err)

	stored, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Assessment)
	assert.Equal(t, 72, stored.Assessment.RiskScore)
	assert.Equal(t, store.StatusCompleted, stored.Status)
	assert.Equal(t, 1, countAction(stored.History, store.ActionCompleted))

	// Overwrite is idempotent by replacement.
	err = wf.AttachAssessment(ctx, req.ID, &store.RiskAssessment{
		RiskScore: 10, RiskLevel: "Low", Summary: "re-run", Recommendation: "approve",
	})
	require.NoError(t, err)
	stored, err = st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.Assessment.RiskScore)
}

func TestAttachAssessmentValidation(t *testing.T) {
	wf, _, _ := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 10000)

	err := wf.AttachAssessment(ctx, req.ID, &store.RiskAssessment{RiskScore: 150, RiskLevel: "High"})
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.Code(err))

	err = wf.AttachAssessment(ctx, req.ID, &store.RiskAssessment{RiskScore: 50, RiskLevel: "Extreme"})
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.Code(err))
}

// Two concurrent approvals of the same request from the same prior state:
// exactly one must win, the loser observes the lost race as an invalid
// transition.
func TestConcurrentApprovalSingleWinner(t *testing.T) {
	wf, _, _ := newEngine(2)
	ctx := context.Background()

	req := createRequest(t, wf, "john", 10000)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := wf.Approve(ctx, req.ID, store.RoleApproverL1, "sarah", "")
			errs <- err
		}()
	}

	var failures, successes int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.Code(err))
			failures++
		} else {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)

	final, err := wf.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingL2, final.Status)
	assert.Len(t, final.History, 2)
}

func TestVisibleQueueAndProcessedHistory(t *testing.T) {
	wf, _, _ := newEngine(2)
	ctx := context.Background()

	first := createRequest(t, wf, "john", 1000)
	second := createRequest(t, wf, "john", 2000)
	third := createRequest(t, wf, "john", 3000)

	_, err := wf.Approve(ctx, second.ID, store.RoleApproverL1, "sarah", "")
	require.NoError(t, err)
	_, err = wf.Reject(ctx, third.ID, store.RoleApproverL1, "sarah", "incomplete")
	require.NoError(t, err)

	// Admin and Salesperson see everything, newest creation first.
	all, err := wf.VisibleQueue(ctx, store.RoleSalesperson)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)
	assert.Equal(t, first.ID, all[2].ID)

	adminView, err := wf.VisibleQueue(ctx, store.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, adminView, 3)

	// L1 sees only its pending level.
	l1, err := wf.VisibleQueue(ctx, store.RoleApproverL1)
	require.NoError(t, err)
	require.Len(t, l1, 1)
	assert.Equal(t, first.ID, l1[0].ID)

	l2, err := wf.VisibleQueue(ctx, store.RoleApproverL2)
	require.NoError(t, err)
	require.Len(t, l2, 1)
	assert.Equal(t, second.ID, l2[0].ID)

	// L1 has processed the escalated and the rejected request.
	processedL1, err := wf.ProcessedHistory(ctx, store.RoleApproverL1)
	require.NoError(t, err)
	assert.Len(t, processedL1, 2)

	// L2 has only seen the rejected one leave its scope.
	processedL2, err := wf.ProcessedHistory(ctx, store.RoleApproverL2)
	require.NoError(t, err)
	require.Len(t, processedL2, 1)
	assert.Equal(t, third.ID, processedL2[0].ID)

	// Salesperson's processed view is empty; their queue shows everything.
	processedSales, err := wf.ProcessedHistory(ctx, store.RoleSalesperson)
	require.NoError(t, err)
	assert.Empty(t, processedSales)
}

func TestStats(t *testing.T) {
	wf, _, _ := newEngine(2)
	ctx := context.Background()

	a := createRequest(t, wf, "john", 1000)
	b := createRequest(t, wf, "john", 2000)
	createRequest(t, wf, "john", 4000) // stays pending

	_, err := wf.Approve(ctx, a.ID, store.RoleApproverL1, "sarah", "")
	require.NoError(t, err)
	_, err = wf.Approve(ctx, a.ID, store.RoleApproverL2, "mike", "")
	require.NoError(t, err)
	_, err = wf.Reject(ctx, b.ID, store.RoleApproverL1, "sarah", "too cheap")
	require.NoError(t, err)

	stats, err := wf.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, int64(1000), stats.ApprovedValue)
	assert.Equal(t, int64(4000), stats.PendingValue)
}

type fakeAnalyzer struct {
	assessment *store.RiskAssessment
	err        error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req *store.SalesRequest) (*store.RiskAssessment, error) {
	return f.assessment, f.err
}

func TestBackgroundAnalysisWriteBack(t *testing.T) {
	st := store.NewMemoryStore()
	notifier := service.NewNotificationService(st, logger.Nop())
	analyzer := &fakeAnalyzer{assessment: &store.RiskAssessment{
		RiskScore: 20, RiskLevel: "Low", Summary: "routine", Recommendation: "approve",
	}}
	wf := service.NewWorkflowService(st, notifier, nil, analyzer, 2, time.Second, logger.Nop())

	req := createRequest(t, wf, "john", 10000)

	require.Eventually(t, func() bool {
		stored, err := st.GetRequest(context.Background(), req.ID)
		return err == nil && stored.Assessment != nil && stored.Assessment.RiskScore == 20
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackgroundAnalysisFailureAttachesPlaceholder(t *testing.T) {
	st := store.NewMemoryStore()
	notifier := service.NewNotificationService(st, logger.Nop())
	analyzer := &fakeAnalyzer{err: errors.New("analysis service down")}
	wf := service.NewWorkflowService(st, notifier, nil, analyzer, 2, time.Second, logger.Nop())

	req := createRequest(t, wf, "john", 10000)

	require.Eventually(t, func() bool {
		stored, err := st.GetRequest(context.Background(), req.ID)
		return err == nil && stored.Assessment != nil && stored.Assessment.RiskLevel == "Medium"
	}, 2*time.Second, 10*time.Millisecond)

	// The degraded assessment never disturbs the workflow.
	stored, err := st.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingL1, stored.Status)
	assert.Len(t, stored.History, 1)
}

func countAction(history []store.HistoryEvent, action string) int {
	n := 0
	for _, ev := range history {
		if ev.Action == action {
			n++
		}
	}
	return n
}
