package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrack/be-sales-approvals/internal/handler"
	"github.com/flowtrack/be-sales-approvals/internal/logger"
	"github.com/flowtrack/be-sales-approvals/internal/service"
	"github.com/flowtrack/be-sales-approvals/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st := store.NewMemoryStore()
	require.NoError(t, store.Seed(context.Background(), st))

	log := logger.Nop()
	notifications := service.NewNotificationService(st, log)
	workflow := service.NewWorkflowService(st, notifications, nil, nil, 2, 0, log)
	users := service.NewUserService(st, log)

	mux := http.NewServeMux()
	handler.NewHTTPHandler(workflow, notifications, users, log).Routes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/requests", map[string]any{
		"referenceCode":  "IC-2024-001",
		"customerName":   "Global Logistics Inc.",
		"territory":      "North America",
		"weight":         "500kg",
		"destination":    "New York, NY",
		"requestedPrice": 10000,
		"submitterEmail": "john@example.com",
		"createdBy":      "john",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created store.SalesRequest
	decode(t, resp, &created)
	assert.Equal(t, store.StatusPendingL1, created.Status)

	// L1 queue contains the new request.
	listResp, err := http.Get(srv.URL + "/api/v1/requests?role=approver_l1")
	require.NoError(t, err)
	var queue struct {
		Requests []*store.SalesRequest `json:"requests"`
		Total    int                   `json:"total"`
	}
	decode(t, listResp, &queue)
	require.Equal(t, 1, queue.Total)

	resp = postJSON(t, srv.URL+"/api/v1/requests/approve", map[string]any{
		"id": created.ID, "role": "approver_l1", "actedBy": "sarah", "note": "ok",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var afterL1 store.SalesRequest
	decode(t, resp, &afterL1)
	assert.Equal(t, store.StatusPendingL2, afterL1.Status)

	resp = postJSON(t, srv.URL+"/api/v1/requests/approve", map[string]any{
		"id": created.ID, "role": "approver_l2", "actedBy": "mike", "note": "good",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/requests/fulfillment", map[string]any{
		"id": created.ID, "shipmentRefs": "HAWB123", "remarks": "", "actedBy": "john",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var completed store.SalesRequest
	decode(t, resp, &completed)
	assert.Equal(t, store.StatusCompleted, completed.Status)

	// The terminal approval produced a feed entry for the creator.
	notifResp, err := http.Get(srv.URL + "/api/v1/notifications?recipient=john")
	require.NoError(t, err)
	var feed struct {
		Notifications []*store.Notification `json:"notifications"`
		Total         int                   `json:"total"`
	}
	decode(t, notifResp, &feed)
	require.Equal(t, 1, feed.Total)
	assert.Equal(t, store.SeveritySuccess, feed.Notifications[0].Severity)
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	// Unknown request id.
	resp := postJSON(t, srv.URL+"/api/v1/requests/approve", map[string]any{
		"id": "missing", "role": "approver_l1", "actedBy": "sarah",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)

	// Create, then act at the wrong level: conflict.
	resp = postJSON(t, srv.URL+"/api/v1/requests", map[string]any{
		"referenceCode":  "IC-2024-002",
		"customerName":   "ACME",
		"territory":      "EMEA",
		"weight":         "10kg",
		"destination":    "Berlin",
		"requestedPrice": 500,
		"submitterEmail": "a@b.com",
		"createdBy":      "john",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created store.SalesRequest
	decode(t, resp, &created)

	resp = postJSON(t, srv.URL+"/api/v1/requests/approve", map[string]any{
		"id": created.ID, "role": "approver_l2", "actedBy": "mike",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Missing required field: bad request.
	resp = postJSON(t, srv.URL+"/api/v1/requests", map[string]any{
		"referenceCode": "IC-2024-003", "createdBy": "john",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Bad credentials: unauthorized.
	resp = postJSON(t, srv.URL+"/api/v1/auth/login", map[string]any{
		"username": "john", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/login", map[string]any{
		"username": "sarah", "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var user store.User
	decode(t, resp, &user)
	assert.Equal(t, store.RoleApproverL1, user.Role)
	assert.Empty(t, user.PasswordHash)
}

func TestRoleLabelsOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/roles/labels")
	require.NoError(t, err)
	var labels store.RoleLabels
	decode(t, resp, &labels)
	assert.Equal(t, "Salesperson", labels[store.RoleSalesperson])

	labels[store.RoleApproverL1] = "Sales Manager"
	buf, err := json.Marshal(labels)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/roles/labels", bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, putResp.StatusCode)
	putResp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/roles/labels")
	require.NoError(t, err)
	decode(t, resp, &labels)
	assert.Equal(t, "Sales Manager", labels[store.RoleApproverL1])
}
