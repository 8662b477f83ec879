package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowtrack/be-sales-approvals/internal/store"
)

// RiskClient calls the external risk-analysis service that annotates sales
// requests with an advisory assessment. The assessment never gates a
// workflow transition; callers substitute PlaceholderAssessment when the
// service is unreachable.
type RiskClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRiskClient creates a risk-analysis client.
func NewRiskClient(baseURL string, timeout time.Duration) *RiskClient {
	return &RiskClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// analyzeRequest is the JSON body sent to the analysis service: the six
// immutable request facts plus price.
type analyzeRequest struct {
	ReferenceCode  string `json:"reference_code"`
	CustomerName   string `json:"customer_name"`
	Territory      string `json:"territory"`
	Weight         string `json:"weight"`
	Destination    string `json:"destination"`
	RequestedPrice int64  `json:"requested_price"`
}

// Analyze requests an assessment for the given sales request.
func (c *RiskClient) Analyze(ctx context.Context, req *store.SalesRequest) (*store.RiskAssessment, error) {
	body, err := json.Marshal(analyzeRequest{
		ReferenceCode:  req.ReferenceCode,
		CustomerName:   req.CustomerName,
		Territory:      req.Territory,
		Weight:         req.Weight,
		Destination:    req.Destination,
		RequestedPrice: req.RequestedPrice,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("risk analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("risk analysis service returned status %d", resp.StatusCode)
	}

	var assessment store.RiskAssessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, fmt.Errorf("decode risk analysis response: %w", err)
	}
	return &assessment, nil
}

// PlaceholderAssessment is the degraded annotation used when the analysis
// service fails, so approvers still see a review hint instead of nothing.
func PlaceholderAssessment() *store.RiskAssessment {
	return &store.RiskAssessment{
		RiskScore:      50,
		RiskLevel:      "Medium",
		Summary:        "Risk analysis unavailable. Proceed with standard review.",
		Recommendation: "Check customer credit history manually.",
	}
}
