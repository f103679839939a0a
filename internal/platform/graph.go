package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"CampaignSentinel/internal/model"
)

// GraphClient talks to a Graph-style ads API. Budgets travel as integer cents.
type GraphClient struct {
	BaseURL     string
	Version     string
	AccessToken string
	Client      *http.Client
}

// NewGraphClient creates a client with optional proxy support.
func NewGraphClient(baseURL, version, accessToken, proxyURL string, timeout time.Duration) *GraphClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GraphClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Version:     version,
		AccessToken: accessToken,
		Client:      &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (c *GraphClient) Name() string { return "graph" }

type graphError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type graphUnit struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"effective_status"`
	CampaignID     string `json:"campaign_id"`
	DailyBudget    string `json:"daily_budget"`
	LifetimeBudget string `json:"lifetime_budget"`
}

// ValidateUnit fetches the unit and its current budgets.
func (c *GraphClient) ValidateUnit(ctx context.Context, unitID string) (*UnitInfo, error) {
	q := url.Values{"fields": {"id,name,effective_status,campaign_id,daily_budget,lifetime_budget"}}
	var gu graphUnit
	if err := c.do(ctx, http.MethodGet, unitID, q, nil, &gu); err != nil {
		return nil, &model.ExternalServiceError{Service: "platform", Op: "validate unit", Err: err}
	}
	if gu.ID == "" {
		return nil, &model.ValidationError{Field: "unit_id", Reason: fmt.Sprintf("unit %s not found on platform", unitID)}
	}
	daily, err := FromMinorUnits(gu.DailyBudget)
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "platform", Op: "validate unit", Err: err}
	}
	lifetime, err := FromMinorUnits(gu.LifetimeBudget)
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "platform", Op: "validate unit", Err: err}
	}
	return &UnitInfo{
		ID: gu.ID, Name: gu.Name, Status: gu.Status, CampaignID: gu.CampaignID,
		DailyBudget: daily, LifetimeBudget: lifetime,
	}, nil
}

// AdjustBudget writes a new budget. The call is never retried here.
func (c *GraphClient) AdjustBudget(ctx context.Context, unitID string, t model.BudgetType, amount float64) (*AdjustResponse, error) {
	field := "daily_budget"
	if t == model.BudgetLifetime {
		field = "lifetime_budget"
	}
	form := url.Values{field: {strconv.FormatInt(ToMinorUnits(amount), 10)}}
	var out struct {
		Success bool `json:"success"`
	}
	raw, err := c.doRaw(ctx, http.MethodPost, unitID, nil, strings.NewReader(form.Encode()), &out)
	if err != nil {
		return &AdjustResponse{UnitID: unitID, Raw: raw}, &model.ExternalServiceError{Service: "platform", Op: "adjust budget", Err: err}
	}
	if !out.Success {
		return &AdjustResponse{UnitID: unitID, Raw: raw}, &model.ExternalServiceError{
			Service: "platform", Op: "adjust budget", Err: errors.New("platform reported success=false"),
		}
	}
	return &AdjustResponse{Success: true, UnitID: unitID, Budget: amount, Raw: raw}, nil
}

type graphInsight struct {
	AdsetID     string `json:"adset_id"`
	AdsetName   string `json:"adset_name"`
	DateStart   string `json:"date_start"`
	Spend       string `json:"spend"`
	Clicks      string `json:"clicks"`
	Impressions string `json:"impressions"`
	Actions     []struct {
		ActionType string `json:"action_type"`
		Value      string `json:"value"`
	} `json:"actions"`
}

// conversionActions are the action types counted as conversions.
var conversionActions = map[string]bool{
	"lead":                             true,
	"onsite_conversion.lead_grouped":   true,
	"offsite_conversion.fb_pixel_lead": true,
}

// FetchInsights reads one record per day for the unit in [since, until).
func (c *GraphClient) FetchInsights(ctx context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error) {
	rng, _ := json.Marshal(map[string]string{
		"since": since.Format("2006-01-02"),
		"until": until.AddDate(0, 0, -1).Format("2006-01-02"),
	})
	q := url.Values{
		"fields":         {"adset_id,adset_name,date_start,spend,clicks,impressions,actions"},
		"time_range":     {string(rng)},
		"time_increment": {"1"},
		"level":          {"adset"},
	}
	var page struct {
		Data []graphInsight `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, unitID+"/insights", q, nil, &page); err != nil {
		return nil, &model.ExternalServiceError{Service: "platform", Op: "fetch insights", Err: err}
	}

	out := make([]model.InsightRecord, 0, len(page.Data))
	for _, gi := range page.Data {
		rec, err := decodeInsight(unitID, gi)
		if err != nil {
			return nil, &model.DataQualityError{Source: "platform insights", Reason: err.Error()}
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeInsight(unitID string, gi graphInsight) (model.InsightRecord, error) {
	date, err := time.Parse("2006-01-02", gi.DateStart)
	if err != nil {
		return model.InsightRecord{}, fmt.Errorf("date_start %q: %w", gi.DateStart, err)
	}
	rec := model.InsightRecord{UnitID: unitID, UnitName: gi.AdsetName, Date: date}
	if rec.Spend, err = parseFloat(gi.Spend); err != nil {
		return rec, fmt.Errorf("spend: %w", err)
	}
	if rec.Clicks, err = parseInt(gi.Clicks); err != nil {
		return rec, fmt.Errorf("clicks: %w", err)
	}
	if rec.Impressions, err = parseInt(gi.Impressions); err != nil {
		return rec, fmt.Errorf("impressions: %w", err)
	}
	for _, a := range gi.Actions {
		if !conversionActions[a.ActionType] {
			continue
		}
		n, err := parseInt(a.Value)
		if err != nil {
			return rec, fmt.Errorf("action %s: %w", a.ActionType, err)
		}
		rec.Conversions += n
	}
	return rec, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func (c *GraphClient) do(ctx context.Context, method, path string, q url.Values, body io.Reader, out any) error {
	_, err := c.doRaw(ctx, method, path, q, body, out)
	return err
}

func (c *GraphClient) doRaw(ctx context.Context, method, path string, q url.Values, body io.Reader, out any) (string, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("access_token", c.AccessToken)
	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.BaseURL, c.Version, path, q.Encode())

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	raw := string(data)
	if resp.StatusCode != http.StatusOK {
		var ge graphError
		if json.Unmarshal(data, &ge) == nil && ge.Error != nil {
			return raw, fmt.Errorf("status %d: %s (code %d)", resp.StatusCode, ge.Error.Message, ge.Error.Code)
		}
		return raw, fmt.Errorf("status %d, body: %s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return raw, fmt.Errorf("decode response: %w", err)
	}
	return raw, nil
}
