package platform

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignSentinel/internal/model"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(12345), ToMinorUnits(123.45))
	assert.Equal(t, int64(1001), ToMinorUnits(10.005))
	assert.Equal(t, int64(0), ToMinorUnits(0))

	v, err := FromMinorUnits("5000")
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)

	v, err = FromMinorUnits("")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = FromMinorUnits("fifty")
	assert.Error(t, err)
}

func TestGraphClient_ValidateUnit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/as-1", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		_, _ = io.WriteString(w, `{"id":"as-1","name":"Residencial Aurora","effective_status":"ACTIVE","campaign_id":"c1","daily_budget":"15050"}`)
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, "v19.0", "tok", "", time.Second)
	u, err := c.ValidateUnit(context.Background(), "as-1")
	require.NoError(t, err)
	assert.Equal(t, 150.5, u.DailyBudget)
	assert.Zero(t, u.LifetimeBudget)
	assert.False(t, u.Removed())
	assert.Equal(t, 150.5, u.Budget(model.BudgetDaily))
}

func TestGraphClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`)
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, "v19.0", "bad", "", time.Second)
	_, err := c.ValidateUnit(context.Background(), "as-1")
	var ext *model.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Contains(t, err.Error(), "Invalid OAuth access token")
}

func TestGraphClient_AdjustBudgetSendsCents(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, "v19.0", "tok", "", time.Second)
	resp, err := c.AdjustBudget(context.Background(), "as-1", model.BudgetLifetime, 1234.56)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "123456", form.Get("lifetime_budget"))
	assert.Empty(t, form.Get("daily_budget"))
}

func TestGraphClient_AdjustBudgetRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false}`)
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, "v19.0", "tok", "", time.Second)
	resp, err := c.AdjustBudget(context.Background(), "as-1", model.BudgetDaily, 10)
	require.Error(t, err)
	assert.Equal(t, `{"success":false}`, resp.Raw)
}

func TestGraphClient_FetchInsightsDecodesActions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/as-1/insights", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("time_range"), `"until":"2026-03-09"`)
		_, _ = io.WriteString(w, `{"data":[
			{"adset_id":"as-1","adset_name":"Aurora","date_start":"2026-03-08","spend":"120.50","clicks":"300","impressions":"9000",
			 "actions":[{"action_type":"lead","value":"4"},{"action_type":"link_click","value":"300"},{"action_type":"offsite_conversion.fb_pixel_lead","value":"1"}]},
			{"adset_id":"as-1","adset_name":"Aurora","date_start":"2026-03-09","spend":"80","clicks":"200","impressions":"7000"}
		]}`)
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, "v19.0", "tok", "", time.Second)
	since := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	recs, err := c.FetchInsights(context.Background(), "as-1", since, since.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 5, recs[0].Conversions)
	assert.Equal(t, 120.5, recs[0].Spend)
	assert.Equal(t, 300, recs[0].Clicks)
	assert.Zero(t, recs[1].Conversions)
	assert.Equal(t, "as-1", recs[1].UnitID)
}

func TestGraphClient_FetchInsightsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"date_start":"yesterday"}]}`)
	}))
	defer srv.Close()

	c := NewGraphClient(srv.URL, "v19.0", "tok", "", time.Second)
	_, err := c.FetchInsights(context.Background(), "as-1", time.Now(), time.Now())
	var dq *model.DataQualityError
	assert.ErrorAs(t, err, &dq)
}
