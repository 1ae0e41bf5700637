package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crits/config"
	"crits/core"
	"crits/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (f *apiFixture) do(t *testing.T, method, path, body, analyst string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if analyst != "" {
		req.Header.Set("Authorization", f.token(t, analyst))
	}
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAddIndicator(t *testing.T) {
	f := newAPIFixture(t)
	f.indicators.On("AddIndicator", mock.Anything, mock.MatchedBy(func(req service.AddIndicatorRequest) bool {
		return req.Type == core.IndicatorTypeDomainName &&
			req.Value == "evil.com" &&
			req.Analyst == "alice" &&
			req.Confidence == "high" &&
			req.Cascade == service.CascadeCreate &&
			!req.Source.IsEmpty()
	})).Return(&service.UpsertResult{Success: true, ObjectID: "i1", IsNew: true})

	rec := f.do(t, "POST", "/api/v1/indicators",
		`{"indicator_type":"URI - Domain Name","value":"evil.com","source":"OSINT","confidence":"high","add_domain":true}`, "alice")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.UpsertResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "i1", res.ObjectID)
	assert.True(t, res.IsNew)
	f.indicators.AssertExpectations(t)
}

func TestAddIndicator_CascadeByName(t *testing.T) {
	f := newAPIFixture(t)
	f.indicators.On("AddIndicator", mock.Anything, mock.MatchedBy(func(req service.AddIndicatorRequest) bool {
		return req.Cascade == service.CascadeLink
	})).Return(&service.UpsertResult{Success: true})

	rec := f.do(t, "POST", "/api/v1/indicators", `{"indicator_type":"x","value":"y","source":"s","cascade":"link","add_domain":true}`, "alice")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/api/v1/indicators", `{"value":"y","cascade":"sideways"}`, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cascade: oneof")
}

func TestAddIndicator_FailureResult(t *testing.T) {
	f := newAPIFixture(t)
	f.indicators.On("AddIndicator", mock.Anything, mock.Anything).
		Return(&service.UpsertResult{Message: "Can't create indicator with an empty value field"})

	rec := f.do(t, "POST", "/api/v1/indicators", `{"indicator_type":"String","source":"OSINT"}`, "alice")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty value field")
}

func TestAddIndicator_RejectsBadJSON(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/api/v1/indicators", `{"value":"x","admin":true}`, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown field")

	rec = f.do(t, "POST", "/api/v1/indicators", `{"value":`, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.indicators.AssertNotCalled(t, "AddIndicator", mock.Anything, mock.Anything)
}

func TestAuth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "GET", "/api/v1/indicators/i1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	req := httptest.NewRequest("GET", "/api/v1/indicators/i1", nil)
	bad, err := IssueToken("another-secret-another-secret-1234", "crits", "mallory", time.Hour, time.Now())
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bad)
	rec = httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.indicators.AssertNotCalled(t, "GetIndicatorDetails", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthDisabled(t *testing.T) {
	f := newAPIFixture(t, func(c *config.Config) { c.Auth.Enabled = false })
	f.indicators.On("GetIndicatorDetails", mock.Anything, "i1", "system").
		Return(&service.IndicatorDetails{Success: true})

	rec := f.do(t, "GET", "/api/v1/indicators/i1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	f.indicators.AssertExpectations(t)
}

func TestGetIndicator_NotVisible(t *testing.T) {
	f := newAPIFixture(t)
	f.indicators.On("GetIndicatorDetails", mock.Anything, "i1", "eve").
		Return(&service.IndicatorDetails{Message: "Either this indicator does not exist or you do not have permission to view it."})

	rec := f.do(t, "GET", "/api/v1/indicators/i1", "", "eve")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "permission to view it")
}

func TestSearchIndicators(t *testing.T) {
	f := newAPIFixture(t)
	f.indicators.On("SearchByCI", mock.Anything, service.CISearch{
		Type: "String", Confidence: "high,medium", Actions: "Blocked", Analyst: "alice",
	}).Return([]*core.Indicator(nil), nil).Once()
	f.indicators.On("SearchByCI", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	rec := f.do(t, "GET", "/api/v1/indicators/search?type=String&confidence=high,medium&actions=Blocked", "", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = f.do(t, "GET", "/api/v1/indicators/search", "", "alice")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestActionRoutes(t *testing.T) {
	f := newAPIFixture(t)
	date := time.Date(2024, 3, 1, 12, 0, 0, 123000000, time.UTC)

	f.indicators.On("AddAction", mock.Anything, "i1", mock.MatchedBy(func(a core.Action) bool {
		return a.ActionType == "Blocked" && a.Analyst == "alice" && a.Active == "off"
	})).Return(&service.MutationResult{Success: true})
	f.indicators.On("RemoveAction", mock.Anything, "i1", date, "alice").
		Return(&service.MutationResult{Message: "Could not find action"})

	rec := f.do(t, "POST", "/api/v1/indicators/i1/actions", `{"action_type":"Blocked","active":"off"}`, "alice")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/api/v1/indicators/i1/actions", `{"active":"maybe"}`, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "action_type: required")

	rec = f.do(t, "PUT", "/api/v1/indicators/i1/actions", `{"action_type":"Blocked"}`, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "update needs the date that addresses the action")

	rec = f.do(t, "DELETE", "/api/v1/indicators/i1/actions?date="+date.Format(time.RFC3339Nano), "", "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not find action")

	rec = f.do(t, "DELETE", "/api/v1/indicators/i1/actions?date=yesterday", "", "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.indicators.AssertExpectations(t)
}

func TestActivityRoutes(t *testing.T) {
	f := newAPIFixture(t)
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.indicators.On("UpdateActivity", mock.Anything, "i1", mock.MatchedBy(func(a core.Activity) bool {
		return a.Description == "triaged" && a.Date.Equal(date) && a.Analyst == "bob"
	})).Return(&service.MutationResult{Success: true})
	f.indicators.On("RemoveActivity", mock.Anything, "i1", date, "bob").Return(&service.MutationResult{Success: true})

	rec := f.do(t, "PUT", "/api/v1/indicators/i1/activity", `{"description":"triaged","date":"2024-03-01T12:00:00Z"}`, "bob")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "DELETE", "/api/v1/indicators/i1/activity?date=2024-03-01T12:00:00Z", "", "bob")
	assert.Equal(t, http.StatusOK, rec.Code)
	f.indicators.AssertExpectations(t)
}

func TestMutationRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.indicators.On("UpdateCI", mock.Anything, "i1", "impact", "low", "alice").Return(&service.MutationResult{Success: true})
	f.indicators.On("SetIndicatorType", mock.Anything, "i1", "String", "alice").Return(&service.MutationResult{Success: true})
	f.indicators.On("RemoveIndicator", mock.Anything, "i1", "alice").Return(&service.MutationResult{Message: "Must be an admin to delete"})
	f.indicators.On("AddIndicatorAction", mock.Anything, "Sinkholed", "alice").Return(false, nil)

	assert.Equal(t, http.StatusOK, f.do(t, "PUT", "/api/v1/indicators/i1/ci/impact", `{"value":"low"}`, "alice").Code)
	assert.Equal(t, http.StatusOK, f.do(t, "PUT", "/api/v1/indicators/i1/type", `{"type":"String"}`, "alice").Code)

	rec := f.do(t, "DELETE", "/api/v1/indicators/i1", "", "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Must be an admin to delete")

	rec = f.do(t, "POST", "/api/v1/indicator-actions", `{"name":"Sinkholed"}`, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false}`, rec.Body.String())

	f.indicators.AssertExpectations(t)
}

func TestObjectRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.indicators.On("CreateIndicatorFromObject", mock.Anything, service.FromObjectRequest{
		IndicatorType: "String", ObjectType: "Sample", ObjectID: "s1", Value: "x", Analyst: "alice",
	}).Return(&service.RelationshipResult{Success: true, IndicatorID: "i9"})
	f.indicators.On("CreateIndicatorAndIP", mock.Anything, "Email", "m1", "10.0.0.1", "alice").
		Return(&service.RelationshipResult{Success: true})

	rec := f.do(t, "POST", "/api/v1/objects/Sample/s1/indicator", `{"indicator_type":"String","value":"x"}`, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"indicator_id":"i9"`)

	rec = f.do(t, "POST", "/api/v1/objects/Email/m1/ip-indicator", `{"ip":"10.0.0.1"}`, "alice")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/api/v1/objects/Email/m1/ip-indicator", `{}`, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.indicators.AssertExpectations(t)
}

func uploadRequest(t *testing.T, fields map[string]string, csv string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if csv != "" {
		fw, err := mw.CreateFormFile(uploadField, "indicators.csv")
		require.NoError(t, err)
		_, err = fw.Write([]byte(csv))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f *apiFixture) upload(t *testing.T, analyst string, fields map[string]string, csv string) *httptest.ResponseRecorder {
	body, contentType := uploadRequest(t, fields, csv)
	req := httptest.NewRequest("POST", "/api/v1/indicators/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", f.token(t, analyst))
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUploadIndicators(t *testing.T) {
	f := newAPIFixture(t)
	csv := "Indicator,Type\nevil.com,URI - Domain Name\n"
	f.importer.On("ImportCSV", mock.Anything, csv, service.ImportRequest{
		Source: "OSINT", Method: "CSV Upload", Reference: "ticket-9", Analyst: "alice", Cascade: service.CascadeLink,
	}).Return(&service.ImportResult{Success: true, Added: 1, Message: "Successfully added 1 Indicator(s).<br />"})

	rec := f.upload(t, "alice", map[string]string{"source": "OSINT", "reference": "ticket-9", "add_relationship": "true"}, csv)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"added":1`)
	f.importer.AssertExpectations(t)
}

func TestUploadIndicators_Validation(t *testing.T) {
	f := newAPIFixture(t, func(c *config.Config) { c.API.ImportBurst = 10; c.API.ImportRate = 100 })

	rec := f.upload(t, "alice", map[string]string{}, "Indicator,Type\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing source information.")

	rec = f.upload(t, "alice", map[string]string{"source": "OSINT"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.upload(t, "alice", map[string]string{"source": "OSINT", "cascade": "sideways"}, "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.importer.AssertNotCalled(t, "ImportCSV", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadIndicators_RateLimitedPerAnalyst(t *testing.T) {
	f := newAPIFixture(t)
	f.importer.On("ImportCSV", mock.Anything, mock.Anything, mock.Anything).
		Return(&service.ImportResult{Success: true})
	fields := map[string]string{"source": "OSINT"}

	assert.Equal(t, http.StatusOK, f.upload(t, "alice", fields, "Indicator,Type\n").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.upload(t, "alice", fields, "Indicator,Type\n").Code)
	assert.Equal(t, http.StatusOK, f.upload(t, "bob", fields, "Indicator,Type\n").Code, "limits are per analyst")
}

func TestHealthAndRequestID(t *testing.T) {
	f := newAPIFixture(t)
	f.health.On("HealthCheck", mock.Anything).Return(nil).Once()
	f.health.On("HealthCheck", mock.Anything).Return(errors.New("mongo down"))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123\n<script>")
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123script", rec.Header().Get("X-Request-ID"))

	rec = f.do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSanitizeErrorMessage(t *testing.T) {
	msg := sanitizeErrorMessage("dial mongodb://user:pw@10.0.0.5:27017 failed; password=hunter2")
	assert.NotContains(t, msg, "hunter2")
	assert.NotContains(t, msg, "user:pw")
	assert.Contains(t, msg, "[DATABASE_CONNECTION]")
}
