package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crits/core"
	"crits/service"

	"github.com/gorilla/mux"
)

// uploadField is the multipart field carrying the CSV file
const uploadField = "filedata"

// CascadeOptions selects Domain/IP propagation, either by name or by the legacy flag pair
type CascadeOptions struct {
	Cascade         string `json:"cascade,omitempty" validate:"omitempty,oneof=none link create"`
	AddDomain       bool   `json:"add_domain,omitempty"`
	AddRelationship bool   `json:"add_relationship,omitempty"`
}

func (c CascadeOptions) mode() service.CascadeMode {
	if c.Cascade != "" {
		// validated by oneof
		mode, _ := service.ParseCascadeMode(c.Cascade)
		return mode
	}
	return service.CascadeModeFromFlags(c.AddDomain, c.AddRelationship)
}

// AddIndicatorBody is the request body for a single indicator.
// Empty type, value or source are reported by the service with its own messages.
type AddIndicatorBody struct {
	Type               string `json:"indicator_type" validate:"max=255"`
	Value              string `json:"value" validate:"max=4096"`
	Source             string `json:"source" validate:"max=255"`
	Reference          string `json:"reference,omitempty" validate:"max=1024"`
	Method             string `json:"method,omitempty" validate:"max=255"`
	Campaign           string `json:"campaign,omitempty" validate:"max=255"`
	CampaignConfidence string `json:"campaign_confidence,omitempty"`
	Confidence         string `json:"confidence,omitempty"`
	Impact             string `json:"impact,omitempty"`
	BucketList         string `json:"bucket_list,omitempty" validate:"max=1024"`
	Ticket             string `json:"ticket,omitempty" validate:"max=1024"`
	CascadeOptions
}

// ActionBody is the request body for adding or updating an action
type ActionBody struct {
	ActionType    string     `json:"action_type" validate:"required,max=255"`
	Active        string     `json:"active,omitempty" validate:"omitempty,oneof=on off"`
	BeginDate     *time.Time `json:"begin_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	PerformedDate *time.Time `json:"performed_date,omitempty"`
	Reason        string     `json:"reason,omitempty" validate:"max=4096"`
	Date          time.Time  `json:"date,omitempty"`
}

// ActivityBody is the request body for adding or updating an activity entry
type ActivityBody struct {
	Description string     `json:"description" validate:"required,max=4096"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Date        time.Time  `json:"date,omitempty"`
}

// CIBody sets a confidence or impact rating
type CIBody struct {
	Value string `json:"value" validate:"required"`
}

// TypeBody changes an indicator's type
type TypeBody struct {
	Type string `json:"type" validate:"required,max=255"`
}

// IndicatorActionBody registers a new action name
type IndicatorActionBody struct {
	Name string `json:"name" validate:"required,max=255"`
}

// FromObjectBody creates an indicator from an existing object
type FromObjectBody struct {
	IndicatorType string `json:"indicator_type" validate:"required,max=255"`
	Value         string `json:"value" validate:"required,max=4096"`
}

// IPIndicatorBody creates an IP and its indicator for an existing object
type IPIndicatorBody struct {
	IP string `json:"ip" validate:"required,max=64"`
}

// analystFrom returns the authenticated analyst set by the auth middleware
func analystFrom(r *http.Request) string {
	if username, ok := GetUsername(r.Context()); ok {
		return username
	}
	return anonymousAnalyst
}

// addIndicator godoc
//
//	@Summary	Add an indicator
//	@Tags		indicators
//	@Accept		json
//	@Produce	json
//	@Param		indicator	body		AddIndicatorBody	true	"Indicator"
//	@Success	200			{object}	service.UpsertResult
//	@Failure	400			{object}	service.UpsertResult
//	@Router		/api/v1/indicators [post]
func (a *API) addIndicator(w http.ResponseWriter, r *http.Request) {
	var body AddIndicatorBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}

	var source core.SourceInput
	if name := strings.TrimSpace(body.Source); name != "" {
		source = core.SourceByName(name)
	}

	result := a.indicators.AddIndicator(r.Context(), service.AddIndicatorRequest{
		Type:               body.Type,
		Value:              body.Value,
		Source:             source,
		Reference:          body.Reference,
		Method:             body.Method,
		Analyst:            analystFrom(r),
		Campaign:           body.Campaign,
		CampaignConfidence: body.CampaignConfidence,
		Confidence:         body.Confidence,
		Impact:             body.Impact,
		BucketList:         body.BucketList,
		Ticket:             body.Ticket,
		Cascade:            body.mode(),
	})
	a.respondResult(w, result.Success, result)
}

// uploadIndicators godoc
//
//	@Summary	Bulk import indicators from CSV
//	@Tags		indicators
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		filedata	formData	file	true	"CSV file"
//	@Param		source		formData	string	true	"Source name"
//	@Param		method		formData	string	false	"Method"
//	@Param		reference	formData	string	false	"Reference"
//	@Param		cascade		formData	string	false	"none, link or create"
//	@Success	200			{object}	service.ImportResult
//	@Failure	400			{object}	service.ImportResult
//	@Failure	429			{string}	string	"Too many import requests"
//	@Router		/api/v1/indicators/upload [post]
func (a *API) uploadIndicators(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.UploadLimit)
	if err := r.ParseMultipartForm(a.config.API.UploadLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large", err, a.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err, a.logger)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	source := strings.TrimSpace(r.FormValue("source"))
	if source == "" {
		a.respondResult(w, false, &service.ImportResult{Message: "Missing source information."})
		return
	}

	cascade, err := service.ParseCascadeMode(r.FormValue("cascade"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if r.FormValue("cascade") == "" {
		cascade = service.CascadeModeFromFlags(formBool(r, "add_domain"), formBool(r, "add_relationship"))
	}

	file, _, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing CSV file", err, a.logger)
		return
	}
	defer file.Close()

	method := strings.TrimSpace(r.FormValue("method"))
	if method == "" {
		method = a.config.Import.DefaultMethod
	}

	result := a.importer.ImportCSV(r.Context(), file, service.ImportRequest{
		Source:    source,
		Method:    method,
		Reference: r.FormValue("reference"),
		Analyst:   analystFrom(r),
		Cascade:   cascade,
	})
	a.respondResult(w, result.Success, result)
}

func formBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.FormValue(key))
	return err == nil && v
}

// searchIndicators godoc
//
//	@Summary	Search indicators by type, confidence, impact and action
//	@Tags		indicators
//	@Produce	json
//	@Param		type		query	string	false	"Indicator type"
//	@Param		confidence	query	string	false	"Comma separated ratings"
//	@Param		impact		query	string	false	"Comma separated ratings"
//	@Param		actions		query	string	false	"Comma separated action types"
//	@Success	200			{array}	core.Indicator
//	@Router		/api/v1/indicators/search [get]
func (a *API) searchIndicators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	found, err := a.indicators.SearchByCI(r.Context(), service.CISearch{
		Type:       q.Get("type"),
		Confidence: q.Get("confidence"),
		Impact:     q.Get("impact"),
		Actions:    q.Get("actions"),
		Analyst:    analystFrom(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Search failed", err, a.logger)
		return
	}
	if found == nil {
		found = []*core.Indicator{}
	}
	a.respondJSON(w, found, http.StatusOK)
}

// getIndicator godoc
//
//	@Summary	Indicator details
//	@Tags		indicators
//	@Produce	json
//	@Param		id	path		string	true	"Indicator ID"
//	@Success	200	{object}	service.IndicatorDetails
//	@Failure	404	{object}	service.IndicatorDetails
//	@Router		/api/v1/indicators/{id} [get]
func (a *API) getIndicator(w http.ResponseWriter, r *http.Request) {
	details := a.indicators.GetIndicatorDetails(r.Context(), mux.Vars(r)["id"], analystFrom(r))
	status := http.StatusOK
	if !details.Success {
		status = http.StatusNotFound
	}
	a.respondJSON(w, details, status)
}

// deleteIndicator godoc
//
//	@Summary	Delete an indicator (admin only)
//	@Tags		indicators
//	@Produce	json
//	@Param		id	path		string	true	"Indicator ID"
//	@Success	200	{object}	service.MutationResult
//	@Failure	400	{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id} [delete]
func (a *API) deleteIndicator(w http.ResponseWriter, r *http.Request) {
	result := a.indicators.RemoveIndicator(r.Context(), mux.Vars(r)["id"], analystFrom(r))
	a.respondResult(w, result.Success, result)
}

// setIndicatorType godoc
//
//	@Summary	Change an indicator's type
//	@Tags		indicators
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string		true	"Indicator ID"
//	@Param		body	body		TypeBody	true	"New type"
//	@Success	200		{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id}/type [put]
func (a *API) setIndicatorType(w http.ResponseWriter, r *http.Request) {
	var body TypeBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	result := a.indicators.SetIndicatorType(r.Context(), mux.Vars(r)["id"], body.Type, analystFrom(r))
	a.respondResult(w, result.Success, result)
}

// updateCI godoc
//
//	@Summary	Set confidence or impact
//	@Tags		indicators
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string	true	"Indicator ID"
//	@Param		ci_type	path		string	true	"confidence or impact"
//	@Param		body	body		CIBody	true	"Rating"
//	@Success	200		{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id}/ci/{ci_type} [put]
func (a *API) updateCI(w http.ResponseWriter, r *http.Request) {
	var body CIBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	result := a.indicators.UpdateCI(r.Context(), vars["id"], vars["ci_type"], body.Value, analystFrom(r))
	a.respondResult(w, result.Success, result)
}

func (b ActionBody) toAction(analyst string) core.Action {
	return core.Action{
		ActionType:    b.ActionType,
		Active:        b.Active,
		Analyst:       analyst,
		BeginDate:     b.BeginDate,
		EndDate:       b.EndDate,
		PerformedDate: b.PerformedDate,
		Reason:        b.Reason,
		Date:          b.Date,
	}
}

func (b ActivityBody) toActivity(analyst string) core.Activity {
	return core.Activity{
		Analyst:     analyst,
		StartDate:   b.StartDate,
		EndDate:     b.EndDate,
		Description: b.Description,
		Date:        b.Date,
	}
}

// addAction godoc
//
//	@Summary	Add an action
//	@Tags		indicators
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string		true	"Indicator ID"
//	@Param		body	body		ActionBody	true	"Action"
//	@Success	200		{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id}/actions [post]
func (a *API) addAction(w http.ResponseWriter, r *http.Request) {
	var body ActionBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	result := a.indicators.AddAction(r.Context(), mux.Vars(r)["id"], body.toAction(analystFrom(r)))
	a.respondResult(w, result.Success, result)
}

// updateAction godoc
//
//	@Summary	Update the action recorded at body.date
//	@Tags		indicators
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string		true	"Indicator ID"
//	@Param		body	body		ActionBody	true	"Action"
//	@Success	200		{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id}/actions [put]
func (a *API) updateAction(w http.ResponseWriter, r *http.Request) {
	var body ActionBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	if body.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "Validation failed: date: required", nil, a.logger)
		return
	}
	result := a.indicators.UpdateAction(r.Context(), mux.Vars(r)["id"], body.toAction(analystFrom(r)))
	a.respondResult(w, result.Success, result)
}

// removeAction godoc
//
//	@Summary	Remove the action recorded at date
//	@Tags		indicators
//	@Produce	json
//	@Param		id		path		string	true	"Indicator ID"
//	@Param		date	query		string	true	"RFC 3339 date of the action"
//	@Success	200		{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id}/actions [delete]
func (a *API) removeAction(w http.ResponseWriter, r *http.Request) {
	date, ok := a.dateParam(w, r)
	if !ok {
		return
	}
	result := a.indicators.RemoveAction(r.Context(), mux.Vars(r)["id"], date, analystFrom(r))
	a.respondResult(w, result.Success, result)
}

// addActivity godoc
//
//	@Summary	Add an activity entry
//	@Tags		indicators
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string			true	"Indicator ID"
//	@Param		body	body		ActivityBody	true	"Activity"
//	@Success	200		{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id}/activity [post]
func (a *API) addActivity(w http.ResponseWriter, r *http.Request) {
	var body ActivityBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	result := a.indicators.AddActivity(r.Context(), mux.Vars(r)["id"], body.toActivity(analystFrom(r)))
	a.respondResult(w, result.Success, result)
}

// updateActivity godoc
//
//	@Summary	Update the activity entry recorded at body.date
//	@Tags		indicators
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string			true	"Indicator ID"
//	@Param		body	body		ActivityBody	true	"Activity"
//	@Success	200		{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id}/activity [put]
func (a *API) updateActivity(w http.ResponseWriter, r *http.Request) {
	var body ActivityBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	if body.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "Validation failed: date: required", nil, a.logger)
		return
	}
	result := a.indicators.UpdateActivity(r.Context(), mux.Vars(r)["id"], body.toActivity(analystFrom(r)))
	a.respondResult(w, result.Success, result)
}

// removeActivity godoc
//
//	@Summary	Remove the activity entry recorded at date
//	@Tags		indicators
//	@Produce	json
//	@Param		id		path		string	true	"Indicator ID"
//	@Param		date	query		string	true	"RFC 3339 date of the entry"
//	@Success	200		{object}	service.MutationResult
//	@Router		/api/v1/indicators/{id}/activity [delete]
func (a *API) removeActivity(w http.ResponseWriter, r *http.Request) {
	date, ok := a.dateParam(w, r)
	if !ok {
		return
	}
	result := a.indicators.RemoveActivity(r.Context(), mux.Vars(r)["id"], date, analystFrom(r))
	a.respondResult(w, result.Success, result)
}

// dateParam parses the RFC 3339 "date" query parameter that addresses an action or activity
func (a *API) dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Missing date parameter", nil, a.logger)
		return time.Time{}, false
	}
	date, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date parameter: expected RFC 3339", err, a.logger)
		return time.Time{}, false
	}
	return date, true
}

// addIndicatorAction godoc
//
//	@Summary	Register a new indicator action name
//	@Tags		registries
//	@Accept		json
//	@Produce	json
//	@Param		body	body		IndicatorActionBody	true	"Action name"
//	@Success	200		{object}	map[string]interface{}
//	@Router		/api/v1/indicator-actions [post]
func (a *API) addIndicatorAction(w http.ResponseWriter, r *http.Request) {
	var body IndicatorActionBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	added, err := a.indicators.AddIndicatorAction(r.Context(), body.Name, analystFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add indicator action", err, a.logger)
		return
	}
	a.respondResult(w, added, map[string]interface{}{"success": added})
}

// createIndicatorFromObject godoc
//
//	@Summary	Create an indicator from an object and relate them
//	@Tags		objects
//	@Accept		json
//	@Produce	json
//	@Param		type	path		string			true	"Object type"
//	@Param		id		path		string			true	"Object ID"
//	@Param		body	body		FromObjectBody	true	"Indicator"
//	@Success	200		{object}	service.RelationshipResult
//	@Router		/api/v1/objects/{type}/{id}/indicator [post]
func (a *API) createIndicatorFromObject(w http.ResponseWriter, r *http.Request) {
	var body FromObjectBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	result := a.indicators.CreateIndicatorFromObject(r.Context(), service.FromObjectRequest{
		IndicatorType: body.IndicatorType,
		ObjectType:    vars["type"],
		ObjectID:      vars["id"],
		Value:         body.Value,
		Analyst:       analystFrom(r),
	})
	a.respondResult(w, result.Success, result)
}

// createIndicatorAndIP godoc
//
//	@Summary	Create an IP and its indicator for an object and relate all three
//	@Tags		objects
//	@Accept		json
//	@Produce	json
//	@Param		type	path		string			true	"Object type"
//	@Param		id		path		string			true	"Object ID"
//	@Param		body	body		IPIndicatorBody	true	"IP address"
//	@Success	200		{object}	service.RelationshipResult
//	@Router		/api/v1/objects/{type}/{id}/ip-indicator [post]
func (a *API) createIndicatorAndIP(w http.ResponseWriter, r *http.Request) {
	var body IPIndicatorBody
	if !a.decodeAndValidate(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	result := a.indicators.CreateIndicatorAndIP(r.Context(), vars["type"], vars["id"], body.IP, analystFrom(r))
	a.respondResult(w, result.Success, result)
}
