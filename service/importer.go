package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"crits/core"
	"crits/metrics"

	"go.uber.org/zap"
)

// CSV column headers
const (
	ColumnIndicator          = "Indicator"
	ColumnType               = "Type"
	ColumnCampaign           = "Campaign"
	ColumnCampaignConfidence = "Campaign Confidence"
	ColumnAction             = "Action"
	ColumnConfidence         = "Confidence"
	ColumnImpact             = "Impact"

	DefaultBucketListColumn = "Bucket List"
	DefaultTicketColumn     = "Ticket"
)

const (
	msgNoValidRows   = "Could not find any valid CSV rows to parse!"
	rowSeparator     = "<br />"
	defaultCIRating  = string(core.RatingUnknown)
	defaultCampConf  = string(core.CampaignConfidenceLow)
	invalidRowFormat = "Cannot process row %d: %s" + rowSeparator
	failedRowFormat  = "Failure processing row %d: %s" + rowSeparator
	actionRowFormat  = "Row %d added, but action %s was not attached: %s" + rowSeparator

	outcomeAdded   = "added"
	outcomeInvalid = "invalid"
	outcomeFailed  = "failed"
)

// Registries are the lookup tables used to validate one import. They are
// loaded once per call and not modified afterwards.
type Registries struct {
	Campaigns           core.ValidValues
	Actions             core.ValidValues
	IndicatorTypes      core.ValidValues
	Ratings             core.ValidValues
	CampaignConfidences core.ValidValues
}

// LoadRegistries reads the active campaigns, actions and indicator-eligible
// object types and combines them with the fixed rating tables.
func LoadRegistries(ctx context.Context, reg RegistryStorage) (*Registries, error) {
	campaigns, err := reg.ActiveCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaigns: %w", err)
	}
	actions, err := reg.ActiveIndicatorActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load indicator actions: %w", err)
	}
	objectTypes, err := reg.IndicatorObjectTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load object types: %w", err)
	}

	r := &Registries{
		Campaigns:           core.ValidValues{},
		Actions:             core.ValidValues{},
		IndicatorTypes:      core.ValidValues{},
		Ratings:             core.ValidValues{},
		CampaignConfidences: core.ValidValues{},
	}
	for _, c := range campaigns {
		r.Campaigns[core.NormalizeKey(c.Name)] = c.Name
	}
	for _, a := range actions {
		r.Actions[core.NormalizeKey(a.Name)] = a.Name
	}
	for _, ot := range objectTypes {
		if !ot.IndicatorEligible() {
			continue
		}
		name := ot.IndicatorTypeName()
		r.IndicatorTypes[core.NormalizeKey(name)] = name
	}
	for _, rating := range core.AllRatings {
		r.Ratings[string(rating)] = string(rating)
	}
	for _, c := range core.AllCampaignConfidences {
		r.CampaignConfidences[string(c)] = string(c)
	}
	return r, nil
}

// IndicatorWriter is the subset of IndicatorService the importer drives
type IndicatorWriter interface {
	Upsert(ctx context.Context, req UpsertRequest) *UpsertResult
	AddAction(ctx context.Context, id string, action core.Action) *MutationResult
}

// ImportRequest carries the batch-wide attributes of a CSV import
type ImportRequest struct {
	Source    string
	Method    string
	Reference string
	Analyst   string
	Cascade   CascadeMode
}

// ImportResult reports a CSV import. Message is an HTML transcript with one
// line per rejected row.
type ImportResult struct {
	Success bool   `json:"success"`
	Added   int    `json:"added"`
	Message string `json:"message"`
}

// ImportService bulk-loads indicators from CSV
type ImportService struct {
	writer           IndicatorWriter
	registries       RegistryStorage
	bucketListColumn string
	ticketColumn     string
	logger           *zap.SugaredLogger
	now              func() time.Time
}

// ImportOption customizes an ImportService
type ImportOption func(*ImportService)

// WithBucketListColumn overrides the bucket list column header
func WithBucketListColumn(name string) ImportOption {
	return func(s *ImportService) {
		if name != "" {
			s.bucketListColumn = name
		}
	}
}

// WithTicketColumn overrides the ticket column header
func WithTicketColumn(name string) ImportOption {
	return func(s *ImportService) {
		if name != "" {
			s.ticketColumn = name
		}
	}
}

// NewImportService creates an ImportService
func NewImportService(writer IndicatorWriter, registries RegistryStorage, logger *zap.SugaredLogger, opts ...ImportOption) *ImportService {
	if writer == nil {
		panic("indicator writer is required")
	}
	if registries == nil {
		panic("registry storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	s := &ImportService{
		writer:           writer,
		registries:       registries,
		bucketListColumn: DefaultBucketListColumn,
		ticketColumn:     DefaultTicketColumn,
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// csvRow is one header-keyed data row. Missing columns read as "".
type csvRow map[string]string

func (r csvRow) get(col string) string { return r[col] }

// ImportCSV upserts one indicator per CSV data row.
//
// BUSINESS LOGIC:
// 1. Load registries once for the whole batch
// 2. For each row: normalize, validate against registries, upsert
// 3. Rows with a missing value/type or an unknown action are skipped with a message
// 4. Upsert failures are recorded and do not stop the batch
// 5. On success, each validated action is added to the indicator
//
// Rows are numbered from 1 for the first data row. Cancelling ctx stops the
// scan; the result covers the rows seen so far.
func (s *ImportService) ImportCSV(ctx context.Context, r io.Reader, req ImportRequest) (result *ImportResult) {
	start := s.now()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Errorw("Panic during CSV import", "panic", rec)
			result = &ImportResult{Success: false, Message: fmt.Sprintf("%v", rec)}
		}
		metrics.ImportDuration.Observe(time.Since(start).Seconds())
	}()

	regs, err := LoadRegistries(ctx, s.registries)
	if err != nil {
		s.logger.Errorw("Failed to load import registries", "error", err)
		return &ImportResult{Success: false, Message: err.Error()}
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return &ImportResult{Success: false, Message: fmt.Sprintf("failed to read CSV header: %v", err)}
	}

	var transcript strings.Builder
	processed, added := 0, 0
	success := true

	for len(header) > 0 {
		if ctx.Err() != nil {
			s.logger.Warnw("CSV import cancelled", "rows", processed, "error", ctx.Err())
			transcript.WriteString(fmt.Sprintf("Import cancelled after %d row(s)%s", processed, rowSeparator))
			break
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		processed++
		if err != nil {
			metrics.ImportRows.WithLabelValues(outcomeFailed).Inc()
			transcript.WriteString(fmt.Sprintf(failedRowFormat, processed, err))
			success = false
			continue
		}

		row := make(csvRow, len(header))
		for i, col := range header {
			if i < len(record) {
				row[strings.TrimSpace(col)] = record[i]
			}
		}

		msg, outcome := s.importRow(ctx, processed, row, regs, req)
		metrics.ImportRows.WithLabelValues(outcome).Inc()
		transcript.WriteString(msg)
		if outcome != outcomeAdded {
			success = false
			continue
		}
		added++
	}

	msg := transcript.String()
	if processed < 1 {
		success = false
		msg = msgNoValidRows
	}

	s.logger.Infow("CSV import finished",
		"rows", processed,
		"added", added,
		"source", req.Source,
		"analyst", req.Analyst)

	return &ImportResult{
		Success: success,
		Added:   added,
		Message: fmt.Sprintf("Successfully added %d Indicator(s).%s%s", added, rowSeparator, msg),
	}
}

// importRow processes one row and returns its transcript text and metric
// outcome. Added rows only produce text when an action could not be attached.
func (s *ImportService) importRow(ctx context.Context, n int, row csvRow, regs *Registries, req ImportRequest) (string, string) {
	value := core.NormalizeValue(row.get(ColumnIndicator))
	indType, typeOK := core.VerifyField(row.get(ColumnType), regs.IndicatorTypes, "")

	if value == "" || !typeOK {
		var problems []string
		if value == "" {
			problems = append(problems, "No valid Indicator value")
		}
		if !typeOK {
			problems = append(problems, "No valid Indicator type")
		}
		return fmt.Sprintf(invalidRowFormat, n, strings.Join(problems, " ")), outcomeInvalid
	}

	var actions []string
	if raw := row.get(ColumnAction); strings.TrimSpace(raw) != "" {
		verified, ok := core.VerifyFields(strings.Split(raw, ","), regs.Actions, "")
		if !ok {
			return fmt.Sprintf(invalidRowFormat, n, "Invalid Action"), outcomeInvalid
		}
		actions = verified
	}

	now := s.now()
	fields := IndicatorFields{
		Type:       indType,
		Value:      value,
		BucketList: row.get(s.bucketListColumn),
		Ticket:     row.get(s.ticketColumn),
	}
	if campaign, ok := core.VerifyField(row.get(ColumnCampaign), regs.Campaigns, ""); ok {
		conf, _ := core.VerifyField(row.get(ColumnCampaignConfidence), regs.CampaignConfidences, defaultCampConf)
		fields.Campaigns = []core.CampaignAttribution{
			core.NewCampaignAttribution(campaign, core.CampaignConfidence(conf), req.Analyst, now),
		}
	}
	confidence, _ := core.VerifyField(row.get(ColumnConfidence), regs.Ratings, defaultCIRating)
	impact, _ := core.VerifyField(row.get(ColumnImpact), regs.Ratings, defaultCIRating)
	fields.Confidence = core.Rating(confidence)
	fields.Impact = core.Rating(impact)

	res := s.writer.Upsert(ctx, UpsertRequest{
		Fields:    fields,
		Source:    core.SourceByName(req.Source),
		Reference: req.Reference,
		Method:    req.Method,
		Analyst:   req.Analyst,
		Cascade:   req.Cascade,
	})
	if !res.Success {
		return fmt.Sprintf(failedRowFormat, n, res.Message), outcomeFailed
	}

	var notes strings.Builder
	for _, action := range actions {
		added := s.writer.AddAction(ctx, res.ObjectID, core.Action{
			ActionType: action,
			Active:     core.ActionActive,
			Analyst:    req.Analyst,
			Date:       now,
		})
		if !added.Success {
			s.logger.Warnw("Failed to add imported action",
				"row", n,
				"indicator_id", res.ObjectID,
				"action", action,
				"error", added.Message)
			notes.WriteString(fmt.Sprintf(actionRowFormat, n, action, added.Message))
		}
	}
	return notes.String(), outcomeAdded
}
