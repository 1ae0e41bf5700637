package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"crits/core"
	"crits/service"
)

// validateFilePath rejects traversal sequences, including URL-encoded ones,
// and paths that resolve outside the working directory.
func validateFilePath(filename string) error {
	decoded, err := url.QueryUnescape(filename)
	if err != nil {
		decoded = filename
	}
	if strings.Contains(decoded, "..") || strings.Contains(filename, "..") {
		return fmt.Errorf("path traversal detected: '..' not allowed in file path")
	}

	absPath, err := filepath.Abs(filepath.Clean(decoded))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	if absPath != workDir && !strings.HasPrefix(absPath, workDir+string(filepath.Separator)) {
		return fmt.Errorf("path escapes current directory")
	}
	return nil
}

// openImportFile validates and opens a CSV file no larger than limit bytes
func openImportFile(filename string, limit int64) (*os.File, error) {
	if err := validateFilePath(filename); err != nil {
		return nil, fmt.Errorf("invalid file path: %w", err)
	}
	info, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("file too large: maximum size is %d bytes, got %d bytes", limit, info.Size())
	}
	return os.Open(filename)
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// importLines splits the HTML import transcript into plain lines
func importLines(message string) []string {
	var lines []string
	for _, line := range strings.Split(message, "<br />") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func renderImportResult(w io.Writer, result *service.ImportResult) {
	for _, line := range importLines(result.Message) {
		if strings.HasPrefix(line, "Successfully") {
			successColor.Fprintf(w, "✓ %s\n", line)
		} else {
			errorColor.Fprintf(w, "✗ %s\n", line)
		}
	}
	if !quiet {
		fmt.Fprintf(w, "\nAdded %d indicator(s)\n", result.Added)
	}
}

func renderIndicatorTable(w io.Writer, indicators []*core.Indicator) {
	if len(indicators) == 0 {
		infoColor.Fprintln(w, "No indicators found")
		return
	}
	headerColor.Fprintln(w, "INDICATORS")
	headerColor.Fprintln(w, strings.Repeat("=", 140))
	fmt.Fprintf(w, "%-36s %-25s %-40s %-10s %-10s %s\n",
		"ID", "Type", "Value", "Confidence", "Impact", "Actions")
	fmt.Fprintln(w, strings.Repeat("-", 140))

	for _, ind := range indicators {
		actions := make([]string, 0, len(ind.Actions))
		for _, a := range ind.Actions {
			actions = append(actions, a.ActionType)
		}
		fmt.Fprintf(w, "%-36s %-25s %-40s %-10s %-10s %s\n",
			ind.ID, truncate(ind.Type, 25), truncate(ind.Value, 40),
			ind.Confidence.Rating, ind.Impact.Rating, strings.Join(actions, ","))
	}
	fmt.Fprintf(w, "\nTotal: %d indicator(s)\n", len(indicators))
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

func renderIndicatorDetails(w io.Writer, details *service.IndicatorDetails) {
	ind := details.Indicator
	headerColor.Fprintf(w, "%s: %s\n", ind.Type, ind.Value)
	fmt.Fprintf(w, "  ID:         %s\n", ind.ID)
	fmt.Fprintf(w, "  Created:    %s\n", ind.Created.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Modified:   %s\n", ind.Modified.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Confidence: %s (%s)\n", ind.Confidence.Rating, ind.Confidence.Analyst)
	fmt.Fprintf(w, "  Impact:     %s (%s)\n", ind.Impact.Rating, ind.Impact.Analyst)
	fmt.Fprintf(w, "  Sources:    %s\n", strings.Join(ind.SourceNames(), ", "))
	if len(ind.BucketList) > 0 {
		fmt.Fprintf(w, "  Buckets:    %s\n", strings.Join(ind.BucketList, ", "))
	}
	for _, c := range ind.Campaigns {
		fmt.Fprintf(w, "  Campaign:   %s (%s)\n", c.Name, c.Confidence)
	}
	for _, a := range ind.Actions {
		fmt.Fprintf(w, "  Action:     %s [%s] by %s\n", a.ActionType, a.Active, a.Analyst)
	}
	if len(details.RelatedIndicators) > 0 {
		infoColor.Fprintln(w, "  Related indicators:")
		for _, ref := range details.RelatedIndicators {
			fmt.Fprintf(w, "    %s  %s: %s\n", ref.ID, ref.IndType, ref.IndValue)
		}
	}
}
