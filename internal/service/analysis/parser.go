package analysis

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/medivoice/backend/internal/model/conversation"
)

var errNoJSON = errors.New("no JSON object found in model output")

// parseReport extracts the report object from raw model output. Models tend
// to wrap JSON in prose or markdown fences, so everything outside the
// outermost braces is stripped before decoding.
func parseReport(raw string) (conversation.AnalysisResult, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return conversation.AnalysisResult{}, err
	}

	var result conversation.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return conversation.AnalysisResult{}, err
	}

	if result.ConsultationSummary == "" && result.MainComplaint == "" && len(result.DetectedSymptoms) == 0 {
		return conversation.AnalysisResult{}, errors.New("decoded report is empty")
	}

	if result.Severity == "" {
		result.Severity = "unknown"
	}
	if result.DetectedSymptoms == nil {
		result.DetectedSymptoms = []conversation.DetectedSymptom{}
	}
	if result.PotentialDiagnoses == nil {
		result.PotentialDiagnoses = []string{}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}

	return result, nil
}

func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return "", errNoJSON
	}
	return raw[start : end+1], nil
}
