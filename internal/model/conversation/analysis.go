package conversation

// DetectedSymptom is one symptom extracted from the transcript, with the
// model's confidence mapped to a traffic-light label color.
type DetectedSymptom struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp,omitempty"`
	LabelColor string  `json:"labelColor"`
}

// AnalysisResult is the structured report produced after a consultation ends.
// Write-once per session; the store never mutates it after attachment.
type AnalysisResult struct {
	ReportID            string            `json:"reportId"`
	MainComplaint       string            `json:"mainComplaint"`
	DetectedSymptoms    []DetectedSymptom `json:"detectedSymptoms"`
	Severity            string            `json:"severity"`
	PotentialDiagnoses  []string          `json:"potentialDiagnoses"`
	Recommendations     []string          `json:"recommendations"`
	ConsultationSummary string            `json:"consultationSummary"`
	GeneratedAt         string            `json:"generatedAt,omitempty"`
	Fallback            bool              `json:"fallback,omitempty"`
}

// LabelColorFor maps a symptom confidence score to its display color.
func LabelColorFor(confidence float64) string {
	switch {
	case confidence > 0.8:
		return "green"
	case confidence >= 0.5:
		return "yellow"
	default:
		return "red"
	}
}
