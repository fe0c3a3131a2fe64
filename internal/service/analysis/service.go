package analysis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/medivoice/backend/internal/config"
	"github.com/medivoice/backend/internal/metrics"
	"github.com/medivoice/backend/internal/model/conversation"
	"github.com/medivoice/backend/internal/model/profile"
)

// Service turns a finished consultation transcript into a structured medical
// report. The model is invoked once per consultation; a failure never blocks
// session teardown because the caller receives a fallback report instead.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService creates the analysis service and compiles its chain.
func NewService(ctx context.Context, cfg config.AnalysisConfig, m *metrics.Metrics) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(analysisPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile analysis chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// GenerateReport runs the analysis over the session transcript. The patient
// profile is optional context; nil means the consultation stands on its own.
// On any model or parse failure a fallback report is returned with a nil
// error, so callers always get something to attach to the session.
func (s *Service) GenerateReport(ctx context.Context, sessionID string, entries []conversation.TranscriptEntry, patient *profile.PatientProfile) (conversation.AnalysisResult, error) {
	if len(entries) == 0 {
		log.Printf("[analysis] session=%s no transcripts, returning fallback report", sessionID)
		return s.fallbackReport("No conversation was recorded for this consultation."), nil
	}

	input := map[string]any{
		"conversation_text": formatTranscript(entries),
		"patient_context":   formatPatientContext(patient),
		"timestamp":         s.now().UTC().Format("20060102150405"),
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		log.Printf("[analysis] session=%s model invocation failed: %v", sessionID, err)
		return s.fallbackReport("The automated analysis could not be completed."), nil
	}

	result, err := parseReport(response.Content)
	if err != nil {
		log.Printf("[analysis] session=%s unparseable model output: %v", sessionID, err)
		return s.fallbackReport("The automated analysis produced an unreadable result."), nil
	}

	s.finalize(&result)
	log.Printf("[analysis] session=%s report generated: %d symptoms, severity=%s",
		sessionID, len(result.DetectedSymptoms), result.Severity)
	return result, nil
}

// finalize fills derived fields the model may have omitted or gotten wrong.
func (s *Service) finalize(result *conversation.AnalysisResult) {
	if result.ReportID == "" {
		result.ReportID = "MEDIREP-" + s.now().UTC().Format("20060102150405")
	}
	result.GeneratedAt = s.now().UTC().Format(time.RFC3339)
	for i := range result.DetectedSymptoms {
		result.DetectedSymptoms[i].LabelColor = conversation.LabelColorFor(result.DetectedSymptoms[i].Confidence)
	}
}

func (s *Service) fallbackReport(summary string) conversation.AnalysisResult {
	if s.metrics != nil {
		s.metrics.AnalysisFallbacks.Inc()
	}
	return conversation.AnalysisResult{
		ReportID:            "MEDIREP-" + s.now().UTC().Format("20060102150405"),
		MainComplaint:       "Not determined",
		DetectedSymptoms:    []conversation.DetectedSymptom{},
		Severity:            "unknown",
		PotentialDiagnoses:  []string{},
		Recommendations:     []string{"Please consult a healthcare professional to review this consultation."},
		ConsultationSummary: summary,
		GeneratedAt:         s.now().UTC().Format(time.RFC3339),
		Fallback:            true,
	}
}

// formatTranscript renders the conversation as speaker-prefixed lines.
func formatTranscript(entries []conversation.TranscriptEntry) string {
	var builder strings.Builder
	for _, entry := range entries {
		switch entry.Role {
		case conversation.RoleUser:
			builder.WriteString("Patient: ")
		case conversation.RoleAssistant:
			builder.WriteString("Assistant: ")
		default:
			continue
		}
		builder.WriteString(entry.Content)
		builder.WriteString("\n")
	}
	return builder.String()
}

func formatPatientContext(patient *profile.PatientProfile) string {
	if patient == nil {
		return "No patient profile on file."
	}

	var builder strings.Builder
	if patient.Name != "" {
		fmt.Fprintf(&builder, "Name: %s\n", patient.Name)
	}
	if patient.Age != nil {
		fmt.Fprintf(&builder, "Age: %d\n", *patient.Age)
	}
	if patient.Gender != "" {
		fmt.Fprintf(&builder, "Gender: %s\n", patient.Gender)
	}
	if patient.DateOfBirth != "" {
		fmt.Fprintf(&builder, "Date of birth: %s\n", patient.DateOfBirth)
	}
	hist := patient.MedicalHistory
	if len(hist.Conditions) > 0 {
		fmt.Fprintf(&builder, "Known conditions: %s\n", strings.Join(hist.Conditions, ", "))
	}
	if len(hist.Medications) > 0 {
		fmt.Fprintf(&builder, "Current medications: %s\n", strings.Join(hist.Medications, ", "))
	}
	if len(hist.Allergies) > 0 {
		fmt.Fprintf(&builder, "Allergies: %s\n", strings.Join(hist.Allergies, ", "))
	}
	if builder.Len() == 0 {
		return "No patient profile on file."
	}
	return builder.String()
}
