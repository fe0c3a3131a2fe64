package analysis

// systemPrompt fixes the model's role and forces strict JSON output.
const systemPrompt = `You are a medical AI assistant providing preliminary symptom analysis. Your role is to:
1. Extract medical information from patient conversations
2. Identify symptoms with confidence levels
3. Suggest potential diagnoses (always with appropriate caveats)
4. Provide actionable recommendations
5. Always emphasize the importance of professional medical consultation

You must output valid JSON that matches the specified format exactly.`

// analysisPrompt is rendered with the transcript and optional patient
// context. The format block mirrors the report shape the frontend consumes.
const analysisPrompt = `Analyze this patient conversation and provide a structured assessment.

Patient background:
{patient_context}

Conversation:
{conversation_text}

Provide your analysis in the following JSON format:
{{
    "reportId": "MEDIREP-{timestamp}",
    "mainComplaint": "[Primary complaint mentioned by patient]",
    "detectedSymptoms": [
        {{
            "name": "[symptom name]",
            "confidence": 0.0,
            "timestamp": "[when mentioned in conversation]",
            "labelColor": "green/yellow/red based on confidence"
        }}
    ],
    "severity": "low/moderate/high",
    "potentialDiagnoses": ["list of potential conditions to investigate"],
    "recommendations": ["specific actionable recommendations"],
    "consultationSummary": "[Comprehensive summary of the consultation]"
}}

Guidelines:
- Assign confidence scores: above 0.8 = green, 0.5-0.8 = yellow, below 0.5 = red
- Provide specific, actionable recommendations
- Be conservative and always recommend consulting a healthcare professional for serious concerns
- Include timestamps if the patient mentions when symptoms started
- List symptoms in order of severity/importance`
