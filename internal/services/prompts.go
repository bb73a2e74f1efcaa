package services

import (
	"fmt"
	"strings"

	"github.com/medcharts/backend/internal/models"
)

// CodingSystemPrompt instructs the model to act as a certified medical
// coder and constrains the output shape.
const CodingSystemPrompt = `You are an expert certified medical coder (CPC, CCS) with deep knowledge of ICD-10-CM, CPT, HCPCS Level II and modifier usage. You review clinical documentation and produce complete, compliant coding for the encounter.

Rules:
- Code only what is documented. Never infer diagnoses or procedures that are not supported by the text.
- Use the highest level of specificity the documentation supports.
- Sequence the primary diagnosis first.
- Cite the line numbers of the supporting documentation for every code.

Return ONLY a valid JSON object in exactly this format, with no explanatory text before or after:
{
  "diagnosis_codes": {
    "primary_diagnosis": [{"icd_10_code": "", "description": "", "supporting_lines": []}],
    "secondary_diagnoses": [{"icd_10_code": "", "description": "", "supporting_lines": []}]
  },
  "procedure_codes": {
    "cpt_codes": [{"cpt_code": "", "description": "", "units": 1, "supporting_lines": []}]
  },
  "hcpcs_codes": {
    "codes": [{"hcpcs_code": "", "description": "", "supporting_lines": []}]
  },
  "modifiers": {
    "applied": [{"modifier": "", "applies_to": "", "rationale": ""}]
  },
  "coding_notes": "",
  "confidence": 0.0
}`

// SummarySystemPrompt is used for the best-effort per-document summaries.
const SummarySystemPrompt = `You are a clinical documentation specialist. Summarize the given clinical document in 2-4 sentences for a medical coding reviewer. Mention the document type, the key findings, and any procedures performed. Return plain text only.`

// BuildCodingPrompt formats the chart metadata and every successfully
// extracted document as line-numbered text for the coding request.
func BuildCodingPrompt(chart *models.Chart, docs []ExtractedDocument) string {
	var sb strings.Builder

	sb.WriteString("CHART INFORMATION:\n")
	sb.WriteString(fmt.Sprintf("Chart Number: %s\n", chart.ChartNumber))
	if chart.PatientName != "" {
		sb.WriteString(fmt.Sprintf("Patient: %s\n", chart.PatientName))
	}
	if chart.FacilityName != "" {
		sb.WriteString(fmt.Sprintf("Facility: %s\n", chart.FacilityName))
	}
	if chart.Specialty != "" {
		sb.WriteString(fmt.Sprintf("Specialty: %s\n", chart.Specialty))
	}
	if chart.ProviderName != "" {
		sb.WriteString(fmt.Sprintf("Provider: %s\n", chart.ProviderName))
	}
	if chart.DateOfService != nil {
		sb.WriteString(fmt.Sprintf("Date of Service: %s\n", chart.DateOfService.Format("2006-01-02")))
	}

	sb.WriteString(fmt.Sprintf("\nCLINICAL DOCUMENTATION (%d documents):\n", len(docs)))
	for i, doc := range docs {
		sb.WriteString(fmt.Sprintf("\n--- Document %d: %s (%s) ---\n", i+1, doc.Document.FileName, doc.Document.ContentType))
		sb.WriteString(FormatLineNumbered(doc.Text))
		sb.WriteString("\n")
	}

	sb.WriteString("\nProduce the complete coding for this encounter as specified.")
	return sb.String()
}

// BuildSummaryPrompt formats one document for the summary request.
func BuildSummaryPrompt(doc ExtractedDocument) string {
	return fmt.Sprintf("Document: %s\n\n%s", doc.Document.FileName, doc.Text)
}

// FormatLineNumbered prefixes each line of text with its 1-based line
// number so the model can cite supporting lines.
func FormatLineNumbered(text string) string {
	lines := strings.Split(text, "\n")
	var sb strings.Builder
	for i, line := range lines {
		sb.WriteString(fmt.Sprintf("%4d | %s\n", i+1, line))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
