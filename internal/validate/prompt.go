package validate

import (
	"fmt"
	"strings"
)

// Mode selects the validation prompt
type Mode string

const (
	ModeResearch       Mode = "research"       // Claims against full research papers
	ModePharmaceutical Mode = "pharmaceutical" // Drug compatibility table entries
)

// ParseMode maps a configured mode name onto a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeResearch:
		return ModeResearch, nil
	case ModePharmaceutical, "pharma":
		return ModePharmaceutical, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q (supported: research, pharmaceutical)", s)
	}
}

const systemPrompt = "You validate claims against reference documents. You quote the document verbatim and never invent evidence. Return strict JSON only."

const responseFormat = `Respond with a single JSON object and nothing else:
{
  "validation_result": "Supported" | "Contradicted" | "Not Found",
  "matched_evidence": "verbatim quotes from the document, separated by | if several",
  "page_location": "page number or section where the evidence appears",
  "confidence_score": 0.0 to 1.0,
  "analysis_summary": "one or two sentences explaining the verdict"
}

Rules:
- validation_result must be exactly one of "Supported", "Contradicted", "Not Found".
- matched_evidence must be copied from the document, never paraphrased.
- confidence_score must reflect your actual certainty.`

const researchInstructions = `You are validating a STATEMENT from a promotional brochure against a RESEARCH PAPER.
The statement may be written as "Heading. Claim"; the heading only gives topic context.

Instructions:
- Read the whole document, including tables, figure captions and footnotes.
- When the statement contains numbers, percentages or statistics, find the matching values.
- When the statement contains only words, look for a word-for-word match first and fall back to
  semantic matching. Say in analysis_summary whether the match was exact or semantic.
- Quote at most five of the most relevant sentences.
- Evidence about the broader context still counts as Supported or Contradicted.`

const pharmaceuticalInstructions = `You are validating a STATEMENT from a drug compatibility table against a REFERENCE DOCUMENT.
The statement usually names a drug and a property (for example "amikacin. pH. 3.5-5.5"),
a compatibility instruction, a storage requirement or a formulation detail.

Instructions:
- Find the drug in the document, including tables and footnotes.
- If the drug is discussed with the stated property, the verdict is Supported.
- If the document gives a conflicting value for the property, the verdict is Contradicted.
- If the drug or the property is absent, the verdict is Not Found.`

// BuildPrompt constructs the user prompt for one statement and one document
func BuildPrompt(mode Mode, statement, reference string, doc Handle) string {
	var b strings.Builder

	switch mode {
	case ModePharmaceutical:
		b.WriteString(pharmaceuticalInstructions)
	default:
		b.WriteString(researchInstructions)
	}

	b.WriteString("\n\n---STATEMENT---\n")
	b.WriteString(statement)
	b.WriteString("\n")

	if reference = strings.TrimSpace(reference); reference != "" {
		b.WriteString("\n---CITATION---\n")
		b.WriteString(reference)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n---DOCUMENT: %s---\n", doc.Name)
	b.WriteString(doc.Text)
	if doc.Truncated {
		b.WriteString("\n(The document was truncated.)")
	}
	b.WriteString("\n---END DOCUMENT---\n\n")

	b.WriteString(responseFormat)
	return b.String()
}
