// Package narrative drafts a written summary of the non-conformities of an
// inspection report with an LLM provider. The model only ever sees the
// non-conforming items, and every item it cites is checked against the
// report before the summary is returned.
package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dshills/inspectcheck/internal/report"
	"github.com/dshills/inspectcheck/internal/response"
)

// ErrInvalidModelOutput is returned when both the initial and repair
// responses fail validation.
var ErrInvalidModelOutput = errors.New("narrative: invalid model output after repair attempt")

// Request is one completion call. Providers ask their backend for a JSON
// object reply where the API supports it.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// Options configures a Summarize call.
type Options struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	// Language is the language the summary is written in, e.g. "French".
	// Empty means the language of the checklist labels.
	Language string
	// Log receives the prompts at debug level when set.
	Log logrus.FieldLogger
}

// DefaultMaxTokens is used when Options.MaxTokens is not set.
const DefaultMaxTokens = 2048

// resolved fills in the provider, model and token defaults.
func (o Options) resolved() Options {
	o.Provider = normalizeProvider(o.Provider)
	if o.Model == "" {
		o.Model = DefaultModel(o.Provider)
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}

// Severity grades one finding.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Finding is the model's account of one non-conforming item.
type Finding struct {
	Section        string   `json:"section"`
	Item           int      `json:"item"`
	Severity       Severity `json:"severity"`
	Observation    string   `json:"observation"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Ref returns the item the finding cites.
func (f Finding) Ref() response.Ref {
	return response.Ref{Section: f.Section, Item: f.Item}
}

// Summary is a validated narrative.
type Summary struct {
	Overview string    `json:"overview"`
	Findings []Finding `json:"findings"`
	// Dropped lists citations removed because they do not name a
	// non-conforming item of the report.
	Dropped []string `json:"dropped,omitempty"`
	// Uncovered lists non-conforming items the model did not mention.
	Uncovered []string `json:"uncovered,omitempty"`
	Model     string   `json:"model,omitempty"`
}

// ValidationError records a single validation failure on a model response.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NoFindingsOverview is the overview of a report without non-conformities.
const NoFindingsOverview = "No non-conformity was recorded during this inspection."

// Summarize drafts the narrative for doc. Reports without non-conformities
// get a fixed summary and no provider is created or called.
func Summarize(ctx context.Context, doc *report.Document, opts Options) (*Summary, error) {
	if doc == nil {
		return nil, fmt.Errorf("narrative: nil document")
	}
	findings := doc.NonConformities()
	if len(findings) == 0 {
		return &Summary{Overview: NoFindingsOverview, Findings: []Finding{}}, nil
	}

	opts = opts.resolved()
	provider, err := NewProvider(opts.Provider, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("narrative: create provider: %w", err)
	}

	req := Request{
		System:      buildSystemPrompt(opts.Language),
		User:        buildUserPrompt(doc, findings),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.Log != nil {
		opts.Log.WithField("prompt", "system").Debug(req.System)
		opts.Log.WithField("prompt", "user").Debug(req.User)
	}

	raw, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("narrative: complete: %w", err)
	}
	sum, validationErrs := ValidateResponse(raw, findings)
	if sum != nil && !needsRepair(validationErrs) {
		sum.Model = opts.Model
		return sum, nil
	}

	// One repair attempt with the original prompt and the rejected response.
	repair := req
	repair.User = buildRepairPrompt(req.User, raw, validationErrs)
	raw, err = provider.Complete(ctx, repair)
	if err != nil {
		return nil, fmt.Errorf("narrative: repair complete: %w", err)
	}
	sum, validationErrs = ValidateResponse(raw, findings)
	if sum != nil && !needsRepair(validationErrs) {
		sum.Model = opts.Model
		return sum, nil
	}

	return nil, ErrInvalidModelOutput
}

// needsRepair returns true when validation errors include a parse or
// required-field failure that requires a retry.
func needsRepair(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Field == "json_parse" || e.Field == "required_field" {
			return true
		}
	}
	return false
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line, left behind by truncated
// responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes the code fences models sometimes wrap around
// JSON output.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// ValidateResponse parses and checks a raw model response against the
// findings the model was given.
//   - Parse failures and a missing overview or findings list are fatal and
//     yield a nil summary.
//   - Citations of anything but a listed non-conforming item are removed and
//     recorded in Summary.Dropped.
//   - Unknown severities are replaced by MEDIUM.
//   - Listed items the model never cites are recorded in Summary.Uncovered.
//
// Non-fatal issues are returned alongside the adjusted summary.
func ValidateResponse(raw string, findings []report.Finding) (*Summary, []ValidationError) {
	var errs []ValidationError

	raw = stripMarkdownFences(raw)

	var sum Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, append(errs, ValidationError{Field: "json_parse", Message: err.Error()})
	}

	if strings.TrimSpace(sum.Overview) == "" {
		errs = append(errs, ValidationError{Field: "required_field", Message: "overview is missing"})
	}
	if sum.Findings == nil {
		errs = append(errs, ValidationError{Field: "required_field", Message: "findings is missing"})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	// Model output never sets these.
	sum.Dropped, sum.Uncovered, sum.Model = nil, nil, ""

	listed := make(map[response.Ref]bool, len(findings))
	for _, f := range findings {
		listed[response.Ref{Section: f.Section.Code, Item: f.Item.Number}] = true
	}

	cited := make(map[response.Ref]bool)
	kept := make([]Finding, 0, len(sum.Findings))
	for i, f := range sum.Findings {
		ref := f.Ref()
		if !listed[ref] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("findings[%d]", i),
				Message: fmt.Sprintf("%s is not a non-conforming item of this report; dropped", ref),
			})
			sum.Dropped = append(sum.Dropped, ref.String())
			continue
		}
		switch f.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh:
		default:
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("findings[%d].severity", i),
				Message: fmt.Sprintf("invalid severity %q; set to %s", f.Severity, SeverityMedium),
			})
			f.Severity = SeverityMedium
		}
		cited[ref] = true
		kept = append(kept, f)
	}
	sum.Findings = kept

	for _, f := range findings {
		ref := response.Ref{Section: f.Section.Code, Item: f.Item.Number}
		if !cited[ref] {
			sum.Uncovered = append(sum.Uncovered, ref.String())
			errs = append(errs, ValidationError{
				Field:   "findings",
				Message: fmt.Sprintf("%s is not covered", ref),
			})
		}
	}

	return &sum, errs
}

// buildSystemPrompt assembles the system prompt.
func buildSystemPrompt(language string) string {
	var sb strings.Builder

	sb.WriteString("You are an inspection report assistant. You write the findings summary " +
		"of a site inspection from the non-conformities recorded by the inspector.\n\n")

	sb.WriteString("Output ONLY valid JSON conforming to the schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")

	sb.WriteString("Only cite items listed under NON-CONFORMITIES, using their section code and item number. " +
		"Never invent items, measurements or locations. " +
		"Write exactly one finding per listed item.\n\n")

	if language != "" {
		fmt.Fprintf(&sb, "Write the overview, observations and recommendations in %s.\n\n", language)
	} else {
		sb.WriteString("Write in the language of the checklist labels.\n\n")
	}

	sb.WriteString(outputSchema)
	return sb.String()
}

// outputSchema is the JSON schema fragment shown to the model.
const outputSchema = `Output schema (JSON only):
{
  "overview": "two or three sentences on the overall state of the installation",
  "findings": [
    {
      "section": "A",
      "item": 2,
      "severity": "LOW|MEDIUM|HIGH",
      "observation": "what is wrong",
      "recommendation": "what should be done"
    }
  ]
}
`

// buildUserPrompt lists the inspection context and its non-conforming items.
func buildUserPrompt(doc *report.Document, findings []report.Finding) string {
	var sb strings.Builder

	title := doc.SchemaTitle
	if title == "" {
		title = doc.SchemaName
	}
	fmt.Fprintf(&sb, "CHECKLIST: %s (%s v%d)\n", title, doc.SchemaName, doc.SchemaVersion)
	if doc.Metadata.Subject != "" {
		fmt.Fprintf(&sb, "SUBJECT: %s\n", doc.Metadata.Subject)
	}
	fmt.Fprintf(&sb, "SECTIONS: %d, NON-CONFORMING ITEMS: %d\n", len(doc.Sections), len(findings))

	sb.WriteString("\nNON-CONFORMITIES:\n")
	for _, f := range findings {
		fmt.Fprintf(&sb, "- %s/%d [%s] %s: %s\n",
			f.Section.Code, f.Item.Number, f.Section.Name, f.Item.Name, strings.Join(f.Item.Labels, ", "))
		if f.Item.FreeText != "" {
			label := f.Item.FreeTextLabel
			if label == "" {
				label = "remark"
			}
			fmt.Fprintf(&sb, "    %s: %s\n", label, f.Item.FreeText)
		}
		for _, kv := range [][2]string{
			{"location", f.Section.Location},
			{"voltage", f.Section.Voltage},
			{"current", f.Section.Current},
			{"power", f.Section.Power},
			{"section notes", f.Section.Notes},
		} {
			if kv[1] != "" {
				fmt.Fprintf(&sb, "    %s: %s\n", kv[0], kv[1])
			}
		}
	}

	sb.WriteString("\nProduce the JSON summary now.")
	return sb.String()
}

// buildRepairPrompt constructs the repair message. It includes the original
// user prompt and the previous invalid response so the model has full context.
func buildRepairPrompt(originalUserPrompt, previousResponse string, errs []ValidationError) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, e := range errs {
		fmt.Fprintf(&sb, "  - %s\n", e.Error())
	}
	sb.WriteString("\nPlease output only the corrected JSON conforming to the schema. Do not repeat the error.")
	return sb.String()
}
