// Package submission checks that an inspection is complete enough to be
// finalized and performs the transition.
package submission

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/conformity"
	"github.com/dshills/inspectcheck/internal/response"
)

// ValidationError describes one reason an inspection cannot be submitted.
// Field is a dotted path such as "metadata.inspector" or "section.A.voltage".
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Policy tunes which checks run at submission.
type Policy struct {
	// RequireCompleteSections rejects inspections that still have sections
	// with no answer and no N/A mark.
	RequireCompleteSections bool `yaml:"require_complete_sections" json:"require_complete_sections"`
}

// DefaultPolicy requires every section to be addressed.
func DefaultPolicy() Policy {
	return Policy{RequireCompleteSections: true}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// metadataFields maps struct field names to the names reported to callers.
var metadataFields = map[string]string{
	"Subject":            "subject",
	"Inspector":          "inspector",
	"Date":               "date",
	"Notes":              "notes",
	"InspectorSignature": "inspector_signature",
	"ClientSignature":    "client_signature",
}

// Validate runs every check and returns all failures, in a stable order:
// metadata first, then sections in schema order. An empty result means the
// inspection can be submitted.
func Validate(in *response.Inspection, s *checklist.Schema, p Policy) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateMetadata(in.Metadata)...)
	errs = append(errs, validateContextFields(in, s)...)
	if p.RequireCompleteSections {
		errs = append(errs, validateCompleteness(in, s)...)
	}
	return errs
}

func validateMetadata(m response.Metadata) []ValidationError {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: "metadata", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		name, ok := metadataFields[fe.StructField()]
		if !ok {
			name = strings.ToLower(fe.StructField())
		}
		out = append(out, ValidationError{
			Field:   "metadata." + name,
			Message: tagMessage(fe.Tag()),
		})
	}
	return out
}

func tagMessage(tag string) string {
	switch tag {
	case "required":
		return "is required"
	default:
		return "failed " + tag + " check"
	}
}

// validateContextFields requires voltage, current and power to be decimal
// numbers when set. Not-applicable sections are skipped.
func validateContextFields(in *response.Inspection, s *checklist.Schema) []ValidationError {
	var out []ValidationError
	for i := range s.Sections {
		sec := &s.Sections[i]
		sr := in.Sections[sec.Code]
		if sr == nil || sr.NotApplicable {
			continue
		}
		for _, f := range []checklist.Field{checklist.FieldVoltage, checklist.FieldCurrent, checklist.FieldPower} {
			v := strings.TrimSpace(sr.Field(f))
			if v == "" || !sec.HasField(f) {
				continue
			}
			if _, err := ParseQuantity(v); err != nil {
				out = append(out, ValidationError{
					Field:   fmt.Sprintf("section.%s.%s", sec.Code, f),
					Message: fmt.Sprintf("%q is not a number", v),
				})
			}
		}
	}
	return out
}

// ParseQuantity parses a measured value. A decimal comma is accepted. The sign
// is kept as entered; a negative reading is a number like any other.
func ParseQuantity(v string) (decimal.Decimal, error) {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("submission: parse quantity %q: %w", v, err)
	}
	return d, nil
}

func validateCompleteness(in *response.Inspection, s *checklist.Schema) []ValidationError {
	var out []ValidationError
	for _, code := range conformity.EvaluateInspection(in, s).UnansweredSections {
		out = append(out, ValidationError{
			Field:   "section." + code,
			Message: "no item answered and not marked not applicable",
		})
	}
	return out
}

// Submit validates in and, when nothing fails, finalizes it at now. A
// non-empty error list means the inspection was left untouched. The error
// return is reserved for state problems such as a second submission.
func Submit(in *response.Inspection, s *checklist.Schema, p Policy, now time.Time) ([]ValidationError, error) {
	if in.Submitted() {
		return nil, response.ErrSubmitted
	}
	if errs := Validate(in, s, p); len(errs) > 0 {
		return errs, nil
	}
	if err := in.Finalize(now); err != nil {
		return nil, err
	}
	return nil, nil
}
