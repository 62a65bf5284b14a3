package checklist

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the on-disk YAML shape of a schema. Items may reference a named
// option set instead of repeating the same option list.
type document struct {
	Name       string              `yaml:"name"`
	Version    int                 `yaml:"version"`
	Title      string              `yaml:"title"`
	OptionSets map[string][]Option `yaml:"option_sets"`
	Sections   []sectionDoc        `yaml:"sections"`
}

type sectionDoc struct {
	Code          string    `yaml:"code"`
	Name          string    `yaml:"name"`
	Order         int       `yaml:"order"`
	NotApplicable bool      `yaml:"not_applicable"`
	Fields        []Field   `yaml:"fields"`
	Items         []itemDoc `yaml:"items"`
}

type itemDoc struct {
	Number        int      `yaml:"number"`
	Name          string   `yaml:"name"`
	OptionSet     string   `yaml:"option_set"`
	Options       []Option `yaml:"options"`
	FreeText      bool     `yaml:"free_text"`
	FreeTextLabel string   `yaml:"free_text_label"`
}

// Parse decodes a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("checklist: parse: %w", err)
	}
	sections, err := doc.resolve()
	if err != nil {
		return nil, err
	}
	return New(doc.Name, doc.Version, doc.Title, sections)
}

// LoadFile reads and parses the schema at path.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checklist: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (d *document) resolve() ([]Section, error) {
	var errs []error
	sections := make([]Section, 0, len(d.Sections))
	for i, sd := range d.Sections {
		sec := Section{
			Code:                  sd.Code,
			Name:                  sd.Name,
			Order:                 sd.Order,
			SupportsNotApplicable: sd.NotApplicable,
		}
		if sec.Order == 0 {
			sec.Order = i + 1
		}
		for _, f := range sd.Fields {
			switch f {
			case FieldLocation:
				sec.HasLocation = true
			case FieldVoltage:
				sec.HasVoltage = true
			case FieldCurrent:
				sec.HasCurrent = true
			case FieldPower:
				sec.HasPower = true
			default:
				errs = append(errs, fmt.Errorf("section %q: unknown field %q", sd.Code, f))
			}
		}
		for _, id := range sd.Items {
			it := Item{
				Number:          id.Number,
				Name:            id.Name,
				Options:         id.Options,
				AcceptsFreeText: id.FreeText,
				FreeTextLabel:   id.FreeTextLabel,
			}
			if id.OptionSet != "" {
				set, ok := d.OptionSets[id.OptionSet]
				if !ok {
					errs = append(errs, fmt.Errorf("section %q item %d: unknown option set %q", sd.Code, id.Number, id.OptionSet))
				}
				it.Options = append(append([]Option(nil), set...), id.Options...)
			}
			sec.Items = append(sec.Items, it)
		}
		sections = append(sections, sec)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("checklist: %w", errors.Join(errs...))
	}
	return sections, nil
}

// validate checks the structural invariants of the schema and reports every
// violation at once.
func (s *Schema) validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("schema name is required"))
	}
	if len(s.Sections) == 0 {
		errs = append(errs, errors.New("schema has no sections"))
	}
	codes := make(map[string]bool, len(s.Sections))
	for _, sec := range s.Sections {
		if sec.Code == "" {
			errs = append(errs, fmt.Errorf("section %q: code is required", sec.Name))
		} else if codes[sec.Code] {
			errs = append(errs, fmt.Errorf("section %q: duplicate code", sec.Code))
		}
		codes[sec.Code] = true

		numbers := make(map[int]bool, len(sec.Items))
		for _, it := range sec.Items {
			if it.Number <= 0 {
				errs = append(errs, fmt.Errorf("section %q: item %q has non-positive number %d", sec.Code, it.Name, it.Number))
			} else if numbers[it.Number] {
				errs = append(errs, fmt.Errorf("section %q: duplicate item number %d", sec.Code, it.Number))
			}
			numbers[it.Number] = true

			if len(it.Options) == 0 && !it.AcceptsFreeText {
				errs = append(errs, fmt.Errorf("section %q item %d: no options and no free text", sec.Code, it.Number))
			}
			values := make(map[string]bool, len(it.Options))
			for _, o := range it.Options {
				switch {
				case o.Value == "":
					errs = append(errs, fmt.Errorf("section %q item %d: option %q has empty value", sec.Code, it.Number, o.Label))
				case values[o.Value]:
					errs = append(errs, fmt.Errorf("section %q item %d: duplicate option %q", sec.Code, it.Number, o.Value))
				}
				values[o.Value] = true
				switch o.Class {
				case "", ClassOrdinary, ClassNotApplicable, ClassNonConformity:
				default:
					errs = append(errs, fmt.Errorf("section %q item %d: option %q has unknown class %q", sec.Code, it.Number, o.Value, o.Class))
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("checklist: invalid schema %q: %w", s.Name, errors.Join(errs...))
	}
	return nil
}
