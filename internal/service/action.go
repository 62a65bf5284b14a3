package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/response"
)

// Op names one kind of action.
type Op string

const (
	OpToggle        Op = "toggle"
	OpText          Op = "text"
	OpNotApplicable Op = "not_applicable"
	OpField         Op = "field"
	OpMeta          Op = "meta"
)

// Action is one user edit. Which fields are used depends on Op:
//   - toggle: Section, Item, Value (option value)
//   - text: Section, Item, Value (free text, empty clears it)
//   - not_applicable: Section, Flag (default true)
//   - field: Section, Field, Value
//   - meta: Metadata; non-empty fields replace the current ones
type Action struct {
	Op       Op                 `yaml:"op" json:"op"`
	Section  string             `yaml:"section,omitempty" json:"section,omitempty"`
	Item     int                `yaml:"item,omitempty" json:"item,omitempty"`
	Value    string             `yaml:"value,omitempty" json:"value,omitempty"`
	Field    checklist.Field    `yaml:"field,omitempty" json:"field,omitempty"`
	Flag     *bool              `yaml:"flag,omitempty" json:"flag,omitempty"`
	Metadata *response.Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

func (a Action) String() string {
	switch a.Op {
	case OpToggle, OpText:
		return fmt.Sprintf("%s %s/%d", a.Op, a.Section, a.Item)
	case OpNotApplicable, OpField:
		return fmt.Sprintf("%s %s", a.Op, a.Section)
	default:
		return string(a.Op)
	}
}

// ActionError reports the action that stopped a batch. Nothing of the batch
// was saved.
type ActionError struct {
	Index  int
	Action Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("service: action %d (%s): %v", e.Index+1, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// ErrNoActions is returned by DecodeActions for an empty document.
var ErrNoActions = errors.New("service: no actions")

type actionDoc struct {
	Actions []Action `yaml:"actions"`
}

// DecodeActions reads a YAML or JSON action list, either a bare sequence or
// a mapping with an "actions" key. Unknown keys are rejected.
func DecodeActions(data []byte) ([]Action, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrNoActions
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("service: decode actions: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, ErrNoActions
	}

	var actions []Action
	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		if err := decodeStrict(data, &actions); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var doc actionDoc
		if err := decodeStrict(data, &doc); err != nil {
			return nil, err
		}
		actions = doc.Actions
	default:
		return nil, fmt.Errorf("service: decode actions: expected a list or a mapping")
	}
	if len(actions) == 0 {
		return nil, ErrNoActions
	}
	for i, a := range actions {
		if err := a.check(); err != nil {
			return nil, &ActionError{Index: i, Action: a, Err: err}
		}
	}
	return actions, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("service: decode actions: %w", err)
	}
	return nil
}

// check validates the shape of a, not its meaning for a schema.
func (a Action) check() error {
	switch a.Op {
	case OpToggle:
		if a.Section == "" || a.Item == 0 || a.Value == "" {
			return errors.New("toggle needs section, item and value")
		}
	case OpText:
		if a.Section == "" || a.Item == 0 {
			return errors.New("text needs section and item")
		}
	case OpNotApplicable:
		if a.Section == "" {
			return errors.New("not_applicable needs section")
		}
	case OpField:
		if a.Section == "" || a.Field == "" {
			return errors.New("field needs section and field")
		}
	case OpMeta:
		if a.Metadata == nil {
			return errors.New("meta needs metadata")
		}
	default:
		return fmt.Errorf("unknown op %q", a.Op)
	}
	return nil
}

// apply performs a on in through e.
func (a Action) apply(e *response.Engine, in *response.Inspection) error {
	switch a.Op {
	case OpToggle:
		return e.ToggleItemOption(in, a.Section, a.Item, a.Value)
	case OpText:
		return e.SetItemFreeText(in, a.Section, a.Item, a.Value)
	case OpNotApplicable:
		flag := true
		if a.Flag != nil {
			flag = *a.Flag
		}
		return e.SetSectionNotApplicable(in, a.Section, flag)
	case OpField:
		return e.SetSectionContextField(in, a.Section, a.Field, a.Value)
	case OpMeta:
		return e.SetMetadata(in, mergeMetadata(in.Metadata, *a.Metadata))
	}
	return a.check()
}

func mergeMetadata(cur, upd response.Metadata) response.Metadata {
	if upd.Subject != "" {
		cur.Subject = upd.Subject
	}
	if upd.Inspector != "" {
		cur.Inspector = upd.Inspector
	}
	if !upd.Date.IsZero() {
		cur.Date = upd.Date
	}
	if upd.Notes != "" {
		cur.Notes = upd.Notes
	}
	if upd.InspectorSignature != "" {
		cur.InspectorSignature = upd.InspectorSignature
	}
	if upd.ClientSignature != "" {
		cur.ClientSignature = upd.ClientSignature
	}
	return cur
}
