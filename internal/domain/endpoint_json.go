package domain

import (
	"encoding/json"
	"fmt"
)

// endpointJSON is the wire/storage form of an Endpoint. The rule variant is
// flattened into type-specific fields selected by "type".
type endpointJSON struct {
	ID      string       `json:"id"`
	Type    EndpointType `json:"type"`
	Label   string       `json:"label"`
	URL     string       `json:"url"`
	Enabled bool         `json:"enabled"`

	Mapping          []mappingRowJSON `json:"mapping,omitempty"`
	Slugs            string           `json:"slugs,omitempty"`
	Roles            []roleRowJSON    `json:"roles,omitempty"`
	QuestionTemplate string           `json:"question_template,omitempty"`

	Fixed []fixedFieldJSON `json:"fixed,omitempty"`
}

type mappingRowJSON struct {
	Slug  string `json:"slug"`
	Label string `json:"label"`
}

type roleRowJSON struct {
	Slug string `json:"slug"`
	Role string `json:"role"`
}

type fixedFieldJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e Endpoint) MarshalJSON() ([]byte, error) {
	out := endpointJSON{
		ID:      e.ID,
		Type:    e.Type(),
		Label:   e.Label,
		URL:     e.URL,
		Enabled: e.Enabled,
	}

	switch rules := e.Rules.(type) {
	case LabelMappedRules:
		for _, row := range rules.Mapping {
			out.Mapping = append(out.Mapping, mappingRowJSON{Slug: row.Slug, Label: row.Label})
		}
	case SlugListRules:
		out.Slugs = rules.Slugs
	case RoleTemplateRules:
		for _, row := range rules.Roles {
			out.Roles = append(out.Roles, roleRowJSON{Slug: row.Slug, Role: row.Role})
		}
		out.QuestionTemplate = rules.QuestionTemplate
	case nil:
		return nil, fmt.Errorf("endpoint %q: no rules", e.ID)
	default:
		return nil, fmt.Errorf("endpoint %q: unknown rules %T", e.ID, e.Rules)
	}

	for _, f := range e.Fixed {
		out.Fixed = append(out.Fixed, fixedFieldJSON{Key: f.Key, Value: f.Value})
	}

	return json.Marshal(out)
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var in endpointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	e.ID = in.ID
	e.Label = in.Label
	e.URL = in.URL
	e.Enabled = in.Enabled

	switch in.Type {
	case EndpointLabelMapped:
		rules := LabelMappedRules{}
		for _, row := range in.Mapping {
			rules.Mapping = append(rules.Mapping, MappingRow{Slug: row.Slug, Label: row.Label})
		}
		e.Rules = rules
	case EndpointSlugList:
		e.Rules = SlugListRules{Slugs: in.Slugs}
	case EndpointRoleTemplate:
		rules := RoleTemplateRules{QuestionTemplate: in.QuestionTemplate}
		for _, row := range in.Roles {
			rules.Roles = append(rules.Roles, RoleRow{Slug: row.Slug, Role: row.Role})
		}
		e.Rules = rules
	default:
		return fmt.Errorf("endpoint %q: unknown type %q", in.ID, in.Type)
	}

	e.Fixed = nil
	for _, f := range in.Fixed {
		e.Fixed = append(e.Fixed, FixedField{Key: f.Key, Value: f.Value})
	}

	return nil
}
