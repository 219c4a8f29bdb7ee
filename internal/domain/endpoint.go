package domain

type EndpointType string

const (
	EndpointLabelMapped  EndpointType = "label_mapped"
	EndpointSlugList     EndpointType = "slug_list"
	EndpointRoleTemplate EndpointType = "role_template"
)

// Endpoint is one configured outbound webhook target.
// Rules carries the type-specific payload shape; Fixed holds literal
// key/value pairs injected after the shaped fields (fixed wins on collision).
type Endpoint struct {
	ID      string
	Label   string
	URL     string
	Enabled bool
	Rules   Rules
	Fixed   []FixedField
}

// Type returns the endpoint's shape tag. Endpoints without rules are
// reported as the zero type and are never dispatched.
func (e Endpoint) Type() EndpointType {
	if e.Rules == nil {
		return ""
	}
	return e.Rules.EndpointType()
}

// Target is the audit-log identifier for this endpoint: "<type>:<label>",
// falling back to the URL when no label is configured.
func (e Endpoint) Target() string {
	name := e.Label
	if name == "" {
		name = e.URL
	}
	return string(e.Type()) + ":" + name
}

// Rules is the sealed set of endpoint payload shapes.
type Rules interface {
	EndpointType() EndpointType
}

// LabelMappedRules renames submitted slugs to display labels.
// Rows are ordered; a row with an empty label is skipped.
type LabelMappedRules struct {
	Mapping []MappingRow
}

func (LabelMappedRules) EndpointType() EndpointType { return EndpointLabelMapped }

// SlugListRules passes a fixed set of slugs through verbatim.
// Slugs is a comma-separated list; whitespace is trimmed and empty entries
// are dropped.
type SlugListRules struct {
	Slugs string
}

func (SlugListRules) EndpointType() EndpointType { return EndpointSlugList }

// RoleTemplateRules maps submitted slugs to semantic roles and renders a
// fixed-shape payload with a templated question summary. Roles are ordered;
// when two rows claim the same role the first row wins.
type RoleTemplateRules struct {
	Roles            []RoleRow
	QuestionTemplate string
}

func (RoleTemplateRules) EndpointType() EndpointType { return EndpointRoleTemplate }

// MappingRow binds a submitted slug to an outbound display label.
type MappingRow struct {
	Slug  string
	Label string
}

// RoleRow binds a submitted slug to a semantic role.
type RoleRow struct {
	Slug string
	Role string
}

// FixedField is a literal key/value always injected into the payload.
type FixedField struct {
	Key   string
	Value string
}
