// Package transform shapes normalized lead fields into per-endpoint
// payloads. All three shapes are pure field mapping: absent fields are
// omitted, never an error. Only the role-template shape performs a lookup
// through the injected city resolver.
package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/webylead/leadrelay/internal/domain"
)

// NotSpecified fills blank role-template slots and the constant salutation.
const NotSpecified = "Not specified"

// DefaultQuestionTemplate is used when a role-template endpoint carries no
// template of its own. It has exactly three positional slots: headcount,
// visitors per day, delay.
const DefaultQuestionTemplate = "Request via partner. Headcount: %s, Visitors/day: %s, Delay: %s."

// Semantic roles resolvable by role-template endpoints. A role that no rule
// row claims falls back to the slug spelled like the role itself.
const (
	RoleName       = "name"
	RoleFirstname  = "firstname"
	RoleCompany    = "company"
	RoleEmail      = "email"
	RolePostalCode = "postal_code"
	RolePhone      = "phone"
	RoleHeadcount  = "headcount"
	RoleVisitors   = "visitors"
	RoleDelay      = "delay"
)

// CityResolver turns a postal code into a city name. Implementations
// degrade to a sentinel string on any failure and never return an error.
type CityResolver interface {
	ResolveCity(ctx context.Context, postalCode string) string
}

// Apply builds the outbound payload for one endpoint. The city resolver is
// only consulted for role-template endpoints.
func Apply(ctx context.Context, ep domain.Endpoint, fields domain.Fields, cities CityResolver) map[string]string {
	var payload map[string]string

	switch rules := ep.Rules.(type) {
	case domain.LabelMappedRules:
		payload = applyLabelMapped(rules, fields)
	case domain.SlugListRules:
		payload = applySlugList(rules, fields)
	case domain.RoleTemplateRules:
		payload = applyRoleTemplate(ctx, rules, fields, cities)
	default:
		payload = map[string]string{}
	}

	for _, f := range ep.Fixed {
		payload[f.Key] = f.Value
	}
	return payload
}

func applyLabelMapped(rules domain.LabelMappedRules, fields domain.Fields) map[string]string {
	payload := make(map[string]string, len(rules.Mapping))
	for _, row := range rules.Mapping {
		if row.Label == "" {
			continue
		}
		if value, ok := fields[row.Slug]; ok {
			payload[row.Label] = value.Flatten()
		}
	}
	return payload
}

func applySlugList(rules domain.SlugListRules, fields domain.Fields) map[string]string {
	slugs := ParseSlugList(rules.Slugs)
	payload := make(map[string]string, len(slugs))
	for _, slug := range slugs {
		if value, ok := fields[slug]; ok {
			payload[slug] = value.Flatten()
		}
	}
	return payload
}

func applyRoleTemplate(ctx context.Context, rules domain.RoleTemplateRules, fields domain.Fields, cities CityResolver) map[string]string {
	get := func(role string) string {
		slug := role
		for _, row := range rules.Roles {
			if row.Role == role {
				slug = row.Slug
				break
			}
		}
		return fields[slug].Flatten()
	}

	name := get(RoleName)
	firstname := get(RoleFirstname)
	postalCode := get(RolePostalCode)

	city := NotSpecified
	if cities != nil {
		city = cities.ResolveCity(ctx, postalCode)
	}

	tpl := rules.QuestionTemplate
	if tpl == "" {
		tpl = DefaultQuestionTemplate
	}
	question := fmt.Sprintf(tpl,
		orNotSpecified(get(RoleHeadcount)),
		orNotSpecified(get(RoleVisitors)),
		orNotSpecified(get(RoleDelay)),
	)

	return map[string]string{
		"salutation":  NotSpecified,
		"lastname":    strings.TrimSpace(firstname + " " + name),
		"company":     get(RoleCompany),
		"email":       get(RoleEmail),
		"postal_code": postalCode,
		"city":        city,
		"phone":       get(RolePhone),
		"question":    question,
	}
}

func orNotSpecified(s string) string {
	if s == "" {
		return NotSpecified
	}
	return s
}

// ParseSlugList splits a comma-separated slug list, trimming whitespace and
// dropping empty entries while preserving order.
func ParseSlugList(s string) []string {
	parts := strings.Split(s, ",")
	slugs := make([]string, 0, len(parts))
	for _, part := range parts {
		if slug := strings.TrimSpace(part); slug != "" {
			slugs = append(slugs, slug)
		}
	}
	return slugs
}
