package xmldoc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// DefaultDescription marks the section of a tenant-independent document.
const DefaultDescription = "default"

// Spec describes one document to render. An empty Domain renders the
// default document.
type Spec struct {
	Domain  string
	Context string
	Rules   []models.DialplanRule
}

// Render produces the dialplan document for spec. Output is byte-identical
// for the same input: rules are emitted in (sequence, id) order with
// disabled rules left out.
func Render(spec Spec) (string, error) {
	if spec.Context == "" {
		return "", &dialplan.ValidationError{Field: "context", Reason: "required"}
	}

	description := spec.Domain
	if description == "" {
		description = DefaultDescription
	}

	extensions := make([]Extension, 0, len(spec.Rules))
	for _, rule := range sortedEnabled(spec.Rules) {
		ext, err := extensionFor(&rule)
		if err != nil {
			return "", err
		}
		extensions = append(extensions, ext)
	}

	doc := Document{
		Type: DocumentType,
		Sections: []Section{{
			Name:        "dialplan",
			Description: description,
			Contexts:    []Context{{Name: spec.Context, Extensions: extensions}},
		}},
	}
	return encode(doc)
}

// RenderDomain renders a domain's document for one context.
func RenderDomain(domain, context string, rules []models.DialplanRule) (string, error) {
	if domain == "" {
		return "", &dialplan.ValidationError{Field: "domain", Reason: "required"}
	}
	return Render(Spec{Domain: domain, Context: context, Rules: rules})
}

// RenderDefault renders the tenant-independent fallback document.
func RenderDefault(context string, rules []models.DialplanRule) (string, error) {
	return Render(Spec{Context: context, Rules: rules})
}

// RenderFragment renders a single rule as a standalone <extension> element,
// the form cached on the rule itself. Disabled rules render too.
func RenderFragment(rule *models.DialplanRule) (string, error) {
	ext, err := extensionFor(rule)
	if err != nil {
		return "", err
	}
	b, err := xml.MarshalIndent(ext, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding extension: %w", err)
	}
	return string(b), nil
}

// NotFound returns the result document FreeSWITCH treats as "no dialplan
// here", letting it fall back to its local configuration.
func NotFound() string {
	doc := Document{
		Type: DocumentType,
		Sections: []Section{{
			Name:   "result",
			Result: &Result{Status: "not found"},
		}},
	}
	s, err := encode(doc)
	if err != nil {
		// Static input; encoding cannot fail.
		panic(err)
	}
	return s
}

func extensionFor(rule *models.DialplanRule) (Extension, error) {
	directive, err := dialplan.DestinationDirective(dialplan.Destination{
		Type:   rule.DestinationType,
		Target: rule.DestinationTarget,
	})
	if err != nil {
		return Extension{}, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	actions := make([]Action, 0, len(rule.Actions)+1)
	for _, a := range rule.Actions {
		actions = append(actions, Action{Application: a.Command, Data: a.Data})
	}
	actions = append(actions, Action{Application: directive.Command, Data: directive.Data})

	name := rule.Name
	if name == "" {
		name = rule.ID
	}
	ext := Extension{
		Name: name,
		UUID: rule.ID,
		Conditions: []Condition{{
			Field:      "destination_number",
			Expression: anchor(rule.Pattern),
			Actions:    actions,
		}},
	}
	if rule.ContinueOnMatch {
		ext.Continue = "true"
	}
	return ext, nil
}

// anchor wraps a pattern so the switch applies the same full-match
// semantics as the resolver.
func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}

func unanchor(expression string) string {
	if strings.HasPrefix(expression, "^(?:") && strings.HasSuffix(expression, ")$") {
		return expression[len("^(?:") : len(expression)-len(")$")]
	}
	return expression
}

func sortedEnabled(rules []models.DialplanRule) []models.DialplanRule {
	out := make([]models.DialplanRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func encode(doc Document) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encoding dialplan document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encoding dialplan document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}
