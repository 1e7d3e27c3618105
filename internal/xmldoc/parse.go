package xmldoc

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// Parsed is a dialplan document read back into rules.
type Parsed struct {
	// Domain is empty for the default document.
	Domain  string
	Context string

	// Rules are in document order with Sequence set to their position.
	// Every rule is enabled since disabled rules are never rendered.
	Rules []models.DialplanRule
}

// Parse reads a document produced by Render.
func Parse(document string) (*Parsed, error) {
	var doc Document
	if err := xml.Unmarshal([]byte(document), &doc); err != nil {
		return nil, fmt.Errorf("decoding dialplan document: %w", err)
	}
	if doc.Type != DocumentType {
		return nil, fmt.Errorf("unexpected document type %q", doc.Type)
	}

	var section *Section
	for i := range doc.Sections {
		if doc.Sections[i].Name == "dialplan" {
			section = &doc.Sections[i]
			break
		}
	}
	if section == nil {
		return nil, errors.New("document has no dialplan section")
	}
	if len(section.Contexts) != 1 {
		return nil, fmt.Errorf("dialplan section has %d contexts, want 1", len(section.Contexts))
	}

	ctx := section.Contexts[0]
	parsed := &Parsed{Context: ctx.Name, Rules: make([]models.DialplanRule, 0, len(ctx.Extensions))}
	if section.Description != DefaultDescription {
		parsed.Domain = section.Description
	}

	for i, ext := range ctx.Extensions {
		rule, err := ruleFor(ext)
		if err != nil {
			return nil, fmt.Errorf("extension %d (%s): %w", i, ext.Name, err)
		}
		rule.Context = ctx.Name
		rule.Sequence = i
		parsed.Rules = append(parsed.Rules, rule)
	}
	return parsed, nil
}

func ruleFor(ext Extension) (models.DialplanRule, error) {
	if len(ext.Conditions) != 1 {
		return models.DialplanRule{}, fmt.Errorf("has %d conditions, want 1", len(ext.Conditions))
	}
	cond := ext.Conditions[0]
	if cond.Field != "destination_number" {
		return models.DialplanRule{}, fmt.Errorf("unsupported condition field %q", cond.Field)
	}
	if len(cond.Actions) == 0 {
		return models.DialplanRule{}, errors.New("has no actions")
	}

	last := cond.Actions[len(cond.Actions)-1]
	typ, target, err := parseDestination(last)
	if err != nil {
		return models.DialplanRule{}, err
	}

	rule := models.DialplanRule{
		ID:                ext.UUID,
		Name:              ext.Name,
		Pattern:           unanchor(cond.Expression),
		DestinationType:   typ,
		DestinationTarget: target,
		ContinueOnMatch:   ext.Continue == "true",
		Enabled:           true,
	}
	if rule.Name == rule.ID {
		rule.Name = ""
	}
	for _, a := range cond.Actions[:len(cond.Actions)-1] {
		rule.Actions = append(rule.Actions, models.ActionDirective{Command: a.Application, Data: a.Data})
	}
	return rule, nil
}

// parseDestination inverts dialplan.DestinationDirective.
func parseDestination(a Action) (models.DestinationType, string, error) {
	switch a.Application {
	case dialplan.CommandBridge:
		if t, ok := trimAround(a.Data, "user/", "@${domain_name}"); ok {
			return models.DestinationExtension, t, nil
		}
	case dialplan.CommandLua:
		if t, ok := trimAround(a.Data, "app.lua ring_groups ", ""); ok {
			return models.DestinationRingGroup, t, nil
		}
	case dialplan.CommandIVR:
		if a.Data != "" {
			return models.DestinationIVR, a.Data, nil
		}
	case dialplan.CommandVoicemail:
		if t, ok := trimAround(a.Data, "default ${domain_name} ", ""); ok {
			return models.DestinationVoicemail, t, nil
		}
	}
	return "", "", fmt.Errorf("last action %s %q is not a destination", a.Application, a.Data)
}

func trimAround(s, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) || len(s) <= len(prefix)+len(suffix) {
		return "", false
	}
	return s[len(prefix) : len(s)-len(suffix)], true
}
