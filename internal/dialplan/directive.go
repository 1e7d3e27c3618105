package dialplan

import (
	"errors"
	"fmt"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// Switch applications emitted by the engine.
const (
	CommandAnswer    = "answer"
	CommandBridge    = "bridge"
	CommandHangup    = "hangup"
	CommandIVR       = "ivr"
	CommandLua       = "lua"
	CommandPlayback  = "playback"
	CommandSet       = "set"
	CommandTransfer  = "transfer"
	CommandVoicemail = "voicemail"
)

// Hangup causes used by the engine's own directives.
const (
	CauseNormalClearing         = "NORMAL_CLEARING"
	CauseNormalTemporaryFailure = "NORMAL_TEMPORARY_FAILURE"
)

// Hangup returns a hangup directive with the given cause.
func Hangup(cause string) models.ActionDirective {
	return models.ActionDirective{Command: CommandHangup, Data: cause}
}

// SafeHangup is the fail-safe directive returned whenever the engine cannot
// produce a better answer.
func SafeHangup() models.ActionDirective {
	return Hangup(CauseNormalTemporaryFailure)
}

// DestinationDirective returns the switch application that delivers a call
// to dest. ${domain_name} is left for the switch to fill in.
func DestinationDirective(dest Destination) (models.ActionDirective, error) {
	if dest.Target == "" {
		return models.ActionDirective{}, &ValidationError{Field: "destination_target", Reason: "empty"}
	}
	switch dest.Type {
	case models.DestinationExtension:
		return models.ActionDirective{Command: CommandBridge, Data: fmt.Sprintf("user/%s@${domain_name}", dest.Target)}, nil
	case models.DestinationRingGroup:
		return models.ActionDirective{Command: CommandLua, Data: "app.lua ring_groups " + dest.Target}, nil
	case models.DestinationIVR:
		return models.ActionDirective{Command: CommandIVR, Data: dest.Target}, nil
	case models.DestinationVoicemail:
		return models.ActionDirective{Command: CommandVoicemail, Data: "default ${domain_name} " + dest.Target}, nil
	default:
		return models.ActionDirective{}, &ValidationError{Field: "destination_type", Reason: fmt.Sprintf("unsupported %q", dest.Type)}
	}
}

// ValidateRule checks a rule for the problems that must be rejected at edit
// time: a missing context, an unknown destination type, an empty target and
// a pattern that does not compile.
func ValidateRule(rule *models.DialplanRule) error {
	if rule.Context == "" {
		return &ValidationError{Field: "context", Reason: "required"}
	}
	if !rule.DestinationType.Valid() {
		return &ValidationError{Field: "destination_type", Reason: fmt.Sprintf("unsupported %q", rule.DestinationType)}
	}
	if rule.DestinationTarget == "" {
		return &ValidationError{Field: "destination_target", Reason: "required"}
	}
	for i, a := range rule.Actions {
		if a.Command == "" {
			return &ValidationError{Field: fmt.Sprintf("actions[%d].command", i), Reason: "required"}
		}
	}
	if _, err := Compile(rule.Pattern); err != nil {
		var pe *PatternError
		if errors.As(err, &pe) {
			pe.RuleID = rule.ID
		}
		return err
	}
	return nil
}
