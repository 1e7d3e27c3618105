package callcontrol

import (
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// Signaling actions accepted by the dispatcher.
const (
	ActionFollowMe  = "followme"
	ActionVoicemail = "voicemail"
	ActionHangup    = "hangup"
	ActionFailure   = "failure"
	ActionRecord    = "record"
)

// Attribute keys the engine understands. Anything else lands in the
// pass-through bucket.
const (
	KeyDomainName             = "domain_name"
	KeyVariableDomainName     = "variable_domain_name"
	KeyOriginateDisposition   = "variable_originate_disposition"
	KeyVariableHangupCause    = "variable_hangup_cause"
	KeyHangupCause            = "hangup_cause"
	KeyDestinationNumber      = "destination_number"
	KeyCallerDestination      = "Caller-Destination-Number"
	KeyVariableDialedExt      = "variable_dialed_extension"
	KeyUniqueID               = "Unique-ID"
	KeyVariableUUID           = "variable_uuid"
	KeyCallerContext          = "Caller-Context"
	KeyVariableUserContext    = "variable_user_context"
	KeyCallerIDNumber         = "Caller-Caller-ID-Number"
	KeyVariableCallerIDNumber = "variable_caller_id_number"
)

var knownKeys = map[string]bool{
	KeyDomainName:             true,
	KeyVariableDomainName:     true,
	KeyOriginateDisposition:   true,
	KeyVariableHangupCause:    true,
	KeyHangupCause:            true,
	KeyDestinationNumber:      true,
	KeyCallerDestination:      true,
	KeyVariableDialedExt:      true,
	KeyUniqueID:               true,
	KeyVariableUUID:           true,
	KeyCallerContext:          true,
	KeyVariableUserContext:    true,
	KeyCallerIDNumber:         true,
	KeyVariableCallerIDNumber: true,
}

// Event is one signaling notification from the switch, validated at
// construction. It is consumed synchronously and discarded.
type Event struct {
	Action    string
	Domain    string
	SessionID string

	// Known holds recognized attributes; PassThrough holds everything else
	// untouched.
	Known       map[string]string
	PassThrough map[string]string
}

// ParseEvent builds an Event from form values. The action comes from the
// explicit argument when set, otherwise from the "action" field. A missing
// domain_name and variable_domain_name is a *dialplan.ValidationError.
func ParseEvent(action string, form url.Values) (*Event, error) {
	ev := &Event{
		Action:      strings.ToLower(strings.TrimSpace(action)),
		Known:       make(map[string]string),
		PassThrough: make(map[string]string),
	}
	if ev.Action == "" {
		ev.Action = strings.ToLower(strings.TrimSpace(form.Get("action")))
	}

	for key, vals := range form {
		if key == "action" || len(vals) == 0 {
			continue
		}
		if knownKeys[key] {
			ev.Known[key] = vals[0]
		} else {
			ev.PassThrough[key] = vals[0]
		}
	}

	ev.Domain = strings.ToLower(strings.TrimSpace(first(ev.Known, KeyDomainName, KeyVariableDomainName)))
	if ev.Domain == "" {
		return ev, &dialplan.ValidationError{
			Field:  KeyDomainName,
			Reason: "domain_name or variable_domain_name is required",
		}
	}

	ev.SessionID = first(ev.Known, KeyUniqueID, KeyVariableUUID)
	if ev.SessionID == "" {
		ev.SessionID = uuid.NewString()
	}
	return ev, nil
}

// Get returns a known attribute, or "" when absent.
func (e *Event) Get(key string) string {
	return e.Known[key]
}

// Cause returns the most specific failure cause carried by the event.
func (e *Event) Cause() string {
	return strings.ToUpper(first(e.Known, KeyOriginateDisposition, KeyVariableHangupCause, KeyHangupCause))
}

// DialedNumber returns the number the caller originally dialed.
func (e *Event) DialedNumber() string {
	return first(e.Known, KeyVariableDialedExt, KeyDestinationNumber, KeyCallerDestination)
}

// PassThroughKeys returns the unrecognized attribute names in sorted order.
func (e *Event) PassThroughKeys() []string {
	keys := make([]string, 0, len(e.PassThrough))
	for k := range e.PassThrough {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
