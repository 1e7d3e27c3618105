package models

import "time"

// DestinationType enumerates what a dialplan rule routes to.
type DestinationType string

const (
	DestinationExtension DestinationType = "EXTENSION"
	DestinationRingGroup DestinationType = "RING_GROUP"
	DestinationIVR       DestinationType = "IVR"
	DestinationVoicemail DestinationType = "VOICEMAIL"
)

// Valid reports whether t is one of the known destination types.
func (t DestinationType) Valid() bool {
	switch t {
	case DestinationExtension, DestinationRingGroup, DestinationIVR, DestinationVoicemail:
		return true
	}
	return false
}

// ActionDirective is a single switch-executable step, e.g. {hangup, NORMAL_CLEARING}.
type ActionDirective struct {
	Command string `json:"command" yaml:"command"`
	Data    string `json:"data" yaml:"data"`
}

// Tenant is an isolated customer account.
type Tenant struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// TenantDomain maps a SIP domain to its owning tenant.
type TenantDomain struct {
	Domain    string    `db:"domain"`
	TenantID  string    `db:"tenant_id"`
	CreatedAt time.Time `db:"created_at"`
}

// DialplanRule is one ordered routing rule. Tenant is empty for global
// default rules, which live in their own table.
type DialplanRule struct {
	ID                string            `db:"id"`
	Tenant            string            `db:"tenant_id"`
	Context           string            `db:"context"`
	Name              string            `db:"name"`
	Pattern           string            `db:"pattern"`
	DestinationType   DestinationType   `db:"destination_type"`
	DestinationTarget string            `db:"destination_target"`
	Actions           []ActionDirective `db:"-"`
	ActionsJSON       string            `db:"actions"`
	ContinueOnMatch   bool              `db:"continue_on_match"`
	Enabled           bool              `db:"enabled"`
	Sequence          int               `db:"sequence"`
	RawXML            string            `db:"raw_xml"`
	CreatedAt         time.Time         `db:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"`
	UpdatedBy         string            `db:"updated_by"`
}

// RulePatch is a partial update to a DialplanRule. Nil fields are left untouched.
type RulePatch struct {
	Name              *string            `json:"name,omitempty" yaml:"name,omitempty"`
	Pattern           *string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	DestinationType   *DestinationType   `json:"destination_type,omitempty" yaml:"destination_type,omitempty"`
	DestinationTarget *string            `json:"destination_target,omitempty" yaml:"destination_target,omitempty"`
	Actions           *[]ActionDirective `json:"actions,omitempty" yaml:"actions,omitempty"`
	ContinueOnMatch   *bool              `json:"continue_on_match,omitempty" yaml:"continue_on_match,omitempty"`
	Enabled           *bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Sequence          *int               `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// Apply copies every non-nil field of p onto r.
func (p RulePatch) Apply(r *DialplanRule) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Pattern != nil {
		r.Pattern = *p.Pattern
	}
	if p.DestinationType != nil {
		r.DestinationType = *p.DestinationType
	}
	if p.DestinationTarget != nil {
		r.DestinationTarget = *p.DestinationTarget
	}
	if p.Actions != nil {
		r.Actions = append([]ActionDirective(nil), (*p.Actions)...)
	}
	if p.ContinueOnMatch != nil {
		r.ContinueOnMatch = *p.ContinueOnMatch
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.Sequence != nil {
		r.Sequence = *p.Sequence
	}
}

// Registration is an active SIP registration reported by the switch.
type Registration struct {
	ID           int64     `db:"id"`
	Tenant       string    `db:"tenant_id"`
	User         string    `db:"sip_user"`
	Domain       string    `db:"domain"`
	ContactURI   string    `db:"contact_uri"`
	UserAgent    string    `db:"user_agent"`
	Expires      time.Time `db:"expires"`
	RegisteredAt time.Time `db:"registered_at"`
}

// RingGroup is a tenant-scoped ring group directory entry.
type RingGroup struct {
	ID        int64     `db:"id"`
	Tenant    string    `db:"tenant_id"`
	Name      string    `db:"name"`
	Strategy  string    `db:"strategy"`
	Members   string    `db:"members"` // JSON
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IVRMenu is a tenant-scoped IVR menu directory entry.
type IVRMenu struct {
	ID          int64     `db:"id"`
	Tenant      string    `db:"tenant_id"`
	Name        string    `db:"name"`
	GreetingRef string    `db:"greeting_ref"`
	Enabled     bool      `db:"enabled"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// VoicemailBox is a tenant-scoped voicemail box directory entry.
type VoicemailBox struct {
	ID            int64     `db:"id"`
	Tenant        string    `db:"tenant_id"`
	MailboxNumber string    `db:"mailbox_number"`
	Name          string    `db:"name"`
	Enabled       bool      `db:"enabled"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
