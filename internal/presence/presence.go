// Package presence answers whether a dialplan destination can take a call.
package presence

import (
	"context"
	"fmt"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// Registrar records and queries SIP registrations.
type Registrar interface {
	Register(ctx context.Context, reg *models.Registration) error
	IsRegistered(ctx context.Context, tenant, user, domain string) (bool, error)
}

// RingGroupLookup finds a tenant's ring group by name.
type RingGroupLookup interface {
	GetByName(ctx context.Context, tenant, name string) (*models.RingGroup, error)
}

// IVRMenuLookup finds a tenant's IVR menu by name.
type IVRMenuLookup interface {
	GetByName(ctx context.Context, tenant, name string) (*models.IVRMenu, error)
}

// VoicemailLookup finds a tenant's voicemail box by mailbox number.
type VoicemailLookup interface {
	GetByMailbox(ctx context.Context, tenant, mailbox string) (*models.VoicemailBox, error)
}

// Checker implements dialplan.Availability on top of the registration
// backend and the tenant's directory records.
type Checker struct {
	registrar  Registrar
	ringGroups RingGroupLookup
	ivrMenus   IVRMenuLookup
	voicemail  VoicemailLookup
}

// NewChecker creates a Checker. A nil lookup reports unknown status for
// its destination type.
func NewChecker(registrar Registrar, ringGroups RingGroupLookup, ivrMenus IVRMenuLookup, voicemail VoicemailLookup) *Checker {
	return &Checker{
		registrar:  registrar,
		ringGroups: ringGroups,
		ivrMenus:   ivrMenus,
		voicemail:  voicemail,
	}
}

// Check reports the destination's availability:
//   - EXTENSION: an unexpired registration exists
//   - RING_GROUP, IVR, VOICEMAIL: the directory entry exists and is enabled
func (c *Checker) Check(ctx context.Context, tenant string, dest dialplan.Destination, domain string) (dialplan.Status, error) {
	switch dest.Type {
	case models.DestinationExtension:
		if c.registrar == nil {
			return dialplan.StatusUnknown, nil
		}
		ok, err := c.registrar.IsRegistered(ctx, tenant, dest.Target, domain)
		if err != nil {
			return dialplan.StatusUnknown, fmt.Errorf("checking registration: %w", err)
		}
		return statusOf(ok), nil

	case models.DestinationRingGroup:
		if c.ringGroups == nil {
			return dialplan.StatusUnknown, nil
		}
		rg, err := c.ringGroups.GetByName(ctx, tenant, dest.Target)
		if err != nil {
			return dialplan.StatusUnknown, fmt.Errorf("looking up ring group: %w", err)
		}
		return statusOf(rg != nil && rg.Enabled), nil

	case models.DestinationIVR:
		if c.ivrMenus == nil {
			return dialplan.StatusUnknown, nil
		}
		ivr, err := c.ivrMenus.GetByName(ctx, tenant, dest.Target)
		if err != nil {
			return dialplan.StatusUnknown, fmt.Errorf("looking up ivr menu: %w", err)
		}
		return statusOf(ivr != nil && ivr.Enabled), nil

	case models.DestinationVoicemail:
		if c.voicemail == nil {
			return dialplan.StatusUnknown, nil
		}
		box, err := c.voicemail.GetByMailbox(ctx, tenant, dest.Target)
		if err != nil {
			return dialplan.StatusUnknown, fmt.Errorf("looking up voicemail box: %w", err)
		}
		return statusOf(box != nil && box.Enabled), nil
	}
	return dialplan.StatusUnknown, nil
}

func statusOf(ok bool) dialplan.Status {
	if ok {
		return dialplan.StatusAvailable
	}
	return dialplan.StatusUnavailable
}
