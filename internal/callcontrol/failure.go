package callcontrol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// Router resolves a dialed number within a tenant context.
type Router interface {
	ResolveFor(ctx context.Context, q dialplan.Query) (*dialplan.Resolution, error)
}

// VoicemailBoxes looks up a tenant's voicemail box by mailbox number.
type VoicemailBoxes interface {
	GetByMailbox(ctx context.Context, tenant, mailbox string) (*models.VoicemailBox, error)
}

// Remediation classifies how a failure cause is handled.
type Remediation int

const (
	// RemediationTerminal hangs up with the reported cause.
	RemediationTerminal Remediation = iota
	// RemediationRetry tries the failover context, then voicemail.
	RemediationRetry
)

// Classify maps a hangup or originate cause to its remediation.
func Classify(cause string) Remediation {
	switch cause {
	case "USER_BUSY", "NO_ANSWER", "NO_USER_RESPONSE", "USER_NOT_REGISTERED",
		"SUBSCRIBER_ABSENT", "ALLOTTED_TIMEOUT":
		return RemediationRetry
	default:
		// ORIGINATOR_CANCEL, NORMAL_CLEARING, SUCCESS and LOSE_RACE mean the
		// call ended on purpose; everything else is not worth retrying.
		return RemediationTerminal
	}
}

// FailureHandler turns a failed call leg into the next directives: the
// failover context's destination, a voicemail fallback, or a hangup that
// carries the original cause.
type FailureHandler struct {
	router          Router
	boxes           VoicemailBoxes
	failoverContext string
	lookupTimeout   time.Duration
	logger          *slog.Logger
}

// NewFailureHandler creates a FailureHandler. boxes may be nil to disable
// the voicemail fallback.
func NewFailureHandler(router Router, boxes VoicemailBoxes, failoverContext string, lookupTimeout time.Duration, logger *slog.Logger) *FailureHandler {
	if failoverContext == "" {
		failoverContext = "failover"
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 500 * time.Millisecond
	}
	return &FailureHandler{
		router:          router,
		boxes:           boxes,
		failoverContext: failoverContext,
		lookupTimeout:   lookupTimeout,
		logger:          logger.With("subsystem", "failure"),
	}
}

// Handle returns the directives for a failure event. It always returns at
// least one directive.
func (h *FailureHandler) Handle(ctx context.Context, tenant string, ev *Event) []models.ActionDirective {
	cause := ev.Cause()
	if cause == "" {
		h.logger.Warn("failure event without cause", "session_id", ev.SessionID, "domain", ev.Domain)
		return []models.ActionDirective{dialplan.SafeHangup()}
	}

	if Classify(cause) == RemediationTerminal {
		return []models.ActionDirective{dialplan.Hangup(cause)}
	}

	dialed := ev.DialedNumber()
	if dialed == "" {
		return []models.ActionDirective{dialplan.Hangup(cause)}
	}

	if directives := h.failover(ctx, tenant, ev, dialed); directives != nil {
		return directives
	}
	if directives := h.voicemail(ctx, tenant, ev, dialed); directives != nil {
		return directives
	}

	h.logger.Info("no remediation for failed call",
		"tenant", tenant,
		"session_id", ev.SessionID,
		"dialed", dialed,
		"cause", cause,
	)
	return []models.ActionDirective{dialplan.Hangup(cause)}
}

func (h *FailureHandler) failover(ctx context.Context, tenant string, ev *Event, dialed string) []models.ActionDirective {
	res, err := h.router.ResolveFor(ctx, dialplan.Query{
		Tenant:  tenant,
		Context: h.failoverContext,
		Dialed:  dialed,
		Domain:  ev.Domain,
	})
	if err != nil {
		if !errors.Is(err, dialplan.ErrNoMatch) {
			h.logger.Error("failover resolution failed",
				"tenant", tenant,
				"session_id", ev.SessionID,
				"dialed", dialed,
				"error", err,
			)
		}
		return nil
	}

	h.logger.Info("failed call routed to failover",
		"tenant", tenant,
		"session_id", ev.SessionID,
		"dialed", dialed,
		"destination", res.Destination.Type,
		"target", res.Destination.Target,
	)
	return res.Directives
}

func (h *FailureHandler) voicemail(ctx context.Context, tenant string, ev *Event, dialed string) []models.ActionDirective {
	if h.boxes == nil {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, h.lookupTimeout)
	defer cancel()

	box, err := h.boxes.GetByMailbox(lctx, tenant, dialed)
	if err != nil {
		h.logger.Error("voicemail box lookup failed",
			"tenant", tenant,
			"mailbox", dialed,
			"error", err,
		)
		return nil
	}
	if box == nil || !box.Enabled {
		return nil
	}

	return []models.ActionDirective{
		{Command: dialplan.CommandAnswer},
		{Command: dialplan.CommandVoicemail, Data: "default " + ev.Domain + " " + dialed},
	}
}
