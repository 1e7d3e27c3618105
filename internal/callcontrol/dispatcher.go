package callcontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
)

// Response statuses.
const (
	StatusSuccess        = "success"
	StatusNotImplemented = "not_implemented"
	StatusError          = "error"
)

const retryBackoff = 25 * time.Millisecond

// ErrorUnknownAction is the error text returned for unrecognized actions.
const ErrorUnknownAction = "Unknown action"

// Response is the dispatcher's entire answer to the switch. Actions always
// holds at least one directive.
type Response struct {
	Status  string                   `json:"status"`
	Actions []models.ActionDirective `json:"actions"`
	Error   string                   `json:"error,omitempty"`
}

// TenantResolver maps a SIP domain to its owning tenant; "" means unknown.
type TenantResolver interface {
	TenantForDomain(ctx context.Context, domain string) (string, error)
}

// Observer receives dispatch outcomes, e.g. for metrics.
type Observer interface {
	ObserveDispatch(action, status string)
}

// Dispatcher classifies signaling events by action and answers each with
// switch directives. It keeps no state between calls.
type Dispatcher struct {
	tenants       TenantResolver
	failures      *FailureHandler
	observer      Observer
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// NewDispatcher creates a Dispatcher. observer may be nil.
func NewDispatcher(tenants TenantResolver, failures *FailureHandler, observer Observer, lookupTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if lookupTimeout <= 0 {
		lookupTimeout = 500 * time.Millisecond
	}
	return &Dispatcher{
		tenants:       tenants,
		failures:      failures,
		observer:      observer,
		lookupTimeout: lookupTimeout,
		logger:        logger.With("subsystem", "callcontrol"),
	}
}

// Dispatch validates the event and produces the switch's next steps.
// action overrides the form's "action" field when non-empty.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, form url.Values) (resp Response) {
	label := "invalid"
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic during dispatch", "action", label, "panic", fmt.Sprint(rec))
			resp = failed(StatusError, "internal error")
		}
		if d.observer != nil {
			d.observer.ObserveDispatch(label, resp.Status)
		}
	}()

	ev, err := ParseEvent(action, form)
	if err != nil {
		d.logger.Warn("rejected signaling event", "action", ev.Action, "error", err)
		return failed(StatusError, err.Error())
	}
	label = metricAction(ev.Action)

	switch ev.Action {
	case ActionHangup:
		return Response{
			Status:  StatusSuccess,
			Actions: []models.ActionDirective{dialplan.Hangup(dialplan.CauseNormalClearing)},
		}

	case ActionFailure:
		return d.dispatchFailure(ctx, ev)

	case ActionFollowMe, ActionVoicemail, ActionRecord:
		d.logger.Debug("action not implemented", "action", ev.Action, "session_id", ev.SessionID)
		return failed(StatusNotImplemented, "")

	default:
		err := &dialplan.UnknownActionError{Action: ev.Action}
		d.logger.Warn("unknown signaling action",
			"action", ev.Action,
			"domain", ev.Domain,
			"session_id", ev.SessionID,
			"error", err,
		)
		return failed(StatusError, ErrorUnknownAction)
	}
}

func (d *Dispatcher) dispatchFailure(ctx context.Context, ev *Event) Response {
	tenant, err := d.tenantFor(ctx, ev.Domain)
	if err != nil {
		var nf *dialplan.NotFoundError
		if errors.As(err, &nf) {
			d.logger.Warn("failure event for unknown domain", "domain", ev.Domain, "session_id", ev.SessionID)
		} else {
			d.logger.Error("tenant lookup failed", "domain", ev.Domain, "session_id", ev.SessionID, "error", err)
		}
		return failed(StatusError, err.Error())
	}

	return Response{
		Status:  StatusSuccess,
		Actions: d.failures.Handle(ctx, tenant, ev),
	}
}

// tenantFor maps domain to a tenant, retrying a failed lookup once.
func (d *Dispatcher) tenantFor(ctx context.Context, domain string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", &dialplan.DependencyError{Op: "resolving tenant for domain", Err: ctx.Err()}
			case <-time.After(retryBackoff):
			}
		}

		lctx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
		tenant, err := d.tenants.TenantForDomain(lctx, domain)
		cancel()
		if err == nil {
			if tenant == "" {
				return "", &dialplan.NotFoundError{Kind: "domain", Key: domain}
			}
			return tenant, nil
		}
		lastErr = err
	}
	return "", &dialplan.DependencyError{Op: "resolving tenant for domain", Err: lastErr}
}

// failed builds a response that carries only the fail-safe hangup.
func failed(status, msg string) Response {
	return Response{
		Status:  status,
		Actions: []models.ActionDirective{dialplan.SafeHangup()},
		Error:   msg,
	}
}

func metricAction(action string) string {
	switch action {
	case ActionFollowMe, ActionVoicemail, ActionHangup, ActionFailure, ActionRecord:
		return action
	default:
		return "unknown"
	}
}
