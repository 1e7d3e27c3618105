package dialplan

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// fakeRules serves rules from memory, keyed by tenant then context.
type fakeRules struct {
	byTenant map[string]map[string][]models.DialplanRule
	failures int
	calls    int
}

func (f *fakeRules) List(_ context.Context, tenant, ruleContext string, includeDisabled bool) ([]models.DialplanRule, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection refused")
	}
	var out []models.DialplanRule
	for _, r := range f.byTenant[tenant][ruleContext] {
		if includeDisabled || r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeDefaults struct {
	byContext map[string][]models.DialplanRule
}

func (f *fakeDefaults) List(_ context.Context, ruleContext string, _ bool) ([]models.DialplanRule, error) {
	return f.byContext[ruleContext], nil
}

type fakeAvailability struct {
	status Status
	err    error
	seen   []string
}

func (f *fakeAvailability) Check(_ context.Context, tenant string, dest Destination, domain string) (Status, error) {
	f.seen = append(f.seen, tenant+"/"+dest.Target+"@"+domain)
	return f.status, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func rule(id string, seq int, pattern string, typ models.DestinationType, target string) models.DialplanRule {
	return models.DialplanRule{
		ID: id, Tenant: "acme", Context: "public", Pattern: pattern,
		DestinationType: typ, DestinationTarget: target, Enabled: true, Sequence: seq,
	}
}

func newTestResolver(rules []models.DialplanRule, avail Availability) (*Resolver, *fakeRules) {
	store := &fakeRules{byTenant: map[string]map[string][]models.DialplanRule{
		"acme": {"public": rules},
	}}
	r := NewResolver(store, &fakeDefaults{}, avail, Options{RetryBackoff: time.Millisecond}, testLogger())
	return r, store
}

func TestResolveExtension(t *testing.T) {
	r, _ := newTestResolver([]models.DialplanRule{
		rule("01A", 10, `^\d{4}$`, models.DestinationExtension, "$0"),
	}, nil)

	res, err := r.Resolve(context.Background(), "acme", "public", "1001")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := Destination{Type: models.DestinationExtension, Target: "1001", Status: StatusUnknown}
	if res.Destination != want {
		t.Errorf("destination = %+v, want %+v", res.Destination, want)
	}
	if res.MatchedRule == nil || res.MatchedRule.ID != "01A" {
		t.Errorf("matched rule = %+v, want 01A", res.MatchedRule)
	}
	wantDirectives := []models.ActionDirective{{Command: "bridge", Data: "user/1001@${domain_name}"}}
	if !reflect.DeepEqual(res.Directives, wantDirectives) {
		t.Errorf("directives = %+v, want %+v", res.Directives, wantDirectives)
	}

	if _, err := r.Resolve(context.Background(), "acme", "public", "15551234567"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Resolve(long number) error = %v, want ErrNoMatch", err)
	}
}

func TestResolveOrderIndependentOfStore(t *testing.T) {
	rules := []models.DialplanRule{
		rule("01C", 20, `\d+`, models.DestinationVoicemail, "catchall"),
		rule("01B", 10, `1\d{3}`, models.DestinationRingGroup, "second"),
		rule("01A", 10, `1\d{3}`, models.DestinationExtension, "first"),
	}
	reversed := []models.DialplanRule{rules[2], rules[1], rules[0]}

	for name, set := range map[string][]models.DialplanRule{"shuffled": rules, "sorted": reversed} {
		t.Run(name, func(t *testing.T) {
			r, _ := newTestResolver(set, nil)
			res, err := r.Resolve(context.Background(), "acme", "public", "1001")
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if res.MatchedRule.ID != "01A" {
				t.Errorf("matched %s, want 01A (equal sequence, earlier id)", res.MatchedRule.ID)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	r, _ := newTestResolver([]models.DialplanRule{
		rule("01A", 10, `^(\d{3})(\d{4})$`, models.DestinationIVR, "menu-$1"),
	}, &fakeAvailability{status: StatusAvailable})

	first, err := r.Resolve(context.Background(), "acme", "public", "5551234")
	if err != nil {
		t.Fatalf("first Resolve() error: %v", err)
	}
	second, err := r.Resolve(context.Background(), "acme", "public", "5551234")
	if err != nil {
		t.Fatalf("second Resolve() error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolutions differ:\n%+v\n%+v", first, second)
	}
	if first.Destination.Target != "menu-555" {
		t.Errorf("target = %q, want menu-555", first.Destination.Target)
	}
}

func TestResolveRejectsForeignDialedCharacters(t *testing.T) {
	r, store := newTestResolver([]models.DialplanRule{
		rule("01A", 10, `.+`, models.DestinationExtension, "$0"),
	}, nil)

	for _, dialed := range []string{"\u0661\u0660\u0660\u0661", "1001@pbx", "sip:1001", "10 01"} {
		res, err := r.Resolve(context.Background(), "acme", "public", dialed)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "dialed" {
			t.Errorf("Resolve(%q) error = %v, want ValidationError on dialed", dialed, err)
		}
		if res != nil {
			t.Errorf("Resolve(%q) = %+v, want nil", dialed, res)
		}
	}
	if store.calls != 0 {
		t.Errorf("store called %d times for rejected numbers", store.calls)
	}

	if _, err := r.Resolve(context.Background(), "acme", "public", "+1*2#"); err != nil {
		t.Errorf("Resolve(+1*2#) error: %v", err)
	}
}

func TestResolveEmptyRuleSet(t *testing.T) {
	r, _ := newTestResolver(nil, nil)
	for _, dialed := range []string{"", "1001", "*97", "+15551234567"} {
		res, err := r.Resolve(context.Background(), "acme", "public", dialed)
		if !errors.Is(err, ErrNoMatch) {
			t.Errorf("Resolve(%q) error = %v, want ErrNoMatch", dialed, err)
		}
		if res != nil {
			t.Errorf("Resolve(%q) = %+v, want nil", dialed, res)
		}
	}
}

func TestResolveSkipsDisabled(t *testing.T) {
	off := rule("01A", 1, `1001`, models.DestinationExtension, "disabled")
	off.Enabled = false
	r, _ := newTestResolver([]models.DialplanRule{
		off,
		rule("01B", 2, `1001`, models.DestinationExtension, "enabled"),
	}, nil)

	res, err := r.Resolve(context.Background(), "acme", "public", "1001")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if res.Destination.Target != "enabled" {
		t.Errorf("target = %q, want enabled", res.Destination.Target)
	}
}

func TestResolveContinueOnMatchAccumulates(t *testing.T) {
	prefix := rule("01A", 1, `^(\d+)$`, models.DestinationExtension, "unused")
	prefix.ContinueOnMatch = true
	prefix.Actions = []models.ActionDirective{{Command: "set", Data: "dialed=$1"}}

	recording := rule("01B", 2, `^1\d{3}$`, models.DestinationExtension, "unused")
	recording.ContinueOnMatch = true
	recording.Actions = []models.ActionDirective{{Command: "set", Data: "record=true"}}

	final := rule("01C", 3, `^(1\d{3})$`, models.DestinationExtension, "$1")
	final.Actions = []models.ActionDirective{{Command: "answer"}}

	after := rule("01D", 4, `\d+`, models.DestinationVoicemail, "never")

	r, _ := newTestResolver([]models.DialplanRule{prefix, recording, final, after}, nil)
	res, err := r.Resolve(context.Background(), "acme", "public", "1001")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	want := []models.ActionDirective{
		{Command: "set", Data: "dialed=1001"},
		{Command: "set", Data: "record=true"},
		{Command: "answer"},
		{Command: "bridge", Data: "user/1001@${domain_name}"},
	}
	if !reflect.DeepEqual(res.Directives, want) {
		t.Errorf("directives = %+v, want %+v", res.Directives, want)
	}
	if res.MatchedRule.ID != "01C" {
		t.Errorf("matched %s, want 01C", res.MatchedRule.ID)
	}
	if len(res.Continued) != 2 || res.Continued[0].ID != "01A" || res.Continued[1].ID != "01B" {
		t.Errorf("continued = %+v, want 01A, 01B", res.Continued)
	}
}

func TestResolveOnlyContinueRulesUsesLast(t *testing.T) {
	a := rule("01A", 1, `\d+`, models.DestinationExtension, "first")
	a.ContinueOnMatch = true
	b := rule("01B", 2, `\d+`, models.DestinationRingGroup, "last")
	b.ContinueOnMatch = true

	r, _ := newTestResolver([]models.DialplanRule{a, b}, nil)
	res, err := r.Resolve(context.Background(), "acme", "public", "42")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if res.Destination.Type != models.DestinationRingGroup || res.Destination.Target != "last" {
		t.Errorf("destination = %+v, want RING_GROUP last", res.Destination)
	}
	want := models.ActionDirective{Command: "lua", Data: "app.lua ring_groups last"}
	if got := res.Directives[len(res.Directives)-1]; got != want {
		t.Errorf("last directive = %+v, want %+v", got, want)
	}
}

func TestResolveBadPattern(t *testing.T) {
	prefix := rule("01A", 1, `\d+`, models.DestinationExtension, "x")
	prefix.ContinueOnMatch = true
	prefix.Actions = []models.ActionDirective{{Command: "set", Data: "seen=1"}}
	bad := rule("01B", 2, `(`, models.DestinationExtension, "x")
	later := rule("01C", 3, `\d+`, models.DestinationExtension, "x")

	r, _ := newTestResolver([]models.DialplanRule{prefix, bad, later}, nil)
	res, err := r.Resolve(context.Background(), "acme", "public", "1001")

	var pe *PatternError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *PatternError", err)
	}
	if pe.RuleID != "01B" {
		t.Errorf("PatternError.RuleID = %q, want 01B", pe.RuleID)
	}
	if res == nil {
		t.Fatal("expected partial resolution")
	}
	if len(res.Continued) != 1 || res.Continued[0].ID != "01A" {
		t.Errorf("continued = %+v, want 01A", res.Continued)
	}
	if len(res.Directives) != 1 || res.Directives[0].Data != "seen=1" {
		t.Errorf("directives = %+v, want the accumulated set", res.Directives)
	}
	if res.MatchedRule != nil {
		t.Errorf("matched rule = %+v, want nil", res.MatchedRule)
	}
}

func TestResolveBadPatternAfterTerminatingMatch(t *testing.T) {
	r, _ := newTestResolver([]models.DialplanRule{
		rule("01A", 1, `1001`, models.DestinationExtension, "1001"),
		rule("01B", 2, `(`, models.DestinationExtension, "x"),
	}, nil)

	if _, err := r.Resolve(context.Background(), "acme", "public", "1001"); err != nil {
		t.Errorf("Resolve() error = %v, want nil", err)
	}
}

func TestResolveStoreRetry(t *testing.T) {
	r, store := newTestResolver([]models.DialplanRule{
		rule("01A", 1, `1001`, models.DestinationExtension, "1001"),
	}, nil)

	store.failures = 1
	if _, err := r.Resolve(context.Background(), "acme", "public", "1001"); err != nil {
		t.Fatalf("Resolve() after one failure error: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2", store.calls)
	}

	store.calls, store.failures = 0, 2
	_, err := r.Resolve(context.Background(), "acme", "public", "1001")
	var de *DependencyError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DependencyError", err)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2 (one retry)", store.calls)
	}
}

func TestResolveAvailability(t *testing.T) {
	tests := []struct {
		name  string
		avail *fakeAvailability
		want  Status
	}{
		{"available", &fakeAvailability{status: StatusAvailable}, StatusAvailable},
		{"unavailable", &fakeAvailability{status: StatusUnavailable}, StatusUnavailable},
		{"failure is unknown", &fakeAvailability{status: StatusAvailable, err: errors.New("timeout")}, StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver([]models.DialplanRule{
				rule("01A", 1, `1001`, models.DestinationExtension, "1001"),
			}, tt.avail)
			res, err := r.ResolveFor(context.Background(), Query{
				Tenant: "acme", Context: "public", Dialed: "1001", Domain: "pbx.acme.example",
			})
			if err != nil {
				t.Fatalf("ResolveFor() error: %v", err)
			}
			if res.Destination.Status != tt.want {
				t.Errorf("status = %s, want %s", res.Destination.Status, tt.want)
			}
			if len(tt.avail.seen) != 1 || tt.avail.seen[0] != "acme/1001@pbx.acme.example" {
				t.Errorf("availability queried with %v", tt.avail.seen)
			}
		})
	}
}

func TestResolveDefaultContextAndFallback(t *testing.T) {
	store := &fakeRules{byTenant: map[string]map[string][]models.DialplanRule{
		"acme": {
			"public":  {rule("01A", 1, `1001`, models.DestinationExtension, "1001")},
			"default": {rule("01T", 1, `0`, models.DestinationExtension, "tenant-owned")},
		},
	}}
	defaults := &fakeDefaults{byContext: map[string][]models.DialplanRule{
		"default": {rule("01G", 1, `0`, models.DestinationRingGroup, "operators")},
	}}
	r := NewResolver(store, defaults, nil, Options{}, testLogger())

	res, err := r.Resolve(context.Background(), "acme", "default", "0")
	if err != nil {
		t.Fatalf("Resolve(default) error: %v", err)
	}
	if res.Destination.Target != "operators" {
		t.Errorf("default context served %q, want global operators rule", res.Destination.Target)
	}

	if _, err := r.Resolve(context.Background(), "acme", "public", "0"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("Resolve(public, 0) error = %v, want ErrNoMatch", err)
	}

	res, err = r.ResolveWithFallback(context.Background(), Query{Tenant: "acme", Context: "public", Dialed: "0"})
	if err != nil {
		t.Fatalf("ResolveWithFallback() error: %v", err)
	}
	if res.Destination.Target != "operators" {
		t.Errorf("fallback target = %q, want operators", res.Destination.Target)
	}

	res, err = r.ResolveWithFallback(context.Background(), Query{Tenant: "acme", Context: "public", Dialed: "1001"})
	if err != nil || res.Destination.Target != "1001" {
		t.Errorf("ResolveWithFallback(1001) = %+v, %v, want tenant match", res, err)
	}
}

func TestResolveRequiresTenant(t *testing.T) {
	r, store := newTestResolver(nil, nil)
	if _, err := r.Resolve(context.Background(), "", "public", "1001"); !errors.Is(err, ErrTenantRequired) {
		t.Errorf("error = %v, want ErrTenantRequired", err)
	}
	if store.calls != 0 {
		t.Errorf("store called %d times without a tenant", store.calls)
	}
}

func TestResolveCancelled(t *testing.T) {
	r, store := newTestResolver(nil, nil)
	store.failures = 2

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "acme", "public", "1001")
	var de *DependencyError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DependencyError", err)
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1 (no retry after cancel)", store.calls)
	}
}

func TestDestinationDirective(t *testing.T) {
	tests := []struct {
		dest Destination
		want models.ActionDirective
	}{
		{Destination{Type: models.DestinationExtension, Target: "1001"}, models.ActionDirective{Command: "bridge", Data: "user/1001@${domain_name}"}},
		{Destination{Type: models.DestinationRingGroup, Target: "sales"}, models.ActionDirective{Command: "lua", Data: "app.lua ring_groups sales"}},
		{Destination{Type: models.DestinationIVR, Target: "main"}, models.ActionDirective{Command: "ivr", Data: "main"}},
		{Destination{Type: models.DestinationVoicemail, Target: "1001"}, models.ActionDirective{Command: "voicemail", Data: "default ${domain_name} 1001"}},
	}
	for _, tt := range tests {
		got, err := DestinationDirective(tt.dest)
		if err != nil {
			t.Errorf("DestinationDirective(%+v) error: %v", tt.dest, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DestinationDirective(%+v) = %+v, want %+v", tt.dest, got, tt.want)
		}
	}

	var ve *ValidationError
	if _, err := DestinationDirective(Destination{Type: "FAX", Target: "1"}); !errors.As(err, &ve) {
		t.Errorf("unknown type error = %v, want *ValidationError", err)
	}
}

func TestValidateRule(t *testing.T) {
	good := rule("01A", 1, `^\d{4}$`, models.DestinationExtension, "$0")
	if err := ValidateRule(&good); err != nil {
		t.Fatalf("ValidateRule(good) error: %v", err)
	}

	badPattern := good
	badPattern.Pattern = "(["
	var pe *PatternError
	if err := ValidateRule(&badPattern); !errors.As(err, &pe) {
		t.Errorf("bad pattern error = %v, want *PatternError", err)
	}

	badType := good
	badType.DestinationType = "FAX"
	var ve *ValidationError
	if err := ValidateRule(&badType); !errors.As(err, &ve) {
		t.Errorf("bad type error = %v, want *ValidationError", err)
	}

	noContext := good
	noContext.Context = ""
	if err := ValidateRule(&noContext); !errors.As(err, &ve) || ve.Field != "context" {
		t.Errorf("missing context error = %v, want context ValidationError", err)
	}
}
