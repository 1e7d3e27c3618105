package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{Driver: DriverSQLite, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTenant(t *testing.T, db *DB, id string, domains ...string) {
	t.Helper()
	ctx := context.Background()
	repo := NewTenantRepository(db)
	if err := repo.Create(ctx, &models.Tenant{ID: id, Name: id}); err != nil {
		t.Fatalf("creating tenant %s: %v", id, err)
	}
	for _, d := range domains {
		if err := repo.AddDomain(ctx, id, d); err != nil {
			t.Fatalf("adding domain %s: %v", d, err)
		}
	}
}

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(Options{DataDir: dir})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(dir, "tenantpbx.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	tables := []string{
		"schema_migrations", "tenants", "tenant_domains", "dialplan_rules",
		"default_rules", "registrations", "ring_groups", "ivr_menus", "voicemail_boxes",
	}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}

	var migrationCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&migrationCount); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if migrationCount != 2 {
		t.Errorf("migration count = %d, want 2", migrationCount)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(Options{DataDir: dir})
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(Options{DataDir: dir})
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestTenantRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewTenantRepository(db)

	createTenant(t, db, "acme", "PBX.Acme.example")
	createTenant(t, db, "globex", "pbx.globex.example")

	got, err := repo.GetByID(ctx, "acme")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got == nil || got.Name != "acme" {
		t.Fatalf("GetByID() = %+v, want acme", got)
	}

	missing, err := repo.GetByID(ctx, "nope")
	if err != nil {
		t.Fatalf("GetByID(missing) error: %v", err)
	}
	if missing != nil {
		t.Errorf("GetByID(missing) = %+v, want nil", missing)
	}

	tenant, err := repo.TenantForDomain(ctx, " pbx.acme.EXAMPLE ")
	if err != nil {
		t.Fatalf("TenantForDomain() error: %v", err)
	}
	if tenant != "acme" {
		t.Errorf("TenantForDomain() = %q, want acme", tenant)
	}

	tenant, err = repo.TenantForDomain(ctx, "unknown.example")
	if err != nil {
		t.Fatalf("TenantForDomain(unknown) error: %v", err)
	}
	if tenant != "" {
		t.Errorf("TenantForDomain(unknown) = %q, want empty", tenant)
	}

	if err := repo.AddDomain(ctx, "globex", "pbx.acme.example"); err == nil {
		t.Error("expected error assigning a domain owned by another tenant")
	}

	tenants, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(tenants) != 2 {
		t.Errorf("List() returned %d tenants, want 2", len(tenants))
	}
	if n, err := repo.Count(ctx); err != nil || n != 2 {
		t.Errorf("Count() = %d, %v, want 2", n, err)
	}

	if err := repo.Create(ctx, &models.Tenant{Name: "no id"}); !errors.Is(err, ErrTenantRequired) {
		t.Errorf("Create() without id error = %v, want ErrTenantRequired", err)
	}
}

func TestDialplanRuleRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewDialplanRuleRepository(db)
	createTenant(t, db, "acme")

	rule := &models.DialplanRule{
		Tenant:            "acme",
		Context:           "public",
		Name:              "extensions",
		Pattern:           `^(\d{4})$`,
		DestinationType:   models.DestinationExtension,
		DestinationTarget: "$1",
		Actions:           []models.ActionDirective{{Command: "set", Data: "call_timeout=30"}},
		Enabled:           true,
		Sequence:          10,
	}
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}

	got, err := repo.Get(ctx, "acme", rule.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil")
	}
	if got.Pattern != rule.Pattern || got.DestinationType != models.DestinationExtension {
		t.Errorf("Get() = %+v, want pattern %q EXTENSION", got, rule.Pattern)
	}
	if len(got.Actions) != 1 || got.Actions[0].Command != "set" {
		t.Errorf("Get() actions = %+v, want one set action", got.Actions)
	}
	if !got.Enabled || got.ContinueOnMatch {
		t.Errorf("Get() flags enabled=%v continue=%v, want true/false", got.Enabled, got.ContinueOnMatch)
	}

	missing, err := repo.Get(ctx, "acme", "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	if err != nil {
		t.Fatalf("Get(missing) error: %v", err)
	}
	if missing != nil {
		t.Errorf("Get(missing) = %+v, want nil", missing)
	}

	updated, err := repo.Update(ctx, "acme", rule.ID, func(r *models.DialplanRule) error {
		r.Sequence = 5
		r.UpdatedBy = "admin"
		r.ID = "hijack"
		r.Tenant = "globex"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated == nil || updated.Sequence != 5 || updated.UpdatedBy != "admin" {
		t.Fatalf("Update() = %+v, want sequence 5 by admin", updated)
	}
	if updated.ID != rule.ID || updated.Tenant != "acme" {
		t.Errorf("Update() changed identity to %s/%s", updated.Tenant, updated.ID)
	}

	none, err := repo.Update(ctx, "acme", "missing", func(*models.DialplanRule) error { return nil })
	if err != nil {
		t.Fatalf("Update(missing) error: %v", err)
	}
	if none != nil {
		t.Errorf("Update(missing) = %+v, want nil", none)
	}

	errMutate := errors.New("rejected")
	if _, err := repo.Update(ctx, "acme", rule.ID, func(*models.DialplanRule) error { return errMutate }); !errors.Is(err, errMutate) {
		t.Errorf("Update() mutate error = %v, want %v", err, errMutate)
	}

	contexts, err := repo.ListContexts(ctx, "acme")
	if err != nil {
		t.Fatalf("ListContexts() error: %v", err)
	}
	if len(contexts) != 1 || contexts[0] != "public" {
		t.Errorf("ListContexts() = %v, want [public]", contexts)
	}

	deleted, err := repo.Delete(ctx, "acme", rule.ID)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if !deleted {
		t.Error("Delete() = false, want true")
	}
	deleted, err = repo.Delete(ctx, "acme", rule.ID)
	if err != nil {
		t.Fatalf("second Delete() error: %v", err)
	}
	if deleted {
		t.Error("second Delete() = true, want false")
	}
}

func TestDialplanRuleOrdering(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewDialplanRuleRepository(db)
	createTenant(t, db, "acme")

	// Equal sequences fall back to creation order.
	specs := []struct {
		name     string
		sequence int
		enabled  bool
	}{
		{"late", 50, true},
		{"tie-first", 10, true},
		{"off", 1, false},
		{"tie-second", 10, true},
	}
	for _, s := range specs {
		err := repo.Create(ctx, &models.DialplanRule{
			Tenant: "acme", Context: "public", Name: s.name, Pattern: `\d+`,
			DestinationType: models.DestinationExtension, DestinationTarget: "1000",
			Enabled: s.enabled, Sequence: s.sequence,
		})
		if err != nil {
			t.Fatalf("Create(%s) error: %v", s.name, err)
		}
	}

	enabled, err := repo.List(ctx, "acme", "public", false)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	want := []string{"tie-first", "tie-second", "late"}
	if len(enabled) != len(want) {
		t.Fatalf("List() returned %d rules, want %d", len(enabled), len(want))
	}
	for i, name := range want {
		if enabled[i].Name != name {
			t.Errorf("List()[%d] = %s, want %s", i, enabled[i].Name, name)
		}
	}

	all, err := repo.List(ctx, "acme", "public", true)
	if err != nil {
		t.Fatalf("List(includeDisabled) error: %v", err)
	}
	if len(all) != 4 || all[0].Name != "off" {
		t.Errorf("List(includeDisabled) first = %v (n=%d), want off (n=4)", all, len(all))
	}
}

func TestDialplanRuleTenantIsolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewDialplanRuleRepository(db)
	createTenant(t, db, "acme")
	createTenant(t, db, "globex")

	rule := &models.DialplanRule{
		Tenant: "acme", Context: "public", Pattern: `1001`,
		DestinationType: models.DestinationExtension, DestinationTarget: "1001", Enabled: true,
	}
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.Get(ctx, "globex", rule.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Error("globex can read acme's rule")
	}

	rules, err := repo.List(ctx, "globex", "public", true)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("globex sees %d acme rules", len(rules))
	}

	updated, err := repo.Update(ctx, "globex", rule.ID, func(r *models.DialplanRule) error {
		r.Enabled = false
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated != nil {
		t.Error("globex updated acme's rule")
	}

	deleted, err := repo.Delete(ctx, "globex", rule.ID)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if deleted {
		t.Error("globex deleted acme's rule")
	}

	for name, call := range map[string]func() error{
		"Create": func() error { return repo.Create(ctx, &models.DialplanRule{Context: "public"}) },
		"Get":    func() error { _, err := repo.Get(ctx, "", rule.ID); return err },
		"List":   func() error { _, err := repo.List(ctx, "", "public", false); return err },
		"Delete": func() error { _, err := repo.Delete(ctx, "", rule.ID); return err },
	} {
		if err := call(); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("%s without tenant error = %v, want ErrTenantRequired", name, err)
		}
	}
}

func TestDefaultRuleRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewDefaultRuleRepository(db)
	tenantRules := NewDialplanRuleRepository(db)
	createTenant(t, db, "acme")

	rule := &models.DialplanRule{
		Tenant: "acme", Context: "default", Name: "operator", Pattern: `0`,
		DestinationType: models.DestinationRingGroup, DestinationTarget: "operators",
		Enabled: true, Sequence: 1,
	}
	if err := repo.Create(ctx, rule); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if rule.Tenant != "" {
		t.Errorf("default rule kept tenant %q", rule.Tenant)
	}

	rules, err := repo.List(ctx, "default", false)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "operator" {
		t.Fatalf("List() = %+v, want operator", rules)
	}

	// Default rules never show up as tenant rules.
	tenantList, err := tenantRules.List(ctx, "acme", "default", true)
	if err != nil {
		t.Fatalf("tenant List() error: %v", err)
	}
	if len(tenantList) != 0 {
		t.Errorf("tenant sees %d default rules", len(tenantList))
	}

	updated, err := repo.Update(ctx, rule.ID, func(r *models.DialplanRule) error {
		r.Enabled = false
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated == nil || updated.Enabled {
		t.Fatalf("Update() = %+v, want disabled rule", updated)
	}

	rules, err = repo.List(ctx, "default", false)
	if err != nil {
		t.Fatalf("List() after disable error: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("List() after disable returned %d rules, want 0", len(rules))
	}

	deleted, err := repo.Delete(ctx, rule.ID)
	if err != nil || !deleted {
		t.Errorf("Delete() = %v, %v, want true, nil", deleted, err)
	}
}

func TestRegistrationRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewRegistrationRepository(db)
	createTenant(t, db, "acme")

	reg := &models.Registration{
		Tenant: "acme", User: "1001", Domain: "PBX.acme.example",
		ContactURI: "sip:1001@10.0.0.5:5060", Expires: time.Now().Add(time.Hour),
	}
	if err := repo.Upsert(ctx, reg); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if reg.ID == 0 {
		t.Error("Upsert() did not assign an ID")
	}

	// Re-registering from the same contact replaces the row.
	again := *reg
	again.ID = 0
	if err := repo.Upsert(ctx, &again); err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}
	if count, err := repo.Count(ctx); err != nil || count != 1 {
		t.Errorf("Count() after re-register = %d, %v, want 1", count, err)
	}

	tests := []struct {
		name   string
		tenant string
		user   string
		domain string
		want   bool
	}{
		{"exact domain", "acme", "1001", "pbx.acme.example", true},
		{"any domain", "acme", "1001", "", true},
		{"other domain", "acme", "1001", "other.example", false},
		{"other user", "acme", "1002", "", false},
		{"other tenant", "globex", "1001", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.IsRegistered(ctx, tt.tenant, tt.user, tt.domain)
			if err != nil {
				t.Fatalf("IsRegistered() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsRegistered() = %v, want %v", got, tt.want)
			}
		})
	}

	expired := &models.Registration{
		Tenant: "acme", User: "1002", Domain: "pbx.acme.example",
		ContactURI: "sip:1002@10.0.0.6", Expires: time.Now().Add(-time.Minute),
	}
	if err := repo.Upsert(ctx, expired); err != nil {
		t.Fatalf("Upsert(expired) error: %v", err)
	}
	ok, err := repo.IsRegistered(ctx, "acme", "1002", "")
	if err != nil {
		t.Fatalf("IsRegistered(expired) error: %v", err)
	}
	if ok {
		t.Error("expired registration counted as registered")
	}

	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestDirectoryRepositories(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	createTenant(t, db, "acme")
	createTenant(t, db, "globex")

	groups := NewRingGroupRepository(db)
	rg := &models.RingGroup{Tenant: "acme", Name: "sales", Enabled: true}
	if err := groups.Create(ctx, rg); err != nil {
		t.Fatalf("RingGroup Create() error: %v", err)
	}
	if rg.ID == 0 || rg.Strategy != "ring_all" || rg.Members != "[]" {
		t.Errorf("RingGroup Create() = %+v, want id and defaults", rg)
	}
	if got, err := groups.GetByName(ctx, "acme", "sales"); err != nil || got == nil {
		t.Errorf("RingGroup GetByName() = %v, %v", got, err)
	}
	if got, err := groups.GetByName(ctx, "globex", "sales"); err != nil || got != nil {
		t.Errorf("RingGroup GetByName(other tenant) = %v, %v, want nil", got, err)
	}

	menus := NewIVRMenuRepository(db)
	ivr := &models.IVRMenu{Tenant: "acme", Name: "main", Enabled: true}
	if err := menus.Create(ctx, ivr); err != nil {
		t.Fatalf("IVRMenu Create() error: %v", err)
	}
	if got, err := menus.GetByName(ctx, "acme", "main"); err != nil || got == nil || !got.Enabled {
		t.Errorf("IVRMenu GetByName() = %v, %v", got, err)
	}
	if deleted, err := menus.Delete(ctx, "globex", ivr.ID); err != nil || deleted {
		t.Errorf("IVRMenu Delete(other tenant) = %v, %v, want false", deleted, err)
	}
	if deleted, err := menus.Delete(ctx, "acme", ivr.ID); err != nil || !deleted {
		t.Fatalf("IVRMenu Delete() = %v, %v", deleted, err)
	}
	if list, err := menus.List(ctx, "acme"); err != nil || len(list) != 0 {
		t.Errorf("IVRMenu List() after delete = %v, %v", list, err)
	}

	boxes := NewVoicemailBoxRepository(db)
	box := &models.VoicemailBox{Tenant: "acme", MailboxNumber: "1001", Name: "Alice", Enabled: true}
	if err := boxes.Create(ctx, box); err != nil {
		t.Fatalf("VoicemailBox Create() error: %v", err)
	}
	if err := boxes.Create(ctx, &models.VoicemailBox{Tenant: "acme", MailboxNumber: "1001"}); err == nil {
		t.Error("expected duplicate mailbox error")
	}
	if got, err := boxes.GetByMailbox(ctx, "acme", "1001"); err != nil || got == nil || got.Name != "Alice" {
		t.Errorf("VoicemailBox GetByMailbox() = %v, %v", got, err)
	}
	if got, err := boxes.GetByMailbox(ctx, "globex", "1001"); err != nil || got != nil {
		t.Errorf("VoicemailBox GetByMailbox(other tenant) = %v, %v, want nil", got, err)
	}
}

func TestNewRuleIDMonotonic(t *testing.T) {
	prev := NewRuleID()
	for i := 0; i < 1000; i++ {
		id := NewRuleID()
		if id <= prev {
			t.Fatalf("NewRuleID() = %s not greater than %s", id, prev)
		}
		prev = id
	}
}
