package api

import (
	"strings"
	"testing"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

func TestValidateContextName(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"public", true},
		{"from-trunk_2.alt", true},
		{"", false},
		{"has space", false},
		{"../etc", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		msg := validateContextName("context", tt.value)
		if (msg == "") != tt.ok {
			t.Errorf("validateContextName(%q) = %q, ok want %v", tt.value, msg, tt.ok)
		}
	}
}

func TestValidateIntRange(t *testing.T) {
	low, mid, high := -1, 10, maxSequence+1
	if msg := validateIntRange("sequence", nil, 0, maxSequence); msg != "" {
		t.Errorf("nil value: %q", msg)
	}
	if msg := validateIntRange("sequence", &mid, 0, maxSequence); msg != "" {
		t.Errorf("in range: %q", msg)
	}
	if msg := validateIntRange("sequence", &low, 0, maxSequence); msg != "sequence must be between 0 and 1000000" {
		t.Errorf("below range: %q", msg)
	}
	if msg := validateIntRange("sequence", &high, 0, maxSequence); msg == "" {
		t.Error("above range accepted")
	}
}

func TestValidateActions(t *testing.T) {
	if msg := validateActions([]models.ActionDirective{{Command: "answer"}, {Command: "set", Data: "a=b"}}); msg != "" {
		t.Errorf("valid actions rejected: %q", msg)
	}
	if msg := validateActions([]models.ActionDirective{{Data: "x"}}); msg != "actions[0].command is required" {
		t.Errorf("missing command: %q", msg)
	}
	if msg := validateActions([]models.ActionDirective{{Command: "set", Data: "a\x00b"}}); msg == "" {
		t.Error("control characters accepted")
	}
	if msg := validateActions(make([]models.ActionDirective, maxActions+1)); msg == "" {
		t.Error("too many actions accepted")
	}
}

func TestValidateStringLenCountsRunes(t *testing.T) {
	if msg := validateStringLen("name", strings.Repeat("é", maxNameLen), maxNameLen); msg != "" {
		t.Errorf("multi-byte name at limit rejected: %q", msg)
	}
	if msg := validateRequiredStringLen("name", "", maxNameLen); msg != "name is required" {
		t.Errorf("empty required: %q", msg)
	}
}
