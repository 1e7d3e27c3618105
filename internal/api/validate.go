package api

import (
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// maxNameLen is the maximum length for rule names.
const maxNameLen = 200

// maxShortStringLen is the maximum length for contexts, targets and dialed numbers.
const maxShortStringLen = 64

// maxPatternLen is the maximum length for rule patterns.
const maxPatternLen = 512

// maxActionDataLen is the maximum length for an action's data argument.
const maxActionDataLen = 1000

// maxActions is the maximum number of actions a single rule may carry.
const maxActions = 32

// maxSequence bounds rule sequence numbers.
const maxSequence = 1_000_000

// contextRe validates context names as they appear in URLs and documents.
var contextRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// validateStringLen checks that a string does not exceed maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen characters.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateContextName checks a context name is non-empty and URL safe.
func validateContextName(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !contextRe.MatchString(value) {
		return field + " may only contain letters, digits, '_', '.' and '-' (max 64)"
	}
	return ""
}

// validateIntRange checks that an optional int pointer is within [min, max].
func validateIntRange(field string, value *int, min, max int) string {
	if value == nil {
		return ""
	}
	if *value < min || *value > max {
		return field + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max)
	}
	return ""
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	if containsControlChars(value) {
		return field + " contains invalid characters"
	}
	return ""
}

// validateActions bounds the action list of a rule.
func validateActions(actions []models.ActionDirective) string {
	if len(actions) > maxActions {
		return "actions exceeds maximum of " + strconv.Itoa(maxActions)
	}
	for i, a := range actions {
		field := "actions[" + strconv.Itoa(i) + "]"
		if msg := validateRequiredStringLen(field+".command", a.Command, maxShortStringLen); msg != "" {
			return msg
		}
		if msg := validateStringLen(field+".data", a.Data, maxActionDataLen); msg != "" {
			return msg
		}
		if msg := validateNoControlChars(field+".data", a.Data); msg != "" {
			return msg
		}
	}
	return ""
}

// firstError returns the first non-empty message.
func firstError(msgs ...string) string {
	for _, m := range msgs {
		if m != "" {
			return m
		}
	}
	return ""
}
