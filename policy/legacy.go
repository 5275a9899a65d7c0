// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package policy

import (
	"encoding/json"
)

// Older deployments persisted the "trusted"/"track" policy vocabulary;
// the current schema uses "followed"/"allow"/"block". Reads tolerate
// either, writes always produce the new names.

// legacyRule maps a persisted rule string, old or new, to the current
// Rule vocabulary.
func legacyRule(s string) (Rule, bool) {
	switch s {
	case "allow", "trusted", "track":
		return RuleAllow, true
	case "block", "untrusted":
		return RuleBlock, true
	default:
		return "", false
	}
}

// legacyScope maps a persisted scope string, old or new, to the current
// Scope vocabulary.
func legacyScope(s string) (Scope, bool) {
	switch s {
	case "followed", "trusted":
		return ScopeFollowed, true
	case "all":
		return ScopeAll, true
	default:
		return "", false
	}
}

// UnmarshalJSON accepts both vocabularies for a follow entry's rule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if mapped, ok := legacyRule(s); ok {
		*r = mapped
		return nil
	}
	// Unknown rule strings are preserved rather than rejected so a
	// newer schema can still be read; decision functions treat anything
	// that is not an explicit allow as not-allowed.
	*r = Rule(s)
	return nil
}

// UnmarshalJSON accepts both vocabularies for a seed entry's scope.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if mapped, ok := legacyScope(raw); ok {
		*s = mapped
		return nil
	}
	*s = Scope(raw)
	return nil
}
