package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ExtractionRule declares how a single field is materialised from stored
// content. At most one of CSS, Regex and FixedValue may be set; a rule with
// none of them resolves to DefaultValue (or the empty string).
type ExtractionRule struct {
	FieldName    string `json:"field_name" yaml:"field_name"`
	CSS          string `json:"css,omitempty" yaml:"css,omitempty"`
	Regex        string `json:"regex,omitempty" yaml:"regex,omitempty"`
	FixedValue   string `json:"fixed_value,omitempty" yaml:"fixed_value,omitempty"`
	Attribute    string `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	DefaultValue string `json:"default_value,omitempty" yaml:"default_value,omitempty"`
}

// Validate checks the rule is well formed.
func (r ExtractionRule) Validate() error {
	if r.FieldName == "" {
		return fmt.Errorf("extraction rule is missing field_name")
	}
	set := 0
	if r.CSS != "" {
		set++
	}
	if r.Regex != "" {
		set++
	}
	if r.FixedValue != "" {
		set++
	}
	if set > 1 {
		return fmt.Errorf("extraction rule %q sets more than one of css, regex and fixed_value", r.FieldName)
	}
	if r.Regex != "" {
		if _, err := regexp.Compile(r.Regex); err != nil {
			return fmt.Errorf("extraction rule %q has invalid regex: %w", r.FieldName, err)
		}
	}
	return nil
}

// ExtractionRules is the ordered rule list applied during an extraction pass.
type ExtractionRules struct {
	Rules []ExtractionRule `json:"rules" yaml:"rules"`
}

// Validate checks every rule in order.
func (rs *ExtractionRules) Validate() error {
	for _, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether there are no rules to apply.
func (rs *ExtractionRules) Empty() bool {
	return rs == nil || len(rs.Rules) == 0
}

// FieldNames returns the declared field names in rule order.
func (rs *ExtractionRules) FieldNames() []string {
	names := make([]string, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		names = append(names, r.FieldName)
	}
	return names
}

// Fingerprint returns a 32-bit hash over the canonical JSON of the ordered
// rule list, rendered as a decimal string. Stored on records as parsed_hash
// so a changed rule set invalidates previously extracted fields. A nil or
// empty rule set hashes the empty list.
func (rs *ExtractionRules) Fingerprint() string {
	rules := []ExtractionRule{}
	if rs != nil && rs.Rules != nil {
		rules = rs.Rules
	}
	data, err := json.Marshal(rules)
	if err != nil {
		// Rules are plain strings; marshalling cannot fail in practice.
		return ""
	}
	sum := uint32(xxhash.Sum64(data))
	return strconv.FormatUint(uint64(sum), 10)
}
