package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/tayteboss/bfl/internal/domain"
)

// ErrMalformedRule reports a rule payload that could not be decoded. Callers treat such a rule
// as absent and surface a RuleDiagnostic.
var ErrMalformedRule = errors.New("catalog: malformed rule")

// RuleKind names the rule attribute a diagnostic or rule belongs to.
type RuleKind string

const (
	RuleShowIf        RuleKind = "showIf"
	RuleDefaultIf     RuleKind = "defaultIf"
	RulePriceOverride RuleKind = "priceOverrides"
	// RuleAttribute marks a malformed catalog-level setting rather than an option rule.
	RuleAttribute RuleKind = "attribute"
)

// Clause constrains one referenced group. An empty Allowed list accepts any selection.
type Clause struct {
	Key     string
	Allowed []string
}

// Condition is a conjunction of clauses over the current selections.
type Condition struct {
	Clauses []Clause
}

// Matches reports whether every clause is satisfied. rendered tells whether a referenced group
// has inputs in the active block; a missing group never satisfies a clause.
func (c *Condition) Matches(sel domain.Selection, rendered func(key string) bool) bool {
	if c == nil || len(c.Clauses) == 0 {
		return false
	}
	for _, clause := range c.Clauses {
		if rendered != nil && !rendered(clause.Key) {
			return false
		}
		if len(clause.Allowed) == 0 {
			continue
		}
		value, ok := sel.Value(clause.Key)
		if !ok {
			return false
		}
		normalized := NormalizeValue(value)
		matched := false
		for _, allowed := range clause.Allowed {
			if allowed == normalized {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// References returns the canonical keys the condition depends on.
func (c *Condition) References() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Clauses))
	for _, clause := range c.Clauses {
		keys = append(keys, clause.Key)
	}
	return keys
}

// PricePoint is one value → price entry of an override.
type PricePoint struct {
	Value string
	Price int64
}

// PriceOverride replaces an option's price when the referenced group's selection appears in Prices.
type PriceOverride struct {
	Key    string
	Prices []PricePoint
}

// Lookup returns the override price for value. An exact match wins over a case-insensitive one.
func (o PriceOverride) Lookup(value string) (int64, bool) {
	for _, p := range o.Prices {
		if p.Value == value {
			return p.Price, true
		}
	}
	normalized := NormalizeValue(value)
	for _, p := range o.Prices {
		if NormalizeValue(p.Value) == normalized {
			return p.Price, true
		}
	}
	return 0, false
}

// Rule is the decoded form of one rule attribute.
type Rule struct {
	Kind      RuleKind
	Condition *Condition
	Overrides []PriceOverride
}

// Empty reports whether the rule constrains nothing. `{}` decodes to an empty rule.
func (r Rule) Empty() bool {
	return r.Condition == nil && len(r.Overrides) == 0
}

// RuleDiagnostic records a rule or setting that was dropped while loading.
type RuleDiagnostic struct {
	Service string
	Group   string
	Option  string
	Kind    RuleKind
	Raw     string
	Err     error
}

func (d RuleDiagnostic) Error() string {
	return fmt.Sprintf("%s %s/%s/%s: %v", d.Kind, d.Service, d.Group, d.Option, d.Err)
}

// ParseRule decodes a JSON rule attribute. Payloads that arrive HTML-entity encoded (once or
// twice, as storefront markup tends to produce) are unescaped before decoding.
func ParseRule(kind RuleKind, raw string) (Rule, error) {
	payload := strings.TrimSpace(raw)
	if payload == "" {
		return Rule{Kind: kind}, nil
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		rule, err := decodeRule(kind, []byte(payload))
		if err == nil {
			return rule, nil
		}
		lastErr = err
		unescaped := html.UnescapeString(payload)
		if unescaped == payload {
			break
		}
		payload = unescaped
	}
	return Rule{Kind: kind}, fmt.Errorf("%w: %v", ErrMalformedRule, lastErr)
}

type rawEntry struct {
	Key string
	Raw json.RawMessage
}

func decodeRule(kind RuleKind, data []byte) (Rule, error) {
	entries, err := decodeOrderedObject(data)
	if err != nil {
		return Rule{}, err
	}
	rule := Rule{Kind: kind}
	switch kind {
	case RuleShowIf, RuleDefaultIf:
		clauses := make([]Clause, 0, len(entries))
		for _, entry := range entries {
			values, err := decodeAllowed(entry.Raw)
			if err != nil {
				return Rule{}, fmt.Errorf("key %q: %w", entry.Key, err)
			}
			clauses = append(clauses, NewClause(entry.Key, values))
		}
		if len(clauses) > 0 {
			rule.Condition = &Condition{Clauses: clauses}
		}
	case RulePriceOverride:
		for _, entry := range entries {
			inner, err := decodeOrderedObject(entry.Raw)
			if err != nil {
				return Rule{}, fmt.Errorf("key %q: %w", entry.Key, err)
			}
			override := PriceOverride{Key: CanonicalKey(entry.Key)}
			for _, point := range inner {
				price, err := decodePrice(point.Raw)
				if err != nil {
					return Rule{}, fmt.Errorf("key %q value %q: %w", entry.Key, point.Key, err)
				}
				override.Prices = append(override.Prices, PricePoint{Value: strings.TrimSpace(point.Key), Price: price})
			}
			if len(override.Prices) > 0 {
				rule.Overrides = append(rule.Overrides, override)
			}
		}
	default:
		return Rule{}, fmt.Errorf("unknown rule kind %q", kind)
	}
	return rule, nil
}

// NewClause canonicalizes the key and normalizes every allowed value.
func NewClause(key string, allowed []string) Clause {
	clause := Clause{Key: CanonicalKey(key)}
	for _, v := range allowed {
		if n := NormalizeValue(v); n != "" {
			clause.Allowed = append(clause.Allowed, n)
		}
	}
	return clause
}

func decodeOrderedObject(data []byte) ([]rawEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var entries []rawEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		entries = append(entries, rawEntry{Key: key, Raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after object")
	}
	return entries, nil
}

func decodeAllowed(raw json.RawMessage) ([]string, error) {
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		values := make([]string, 0, len(list))
		for _, item := range list {
			values = append(values, scalarString(item))
		}
		return values, nil
	}
	var single any
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	switch v := single.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return nil, errors.New("allowed values must be a list or scalar")
	default:
		return []string{scalarString(v)}, nil
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func decodePrice(raw json.RawMessage) (int64, error) {
	var number json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case json.Number:
		number = t
	case string:
		return domain.ParseDecimal(t)
	default:
		return 0, fmt.Errorf("price must be a number, got %T", v)
	}
	f, err := number.Float64()
	if err != nil {
		return 0, err
	}
	return domain.ToMinor(f), nil
}
