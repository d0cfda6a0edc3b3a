// Package intake turns a raw registration form into a triage.Assessment.
//
// Fields may arrive as JSON numbers, numeric strings, empty strings or be
// missing. Missing and empty optional vitals become unknown, never normal.
// Every field problem is collected into one ValidationError.
package intake

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/linnemanlabs/acuity/internal/triage"
)

// Accepted ranges, inclusive.
var (
	ageRange         = bounds{0, 120}
	systolicRange    = bounds{60, 250}
	diastolicRange   = bounds{40, 150}
	heartRateRange   = bounds{30, 200}
	temperatureRange = bounds{32, 42}
	oxygenRange      = bounds{70, 100}
	respRange        = bounds{8, 40}
	painRange        = bounds{0, 10}
)

const maxComplaintLen = 500

type bounds struct{ lo, hi float64 }

func (b bounds) contains(v float64) bool { return v >= b.lo && v <= b.hi }

// FieldError is one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field in a form.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid assessment: " + strings.Join(parts, "; ")
}

type collector struct {
	errs []FieldError
}

func (c *collector) add(field, format string, args ...any) {
	c.errs = append(c.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: c.errs}
}

// Normalize validates raw and builds an Assessment. raw is typically a JSON
// object decoded with UseNumber, but float64 and string values work as well.
// Vitals may be nested under "vitals" or given at the top level.
func Normalize(raw map[string]any) (*triage.Assessment, error) {
	c := &collector{}
	a := &triage.Assessment{}

	if s, ok := optionalString(c, raw, "patient_id"); ok {
		a.PatientID = s
	}

	a.Name = requiredString(c, raw, "name", 200)
	a.ChiefComplaint = requiredString(c, raw, "chief_complaint", maxComplaintLen)
	if age, ok := number(c, raw, "age", ageRange, true); ok {
		a.Age = int(age)
	} else if _, present := raw["age"]; !present || isEmpty(raw["age"]) {
		c.add("age", "is required")
	}

	if s, ok := optionalString(c, raw, "gender"); ok {
		a.Gender = normalizeGender(s)
	}

	vitals := mergeVitals(c, raw)
	a.Vitals.Systolic = optionalInt(c, vitals, "bp_systolic", systolicRange)
	a.Vitals.Diastolic = optionalInt(c, vitals, "bp_diastolic", diastolicRange)
	a.Vitals.HeartRate = optionalInt(c, vitals, "heart_rate", heartRateRange)
	if v, ok := number(c, vitals, "temperature", temperatureRange, false); ok {
		a.Vitals.Temperature = &v
	}
	a.Vitals.OxygenSat = optionalInt(c, vitals, "o2_saturation", oxygenRange)
	a.Vitals.RespiratoryRate = optionalInt(c, vitals, "respiratory_rate", respRange)

	a.Pain = optionalInt(c, raw, "pain_scale", painRange)

	if s, ok := optionalString(c, raw, "consciousness_level"); ok {
		lvl, valid := parseConsciousness(s)
		if !valid {
			c.add("consciousness_level", "must be one of Alert, Voice, Pain, Unresponsive")
		}
		a.Consciousness = lvl
	}

	a.Bleeding = optionalBool(c, raw, "bleeding")
	a.BreathingDiff = optionalBool(c, raw, "breathing_difficulty")
	a.Trauma = optionalBool(c, raw, "trauma_indicator")

	a.History = stringMap(c, raw, "medical_history")
	a.Allergies = stringList(c, raw, "allergies")
	a.Medications = stringList(c, raw, "current_medications")

	if err := c.err(); err != nil {
		return nil, err
	}
	return a, nil
}

var vitalFields = []string{"bp_systolic", "bp_diastolic", "heart_rate", "temperature", "o2_saturation", "respiratory_rate"}

// mergeVitals combines the nested "vitals" object with top-level vital keys.
// A vital given in both places is a conflict.
func mergeVitals(c *collector, raw map[string]any) map[string]any {
	nestedRaw, ok := raw["vitals"]
	if !ok || nestedRaw == nil {
		return raw
	}
	nested, ok := nestedRaw.(map[string]any)
	if !ok {
		c.add("vitals", "must be an object")
		return raw
	}

	merged := make(map[string]any, len(vitalFields))
	for _, f := range vitalFields {
		inner, hasInner := nested[f]
		outer, hasOuter := raw[f]
		hasInner = hasInner && !isEmpty(inner)
		hasOuter = hasOuter && !isEmpty(outer)
		switch {
		case hasInner && hasOuter:
			c.add(f, "given both in vitals and at the top level")
		case hasInner:
			merged[f] = inner
		case hasOuter:
			merged[f] = outer
		}
	}
	return merged
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func requiredString(c *collector, raw map[string]any, field string, maxLen int) string {
	s, ok := optionalString(c, raw, field)
	if !ok {
		if _, present := raw[field]; !present || isEmpty(raw[field]) {
			c.add(field, "is required")
		}
		return ""
	}
	if len(s) > maxLen {
		c.add(field, "must be at most %d characters", maxLen)
	}
	return s
}

// optionalString reports ok only for a present, non-empty string. A value of
// another type is recorded as an error.
func optionalString(c *collector, raw map[string]any, field string) (string, bool) {
	v, present := raw[field]
	if !present || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		c.add(field, "must be a string")
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// number parses a numeric field. Absent, null and empty values report
// ok=false without an error. integral rejects fractional values.
func number(c *collector, raw map[string]any, field string, b bounds, integral bool) (float64, bool) {
	v, present := raw[field]
	if !present || isEmpty(v) {
		return 0, false
	}

	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			c.add(field, "must be a number")
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			c.add(field, "must be a number")
			return 0, false
		}
		f = parsed
	default:
		c.add(field, "must be a number")
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		c.add(field, "must be a finite number")
		return 0, false
	}
	if integral && f != math.Trunc(f) {
		c.add(field, "must be a whole number")
		return 0, false
	}
	if !b.contains(f) {
		c.add(field, "must be between %g and %g", b.lo, b.hi)
		return 0, false
	}
	return f, true
}

func optionalInt(c *collector, raw map[string]any, field string, b bounds) *int {
	f, ok := number(c, raw, field, b, true)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

func optionalBool(c *collector, raw map[string]any, field string) bool {
	v, present := raw[field]
	if !present || isEmpty(v) {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			c.add(field, "must be true or false")
			return false
		}
		return parsed
	default:
		c.add(field, "must be true or false")
		return false
	}
}

func parseConsciousness(s string) (triage.Consciousness, bool) {
	switch strings.ToLower(s) {
	case "a", "alert":
		return triage.ConsciousnessAlert, true
	case "v", "voice":
		return triage.ConsciousnessVoice, true
	case "p", "pain":
		return triage.ConsciousnessPain, true
	case "u", "unresponsive":
		return triage.ConsciousnessUnresponsive, true
	}
	return triage.ConsciousnessUnknown, false
}

func normalizeGender(s string) string {
	switch strings.ToLower(s) {
	case "m", "male", "man":
		return "Male"
	case "f", "female", "woman":
		return "Female"
	case "o", "other", "nonbinary", "non-binary":
		return "Other"
	}
	return "Unknown"
}

func stringList(c *collector, raw map[string]any, field string) []string {
	v, present := raw[field]
	if !present || v == nil {
		return nil
	}
	var items []any
	switch l := v.(type) {
	case []any:
		items = l
	case []string:
		for _, s := range l {
			items = append(items, s)
		}
	default:
		c.add(field, "must be a list of strings")
		return nil
	}

	seen := make(map[string]struct{}, len(items))
	var out []string
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			c.add(fmt.Sprintf("%s[%d]", field, i), "must be a string")
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func stringMap(c *collector, raw map[string]any, field string) map[string]string {
	v, present := raw[field]
	if !present || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		c.add(field, "must be an object of strings")
		return nil
	}
	if len(m) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(m))
	for _, k := range keys {
		switch val := m[k].(type) {
		case string:
			out[k] = strings.TrimSpace(val)
		case bool:
			out[k] = strconv.FormatBool(val)
		case json.Number:
			out[k] = val.String()
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case nil:
			out[k] = ""
		default:
			c.add(field+"."+k, "must be a string")
		}
	}
	return out
}
