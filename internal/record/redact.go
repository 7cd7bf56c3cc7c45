package record

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/spool/internal/luhn"
)

// Pattern is a named PII pattern.
type Pattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	re          *regexp.Regexp
	validate    func(string) bool // post-match check, e.g. Luhn
}

// Redactor scrubs PII from the string values of a record.
type Redactor struct {
	patterns []Pattern
	onRedact func(pattern string)
}

// identity fields are never rewritten
var reservedKeys = map[string]bool{
	"messageId": true,
	"timestamp": true,
	"type":      true,
}

var builtinPatterns = []Pattern{
	{
		Name:        "credit_card",
		Pattern:     `\b(\d[ -]*?){13,19}\b`,
		Replacement: "[REDACTED:cc]",
	},
	{
		Name:        "email",
		Pattern:     `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`,
		Replacement: "[REDACTED:email]",
	},
	{
		Name:        "jwt",
		Pattern:     `eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`,
		Replacement: "[REDACTED:jwt]",
	},
	{
		Name:        "bearer",
		Pattern:     `(?i)(?:Bearer\s+|Authorization:\s*Bearer\s+)[A-Za-z0-9_\-.]+`,
		Replacement: "[REDACTED:bearer]",
	},
	{
		Name:        "ip_v4",
		Pattern:     `\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]\d|\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]\d|\d)\b`,
		Replacement: "[REDACTED:ip]",
	},
	{
		Name:        "ssn",
		Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
		Replacement: "[REDACTED:ssn]",
	},
	{
		Name:        "phone",
		Pattern:     `(?:\+\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`,
		Replacement: "[REDACTED:phone]",
	},
}

// NewRedactor enables the named built-in patterns, or all of them when names
// is empty.
func NewRedactor(names []string) (*Redactor, error) {
	var selected []Pattern
	if len(names) == 0 {
		selected = append(selected, builtinPatterns...)
	} else {
		byName := make(map[string]Pattern, len(builtinPatterns))
		for _, p := range builtinPatterns {
			byName[p.Name] = p
		}
		for _, n := range names {
			p, ok := byName[n]
			if !ok {
				return nil, fmt.Errorf("unknown redaction pattern: %s", n)
			}
			selected = append(selected, p)
		}
	}
	patterns, err := compilePatterns(selected)
	if err != nil {
		return nil, err
	}
	return &Redactor{patterns: patterns}, nil
}

// LoadPatterns appends patterns from a YAML list of {name, pattern, replacement}.
func (r *Redactor) LoadPatterns(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read patterns file: %w", err)
	}
	var custom []Pattern
	if err := yaml.Unmarshal(data, &custom); err != nil {
		return fmt.Errorf("parse patterns file: %w", err)
	}
	compiled, err := compilePatterns(custom)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, compiled...)
	return nil
}

// SetOnRedact sets a callback invoked with the pattern name on every hit.
// It must be set before the Redactor is shared between goroutines.
func (r *Redactor) SetOnRedact(fn func(pattern string)) {
	r.onRedact = fn
}

// PatternNames returns the names of active patterns.
func (r *Redactor) PatternNames() []string {
	names := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		names[i] = p.Name
	}
	return names
}

// Redact replaces every PII match in s with its marker.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		if p.validate != nil {
			s = p.re.ReplaceAllStringFunc(s, func(match string) string {
				if !p.validate(match) {
					return match
				}
				r.hit(p.Name)
				return p.Replacement
			})
			continue
		}
		before := s
		s = p.re.ReplaceAllString(s, p.Replacement)
		if s != before {
			r.hit(p.Name)
		}
	}
	return s
}

// RedactObject rewrites string values of obj in place, recursing into nested
// objects and arrays. Identity fields at the top level are left alone.
func (r *Redactor) RedactObject(obj map[string]any) {
	for k, v := range obj {
		if reservedKeys[k] {
			continue
		}
		obj[k] = r.redactValue(v)
	}
}

func (r *Redactor) redactValue(v any) any {
	switch v := v.(type) {
	case string:
		return r.Redact(v)
	case map[string]any:
		for k, inner := range v {
			v[k] = r.redactValue(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = r.redactValue(inner)
		}
		return v
	default:
		return v
	}
}

func (r *Redactor) hit(name string) {
	if r.onRedact != nil {
		r.onRedact(name)
	}
}

func compilePatterns(patterns []Pattern) ([]Pattern, error) {
	compiled := make([]Pattern, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %s: %w", p.Name, err)
		}
		compiled[i] = p
		compiled[i].re = re
		if p.Replacement == "" {
			compiled[i].Replacement = "[REDACTED:" + p.Name + "]"
		}
		if p.Name == "credit_card" {
			compiled[i].validate = luhn.CardNumber
		}
	}
	return compiled, nil
}

// ParseRedactList parses a redaction setting: "" disables, "true" or "all"
// enables every built-in pattern, "a,b" enables a subset.
func ParseRedactList(val string) (enabled bool, names []string) {
	val = strings.TrimSpace(val)
	switch val {
	case "", "false":
		return false, nil
	case "true", "all":
		return true, nil
	}
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return true, names
}
