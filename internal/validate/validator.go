// Package validate classifies and repairs raw payloads before the parser
// sees them. The validator issues an advisory verdict; the sanitizer rewrites
// content when the orchestrator decides repair is worth it.
package validate

import (
	"regexp"
	"strings"
)

// Verdict is the validator's classification of an entry payload.
type Verdict string

const (
	VerdictValid      Verdict = "VALID"
	VerdictRepairable Verdict = "REPAIRABLE"
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictInvalid    Verdict = "INVALID"
)

// Limits bound what the validator accepts.
type Limits struct {
	MaxContentLength int // bytes, default 1 MiB
	MaxLineLength    int // bytes, default 32 KiB
	MaxSourceLength  int // bytes for source_name / source_path
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		MaxContentLength: 1 << 20,
		MaxLineLength:    32 << 10,
		MaxSourceLength:  512,
	}
}

// Signature patterns for suspicious payloads. Matched case-insensitively
// against the whole content.
var suspiciousPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"sql_injection", regexp.MustCompile(`(?i)(union\s+select|insert\s+into|drop\s+table|delete\s+from|'\s*or\s+'?1'?\s*=\s*'?1|--\s*$)`)},
	{"xss", regexp.MustCompile(`(?i)(<script[\s>]|javascript:|onerror\s*=|onload\s*=|<iframe[\s>])`)},
	{"path_traversal", regexp.MustCompile(`(\.\./|\.\.\\|/etc/passwd|/etc/shadow|\\windows\\system32)`)},
	{"command_injection", regexp.MustCompile(`(?i)(;\s*(rm|cat|wget|curl|nc|bash|sh)\s|\$\([^)]*\)|` + "`[^`]*`" + `|&&\s*(rm|cat|wget|curl)\s|\|\s*(sh|bash)\b)`)},
	{"encoded_payload", regexp.MustCompile(`(?i)(%2e%2e%2f|%3cscript|%27%20or|\\x[0-9a-f]{2}\\x[0-9a-f]{2}|%00)`)},
}

// Validator applies size, charset, and signature checks to entries.
type Validator struct {
	limits Limits
}

// NewValidator builds a validator with the given limits; zero fields fall
// back to defaults.
func NewValidator(limits Limits) *Validator {
	d := DefaultLimits()
	if limits.MaxContentLength <= 0 {
		limits.MaxContentLength = d.MaxContentLength
	}
	if limits.MaxLineLength <= 0 {
		limits.MaxLineLength = d.MaxLineLength
	}
	if limits.MaxSourceLength <= 0 {
		limits.MaxSourceLength = d.MaxSourceLength
	}
	return &Validator{limits: limits}
}

// Limits exposes the effective limits (sanitizer shares them).
func (v *Validator) Limits() Limits { return v.limits }

// Validate classifies content plus its source fields.
//
// INVALID beats everything; REPAIRABLE beats SUSPICIOUS so the sanitizer
// runs before signature annotation matters.
func (v *Validator) Validate(content, sourcePath, sourceName string) Verdict {
	if content == "" {
		return VerdictInvalid
	}
	if len(content) > v.limits.MaxContentLength {
		return VerdictInvalid
	}
	if sourceName == "" || len(sourceName) > v.limits.MaxSourceLength || len(sourcePath) > v.limits.MaxSourceLength {
		return VerdictInvalid
	}

	if v.needsRepair(content) {
		return VerdictRepairable
	}

	for _, sig := range suspiciousPatterns {
		if sig.re.MatchString(content) {
			return VerdictSuspicious
		}
	}

	return VerdictValid
}

// needsRepair reports overlong lines or disallowed bytes.
func (v *Validator) needsRepair(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if len(line) > v.limits.MaxLineLength {
			return true
		}
	}
	for i := 0; i < len(content); i++ {
		if !allowedByte(content[i]) {
			return true
		}
	}
	return false
}

// DangerSignatures returns the names of all suspicious patterns present in
// the content. Used by the sanitizer to annotate without rewriting.
func DangerSignatures(content string) []string {
	var hits []string
	for _, sig := range suspiciousPatterns {
		if sig.re.MatchString(content) {
			hits = append(hits, sig.name)
		}
	}
	return hits
}

// allowedByte is printable ASCII plus tab, LF, CR.
func allowedByte(b byte) bool {
	if b == '\t' || b == '\n' || b == '\r' {
		return true
	}
	return b >= 0x20 && b <= 0x7e
}
