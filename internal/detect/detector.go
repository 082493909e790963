package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// timestampProbe is one entry in the timestamp catalog.
type timestampProbe struct {
	name   string
	re     *regexp.Regexp
	layout string
}

// Catalog order matters: the first probe with the highest match count wins,
// keeping detection stable across runs.
var timestampProbes = []timestampProbe{
	{"syslog", regexp.MustCompile(`[A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}`), "Jan _2 15:04:05"},
	{"iso_second", regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`), "2006-01-02T15:04:05"},
	{"iso_milli", regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}\.\d{3}`), "2006-01-02T15:04:05.000"},
	{"us_slash", regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}\s+\d{2}:\d{2}:\d{2}`), "1/2/2006 15:04:05"},
	{"epoch_seconds", regexp.MustCompile(`\b1\d{9}\b`), ""},
	{"epoch_millis", regexp.MustCompile(`\b1\d{12}\b`), ""},
	{"apache_bracketed", regexp.MustCompile(`\[\d{2}/[A-Z][a-z]{2}/\d{4}:\d{2}:\d{2}:\d{2}[^\]]*\]`), "02/Jan/2006:15:04:05 -0700"},
}

// fieldProbe is one entry in the field-structure catalog.
type fieldProbe struct {
	name    string
	re      *regexp.Regexp
	capture string // regex fragment used when synthesizing
}

var fieldProbes = []fieldProbe{
	{"hostname", regexp.MustCompile(`(?:^|\s)([a-zA-Z][a-zA-Z0-9._-]{1,62})(?:\s|$)`), `(\S+)`},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), `((?:\d{1,3}\.){3}\d{1,3})`},
	{"process", regexp.MustCompile(`\b([a-zA-Z_][\w./-]*)(?:\[\d+\])?:`), `([\w./-]+)`},
	{"pid", regexp.MustCompile(`\[(\d+)\]`), `(?:\[(\d+)\])?`},
	{"level", regexp.MustCompile(`\b(TRACE|DEBUG|INFO|NOTICE|WARN|WARNING|ERROR|CRIT|FATAL)\b`), `(\w+)`},
	{"quoted", regexp.MustCompile(`"[^"]*"`), `("[^"]*")`},
	{"bracketed", regexp.MustCompile(`\[[^\]]+\]`), `(\[[^\]]+\])`},
	{"parenthesized", regexp.MustCompile(`\([^)]*\)`), `(\([^)]*\))`},
}

// delimiters counted for structured-format detection. Space is counted but
// never qualifies as "structured".
var delimiterCatalog = []string{"\t", "|", ",", ";", ":", "="}

// consistencyRatio is the share of sample lines a field must appear in.
const consistencyRatio = 0.3

// startColumnVarianceMax bounds how much a field's start column may wander.
const startColumnVarianceMax = 400.0

// maxColumns caps synthesized delimiter patterns.
const maxColumns = 6

// Detection is the detector's analysis of one sample window.
type Detection struct {
	Pattern          *FormatPattern
	TimestampProbe   string
	TimestampRatio   float64
	ConsistentFields []string
	StructuredDelim  string
	SampleSize       int
}

// Detector synthesizes patterns from sample windows.
type Detector struct {
	minSample int
	maxSample int
}

// NewDetector builds a detector with the stock 10..50-line window.
func NewDetector() *Detector {
	return &Detector{minSample: 1, maxSample: 50}
}

// Detect analyzes a sample and synthesizes the best pattern for it.
// Detection is deterministic: the same sample yields the same pattern.
func (d *Detector) Detect(name string, sample []string) (*Detection, error) {
	lines := make([]string, 0, len(sample))
	for _, l := range sample {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < d.minSample {
		return nil, fmt.Errorf("sample too small: %d lines", len(lines))
	}
	if len(lines) > d.maxSample {
		lines = lines[:d.maxSample]
	}

	det := &Detection{SampleSize: len(lines)}

	tsProbe, tsRatio := d.bestTimestamp(lines)
	if tsProbe != nil {
		det.TimestampProbe = tsProbe.name
		det.TimestampRatio = tsRatio
	}
	det.ConsistentFields = d.consistentFields(lines)
	det.StructuredDelim = d.structuredDelimiter(lines)

	switch {
	case tsProbe != nil:
		det.Pattern = d.synthesizeTimestampPattern(name, tsProbe, tsRatio, det.ConsistentFields, lines)
	case det.StructuredDelim != "":
		det.Pattern = d.synthesizeDelimiterPattern(name, det.StructuredDelim, lines)
	default:
		det.Pattern = &FormatPattern{
			Name:         name + "_greedy",
			Regex:        `^(.+)$`,
			Confidence:   ConfidenceLow,
			FieldMapping: map[string]int{"message": 1},
			Frequency:    1,
		}
	}
	det.Pattern.SampleLines = firstN(lines, 5)
	return det, nil
}

// bestTimestamp returns the probe with the most matches across the sample.
// Earlier catalog entries win ties.
func (d *Detector) bestTimestamp(lines []string) (*timestampProbe, float64) {
	bestIdx := -1
	bestCount := 0
	for i := range timestampProbes {
		count := 0
		for _, line := range lines {
			if timestampProbes[i].re.MatchString(line) {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestCount == 0 {
		return nil, 0
	}
	return &timestampProbes[bestIdx], float64(bestCount) / float64(len(lines))
}

// consistentFields returns catalog fields appearing in >=30% of lines with a
// stable start column.
func (d *Detector) consistentFields(lines []string) []string {
	var consistent []string
	for _, probe := range fieldProbes {
		var cols []float64
		for _, line := range lines {
			if loc := probe.re.FindStringIndex(line); loc != nil {
				cols = append(cols, float64(loc[0]))
			}
		}
		if float64(len(cols)) < consistencyRatio*float64(len(lines)) {
			continue
		}
		if variance(cols) <= startColumnVarianceMax {
			consistent = append(consistent, probe.name)
		}
	}
	return consistent
}

// structuredDelimiter returns the first catalog delimiter occurring more than
// twice per sample line on average, or "".
func (d *Detector) structuredDelimiter(lines []string) string {
	threshold := 2 * len(lines)
	for _, delim := range delimiterCatalog {
		total := 0
		for _, line := range lines {
			total += strings.Count(line, delim)
		}
		if total > threshold {
			return delim
		}
	}
	return ""
}

func (d *Detector) synthesizeTimestampPattern(name string, ts *timestampProbe, tsRatio float64, consistent []string, lines []string) *FormatPattern {
	has := func(field string) bool {
		for _, f := range consistent {
			if f == field {
				return true
			}
		}
		return false
	}

	var b strings.Builder
	mapping := map[string]int{}
	group := 1

	b.WriteString(`^.*?(`)
	b.WriteString(ts.re.String())
	b.WriteString(`)`)
	mapping["timestamp"] = group
	group++

	fieldCount := 0
	if has("hostname") {
		b.WriteString(`\s+(\S+)`)
		mapping["hostname"] = group
		group++
		fieldCount++
	}
	if has("process") {
		b.WriteString(`\s+([\w./-]+)`)
		mapping["process"] = group
		group++
		fieldCount++
	}
	if has("pid") {
		b.WriteString(`(?:\[(\d+)\])?`)
		mapping["pid"] = group
		group++
		fieldCount++
	}
	b.WriteString(`:?\s*(.+)$`)
	mapping["message"] = group

	confidence := ConfidenceLow
	switch {
	case tsRatio >= 0.9 && fieldCount >= 2:
		confidence = ConfidenceHigh
	case fieldCount >= 1:
		confidence = ConfidenceMedium
	}

	return &FormatPattern{
		Name:            name + "_" + ts.name,
		Regex:           b.String(),
		Confidence:      confidence,
		FieldMapping:    mapping,
		TimestampFormat: ts.layout,
		Frequency:       1,
	}
}

func (d *Detector) synthesizeDelimiterPattern(name, delim string, lines []string) *FormatPattern {
	counts := make([]int, 0, len(lines))
	for _, line := range lines {
		counts = append(counts, strings.Count(line, delim)+1)
	}
	sort.Ints(counts)
	cols := counts[len(counts)/2]
	if cols > maxColumns {
		cols = maxColumns
	}
	if cols < 2 {
		cols = 2
	}

	esc := regexp.QuoteMeta(delim)
	cell := `([^` + esc + `]*)`
	parts := make([]string, cols)
	for i := range parts {
		parts[i] = cell
	}

	mapping := map[string]int{}
	for i := 0; i < cols-1; i++ {
		mapping[fmt.Sprintf("field_%d", i+1)] = i + 1
	}
	mapping["message"] = cols

	return &FormatPattern{
		Name:         name + "_delimited",
		Regex:        `^` + strings.Join(parts, esc),
		Confidence:   ConfidenceMedium,
		FieldMapping: mapping,
		Delimiter:    delim,
		Frequency:    1,
	}
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return v / float64(len(xs))
}

func firstN(lines []string, n int) []string {
	if len(lines) <= n {
		out := make([]string, len(lines))
		copy(out, lines)
		return out
	}
	out := make([]string, n)
	copy(out, lines[:n])
	return out
}
