// Package anomaly inspects inbound request content for known attack
// signatures: path traversal, SQL injection and script injection. Detection
// is a heuristic monitor tuned for recall, not a firewall; callers decide
// what to do with a positive report.
package anomaly

import "regexp"

// Snapshot is the serialized view of one inbound request.
type Snapshot struct {
	Path  string
	Query string
	Body  string
}

// Report is the result of inspecting one Snapshot.
type Report struct {
	Suspicious      bool
	MatchedPatterns []string
}

type signature struct {
	name string
	re   *regexp.Regexp
}

// Detector matches a fixed signature set against request snapshots. It is
// immutable after construction and safe for concurrent use.
type Detector struct {
	signatures []signature
}

// NewDetector compiles the default signature set.
func NewDetector() *Detector {
	return &Detector{signatures: []signature{
		{"path_traversal", regexp.MustCompile(`(?i)\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f|%252e%252e`)},
		{"sql_injection", regexp.MustCompile(`(?i)'\s*or\s+[\w']+\s*=\s*[\w']+|union[\s/*]+select|;\s*drop\s+table|insert\s+into|delete\s+from|--\s*$|--\s`)},
		{"script_injection", regexp.MustCompile(`(?i)<\s*script|javascript\s*:|\bon(load|error|click|mouseover)\s*=`)},
	}}
}

// Inspect runs every signature against path, query and body of the snapshot.
// It is a pure function of its input: no mutation, no blocking, always
// returns. False positives are acceptable by design.
func (d *Detector) Inspect(s Snapshot) Report {
	var matched []string
	for _, sig := range d.signatures {
		if sig.re.MatchString(s.Path) || sig.re.MatchString(s.Query) || sig.re.MatchString(s.Body) {
			matched = append(matched, sig.name)
		}
	}
	return Report{Suspicious: len(matched) > 0, MatchedPatterns: matched}
}
