// Package risk defines the risk taxonomy shared by all classification layers.
package risk

import "fmt"

// Level is the unified risk tier. Levels are totally ordered so that merge
// logic can always take the more severe of two verdicts.
type Level int

const (
	// Safe commands skip approval entirely.
	Safe Level = iota
	// Moderate commands warrant a warning but are overridable.
	Moderate
	// High commands require explicit human approval.
	High
	// Critical commands require the strongest confirmation and may be
	// marked non-overridable.
	Critical
)

// String returns the canonical upper-case name used in wire formats and logs.
func (l Level) String() string {
	switch l {
	case Safe:
		return "SAFE"
	case Moderate:
		return "MODERATE"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel converts a wire-format name into a Level. The classifier
// collaborator speaks a three-tier vocabulary; DANGEROUS maps to High.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "SAFE":
		return Safe, nil
	case "MODERATE", "CAUTION", "LOW":
		return Moderate, nil
	case "HIGH", "DANGEROUS":
		return High, nil
	case "CRITICAL":
		return Critical, nil
	default:
		return Moderate, fmt.Errorf("unknown risk level %q", s)
	}
}

// Max returns the more severe of two levels.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Source identifies which layer produced a verdict.
type Source string

const (
	// SourcePattern means the deterministic pattern layer decided alone.
	SourcePattern Source = "pattern"
	// SourceModel means the semantic model decided without arbitration.
	SourceModel Source = "model"
	// SourceArbitration means arbitration overrode the model.
	SourceArbitration Source = "arbitration"
	// SourceArbitrationConservative means arbitration tried to exonerate a
	// flagged command and was clamped.
	SourceArbitrationConservative Source = "arbitration_conservative"
	// SourceModelPlusArbitration means arbitration agreed with the model.
	SourceModelPlusArbitration Source = "model+arbitration"
)

// SubjectKind identifies what kind of text a verdict classifies.
type SubjectKind string

const (
	SubjectCommand SubjectKind = "command"
	SubjectPath    SubjectKind = "path"
	SubjectContent SubjectKind = "content"
)

// LayerTrace records which layer fired and its raw outcome, for
// observability only. The engine never consults it when deciding.
type LayerTrace struct {
	Layer    string  `json:"layer"`
	Risk     Level   `json:"risk"`
	Detail   string  `json:"detail,omitempty"`
	Elapsed  int64   `json:"elapsed_ms"`
	Degraded bool    `json:"degraded,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// Verdict is the result of classifying a single subject. It is constructed
// once per classification call and never mutated afterwards.
type Verdict struct {
	// Subject is the text that was classified.
	Subject string `json:"subject"`
	// Kind identifies the subject type.
	Kind SubjectKind `json:"kind"`
	// Risk is the final merged risk level.
	Risk Level `json:"risk"`
	// Confidence is the classifier confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Coverage reports how close the subject is to labeled training data.
	// Low coverage means the verdict is extrapolated and untrustworthy.
	Coverage float64 `json:"coverage_score"`
	// Reason is a human-readable explanation.
	Reason string `json:"reason"`
	// Source names the layer that produced the final decision.
	Source Source `json:"source"`
	// CanOverride reports whether a human may approve the command anyway.
	CanOverride bool `json:"can_override"`
	// NeedsArbitration is set when the model layer was uncertain.
	NeedsArbitration bool `json:"needs_arbitration"`
	// Layers traces each layer that ran. Observability only.
	Layers []LayerTrace `json:"layers,omitempty"`
}

// NeedsApproval reports whether the verdict requires the approval gate.
func (v *Verdict) NeedsApproval() bool {
	return v.Risk >= Moderate
}

// Blocked reports whether the verdict denies the command outright, with no
// possibility of human override.
func (v *Verdict) Blocked() bool {
	return v.Risk >= High && !v.CanOverride
}
