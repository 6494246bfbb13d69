// Package engine orchestrates the classification layers. The pattern layer
// is authoritative and short-circuits; the semantic model is consulted next;
// arbitration runs only when the model is uncertain. Every merge rule bends
// toward caution: no failure and no arbitration answer can make a verdict
// more permissive than the policy allows.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/the-radar/deliberate/internal/arbiter"
	"github.com/the-radar/deliberate/internal/audit"
	"github.com/the-radar/deliberate/internal/model"
	"github.com/the-radar/deliberate/internal/pattern"
	"github.com/the-radar/deliberate/internal/risk"
)

const (
	layerPattern     = "pattern"
	layerModel       = "model"
	layerArbitration = "arbitration"

	// failSafeConfidence is assigned when the model layer fails and the
	// verdict is synthesized rather than computed.
	failSafeConfidence = 0.5
	// agreementBoost is added to model confidence when arbitration agrees.
	agreementBoost = 0.15
	// confidenceCap bounds boosted confidence.
	confidenceCap = 0.95
)

// Engine runs the layered classification. Read-only after construction, so
// a single Engine is safe for concurrent classification calls.
type Engine struct {
	patterns   *pattern.Matcher
	scorer     model.Scorer
	arbiter    arbiter.Arbiter
	trail      *audit.Trail
	logger     *log.Logger
	workingDir string
	user       string
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer attaches the semantic model layer.
func WithScorer(s model.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithArbiter attaches the arbitration layer. Without one, uncertain model
// verdicts are returned as-is with needsArbitration set.
func WithArbiter(a arbiter.Arbiter) Option {
	return func(e *Engine) { e.arbiter = a }
}

// WithTrail attaches the active-learning audit trail.
func WithTrail(t *audit.Trail) Option {
	return func(e *Engine) { e.trail = t }
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEnvironment records the working directory and user forwarded to the
// arbiter for context.
func WithEnvironment(workingDir, user string) Option {
	return func(e *Engine) {
		e.workingDir = workingDir
		e.user = user
	}
}

// New creates an Engine over the given pattern matcher.
func New(patterns *pattern.Matcher, opts ...Option) *Engine {
	e := &Engine{
		patterns: patterns,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClassifyCommand classifies a shell command through all configured layers.
func (e *Engine) ClassifyCommand(ctx context.Context, command string) *risk.Verdict {
	return e.classify(ctx, risk.SubjectCommand, command)
}

// ClassifyPath classifies a filesystem path. Pattern layer only.
func (e *Engine) ClassifyPath(ctx context.Context, path string) *risk.Verdict {
	return e.classify(ctx, risk.SubjectPath, path)
}

// ClassifyContent classifies script or inline content. Pattern layer only.
func (e *Engine) ClassifyContent(ctx context.Context, content string) *risk.Verdict {
	return e.classify(ctx, risk.SubjectContent, content)
}

func (e *Engine) classify(ctx context.Context, kind risk.SubjectKind, subject string) *risk.Verdict {
	var traces []risk.LayerTrace

	start := time.Now()
	var patternVerdict *risk.Verdict
	switch kind {
	case risk.SubjectPath:
		patternVerdict = e.patterns.CheckPath(subject)
	case risk.SubjectContent:
		patternVerdict = e.patterns.CheckContent(subject)
	default:
		patternVerdict = e.patterns.CheckCommand(subject)
	}

	if patternVerdict != nil {
		patternVerdict.Kind = kind
		patternVerdict.NeedsArbitration = false
		patternVerdict.Layers = append(traces, risk.LayerTrace{
			Layer:   layerPattern,
			Risk:    patternVerdict.Risk,
			Detail:  patternVerdict.Reason,
			Elapsed: time.Since(start).Milliseconds(),
		})
		return patternVerdict
	}
	traces = append(traces, risk.LayerTrace{
		Layer:   layerPattern,
		Detail:  "no pattern matched",
		Elapsed: time.Since(start).Milliseconds(),
	})

	// The semantic and arbitration layers only understand commands. Paths
	// and content fall through to safe when no pattern fires.
	if kind != risk.SubjectCommand || e.scorer == nil {
		return &risk.Verdict{
			Subject:     subject,
			Kind:        kind,
			Risk:        risk.Safe,
			Confidence:  1.0,
			Coverage:    1.0,
			Reason:      "no risk indicators found",
			Source:      risk.SourcePattern,
			CanOverride: true,
			Layers:      traces,
		}
	}

	mv, traces := e.runModel(ctx, subject, traces)

	if mv.NeedsArbitration && e.arbiter != nil {
		return e.arbitrate(ctx, subject, mv, traces)
	}

	return verdictFromModel(subject, mv, traces)
}

// runModel invokes the semantic layer. A failure synthesizes a cautious
// moderate verdict flagged for arbitration; it never returns safe.
func (e *Engine) runModel(ctx context.Context, subject string, traces []risk.LayerTrace) (*model.Verdict, []risk.LayerTrace) {
	start := time.Now()
	mv, err := e.scorer.Score(ctx, subject)
	if err != nil {
		e.logger.Debug("semantic model failed, defaulting to caution", "err", err)
		mv = &model.Verdict{
			Risk:             risk.Moderate,
			Confidence:       failSafeConfidence,
			NeedsArbitration: true,
			Reason:           "semantic classifier unavailable; defaulting to caution",
		}
		traces = append(traces, risk.LayerTrace{
			Layer:    layerModel,
			Risk:     mv.Risk,
			Detail:   err.Error(),
			Elapsed:  time.Since(start).Milliseconds(),
			Degraded: true,
		})
		return mv, traces
	}

	traces = append(traces, risk.LayerTrace{
		Layer:   layerModel,
		Risk:    mv.Risk,
		Detail:  mv.Reason,
		Elapsed: time.Since(start).Milliseconds(),
		Score:   mv.MaxSimilarity,
	})
	return mv, traces
}

// arbitrate runs the third layer and merges its opinion with the model
// verdict. An audit record is appended for every arbitration event,
// including failed ones.
func (e *Engine) arbitrate(ctx context.Context, subject string, mv *model.Verdict, traces []risk.LayerTrace) *risk.Verdict {
	start := time.Now()
	av, err := e.arbiter.Review(ctx, e.buildRequest(subject, mv), mv)

	rec := &audit.Record{
		Subject:         subject,
		ModelRisk:       mv.Risk,
		ModelConfidence: mv.Confidence,
		ModelCoverage:   mv.Coverage,
		NearestExample:  mv.NearestCommand,
		NearestLabel:    mv.NearestLabel,
	}

	if err != nil {
		e.logger.Debug("arbitration failed, keeping model verdict", "err", err)
		if e.trail != nil {
			e.trail.Append(rec)
		}
		traces = append(traces, risk.LayerTrace{
			Layer:    layerArbitration,
			Detail:   err.Error(),
			Elapsed:  time.Since(start).Milliseconds(),
			Degraded: true,
		})
		return verdictFromModel(subject, mv, traces)
	}

	arbRisk := av.Risk
	rec.ArbitrationRisk = &arbRisk
	rec.Agreed = av.Risk == mv.Risk
	if e.trail != nil {
		e.trail.Append(rec)
	}
	traces = append(traces, risk.LayerTrace{
		Layer:   layerArbitration,
		Risk:    av.Risk,
		Detail:  av.Explanation,
		Elapsed: time.Since(start).Milliseconds(),
	})

	return mergeVerdicts(subject, mv, av, traces)
}

// mergeVerdicts applies the conflict resolution policy.
func mergeVerdicts(subject string, mv *model.Verdict, av *arbiter.Verdict, traces []risk.LayerTrace) *risk.Verdict {
	v := &risk.Verdict{
		Subject:    subject,
		Kind:       risk.SubjectCommand,
		Confidence: mv.Confidence,
		Coverage:   mv.Coverage,
		Layers:     traces,
	}

	switch {
	case av.Risk == mv.Risk:
		// Agreement raises confidence in the shared answer.
		v.Risk = mv.Risk
		v.Confidence = min(confidenceCap, mv.Confidence+agreementBoost)
		v.Source = risk.SourceModelPlusArbitration
		v.Reason = reasonOf(av.Explanation, mv.Reason)
		v.CanOverride = v.Risk < risk.Critical

	case mv.Risk >= risk.High && av.Risk == risk.Safe:
		// Arbitration may soften a flagged command but never exonerate
		// it. An arbiter that can be prompt-injected must not hold the
		// power of full acquittal.
		v.Risk = risk.Moderate
		v.Source = risk.SourceArbitrationConservative
		v.CanOverride = true
		v.Reason = fmt.Sprintf("semantic layer flagged %s but arbitration disagreed; downgraded to moderate, approval still required", strings.ToUpper(mv.Risk.String()))

	default:
		// Any other disagreement trusts the arbiter, with a lockout for
		// elevated answers.
		v.Risk = av.Risk
		v.Source = risk.SourceArbitration
		v.CanOverride = av.Risk < risk.High
		v.Reason = reasonOf(av.Explanation, mv.Reason)
	}
	return v
}

func verdictFromModel(subject string, mv *model.Verdict, traces []risk.LayerTrace) *risk.Verdict {
	return &risk.Verdict{
		Subject:          subject,
		Kind:             risk.SubjectCommand,
		Risk:             mv.Risk,
		Confidence:       mv.Confidence,
		Coverage:         mv.Coverage,
		Reason:           reasonOf(mv.Reason, "classified by semantic similarity"),
		Source:           risk.SourceModel,
		CanOverride:      mv.Risk < risk.Critical,
		NeedsArbitration: mv.NeedsArbitration,
		Layers:           traces,
	}
}

func (e *Engine) buildRequest(subject string, mv *model.Verdict) *arbiter.Request {
	hint := fmt.Sprintf("model: %s (confidence %.2f, coverage %.2f)",
		strings.ToUpper(mv.Risk.String()), mv.Confidence, mv.Coverage)
	return &arbiter.Request{
		Command:    subject,
		WorkingDir: e.workingDir,
		User:       e.user,
		Sudo:       strings.HasPrefix(strings.TrimSpace(subject), "sudo "),
		Hint:       hint,
	}
}

func reasonOf(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}
