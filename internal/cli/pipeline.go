package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/the-radar/deliberate/internal/arbiter"
	"github.com/the-radar/deliberate/internal/audit"
	"github.com/the-radar/deliberate/internal/bypass"
	"github.com/the-radar/deliberate/internal/config"
	"github.com/the-radar/deliberate/internal/engine"
	"github.com/the-radar/deliberate/internal/gate"
	"github.com/the-radar/deliberate/internal/intercept"
	"github.com/the-radar/deliberate/internal/model"
	"github.com/the-radar/deliberate/internal/pattern"
	"github.com/the-radar/deliberate/internal/risk"
	"github.com/the-radar/deliberate/internal/utils"
)

// buildMatcher compiles the built-in rules plus any configured extras.
func buildMatcher(cfg *config.Config) (*pattern.Matcher, error) {
	m := pattern.NewMatcher()
	for _, expr := range cfg.Patterns.Catastrophic {
		if err := m.AddRule(risk.SubjectCommand, risk.Critical, expr, "configured catastrophic pattern", false); err != nil {
			return nil, fmt.Errorf("patterns.catastrophic %q: %w", expr, err)
		}
	}
	for _, expr := range cfg.Patterns.Dangerous {
		if err := m.AddRule(risk.SubjectCommand, risk.High, expr, "configured dangerous pattern", true); err != nil {
			return nil, fmt.Errorf("patterns.dangerous %q: %w", expr, err)
		}
	}
	return m, nil
}

// buildScorer assembles the semantic layer per classifier.mode. A nil
// scorer disables the layer.
func buildScorer(cfg *config.Config) (model.Scorer, error) {
	th := model.Thresholds{
		SimilarityHigh:  cfg.Classifier.SimilarityHigh,
		SimilarityLow:   cfg.Classifier.SimilarityLow,
		CoverageFloor:   cfg.Classifier.CoverageFloor,
		ConfidenceFloor: cfg.Classifier.ConfidenceFloor,
	}
	size := model.Size(cfg.Classifier.ModelSize)

	newHTTP := func() (model.Scorer, error) {
		return model.NewHTTPScorer(
			model.WithURL(cfg.Classifier.URL),
			model.WithHTTPSize(size),
			model.WithHTTPThresholds(th),
		)
	}
	newSubprocess := func() (model.Scorer, error) {
		if cfg.Classifier.ScriptPath == "" {
			return nil, nil
		}
		return model.NewSubprocessScorer(config.ExpandHome(cfg.Classifier.ScriptPath),
			model.WithPython(cfg.Classifier.Python),
			model.WithSize(size),
			model.WithThresholds(th),
			model.WithScriptTimeout(time.Duration(cfg.Classifier.TimeoutSecs)*time.Second),
		)
	}

	switch cfg.Classifier.Mode {
	case "off":
		return nil, nil
	case "http":
		return newHTTP()
	case "subprocess":
		return newSubprocess()
	default: // auto: server first, subprocess as fallback
		primary, err := newHTTP()
		if err != nil {
			return nil, err
		}
		secondary, err := newSubprocess()
		if err != nil || secondary == nil {
			return primary, nil
		}
		return model.NewFallbackScorer(primary, secondary, utils.GetDefaultLogger()), nil
	}
}

// buildEngine wires the full classification stack from config.
func buildEngine(cfg *config.Config, workingDir, user string) (*engine.Engine, error) {
	matcher, err := buildMatcher(cfg)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(utils.GetDefaultLogger()),
		engine.WithEnvironment(workingDir, user),
		engine.WithTrail(audit.NewTrail(
			config.ExpandHome(cfg.Audit.LogPath),
			config.ExpandHome(cfg.Audit.ReviewQueuePath),
		)),
	}

	scorer, err := buildScorer(cfg)
	if err != nil {
		return nil, err
	}
	if scorer != nil {
		opts = append(opts, engine.WithScorer(scorer))
	}

	if cfg.Arbiter.Enabled {
		apiKey := cfg.Arbiter.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey != "" {
			arbOpts := []arbiter.OpenAIOption{
				arbiter.WithChatModel(cfg.Arbiter.Model),
				arbiter.WithTimeout(time.Duration(cfg.Arbiter.TimeoutSecs) * time.Second),
			}
			if cfg.Arbiter.BaseURL != "" {
				arbOpts = append(arbOpts, arbiter.WithBaseURL(cfg.Arbiter.BaseURL))
			}
			opts = append(opts, engine.WithArbiter(arbiter.NewOpenAI(apiKey, arbOpts...)))
		} else {
			utils.Warn("arbiter enabled but no API key configured; skipping arbitration layer")
		}
	}

	return engine.New(matcher, opts...), nil
}

// buildController wires the interception pipeline, including the terminal
// approval gate.
func buildController(cfg *config.Config, workingDir, user string) (*intercept.Controller, error) {
	eng, err := buildEngine(cfg, workingDir, user)
	if err != nil {
		return nil, err
	}

	gateOpts := []gate.GateOption{
		gate.WithTimeout(time.Duration(cfg.Gate.TimeoutSecs) * time.Second),
		gate.WithMinLatency(time.Duration(cfg.Gate.MinResponseMS) * time.Millisecond),
		gate.WithGateLogger(utils.GetDefaultLogger()),
	}
	if cfg.Gate.BypassDetection {
		gateOpts = append(gateOpts, gate.WithDetector(bypass.NewDetector()))
	}

	ctrlOpts := []intercept.ControllerOption{
		intercept.WithSkipList(pattern.NewSkipList(cfg.Patterns.SkipAdd, cfg.Patterns.SkipRemove)),
		intercept.WithGate(gate.New(gateOpts...)),
		intercept.WithControllerLogger(utils.GetDefaultLogger()),
	}
	if cfg.General.WorkflowDetection {
		ctrlOpts = append(ctrlOpts, intercept.WithHistoryDir(config.ExpandHome(cfg.General.SessionHistoryDir)))
	}
	return intercept.NewController(eng, ctrlOpts...), nil
}

// buildTestController wires a gateless controller for dry-run decisions.
// Anything that would have prompted is reported as needing approval
// instead.
func buildTestController(cfg *config.Config, eng *engine.Engine) *intercept.Controller {
	return intercept.NewController(eng,
		intercept.WithSkipList(pattern.NewSkipList(cfg.Patterns.SkipAdd, cfg.Patterns.SkipRemove)),
		intercept.WithControllerLogger(utils.GetDefaultLogger()),
	)
}
