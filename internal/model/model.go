// Package model adapts the external semantic scoring collaborator. It never
// embeds or trains anything itself: it serializes a command, invokes an
// out-of-process scorer, and normalizes the structured response.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/the-radar/deliberate/internal/risk"
)

// ErrModelUnavailable classifies every collaborator failure: process spawn
// failure, timeout, or a malformed response. Callers decide the fail-safe
// action; the adapter never coerces a failure into a default risk.
var ErrModelUnavailable = errors.New("semantic model unavailable")

// Size selects which embedding model the collaborator loads. The set is a
// fixed whitelist; anything else is rejected before the collaborator runs.
type Size string

const (
	SizeSmall Size = "small"
	SizeBase  Size = "base"
	SizeLarge Size = "large"
)

// ValidSize reports whether s names a whitelisted model size.
func ValidSize(s Size) bool {
	switch s {
	case SizeSmall, SizeBase, SizeLarge:
		return true
	}
	return false
}

// Verdict is the normalized answer from the scoring collaborator.
type Verdict struct {
	// Risk is the collaborator's three-tier label mapped onto the unified
	// lattice (DANGEROUS maps to High).
	Risk risk.Level
	// Confidence is the classifier confidence in [0,1].
	Confidence float64
	// Coverage measures similarity to labeled training data in [0,1]. Low
	// coverage means the verdict is extrapolated.
	Coverage float64
	// MaxSimilarity is the cosine similarity to the nearest example.
	MaxSimilarity float64
	// NearestCommand is the closest training example.
	NearestCommand string
	// NearestLabel is the label of the closest training example.
	NearestLabel string
	// NeedsArbitration is set when the verdict should be reviewed by the
	// arbitration layer before being trusted.
	NeedsArbitration bool
	// Reason is the collaborator's explanation.
	Reason string
}

// Scorer is the collaborator boundary. Transports (subprocess, HTTP) are
// swappable without touching the engine.
type Scorer interface {
	Score(ctx context.Context, command string) (*Verdict, error)
}

// Thresholds are the independently calibrated similarity and uncertainty
// cutoffs that gate the coverage computation.
type Thresholds struct {
	// SimilarityHigh: at or above this similarity to a dangerous example,
	// the command is dangerous with high coverage.
	SimilarityHigh float64
	// SimilarityLow: at or above this (but below SimilarityHigh), moderate.
	SimilarityLow float64
	// CoverageFloor: below this coverage the verdict is an extrapolation
	// and arbitration is required.
	CoverageFloor float64
	// ConfidenceFloor: below this confidence arbitration is required.
	ConfidenceFloor float64
}

// DefaultThresholds returns the calibrated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SimilarityHigh:  0.84,
		SimilarityLow:   0.75,
		CoverageFloor:   0.70,
		ConfidenceFloor: 0.60,
	}
}

// wireResponse is the collaborator's JSON shape.
type wireResponse struct {
	Risk           string  `json:"risk"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
	CoverageScore  float64 `json:"coverage_score"`
	MaxSimilarity  float64 `json:"max_similarity"`
	NearestCommand string  `json:"nearest_command"`
	NearestLabel   string  `json:"nearest_label"`
	NeedsFallback  bool    `json:"needs_llm_fallback"`
	Error          string  `json:"error"`
}

// normalize converts a wire response into a Verdict, applying the
// thresholds. An error-carrying or unparseable response surfaces as
// ErrModelUnavailable, never as a default risk.
func normalize(resp *wireResponse, th Thresholds) (*Verdict, error) {
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: collaborator error: %s", ErrModelUnavailable, resp.Error)
	}

	v := &Verdict{
		Confidence:     clamp01(resp.Confidence),
		Coverage:       clamp01(resp.CoverageScore),
		MaxSimilarity:  clamp01(resp.MaxSimilarity),
		NearestCommand: resp.NearestCommand,
		NearestLabel:   resp.NearestLabel,
		Reason:         resp.Reason,
	}

	if resp.Risk != "" {
		level, err := risk.ParseLevel(resp.Risk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		v.Risk = level
	} else {
		// Embedding-only mode: derive the level from similarity to the
		// nearest labeled example.
		v.Risk = deriveFromSimilarity(v, th)
	}

	v.NeedsArbitration = resp.NeedsFallback ||
		v.Coverage < th.CoverageFloor ||
		v.Confidence < th.ConfidenceFloor
	return v, nil
}

func deriveFromSimilarity(v *Verdict, th Thresholds) risk.Level {
	if v.NearestLabel == "DANGEROUS" {
		if v.MaxSimilarity >= th.SimilarityHigh {
			return risk.High
		}
		if v.MaxSimilarity >= th.SimilarityLow {
			return risk.Moderate
		}
	}
	// Unlike anything labeled dangerous: nominally safe, but the caller
	// sees the low coverage and routes to arbitration.
	return risk.Safe
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
