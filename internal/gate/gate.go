// Package gate implements the quality-gate engine: a pure, side-effect-free
// scoring and pass/fail pipeline over a fixed, ordered set of stages.
// Grounded on orc/internal/gate's Evaluator (which judges a single gate
// between two phases) generalized here to score a fixed nine-stage pipeline
// and aggregate a weighted score, per spec §4.1.
package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/types"
)

// StageResults is the input to Score/ShouldPass: one StageResult per stage
// that was actually executed. A stage absent from this map is treated as
// "not executed" (skipped), which is the invariant that prevents false
// failure when e.g. SDD stages are off.
type StageResults map[types.StageName]types.StageResult

// Score computes the weighted-average aggregate score (I1): the sum of
// score*weight over enabled, non-binary, executed stages divided by the sum
// of those weights, rounded to the nearest integer. If no weighted stage
// executed, the aggregate is 100.
func Score(cfg config.GateConfig, results StageResults) int {
	var weightedSum, weightTotal int
	for name, stageCfg := range cfg.Stages {
		if !stageCfg.Enabled || stageCfg.Binary || stageCfg.Weight <= 0 {
			continue
		}
		res, executed := results[name]
		if !executed || !res.Executed {
			continue
		}
		weightedSum += res.Score * stageCfg.Weight
		weightTotal += stageCfg.Weight
	}
	if weightTotal == 0 {
		return 100
	}
	// round-half-up on integer division
	return (weightedSum*2 + weightTotal) / (weightTotal * 2)
}

// ShouldPass determines pass/fail (I2, I3): every enabled, executed stage
// (binary or weighted) must have passed, and the aggregate must meet
// passThreshold.
func ShouldPass(cfg config.GateConfig, results StageResults, aggregate int) bool {
	for name, stageCfg := range cfg.Stages {
		if !stageCfg.Enabled {
			continue
		}
		res, executed := results[name]
		if !executed || !res.Executed {
			continue
		}
		if !res.Passed {
			return false
		}
	}
	return aggregate >= cfg.PassThreshold
}

// Evaluate runs Score and ShouldPass together and assembles the full result.
func Evaluate(cfg config.GateConfig, results StageResults, cycle int, reviewModel, reviewProvider string) types.QualityGateResult {
	agg := Score(cfg, results)
	stages := make(map[types.StageName]types.StageResult, len(results))
	for k, v := range results {
		stages[k] = v
	}
	return types.QualityGateResult{
		Passed:         ShouldPass(cfg, results, agg),
		AggregateScore: agg,
		Stages:         stages,
		CycleNumber:    cycle,
		MaxCycles:      cfg.MaxReviewCycles,
		ReviewModel:    reviewModel,
		ReviewProvider: reviewProvider,
	}
}

// orderedExecutedStages returns the canonical stage order filtered to those
// present (executed) in results.
func orderedExecutedStages(results StageResults) []types.StageName {
	out := make([]types.StageName, 0, len(results))
	for _, name := range types.CanonicalStageOrder {
		if _, ok := results[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// FormatFailureReport produces the markdown feedback message sent back to
// the agent on a failed cycle. Structure per spec §4.1: header+cycle
// counter, phase scoreboard, BLOCKING section (failed binary stages first),
// Issues-to-Address section, and a penultimate-cycle warning.
func FormatFailureReport(result types.QualityGateResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Quality Gate: FAILED (cycle %d/%d)\n\n", result.CycleNumber, result.MaxCycles)

	ordered := orderedExecutedStages(result.Stages)

	b.WriteString("## Scoreboard\n\n")
	for _, name := range ordered {
		res := result.Stages[name]
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "- %s: %s (score %d)\n", name, status, res.Score)
	}
	fmt.Fprintf(&b, "\nAggregate score: %d\n\n", result.AggregateScore)

	var failedBinary, failedWeighted []types.StageName
	for _, name := range ordered {
		res := result.Stages[name]
		if res.Passed {
			continue
		}
		if types.BinaryStages[name] {
			failedBinary = append(failedBinary, name)
		} else {
			failedWeighted = append(failedWeighted, name)
		}
	}

	if len(failedBinary) > 0 {
		b.WriteString("## BLOCKING\n\n")
		for _, name := range failedBinary {
			res := result.Stages[name]
			fmt.Fprintf(&b, "- **%s** FAILED\n", name)
			for _, issue := range res.Issues {
				fmt.Fprintf(&b, "  - %s\n", issue)
			}
		}
		b.WriteString("\n")
	}

	if len(failedWeighted) > 0 {
		b.WriteString("## Issues to Address\n\n")
		for _, name := range failedWeighted {
			res := result.Stages[name]
			fmt.Fprintf(&b, "### %s (score %d)\n\n", name, res.Score)
			for _, issue := range res.Issues {
				fmt.Fprintf(&b, "- %s\n", issue)
			}
			for _, sugg := range res.Suggestions {
				fmt.Fprintf(&b, "- Suggestion: %s\n", sugg)
			}
			b.WriteString("\n")
		}
	}

	if result.CycleNumber == result.MaxCycles-1 {
		fmt.Fprintf(&b, "Warning: cycle %d/%d — one more failed cycle escalates this task.\n", result.CycleNumber, result.MaxCycles)
	}

	return b.String()
}

// FormatSuccessReport produces the markdown message sent on a passed cycle.
func FormatSuccessReport(result types.QualityGateResult) string {
	var b strings.Builder
	b.WriteString("# Quality Gate: PASSED\n\n")

	ordered := orderedExecutedStages(result.Stages)
	b.WriteString("## Scoreboard\n\n")
	for _, name := range ordered {
		res := result.Stages[name]
		fmt.Fprintf(&b, "- %s: PASS (score %d)\n", name, res.Score)
	}
	fmt.Fprintf(&b, "\nAggregate score: %d\n\n", result.AggregateScore)

	if result.CycleNumber > 1 {
		fmt.Fprintf(&b, "Passed after %d cycles.\n\n", result.CycleNumber)
	}

	var suggestions []string
	for _, name := range ordered {
		suggestions = append(suggestions, result.Stages[name].Suggestions...)
	}
	sort.Strings(suggestions)
	if len(suggestions) > 0 {
		b.WriteString("## Suggestions\n\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	return b.String()
}

// ExtractMissingRequirements scans the spec_compliance stage's issues for
// the two documented phrasings and returns the unique requirement ids found.
func ExtractMissingRequirements(result types.QualityGateResult) []string {
	res, ok := result.Stages[types.StageSpecCompliance]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, issue := range res.Issues {
		for _, id := range extractReqIDs(issue) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func extractReqIDs(issue string) []string {
	var ids []string
	lower := strings.ToLower(issue)
	if strings.Contains(lower, "is not addressed") || strings.Contains(lower, "appears only partially") {
		for _, tok := range strings.FieldsFunc(issue, func(r rune) bool {
			return r == ' ' || r == '(' || r == ')' || r == ',' || r == ':'
		}) {
			if strings.HasPrefix(tok, "REQ-") {
				ids = append(ids, tok)
			}
		}
	}
	return ids
}
