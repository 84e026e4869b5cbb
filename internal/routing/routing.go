// Package routing implements the Architecture Selector and Routing Policy:
// classifying a task's domain from its text, deciding which model/role a
// teammate doing that work should run as, and choosing whether a team
// should run single/flat/managed/hybrid. Grounded on the priority-ordered
// dispatch table in orc/internal/planner (matching free-text task
// descriptions against a closed set of categories to pick a handling
// strategy), adapted here from planner→executor-strategy dispatch to
// task-text→domain-and-architecture dispatch.
package routing

import (
	"strings"

	"github.com/teamforge/core/internal/learning"
	"github.com/teamforge/core/internal/types"
)

// Domain is the closed set of task domains used for routing decisions.
type Domain string

const (
	DomainUXDesign      Domain = "ux_design"
	DomainFrontend      Domain = "frontend"
	DomainBackend       Domain = "backend"
	DomainSearch        Domain = "search"
	DomainResearch      Domain = "research"
	DomainReview        Domain = "review"
	DomainEscalation    Domain = "escalation"
	DomainIntegration   Domain = "integration"
	DomainTesting       Domain = "testing"
	DomainPlanning      Domain = "planning"
	DomainDocs          Domain = "docs"
	DomainRemediation   Domain = "remediation"
	DomainRolloutSafety Domain = "rollout_safety"
	DomainOther         Domain = "other"
)

// domainKeywords is checked in order — ux_design must be tested before
// frontend, since a UX-flavored task ("design the onboarding flow") would
// otherwise fall through to the broader frontend keyword set first. Ties
// elsewhere in the text are resolved the same way: first matching entry in
// this priority list wins.
var domainKeywords = []struct {
	domain   Domain
	keywords []string
}{
	{DomainUXDesign, []string{"ux", "user flow", "wireframe", "design system", "usability", "user experience", "onboarding flow"}},
	{DomainFrontend, []string{"react", "component", "css", "frontend", "ui", "browser", "dom", "tsx", "jsx"}},
	{DomainBackend, []string{"api", "endpoint", "database", "server", "backend", "service", "migration", "schema", "etl", "dataset", "data model", "warehouse"}},
	{DomainSearch, []string{"search", "full-text", "elasticsearch", "indexing", "retrieval", "query relevance"}},
	{DomainResearch, []string{"research", "investigate", "explore", "spike", "survey"}},
	{DomainReview, []string{"code review", "review loop", "pr review", "quality gate"}},
	{DomainEscalation, []string{"escalate", "escalation", "needs human", "stuck agent"}},
	{DomainIntegration, []string{"integration", "integrate", "cross-service", "end-to-end seam"}},
	{DomainTesting, []string{"unit test", "test coverage", "tdd", "test suite", "flaky test"}},
	{DomainPlanning, []string{"roadmap", "backlog", "prioritize", "decompose", "task breakdown"}},
	{DomainDocs, []string{"documentation", "readme", "changelog", "docs"}},
	{DomainRemediation, []string{"remediate", "remediation", "rework broken", "patch the seam"}},
	{DomainRolloutSafety, []string{"deploy", "kubernetes", "docker", "terraform", "ci/cd", "rollout", "canary", "rollback", "provisioning", "infra"}},
}

// ClassifyTaskDomain inspects title+description and returns the first
// matching domain in priority order, or DomainOther if nothing matches.
func ClassifyTaskDomain(title, description string) Domain {
	text := strings.ToLower(title + " " + description)
	for _, entry := range domainKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.domain
			}
		}
	}
	return DomainOther
}

// RoutingDecision is the resolved role/model/skill routing for a teammate
// about to be spawned for a task (§4.9).
type RoutingDecision struct {
	Domain        Domain
	Role          types.TeammateRole
	RoleEnforced  bool
	ModelID       string
	ProviderID    string
	ModelOverride string
	SkillSlugs    []string
	Reason        string
}

// uxDesignOverrideModel is hard-enforced regardless of the team's configured
// model preset: UX design tasks always route to a head-role teammate on
// claude-opus-4-6, since design judgment calls have historically suffered
// under cheaper models and this is not something a learning-guidance nudge
// should be able to relax.
const uxDesignOverrideModel = "claude-opus-4-6"

// domainSkillSlugs maps a domain to the skill snippets a spawned teammate's
// prompt should be enriched with. Domains with no particular skill lean
// (e.g. planning, docs) carry no slugs.
var domainSkillSlugs = map[Domain][]string{
	DomainUXDesign:      {"ux-design"},
	DomainFrontend:      {"frontend"},
	DomainBackend:       {"backend"},
	DomainSearch:        {"search"},
	DomainResearch:      {"research"},
	DomainReview:        {"code-review"},
	DomainEscalation:    {"escalation"},
	DomainIntegration:   {"integration"},
	DomainTesting:       {"testing"},
	DomainRemediation:   {"remediation"},
	DomainRolloutSafety: {"rollout-safety"},
}

// DecideTeammateRouting resolves the role/model/skill routing for domain,
// given the team's default model preset and provider (§4.9). The default
// role is per-domain (ux_design → head, review → reviewer, else → worker);
// ux_design is additionally hard-enforced to head with a model override,
// which is what RoleEnforced/ModelOverride communicate to the caller.
func DecideTeammateRouting(domain Domain, defaultModel, defaultProvider string) RoutingDecision {
	d := RoutingDecision{
		Domain:     domain,
		Role:       types.RoleWorker,
		ModelID:    defaultModel,
		ProviderID: defaultProvider,
		SkillSlugs: domainSkillSlugs[domain],
		Reason:     "default worker routing",
	}
	switch domain {
	case DomainUXDesign:
		d.Role = types.RoleHead
		d.RoleEnforced = true
		d.ModelOverride = uxDesignOverrideModel
		d.ModelID = uxDesignOverrideModel
		d.ProviderID = "anthropic"
		d.Reason = "ux_design is hard-enforced to a head teammate on a fixed model"
	case DomainReview:
		d.Role = types.RoleReviewer
		d.Reason = "review domain routes to a reviewer teammate"
	}
	return d
}

// ArchitectureMode is the team topology chosen for a run.
type ArchitectureMode string

const (
	ModeSingle  ArchitectureMode = "single"
	ModeFlat    ArchitectureMode = "flat"
	ModeManaged ArchitectureMode = "managed"
	ModeHybrid  ArchitectureMode = "hybrid"
)

// ArchitectureFeatures are the task-set features the selector reasons over.
type ArchitectureFeatures struct {
	TaskCount          int
	DistinctDomains    int
	HasUXDesign        bool
	ResearchSearchOnly bool
	DependencyRatio    float64 // fraction of tasks with a cross-domain dependency
	MaxDomainTaskCount int     // largest per-domain task count, used by the exactly-2-domains rule
}

// ArchitectureDecision is the selector's output, with the confidence it
// assigned to the chosen mode.
type ArchitectureDecision struct {
	Mode       ArchitectureMode
	Confidence float64
	Reason     string
	Features   ArchitectureFeatures
}

func clampConfidence(c float64) float64 {
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// SelectArchitectureMode applies the ordered short-circuit rules of §4.9.
// Exactly one rule fires, in this priority order: a single task always runs
// single; UX-design work always runs managed; a research/search-only set
// runs flat; three or more meaningful domains run managed; a heavy
// cross-domain dependency ratio runs managed; exactly two domains run flat
// when small or managed when either domain is large; a large single-domain
// set runs managed; a small remainder runs single; everything else runs
// flat. Learning guidance nudging toward managed (learningHint.preferManaged)
// is applied last: it raises confidence by 0.08 (clamped to 1) and, if the
// rule above didn't already choose managed, promotes the mode to managed
// (the single-task short-circuit is never overridden — one task needs no
// team regardless of guidance).
func SelectArchitectureMode(f ArchitectureFeatures, guidance learning.Guidance) ArchitectureDecision {
	d := selectBaseMode(f)
	return applyLearningNudge(d, guidance)
}

func selectBaseMode(f ArchitectureFeatures) ArchitectureDecision {
	switch {
	case f.TaskCount <= 1:
		return ArchitectureDecision{Mode: ModeSingle, Confidence: 0.97, Reason: "single task needs no team topology", Features: f}
	case f.HasUXDesign:
		return ArchitectureDecision{Mode: ModeManaged, Confidence: 0.95, Reason: "UX design work needs a dedicated head", Features: f}
	case f.ResearchSearchOnly:
		return ArchitectureDecision{Mode: ModeFlat, Confidence: 0.90, Reason: "research/search-only task set runs flat", Features: f}
	case f.DistinctDomains >= 3:
		return ArchitectureDecision{Mode: ModeManaged, Confidence: 0.90, Reason: "three or more meaningful domains benefits from per-domain heads", Features: f}
	case f.DependencyRatio >= 0.35 && f.TaskCount >= 4:
		return ArchitectureDecision{Mode: ModeManaged, Confidence: 0.88, Reason: "dependency ratio of 0.35 or higher across 4+ tasks benefits from managed coordination", Features: f}
	case f.DistinctDomains == 2 && f.MaxDomainTaskCount <= 4:
		return ArchitectureDecision{Mode: ModeFlat, Confidence: 0.83, Reason: "two domains, each small enough to run flat", Features: f}
	case f.DistinctDomains == 2:
		return ArchitectureDecision{Mode: ModeManaged, Confidence: 0.86, Reason: "two domains, one large enough to need a per-domain head", Features: f}
	case f.DistinctDomains <= 1 && f.TaskCount >= 8:
		return ArchitectureDecision{Mode: ModeManaged, Confidence: 0.84, Reason: "single domain with a large task set benefits from a head", Features: f}
	case f.TaskCount <= 3:
		return ArchitectureDecision{Mode: ModeSingle, Confidence: 0.78, Reason: "small task set needs no team topology", Features: f}
	default:
		return ArchitectureDecision{Mode: ModeFlat, Confidence: 0.78, Reason: "moderate task set, no clear managed benefit", Features: f}
	}
}

func applyLearningNudge(d ArchitectureDecision, g learning.Guidance) ArchitectureDecision {
	if !g.PreferManaged || d.Features.TaskCount <= 1 {
		return d
	}
	d.Confidence = clampConfidence(d.Confidence + 0.08)
	if d.Mode != ModeManaged {
		d.Mode = ModeManaged
		d.Reason += "; learning guidance nudged this to managed"
	}
	return d
}
