// Package intent scores free-text user input against keyword and pattern
// heuristics to decide, cheaply and before any model call, whether a request
// likely needs delegation to a specialist agent. The score is advisory: it
// gates expensive delegation tool-set construction, but the supervisor agent
// retains the final delegation decision through its own tool calling.
package intent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Thresholds partitioning the 0..100 score range.
const (
	// DirectThreshold and below (exclusive) means answer directly with no
	// delegation tools.
	DirectThreshold = 30
	// DelegateThreshold and above (exclusive) means delegate to the best
	// matching agent.
	DelegateThreshold = 70
)

// Assessment is the outcome of scoring one input text.
type Assessment struct {
	// Score is the clamped delegation likelihood, 0..100.
	Score int
	// Target is the best matching agent id when domain patterns fired.
	Target string
	// Factors lists the heuristic signals that contributed, for logging and
	// the supervisor hint.
	Factors []string
}

// ShouldDelegate reports whether the score clears the delegation threshold
// with a concrete target.
func (a Assessment) ShouldDelegate() bool {
	return a.Score > DelegateThreshold && a.Target != ""
}

// Ambiguous reports whether the score falls in the middle band where the
// supervisor handles the request directly but receives a hint.
func (a Assessment) Ambiguous() bool {
	return a.Score >= DirectThreshold && a.Score <= DelegateThreshold
}

// Direct reports whether the request should be answered without building
// delegation tools at all.
func (a Assessment) Direct() bool { return a.Score < DirectThreshold }

// DomainPattern maps keyword hits to a candidate target agent.
type DomainPattern struct {
	// Name labels the signal in Factors.
	Name string
	// Keywords are matched case-insensitively on word boundaries; multi-word
	// phrases are allowed.
	Keywords []string
	// Target is the agent id delegation should favor when this fires.
	Target string
	// Weight is added to the score per pattern (not per keyword).
	Weight int
}

// Options configures a Scorer.
type Options struct {
	// Domains is the pattern table; defaults to DefaultDomains.
	Domains []DomainPattern
}

// Scorer evaluates input text deterministically against a fixed pattern
// table. It performs no I/O and is safe for concurrent use.
type Scorer struct {
	domains []DomainPattern
	// matchers holds one compiled keyword alternation per domain, indexed in
	// step with domains. Word boundaries keep "api" from firing inside
	// "capital".
	matchers   []*regexp.Regexp
	greetings  *regexp.Regexp
	multiStep  *regexp.Regexp
	shortQuery *regexp.Regexp
}

// DefaultDomains is the built-in pattern table. Targets follow the default
// team shipped with the module; callers with custom teams supply their own
// table via Options.
var DefaultDomains = []DomainPattern{
	{
		Name:     "research",
		Keywords: []string{"research", "analyze", "analysis", "stock", "market", "compare", "investigate", "report", "summary"},
		Target:   "research-specialist",
		Weight:   30,
	},
	{
		Name:     "technical",
		Keywords: []string{"code", "debug", "api", "deploy", "database", "script", "program", "bug", "refactor"},
		Target:   "technical-specialist",
		Weight:   30,
	},
	{
		Name:     "spreadsheet",
		Keywords: []string{"spreadsheet", "excel", "csv", "sheet", "table", "pivot", "cells"},
		Target:   "data-specialist",
		Weight:   30,
	},
	{
		Name:     "ecommerce",
		Keywords: []string{"shop", "order", "product", "inventory", "checkout", "store", "listing"},
		Target:   "commerce-specialist",
		Weight:   30,
	},
	{
		Name:     "calendar",
		Keywords: []string{"calendar", "schedule", "meeting", "appointment", "remind"},
		Target:   "assistant-specialist",
		Weight:   20,
	},
	{
		Name:     "email",
		Keywords: []string{"email", "mail", "inbox", "send me", "message me"},
		Target:   "assistant-specialist",
		Weight:   20,
	},
}

// NewScorer constructs a Scorer with the default pattern table unless
// overridden.
func NewScorer(optFns ...func(o *Options)) *Scorer {
	opts := Options{Domains: DefaultDomains}
	for _, fn := range optFns {
		fn(&opts)
	}
	matchers := make([]*regexp.Regexp, len(opts.Domains))
	for i, d := range opts.Domains {
		if len(d.Keywords) == 0 {
			continue
		}
		quoted := make([]string, len(d.Keywords))
		for j, kw := range d.Keywords {
			quoted[j] = regexp.QuoteMeta(strings.ToLower(kw))
		}
		matchers[i] = regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return &Scorer{
		domains:    opts.Domains,
		matchers:   matchers,
		greetings:  regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|good (morning|afternoon|evening))\b`),
		multiStep:  regexp.MustCompile(`(?i)\b(then|after that|first|second|finally|step by step|and then)\b`),
		shortQuery: regexp.MustCompile(`(?i)^\s*(what|who|when|where|how much|how many)\b`),
	}
}

// Score evaluates the input and returns a deterministic assessment.
func (s *Scorer) Score(text string) Assessment {
	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))

	score := 40 // neutral baseline
	var factors []string

	if s.greetings.MatchString(lower) {
		score -= 35
		factors = append(factors, "greeting")
	}
	if s.shortQuery.MatchString(lower) && words <= 8 {
		score -= 20
		factors = append(factors, "short-factual-question")
	}
	if s.multiStep.MatchString(lower) {
		score += 20
		factors = append(factors, "multi-step-language")
	}
	if words > 40 {
		score += 15
		factors = append(factors, "long-unclear-scope")
	}

	// Domain keyword scan: each matching pattern adds its weight once; the
	// heaviest aggregate target wins.
	targetScores := map[string]int{}
	matched := map[string]bool{}
	for i, d := range s.domains {
		if s.matchers[i] == nil || !s.matchers[i].MatchString(lower) {
			continue
		}
		score += d.Weight
		factors = append(factors, "domain:"+d.Name)
		targetScores[d.Target] += d.Weight
		matched[d.Name] = true
	}

	// Combined calendar+email asks usually need real orchestration.
	if matched["calendar"] && matched["email"] {
		score += 15
		factors = append(factors, "calendar-email-combination")
	}

	target := bestTarget(targetScores)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Assessment{Score: score, Target: target, Factors: factors}
}

// Hint renders the assessment as an instruction fragment appended to the
// supervisor's prompt in the ambiguous band.
func (a Assessment) Hint() string {
	if len(a.Factors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("The request scored ")
	b.WriteString(strconv.Itoa(a.Score))
	b.WriteString("/100 for delegation likelihood (signals: ")
	b.WriteString(strings.Join(a.Factors, ", "))
	b.WriteString(").")
	if a.Target != "" {
		b.WriteString(" If you delegate, prefer agent '" + a.Target + "'.")
	}
	return b.String()
}

func bestTarget(scores map[string]int) string {
	if len(scores) == 0 {
		return ""
	}
	// Deterministic tie-break: highest weight, then lexicographic.
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids[0]
}
