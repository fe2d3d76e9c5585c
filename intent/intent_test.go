package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_ResearchAndEmail(t *testing.T) {
	s := NewScorer()

	a := s.Score("Analyze AAPL stock and email me a summary")
	assert.Greater(t, a.Score, DelegateThreshold)
	assert.Equal(t, "research-specialist", a.Target)
	assert.True(t, a.ShouldDelegate())
	assert.Contains(t, a.Factors, "domain:research")
	assert.Contains(t, a.Factors, "domain:email")
}

func TestScore_Greeting(t *testing.T) {
	s := NewScorer()

	a := s.Score("Hi there!")
	assert.Less(t, a.Score, DirectThreshold)
	assert.True(t, a.Direct())
	assert.False(t, a.ShouldDelegate())
	assert.Contains(t, a.Factors, "greeting")
}

func TestScore_ShortFactualQuestion(t *testing.T) {
	s := NewScorer()

	a := s.Score("What is the capital of France?")
	assert.Less(t, a.Score, DirectThreshold)
	assert.Contains(t, a.Factors, "short-factual-question")
}

func TestScore_KeywordWordBoundaries(t *testing.T) {
	s := NewScorer()

	// "capital" must not trip the technical keyword "api".
	a := s.Score("What is the capital of France?")
	assert.NotContains(t, a.Factors, "domain:technical")

	// "orders" is not the whole word "order".
	a = s.Score("The orders keep arriving faster than the team can pack them up")
	assert.NotContains(t, a.Factors, "domain:ecommerce")

	// Multi-word phrases still match.
	a = s.Score("Could you send me the quarterly figures when they are ready")
	assert.Contains(t, a.Factors, "domain:email")
}

func TestScore_Ambiguous(t *testing.T) {
	s := NewScorer()

	a := s.Score("Please check my calendar for tomorrow")
	assert.True(t, a.Ambiguous(), "score %d", a.Score)
	assert.Equal(t, "assistant-specialist", a.Target)
	assert.NotEmpty(t, a.Hint())
	assert.Contains(t, a.Hint(), "assistant-specialist")
}

func TestScore_CalendarEmailCombination(t *testing.T) {
	s := NewScorer()

	a := s.Score("Schedule a meeting with the team and email the invite")
	assert.Contains(t, a.Factors, "calendar-email-combination")
	assert.Greater(t, a.Score, DelegateThreshold)
	assert.Equal(t, "assistant-specialist", a.Target)
}

func TestScore_MultiStepLanguage(t *testing.T) {
	s := NewScorer()

	a := s.Score("First research the market, then draft a report")
	assert.Contains(t, a.Factors, "multi-step-language")
	assert.True(t, a.ShouldDelegate())
	assert.Equal(t, "research-specialist", a.Target)
}

func TestScore_Deterministic(t *testing.T) {
	s := NewScorer()

	first := s.Score("Analyze AAPL stock and email me a summary")
	second := s.Score("Analyze AAPL stock and email me a summary")
	assert.Equal(t, first, second)
}

func TestScore_Clamped(t *testing.T) {
	s := NewScorer()

	long := "First research the stock market, then debug the deploy script, " +
		"after that build a spreadsheet with the inventory orders, " +
		"then schedule a meeting and finally email me a summary report " +
		"covering every single finding in as much detail as you possibly can provide here"
	a := s.Score(long)
	assert.Equal(t, 100, a.Score)

	assert.GreaterOrEqual(t, s.Score("hi").Score, 0)
}

func TestScore_CustomDomains(t *testing.T) {
	s := NewScorer(func(o *Options) {
		o.Domains = []DomainPattern{
			{Name: "legal", Keywords: []string{"contract", "clause"}, Target: "legal-specialist", Weight: 40},
		}
	})

	a := s.Score("Review this contract clause for risks and liabilities please")
	assert.Greater(t, a.Score, DelegateThreshold)
	assert.Equal(t, "legal-specialist", a.Target)
}

func TestHint_Empty(t *testing.T) {
	assert.Empty(t, Assessment{Score: 40}.Hint())
}

func TestBestTarget_Deterministic(t *testing.T) {
	scores := map[string]int{"b-specialist": 30, "a-specialist": 30}
	require.Equal(t, "a-specialist", bestTarget(scores))
	assert.Equal(t, "", bestTarget(nil))
}
