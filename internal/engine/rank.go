package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/heymuze/muze/internal/llm"
	"github.com/heymuze/muze/internal/store"
)

// corpusExcerptLen bounds how much knowledge-graph text goes into a
// question prompt.
const corpusExcerptLen = 500

// Candidate is one potential nudge for a user: a generated question, the
// urgency it carries, and the loop topic it refers to.
type Candidate struct {
	Topic    string
	Weight   int
	Question string
}

// BuildCandidates merges the three scans into a single ranked candidate
// list for one user: upcoming events first, then decaying topics, then
// pacing-ready high-urgency loops. Event candidates 0 or 1 days out are
// forced to weight 5 regardless of the loop's stored weight. Topics that
// already have an open nudge are skipped before any question is
// generated. The result is sorted by weight descending; ties keep the
// scanner-priority order.
func (e *Engine) BuildCandidates(ctx context.Context, user *store.User, loops []store.OpenLoop, corpus string, now time.Time) ([]Candidate, []string, error) {
	byTopic := make(map[string]store.OpenLoop, len(loops))
	for _, l := range loops {
		byTopic[l.Topic] = l
	}

	var candidates []Candidate
	seen := make(map[string]bool)

	skipTopic := func(topic string) bool {
		if seen[topic] {
			return true
		}
		open, err := e.DB.HasOpenNudge(user.PhoneNumber, topic)
		if err != nil {
			log.Printf("candidates: open-nudge check for %s/%q: %v", user.PhoneNumber, topic, err)
			return true
		}
		return open
	}

	// Upcoming events, soonest first.
	for _, ev := range UpcomingEvents(loops, now, e.LookaheadDays) {
		if skipTopic(ev.Topic) {
			continue
		}
		loop := byTopic[ev.Topic]

		var question string
		weight := loop.Weight
		switch ev.DaysUntil {
		case 0:
			question = fmt.Sprintf("Big day today - how did %s go?", ev.Topic)
			weight = 5
		case 1:
			question = fmt.Sprintf("Tomorrow's the day for %s - feeling ready?", ev.Topic)
			weight = 5
		default:
			question = e.generateQuestion(ctx, &loop, corpus)
		}

		candidates = append(candidates, Candidate{Topic: ev.Topic, Weight: weight, Question: question})
		seen[ev.Topic] = true
	}

	// Decaying topics.
	decaying := DetectDecayingLoops(loops, now, e.StalenessDays)
	for _, topic := range decaying {
		if skipTopic(topic) {
			continue
		}
		loop := byTopic[topic]
		candidates = append(candidates, Candidate{
			Topic:    topic,
			Weight:   loop.Weight,
			Question: e.generateQuestion(ctx, &loop, corpus),
		})
		seen[topic] = true
	}

	// High-urgency loops due purely by elapsed time.
	for _, loop := range PacingReadyLoops(loops, now, seen) {
		if skipTopic(loop.Topic) {
			continue
		}
		candidates = append(candidates, Candidate{
			Topic:    loop.Topic,
			Weight:   loop.Weight,
			Question: e.generateQuestion(ctx, &loop, corpus),
		})
		seen[loop.Topic] = true
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Weight > candidates[j].Weight
	})

	return candidates, decaying, nil
}

// generateQuestion asks the text generation service for a check-in
// question, falling back to a plain one when the service is missing or
// fails. A collaborator failure must never block a nudge.
func (e *Engine) generateQuestion(ctx context.Context, loop *store.OpenLoop, corpus string) string {
	fallback := fmt.Sprintf("Hey! Any updates on %s?", loop.Topic)
	if e.LLM == nil {
		return fallback
	}

	excerpt := corpus
	if len(excerpt) > corpusExcerptLen {
		excerpt = excerpt[:corpusExcerptLen]
	}

	prompt := llm.CheckInQuestionPrompt(loop.Topic, loop.Status, loop.Weight,
		loop.Description, loop.NextEventDate, excerpt)
	resp, err := e.LLM.Complete(ctx, prompt)
	if err != nil {
		log.Printf("question generation for %q: %v", loop.Topic, err)
		return fallback
	}

	question := strings.TrimSpace(resp.Content)
	if question == "" {
		return fallback
	}
	return question
}
