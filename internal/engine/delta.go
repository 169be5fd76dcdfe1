package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/heymuze/muze/internal/llm"
	"github.com/heymuze/muze/internal/store"
)

// StateDelta is the typed result of analyzing a user message against
// their current open loops: loops to create, update, or resolve, plus
// knowledge-graph cleanup instructions. The engine applies it through
// validated transitions instead of trusting freeform model output.
type StateDelta struct {
	Loops         map[string]LoopDelta `json:"updated_loops"`
	CorpusCleanup []string             `json:"corpus_cleanup"`
	Reasoning     string               `json:"reasoning"`
}

// LoopDelta is one loop change inside a StateDelta.
type LoopDelta struct {
	Status        string `json:"status"`
	NextEventDate string `json:"next_event_date"`
	Weight        int    `json:"weight"`
	Description   string `json:"description"`
}

// ExtractStateDelta asks the text generation service what changed in the
// user's open loops given their latest message. Entries that fail
// validation are dropped individually; a response with no usable JSON is
// an error and leaves the loop state untouched.
func (e *Engine) ExtractStateDelta(ctx context.Context, corpus, message string, loops []store.OpenLoop) (*StateDelta, error) {
	if e.LLM == nil {
		return nil, errors.New("no LLM configured")
	}

	loopsJSON, err := json.MarshalIndent(loopSummary(loops), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal loops: %w", err)
	}

	today := time.Now().UTC().Format(store.EventDateLayout)
	prompt := llm.StateDeltaPrompt(corpus, string(loopsJSON), message, today)

	resp, err := e.LLM.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("state delta llm: %w", err)
	}

	delta, err := parseStateDelta(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse state delta: %w", err)
	}

	// Validate each entry; reject garbage without losing the rest.
	for topic, ld := range delta.Loops {
		if err := validateLoopDelta(topic, ld); err != nil {
			log.Printf("state delta: rejecting %q: %v", topic, err)
			delete(delta.Loops, topic)
		}
	}
	return delta, nil
}

// ApplyStateDelta writes a validated delta to the store. Every loop
// touched gets its last-updated refreshed to now, and any corpus cleanup
// instructions are run against the stored knowledge graph.
func (e *Engine) ApplyStateDelta(ctx context.Context, phone string, delta *StateDelta) error {
	now := time.Now().UnixMilli()
	for topic, ld := range delta.Loops {
		loop := &store.OpenLoop{
			PhoneNumber:   phone,
			Topic:         topic,
			Status:        ld.Status,
			LastUpdated:   now,
			NextEventDate: ld.NextEventDate,
			Weight:        ld.Weight,
			Description:   ld.Description,
		}
		if err := e.DB.UpsertLoop(loop); err != nil {
			return fmt.Errorf("apply delta for %q: %w", topic, err)
		}
	}

	if len(delta.CorpusCleanup) > 0 {
		if err := e.applyCorpusCleanup(ctx, phone, delta.CorpusCleanup); err != nil {
			log.Printf("state delta: corpus cleanup for %s: %v", phone, err)
		}
	}
	return nil
}

// applyCorpusCleanup rewrites the user's knowledge graph through the
// model. A failed or implausibly short rewrite keeps the original
// corpus; cleanup is an optimization, never worth losing data over.
func (e *Engine) applyCorpusCleanup(ctx context.Context, phone string, instructions []string) error {
	if e.LLM == nil {
		return errors.New("no LLM configured")
	}
	corpus, err := e.DB.GetCorpus(phone)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	if strings.TrimSpace(corpus) == "" {
		return nil
	}

	resp, err := e.LLM.Complete(ctx, llm.CorpusCleanupPrompt(corpus, instructions))
	if err != nil {
		return fmt.Errorf("cleanup llm: %w", err)
	}
	cleaned := strings.TrimSpace(resp.Content)
	if len(cleaned) < 50 {
		return fmt.Errorf("rewrite too short (%d chars), keeping original", len(cleaned))
	}
	if err := e.DB.SaveCorpus(phone, cleaned); err != nil {
		return fmt.Errorf("save corpus: %w", err)
	}
	return nil
}

// ProcessIncoming records a message from the user and folds it into
// their open-loop state. With no LLM configured the message is still
// stored and the interaction clock still resets; only the delta
// extraction is skipped.
func (e *Engine) ProcessIncoming(ctx context.Context, phone, body string) error {
	user, err := e.DB.GetUser(phone)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("unknown user %s", phone)
	}

	if _, err := e.DB.StoreMessage(phone, store.DirIncoming, body); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if err := e.DB.TouchInteraction(phone); err != nil {
		return fmt.Errorf("touch interaction: %w", err)
	}

	if e.LLM == nil {
		return nil
	}

	loops, err := e.DB.GetLoops(phone)
	if err != nil {
		return fmt.Errorf("load loops: %w", err)
	}
	corpus, err := e.DB.GetCorpus(phone)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}

	// Extraction is best-effort: a garbled model response must not fail
	// the ingest, the message is already recorded.
	delta, err := e.ExtractStateDelta(ctx, corpus, body, loops)
	if err != nil {
		log.Printf("incoming: state delta for %s: %v", phone, err)
		return nil
	}
	return e.ApplyStateDelta(ctx, phone, delta)
}

func validateLoopDelta(topic string, ld LoopDelta) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("empty topic")
	}
	if ld.Status != store.LoopActive && ld.Status != store.LoopDecaying && ld.Status != store.LoopResolved {
		return fmt.Errorf("invalid status %q", ld.Status)
	}
	if ld.Weight < 1 || ld.Weight > 5 {
		return fmt.Errorf("weight %d out of range 1-5", ld.Weight)
	}
	if ld.NextEventDate != "" && strings.ToLower(ld.NextEventDate) != "null" {
		if _, err := time.Parse(store.EventDateLayout, ld.NextEventDate); err != nil {
			return fmt.Errorf("unparsable event date %q", ld.NextEventDate)
		}
	}
	return nil
}

// parseStateDelta extracts a JSON object from the LLM response, which
// might be wrapped in markdown code fences or surrounding prose.
func parseStateDelta(content string) (*StateDelta, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end <= start {
		return nil, errors.New("no JSON object found in response")
	}

	var delta StateDelta
	if err := json.Unmarshal([]byte(content[start:end+1]), &delta); err != nil {
		return nil, fmt.Errorf("unmarshal delta: %w", err)
	}
	if delta.Loops == nil {
		delta.Loops = map[string]LoopDelta{}
	}

	// The model sometimes echoes "null" for missing dates.
	for topic, ld := range delta.Loops {
		if strings.EqualFold(ld.NextEventDate, "null") {
			ld.NextEventDate = ""
			delta.Loops[topic] = ld
		}
	}
	return &delta, nil
}

// loopSummary renders loops as the topic-keyed map shape the prompt
// expects.
func loopSummary(loops []store.OpenLoop) map[string]map[string]any {
	out := make(map[string]map[string]any, len(loops))
	for _, l := range loops {
		entry := map[string]any{
			"status":      l.Status,
			"weight":      l.Weight,
			"description": l.Description,
		}
		if l.NextEventDate != "" {
			entry["next_event_date"] = l.NextEventDate
		}
		if l.LastUpdated != 0 {
			entry["last_updated"] = time.UnixMilli(l.LastUpdated).UTC().Format(time.RFC3339)
		}
		out[l.Topic] = entry
	}
	return out
}
