package llm

import (
	"fmt"
	"strings"
)

// CheckInQuestionPrompt generates the prompt for a single-topic check-in
// question.
func CheckInQuestionPrompt(topic, status string, weight int, description, nextEvent, corpusExcerpt string) string {
	if nextEvent == "" {
		nextEvent = "None"
	}
	return fmt.Sprintf(`Generate a natural, personalized check-in question for a user.

TOPIC: %s
STATUS: %s
URGENCY: %d/5
DESCRIPTION: %s
UPCOMING EVENT: %s

CONTEXT FROM KNOWLEDGE GRAPH:
%s

Create a brief (1-2 sentence) question that:
- Feels like a genuine check-in from a friend
- References specific context if available
- Matches the urgency (5 = "How did X go?", 1 = "Any updates on Y?")
- Doesn't feel robotic or formulaic

Examples:
- "Hey! You mentioned pitching to investors this week - how did that go?"
- "It's been a bit - any progress on the MVP launch?"

Return ONLY the question, nothing else.`, topic, status, weight, description, nextEvent, corpusExcerpt)
}

// BatchMessagePrompt generates the prompt for combining several check-in
// questions into one conversational message.
func BatchMessagePrompt(displayName string, questions []string, corpusExcerpt string) string {
	if displayName == "" {
		displayName = "there"
	}
	var numbered strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&numbered, "%d. %s\n", i+1, q)
	}

	return fmt.Sprintf(`You are Muze, a personal biographer checking in with a user about multiple topics.

USER'S NAME: %s

QUESTIONS TO ASK:
%s
CONTEXT (their knowledge graph):
%s

Combine these questions into ONE natural, friendly message that:
- Feels like a genuine check-in from a friend, not a survey
- Transitions smoothly between topics
- Keeps it brief (2-4 sentences max)
- Uses their name if appropriate

Return ONLY the message, nothing else.`, displayName, numbered.String(), corpusExcerpt)
}

// StateDeltaPrompt generates the prompt for extracting a typed open-loop
// state delta from the latest user message.
func StateDeltaPrompt(corpus, loopsJSON, message, today string) string {
	return fmt.Sprintf(`You are the state manager for Muze, a personal biographer system.
Analyze the user's latest message and manage their "open loops" - ongoing
projects, future events, and topics that need follow-up.

USER'S KNOWLEDGE GRAPH:
%s

CURRENT OPEN LOOPS:
%s

LATEST USER MESSAGE:
"%s"

Tasks:
1. New loops: future events, new projects or goals the user mentioned.
   weight 5 if urgent/time-bound, 3-4 if important, 1-2 if casual.
2. Resolved loops: anything the user indicated is done gets status "resolved".
3. Corpus cleanup: list obsolete or contradictory lines in the knowledge graph.

Rules:
- PRESERVE loops that are still relevant; only resolve what the user completed.
- next_event_date must be YYYY-MM-DD or null.
- If nothing changed, return empty objects/arrays.
- Today's date: %s

Return ONLY a JSON object:
{
  "updated_loops": {
    "Topic Name": {
      "status": "active|decaying|resolved",
      "next_event_date": "YYYY-MM-DD" or null,
      "weight": 1-5,
      "description": "one sentence"
    }
  },
  "corpus_cleanup": ["DELETE line: '...' - reason"],
  "reasoning": "brief explanation"
}`, corpus, loopsJSON, message, today)
}

// CorpusCleanupPrompt generates the prompt for applying cleanup
// instructions to the user's knowledge graph.
func CorpusCleanupPrompt(corpus string, instructions []string) string {
	var numbered strings.Builder
	for i, inst := range instructions {
		fmt.Fprintf(&numbered, "%d. %s\n", i+1, inst)
	}
	return fmt.Sprintf(`You are maintaining a personal knowledge graph written in markdown.
Apply the cleanup instructions below to the corpus: remove or update only
the lines the instructions name, keep everything else exactly as is.

CORPUS:
%s

CLEANUP INSTRUCTIONS:
%s
Return ONLY the cleaned corpus markdown, nothing else.`, corpus, numbered.String())
}
