package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/secondme/secondme/pkg/store"
)

const extractionPromptTemplate = `You are a memory management assistant. Analyze the conversation and extract information worth remembering long-term.

## Existing related memories
%s

## Recent conversation (context only, for understanding)
%s

## New conversation content (extract from here)
%s

## Extraction rules
1. Only extract information with long-term value
2. Ignore: small talk, greetings, thanks, transient discussion
3. Use concise declarative sentences; each memory must stand alone
4. Compare against existing memories:
   - Exact duplicate: skip
   - Updated or supplemented information: mark as update (provide the original memory ID)
   - Genuinely new information: add

## Memory types
- personal: personal information (name, occupation, family)
- preference: preferences and habits (likes, style, routines)
- fact: important facts (project details, tech stack)
- plan: plans and decisions (todos, goals, commitments)

## Output format (strict JSON)
{
  "add": [
    {"type": "personal", "content": "The user's name is Alex; they work as a backend engineer"},
    {"type": "fact", "content": "The user is building an AI chat assistant with Go"}
  ],
  "update": [
    {"id": "original memory ID", "content": "the full updated content"}
  ],
  "reason": "brief note on what was extracted or skipped"
}

If nothing is worth remembering:
{
  "add": [],
  "update": [],
  "reason": "conversation is casual chat, nothing to remember"
}`

// candidateMemory is an existing memory offered to the model for
// deduplication. Candidates come from vector search when an embedder is
// configured, otherwise from the full extracted set.
type candidateMemory struct {
	ID      string
	Content string
}

func buildExtractionPrompt(candidates []candidateMemory, context, fresh []store.Message) string {
	return fmt.Sprintf(extractionPromptTemplate,
		formatCandidates(candidates),
		formatMessages(context),
		formatMessages(fresh),
	)
}

func formatMessages(msgs []store.Message) string {
	if len(msgs) == 0 {
		return "(none)"
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := "AI"
		if m.Role == "user" {
			role = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, m.Content))
	}
	return strings.Join(lines, "\n")
}

func formatCandidates(candidates []candidateMemory) string {
	if len(candidates) == 0 {
		return "(none)"
	}

	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lines = append(lines, fmt.Sprintf("[ID:%s] %s", c.ID, c.Content))
	}
	return strings.Join(lines, "\n")
}

// extractionResult is the shape the model is asked to emit.
type extractionResult struct {
	Add    []addItem    `json:"add"`
	Update []updateItem `json:"update"`
	Reason string       `json:"reason"`
}

type addItem struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type updateItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// parseExtractionResult parses the model response: strict JSON first, then
// the substring between the first '{' and the last '}' for
// models that wrap JSON in prose or code fences. An unparseable response
// yields an empty result with ok=false; it never aborts the batch.
func parseExtractionResult(response string) (extractionResult, bool) {
	var result extractionResult
	if err := json.Unmarshal([]byte(response), &result); err == nil {
		return result, true
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		result = extractionResult{}
		if err := json.Unmarshal([]byte(response[start:end+1]), &result); err == nil {
			return result, true
		}
	}

	return extractionResult{Reason: "unparseable model output"}, false
}
