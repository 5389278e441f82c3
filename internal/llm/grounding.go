package llm

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/nickcecere/qitops/internal/search"
)

const persona = "You are a QA expert assistant. Answer questions based on the provided test cases and performance metrics. Be concise and technical."

// Greeting is shown when a chat session starts.
const Greeting = "You are talking to a QA expert assistant. Ask me about test cases or performance metrics."

// groundingEntry is the serialized form of one retrieved document.
type groundingEntry struct {
	Kind     string         `json:"kind"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// SystemPrompt binds the assistant persona to a grounding block.
func SystemPrompt(block string) string {
	return "QA Context:\n" + block + "\n" + persona
}

// BuildGroundingBlock serializes results, best first, as a JSON array of at
// most maxChars bytes. Entries that do not fit are dropped; when not even the
// first fits, its content is shortened. maxChars <= 0 disables the bound.
func BuildGroundingBlock(results []search.Result, maxChars int) string {
	var sb strings.Builder
	sb.WriteByte('[')

	for i, r := range results {
		entry := groundingEntry{
			Kind:     r.Document.Kind,
			Content:  r.Document.Content,
			Metadata: r.Document.Metadata,
			Score:    math.Round(r.Score*1e4) / 1e4,
		}

		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}

		sep := 0
		if sb.Len() > 1 {
			sep = 1
		}

		if maxChars > 0 && sb.Len()+sep+len(data)+1 > maxChars {
			if i == 0 {
				data = shrinkEntry(entry, maxChars-2)
				if data == nil {
					break
				}
			} else {
				break
			}
		}

		if sep == 1 {
			sb.WriteByte(',')
		}
		sb.Write(data)
	}

	sb.WriteByte(']')
	return sb.String()
}

// shrinkEntry cuts entry's content until its encoding fits in budget bytes.
func shrinkEntry(entry groundingEntry, budget int) []byte {
	runes := []rune(entry.Content)
	for n := len(runes); n >= 0; {
		entry.Content = string(runes[:n])
		if n < len(runes) {
			entry.Content += "..."
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return nil
		}
		if len(data) <= budget {
			return data
		}
		if n == 0 {
			return nil
		}

		// Multi-byte runes make the byte overshoot larger than the rune overshoot
		over := len(data) - budget
		n = max(n-max(over/2, 1), 0)
	}
	return nil
}
