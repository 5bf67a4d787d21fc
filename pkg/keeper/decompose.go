package keeper

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/keepstack/keeper/pkg/provider"
)

// sectionsSchema validates the shape of LLM decomposition output before any
// entry is trusted.
const sectionsSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"summary": {"type": "string"},
			"content": {"type": "string"},
			"tags": {
				"type": "object",
				"additionalProperties": {"type": "string"}
			}
		},
		"additionalProperties": true
	}
}`

const decomposeSystemPrompt = `You split documents into coherent sections for a local memory index.
Reply with a JSON array of objects, each with "summary" (one sentence),
"content" (the verbatim section text), and optionally "tags" (a flat
string-to-string object). Preserve the document order. Reply with JSON only.`

// Paragraph fallback thresholds. Chunking only kicks in when a document has
// at least two paragraphs above minParagraphLen; short single-paragraph
// content legitimately yields zero parts.
const (
	minParagraphLen = 120
	maxChunkLen     = 700
	summaryMaxLen   = 160
)

// Section is one ordered piece of a decomposed document
type Section struct {
	Summary string            `json:"summary"`
	Content string            `json:"content"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// DecompositionEngine splits document content into ordered sections, using
// an LLM when configured and paragraph chunking otherwise.
type DecompositionEngine struct {
	llm          provider.LLMProvider
	schemaLoader gojsonschema.JSONLoader
	logger       zerolog.Logger
}

// NewDecompositionEngine creates an engine. llm may be nil, in which case
// only the paragraph fallback is used.
func NewDecompositionEngine(llm provider.LLMProvider, logger zerolog.Logger) *DecompositionEngine {
	return &DecompositionEngine{
		llm:          llm,
		schemaLoader: gojsonschema.NewStringLoader(sectionsSchema),
		logger:       logger.With().Str("component", "decompose").Logger(),
	}
}

// Decompose splits content into ordered sections. LLM failures and malformed
// output degrade to paragraph chunking; zero sections is a valid outcome for
// short content, never an error.
func (e *DecompositionEngine) Decompose(ctx context.Context, content string) []Section {
	if e.llm != nil {
		raw, err := e.llm.Complete(ctx, decomposeSystemPrompt, content)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Decomposition call failed, falling back to chunking")
		} else if sections := e.parseSections(raw); len(sections) > 0 {
			return sections
		} else {
			e.logger.Warn().Msg("Decomposition output unusable, falling back to chunking")
		}
	}

	return chunkParagraphs(content)
}

// parseSections parses LLM output as a JSON array of sections, tolerating a
// raw array, a ```json code fence, or a wrapper object with a "sections"
// key. Entries missing both summary and content are dropped silently.
func (e *DecompositionEngine) parseSections(raw string) []Section {
	payload := stripCodeFence(raw)
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}

	var arrayJSON string
	switch payload[0] {
	case '[':
		arrayJSON = payload
	case '{':
		var wrapper struct {
			Sections json.RawMessage `json:"sections"`
		}
		if err := json.Unmarshal([]byte(payload), &wrapper); err != nil || wrapper.Sections == nil {
			return nil
		}
		arrayJSON = string(wrapper.Sections)
	default:
		return nil
	}

	result, err := gojsonschema.Validate(e.schemaLoader, gojsonschema.NewStringLoader(arrayJSON))
	if err != nil || !result.Valid() {
		e.logger.Debug().Msg("Decomposition output failed schema validation")
		return nil
	}

	var parsed []Section
	if err := json.Unmarshal([]byte(arrayJSON), &parsed); err != nil {
		return nil
	}

	sections := make([]Section, 0, len(parsed))
	for _, s := range parsed {
		if s.Summary == "" && s.Content == "" {
			continue
		}
		sections = append(sections, s)
	}
	return sections
}

// stripCodeFence unwraps a ```json ... ``` (or bare ```) fenced block
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return raw
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		// Drop the language hint line ("json")
		firstLine := strings.TrimSpace(trimmed[:nl])
		if firstLine == "json" || firstLine == "" {
			trimmed = trimmed[nl+1:]
		}
	}
	if end := strings.LastIndex(trimmed, "```"); end >= 0 {
		trimmed = trimmed[:end]
	}
	return trimmed
}

// chunkParagraphs groups paragraphs into sections of bounded size. It emits
// nothing unless the content has at least two paragraphs above the length
// threshold.
func chunkParagraphs(content string) []Section {
	paragraphs := splitParagraphs(content)

	longCount := 0
	for _, p := range paragraphs {
		if len(p) >= minParagraphLen {
			longCount++
		}
	}
	if longCount < 2 {
		return nil
	}

	var sections []Section
	var current strings.Builder
	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text == "" {
			return
		}
		sections = append(sections, Section{
			Summary: firstLineSummary(text),
			Content: text,
		})
	}

	for _, p := range paragraphs {
		if current.Len() > 0 && current.Len()+len(p) > maxChunkLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	return sections
}

func splitParagraphs(content string) []string {
	var paragraphs []string
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// firstLineSummary derives a section summary from its first line
func firstLineSummary(text string) string {
	line := text
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	return truncateRunes(strings.TrimSpace(line), summaryMaxLen)
}

// truncateRunes caps s at maxBytes without splitting a UTF-8 rune
func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
