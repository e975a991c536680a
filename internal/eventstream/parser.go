// Package eventstream implements the upstream event-stream parser
// (spec §4.6, component C6): recovering well-formed JSON objects from
// a sliding byte window, classifying them into typed events, and
// reconciling structured tool-use events against bracket-style inline
// tool calls discovered post-hoc.
package eventstream

import (
	"crypto/sha256"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sad1droid/kiro-openai-gateway/internal/identity"
)

// Kind discriminates the event variants of spec §4.6.
type Kind string

const (
	KindContent      Kind = "content"
	KindToolStart    Kind = "tool_start"
	KindToolInput    Kind = "tool_input"
	KindToolStop     Kind = "tool_stop"
	KindContextUsage Kind = "context_usage"
	KindUsage        Kind = "usage"
	KindEnd          Kind = "end"
)

// Event is one parsed unit handed to the transcoder (C7).
type Event struct {
	Kind     Kind
	Text     string  // Content text, or a raw input JSON fragment for ToolInput/ToolStart synthesis
	ToolID   string  // ToolStart/ToolInput/ToolStop
	ToolName string  // ToolStart
	Percent  float64 // ContextUsage, 0-100
	Credits  float64 // Usage
}

type toolAccumulator struct {
	name  string
	input strings.Builder
}

// Parser holds one response's worth of state (spec §3 "Parser state").
// Never shared across requests.
type Parser struct {
	buf []byte

	hasLastContentHash bool
	lastContentHash    [32]byte

	openTools map[string]*toolAccumulator
	toolOrder []string // first-seen order, for deterministic dedup
	plainText strings.Builder

	contextUsage *float64
	credits      *float64
}

// NewParser creates an empty parser ready to receive the first chunk.
func NewParser() *Parser {
	return &Parser{openTools: map[string]*toolAccumulator{}}
}

// Feed appends a chunk of upstream bytes and returns any events that
// became recoverable as a result. Partial frames remain buffered.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)

	var events []Event
	cursor := 0
	for {
		start := nextBrace(string(p.buf), cursor)
		if start == -1 {
			break
		}
		end := FindMatchingBrace(string(p.buf), start)
		if end == -1 {
			// Incomplete frame; wait for more data.
			break
		}

		frame := p.buf[start : end+1]
		if evs := p.decodeFrame(frame); len(evs) > 0 {
			events = append(events, evs...)
		}
		cursor = end + 1
	}

	// Drop fully-consumed bytes, keep the rest (a partial trailing frame).
	if cursor > 0 {
		p.buf = append([]byte{}, p.buf[cursor:]...)
	}

	return events
}

func (p *Parser) decodeFrame(frame []byte) []Event {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(frame, &obj); err != nil {
		return nil
	}

	if raw, ok := obj["content"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return p.handleContent(text)
		}
		return nil
	}

	if raw, ok := obj["toolUseId"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil || id == "" {
			return nil
		}
		return p.handleToolFrame(id, obj)
	}

	if raw, ok := obj["contextUsagePercentage"]; ok {
		var pct float64
		if err := json.Unmarshal(raw, &pct); err == nil {
			p.contextUsage = &pct
			p.nonContentEvent()
			return []Event{{Kind: KindContextUsage, Percent: pct}}
		}
		return nil
	}

	if raw, ok := firstOf(obj, "creditsUsed", "credits"); ok {
		var c float64
		if err := json.Unmarshal(raw, &c); err == nil {
			p.credits = &c
			p.nonContentEvent()
			return []Event{{Kind: KindUsage, Credits: c}}
		}
	}

	return nil
}

func firstOf(obj map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// handleContent applies the adjacent-equality dedup rule (spec §4.6,
// testable property 6): only an immediately preceding Content event
// with the same text is collapsed.
func (p *Parser) handleContent(text string) []Event {
	hash := sha256.Sum256([]byte(text))
	if p.hasLastContentHash && hash == p.lastContentHash {
		return nil
	}
	p.hasLastContentHash = true
	p.lastContentHash = hash
	p.plainText.WriteString(text)
	return []Event{{Kind: KindContent, Text: text}}
}

// nonContentEvent breaks content-dedup adjacency — any other event
// resets the adjacency window.
func (p *Parser) nonContentEvent() {
	p.hasLastContentHash = false
}

func (p *Parser) handleToolFrame(id string, obj map[string]json.RawMessage) []Event {
	var events []Event

	if raw, ok := obj["stop"]; ok {
		var stop bool
		if err := json.Unmarshal(raw, &stop); err == nil && stop {
			p.nonContentEvent()
			return []Event{{Kind: KindToolStop, ToolID: id}}
		}
	}

	if raw, ok := obj["name"]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil && name != "" {
			p.openTools[id] = &toolAccumulator{name: name}
			p.toolOrder = append(p.toolOrder, id)
			p.nonContentEvent()
			events = append(events, Event{Kind: KindToolStart, ToolID: id, ToolName: name})
		}
	}

	if raw, ok := obj["input"]; ok {
		var fragment string
		if err := json.Unmarshal(raw, &fragment); err == nil {
			if acc, ok := p.openTools[id]; ok {
				acc.input.WriteString(fragment)
			}
			p.nonContentEvent()
			events = append(events, Event{Kind: KindToolInput, ToolID: id, Text: fragment})
		}
	}

	return events
}

// bracketCallPattern locates the textual prefix of a bracket-style
// inline tool call; the JSON argument object itself is recovered with
// FindMatchingBrace, not by this regex, since braces may nest.
var bracketCallPattern = regexp.MustCompile(`\[Called ([A-Za-z0-9_.-]+)(?: with args)?: `)

// End finalizes the stream: it runs the post-hoc bracket-style
// extraction over the accumulated plain text, deduplicates against
// structured tool calls already seen, and returns any synthesized
// tool events followed by the terminal End event (spec §4.6, §4.7
// rule 6 — synthesized chunks precede the finish chunk).
func (p *Parser) End() []Event {
	text := p.plainText.String()
	bracketCalls := extractBracketCalls(text)

	seen := map[string]bool{}
	for _, id := range p.toolOrder {
		acc := p.openTools[id]
		seen[dedupeKey(acc.name, acc.input.String())] = true
	}

	var events []Event
	for _, bc := range bracketCalls {
		key := dedupeKey(bc.name, bc.argsJSON)
		if seen[key] {
			continue
		}
		seen[key] = true

		id := identity.ToolCallID()
		events = append(events,
			Event{Kind: KindToolStart, ToolID: id, ToolName: bc.name},
			Event{Kind: KindToolInput, ToolID: id, Text: bc.argsJSON},
			Event{Kind: KindToolStop, ToolID: id},
		)
	}

	events = append(events, Event{Kind: KindEnd})
	return events
}

// dedupeKey canonicalizes a (name, input) pair by re-marshaling the
// JSON so differences in key order or whitespace don't defeat dedup
// (spec testable property 7).
func dedupeKey(name, rawInput string) string {
	canonical := rawInput
	var v interface{}
	if err := json.Unmarshal([]byte(rawInput), &v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			canonical = string(b)
		}
	}
	return name + "\x00" + canonical
}

type bracketCall struct {
	name     string
	argsJSON string
}

// extractBracketCalls scans text for `[Called NAME: {...}]` (or
// `[Called NAME with args: {...}]`), brace-balancing the JSON object
// with FindMatchingBrace so nested braces and quoted `}` don't
// truncate the match.
func extractBracketCalls(text string) []bracketCall {
	var calls []bracketCall

	matches := bracketCallPattern.FindAllStringSubmatchIndex(text, -1)
	for _, m := range matches {
		braceStart := m[1] // end of the matched prefix, where '{' should begin
		if braceStart >= len(text) || text[braceStart] != '{' {
			continue
		}
		braceEnd := FindMatchingBrace(text, braceStart)
		if braceEnd == -1 {
			continue
		}
		// Require a closing ']' immediately (optionally after whitespace).
		i := braceEnd + 1
		for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
			i++
		}
		if i >= len(text) || text[i] != ']' {
			continue
		}

		name := text[m[2]:m[3]]
		argsJSON := text[braceStart : braceEnd+1]
		calls = append(calls, bracketCall{name: name, argsJSON: argsJSON})
	}

	return calls
}

// ContextUsagePercent returns the last observed context-usage
// percentage, if any.
func (p *Parser) ContextUsagePercent() (float64, bool) {
	if p.contextUsage == nil {
		return 0, false
	}
	return *p.contextUsage, true
}

// Credits returns the last observed credit cost, if any.
func (p *Parser) Credits() (float64, bool) {
	if p.credits == nil {
		return 0, false
	}
	return *p.credits, true
}

// PlainText returns the accumulated, post-dedup content text sent
// downstream during this response.
func (p *Parser) PlainText() string {
	return p.plainText.String()
}
