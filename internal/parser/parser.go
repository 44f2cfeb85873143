// Package parser turns the raw terminal output of an agent pane into
// structured output events.
package parser

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/cbridge/internal/domain/events"
)

const (
	// DefaultToolResultMaxBytes bounds the body of a single tool result event.
	DefaultToolResultMaxBytes = 4096

	// DefaultMaxLineBytes bounds a line that has not seen its newline yet.
	DefaultMaxLineBytes = 64 * 1024

	// maxHeldLines bounds the lines held between a permission panel header
	// and its question.
	maxHeldLines = 12
)

// Status values carried by status events.
const (
	StateWorking = "working"
	StateIdle    = "idle"
)

var (
	// "Do you want to proceed?", "Do you want to make this edit to main.go?",
	// "Do you trust the files in this folder?", "Allow?", "Allow Bash to run?"
	permissionPattern = regexp.MustCompile(`(?i)^(?:Do you (?:want to|trust)\b.*\?|Allow\b.*\?)$`)

	// "Bash command", "Edit file" headers at the top of a permission panel.
	panelPattern = regexp.MustCompile(`(?i)^(Bash|Write|Edit|Read|Delete|Create|Fetch|MCP)\s+(command|file|tool|request)$`)

	// "❯ 1. Yes", "  2. Yes, and don't ask again", "n. No"
	optionPattern = regexp.MustCompile(`^(?:[❯>]\s*)?(?:[1-9]|[yn])\.\s+\S`)

	// "❯ Yes, proceed" / "No, exit" in folder trust prompts.
	textOptionPattern = regexp.MustCompile(`^(?:[❯>]\s*)?(?:Yes,?\s+proceed|No,?\s+exit)`)

	// "Esc to cancel" style footers that close a prompt.
	promptEndPattern = regexp.MustCompile(`(?i)^(?:Esc(?:ape)?\s+to\s+cancel|enter\s+to\s+confirm)`)

	// "⏺ Bash(go test ./...)", "● Read(main.go)", "⏺ mcp__fs__read (MCP)(path: x)"
	toolUsePattern = regexp.MustCompile(`^[⏺●]\s*([A-Za-z][\w.:-]*(?: \(MCP\))?)\((.*)\)$`)

	// "⎿  ok  github.com/x/y 0.3s"
	toolResultPattern = regexp.MustCompile(`^\s*⎿\s?(.*)$`)

	// "✻ Thinking… (esc to interrupt)", "· Cooking…"
	workingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\((?:esc|ctrl\+c) to interrupt`),
		regexp.MustCompile(`^[✢✽✻✶✳✺·*]\s*[A-Z][a-z]+(?:…|\.\.\.)`),
	}

	// Empty input prompt, the shortcuts footer, or an interruption notice.
	idlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[>❯]$`),
		regexp.MustCompile(`(?i)^\?\s+for shortcuts`),
		regexp.MustCompile(`(?i)Interrupted by user`),
	}

	// "> run tests"
	echoPattern = regexp.MustCompile(`^[>❯]\s+(.+)$`)

	// "⏺ I'll run the tests now."
	messagePattern = regexp.MustCompile(`^[⏺●]\s*(.+)$`)

	// "Error: ...", "API Error (529) ..."
	errorPattern = regexp.MustCompile(`(?i)^(?:API\s+)?Error\b[:\s(]`)
)

// Options configures a Parser.
type Options struct {
	// ToolResultMaxBytes bounds a tool result body; longer bodies are cut
	// and flagged truncated.
	ToolResultMaxBytes int

	// MaxLineBytes bounds the bytes held while waiting for a newline.
	MaxLineBytes int
}

// toolBlock accumulates a multi-line tool result.
type toolBlock struct {
	tool      string
	body      strings.Builder
	truncated bool
}

// Parser is a line-oriented classifier of terminal output. It holds partial
// lines and multi-line blocks between calls, and emits each event as soon as
// the lines that make it up are complete.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	opts Options

	pending []byte
	block   *toolBlock

	// lastTool and lastInput describe the most recent tool invocation; they
	// name the action of a permission prompt that has no panel header.
	lastTool  string
	lastInput string

	// panel tracks a permission panel whose question has not arrived yet;
	// panelLine is its header as printed.
	panel     string
	panelLine string
	held      []string

	inPrompt   bool
	inMessage  bool
	lastStatus string
}

// New creates a parser.
func New(opts Options) *Parser {
	if opts.ToolResultMaxBytes <= 0 {
		opts.ToolResultMaxBytes = DefaultToolResultMaxBytes
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Parser{opts: opts}
}

// Feed consumes a chunk of raw output and returns the events completed by it.
// It never fails; unrecognized input degrades to raw events.
func (p *Parser) Feed(chunk []byte) []events.OutputEvent {
	var out []events.OutputEvent
	p.pending = append(p.pending, chunk...)

	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		line := string(p.pending[:i])
		p.pending = p.pending[i+1:]
		out = p.processLine(line, out)
	}

	for len(p.pending) > p.opts.MaxLineBytes {
		cut := utf8Boundary(p.pending, p.opts.MaxLineBytes)
		if cut == 0 {
			cut = p.opts.MaxLineBytes
		}
		log.Debug().Int("bytes", cut).Msg("parser: forcing out oversized line")
		out = p.emit(out, events.NewRaw(strings.ToValidUTF8(cleanLine(string(p.pending[:cut])), "")))
		p.pending = p.pending[cut:]
	}

	if len(p.pending) == 0 {
		// Release the backing array once drained.
		p.pending = nil
	}
	return out
}

// Flush completes any partial line and open block. Call it at end of stream.
func (p *Parser) Flush() []events.OutputEvent {
	var out []events.OutputEvent
	if len(p.pending) > 0 {
		line := strings.ToValidUTF8(string(p.pending), "")
		p.pending = nil
		out = p.processLine(line, out)
	}
	out = p.closeBlock(out)
	out = p.releaseHeld(out)
	p.inPrompt = false
	return out
}

// EndPrompt forgets the permission prompt on screen. Call it once the prompt
// has been answered or cancelled, so the next prompt is not taken for a
// redraw of this one.
func (p *Parser) EndPrompt() {
	p.inPrompt = false
}

func (p *Parser) processLine(raw string, out []events.OutputEvent) []events.OutputEvent {
	line := cleanLine(raw)
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "")
	}

	// Tool result bodies continue on indented lines. A permission prompt or
	// panel header always closes the body.
	if p.block != nil {
		if line != "" && isIndented(line) && !toolResultPattern.MatchString(line) && !opensPermission(unbox(line)) {
			p.appendBlock(strings.TrimSpace(line))
			return out
		}
		out = p.closeBlock(out)
	}

	text := unbox(line)
	if text == "" || isBorder(text) {
		return out
	}

	// 1. Permission prompts.
	if permissionPattern.MatchString(text) {
		if p.inPrompt {
			// Redraw of the prompt already reported.
			return out
		}
		return p.openPrompt(text, out)
	}
	if p.inPrompt {
		if optionPattern.MatchString(text) || textOptionPattern.MatchString(text) {
			return out
		}
		if promptEndPattern.MatchString(text) {
			p.inPrompt = false
			return out
		}
		p.inPrompt = false
	}
	if m := panelPattern.FindStringSubmatch(text); m != nil {
		out = p.releaseHeld(out)
		p.panel, p.panelLine = m[1], text
		return out
	}
	if p.panel != "" {
		if len(p.held) < maxHeldLines {
			p.held = append(p.held, text)
			return out
		}
		out = p.releaseHeld(out)
	}

	// 2. Tool invocations.
	if m := toolUsePattern.FindStringSubmatch(text); m != nil {
		p.inMessage = false
		p.lastTool, p.lastInput = m[1], m[2]
		return p.emit(out, events.NewToolUse(m[1], m[2]))
	}

	// 3. Tool results.
	if m := toolResultPattern.FindStringSubmatch(text); m != nil {
		p.inMessage = false
		p.block = &toolBlock{tool: p.lastTool}
		p.appendBlock(strings.TrimSpace(m[1]))
		return out
	}

	// 4. Status markers.
	if state := statusOf(text); state != "" {
		p.inMessage = false
		if state == p.lastStatus {
			return out
		}
		p.lastStatus = state
		return append(out, events.NewStatus(state))
	}

	// 5. Echoed user input.
	if m := echoPattern.FindStringSubmatch(text); m != nil {
		p.inMessage = false
		return p.emit(out, events.NewUserInput(strings.TrimSpace(m[1])))
	}

	// 6. Assistant messages and their indented continuation lines.
	if m := messagePattern.FindStringSubmatch(text); m != nil {
		p.inMessage = true
		return p.emit(out, events.NewMessage(strings.TrimSpace(m[1])))
	}
	if p.inMessage && isIndented(line) {
		return p.emit(out, events.NewMessage(strings.TrimSpace(text)))
	}
	p.inMessage = false

	// 7. Errors.
	if errorPattern.MatchString(text) {
		return p.emit(out, events.NewError(text))
	}

	return p.emit(out, events.NewRaw(text))
}

// emit appends a non-status event. Any event between two identical status
// markers ends the collapse window.
func (p *Parser) emit(out []events.OutputEvent, ev events.OutputEvent) []events.OutputEvent {
	p.lastStatus = ""
	return append(out, ev)
}

func (p *Parser) openPrompt(question string, out []events.OutputEvent) []events.OutputEvent {
	action, details := p.panel, strings.Join(p.held, "\n")
	if action == "" {
		action, details = p.lastTool, p.lastInput
	}
	if action == "" {
		action = "permission"
	}
	if details == "" {
		details = question
	}

	p.panel, p.panelLine, p.held = "", "", nil
	p.inPrompt = true
	p.inMessage = false
	return p.emit(out, events.NewPermissionRequest(action, details))
}

func (p *Parser) releaseHeld(out []events.OutputEvent) []events.OutputEvent {
	if p.panel == "" {
		return out
	}
	out = p.emit(out, events.NewRaw(p.panelLine))
	for _, line := range p.held {
		out = p.emit(out, events.NewRaw(line))
	}
	p.panel, p.panelLine, p.held = "", "", nil
	return out
}

func (p *Parser) appendBlock(text string) {
	b := p.block
	if b.truncated || text == "" {
		return
	}
	if b.body.Len() > 0 {
		text = "\n" + text
	}
	room := p.opts.ToolResultMaxBytes - b.body.Len()
	if len(text) > room {
		b.body.WriteString(text[:utf8Boundary([]byte(text), room)])
		b.truncated = true
		return
	}
	b.body.WriteString(text)
}

func (p *Parser) closeBlock(out []events.OutputEvent) []events.OutputEvent {
	if p.block == nil {
		return out
	}
	b := p.block
	p.block = nil
	return p.emit(out, events.NewToolResult(b.tool, b.body.String(), b.truncated))
}

func opensPermission(text string) bool {
	return permissionPattern.MatchString(text) || panelPattern.MatchString(text)
}

func statusOf(text string) string {
	for _, re := range workingPatterns {
		if re.MatchString(text) {
			return StateWorking
		}
	}
	for _, re := range idlePatterns {
		if re.MatchString(text) {
			return StateIdle
		}
	}
	return ""
}

// unbox strips the vertical borders of a box-drawn panel row.
func unbox(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, "│")
	s = strings.TrimSuffix(s, "│")
	return strings.TrimSpace(s)
}

// isBorder reports lines made only of box-drawing characters.
func isBorder(s string) bool {
	for _, r := range s {
		if r < 0x2500 || r > 0x257F {
			if r != ' ' {
				return false
			}
		}
	}
	return true
}

func isIndented(line string) bool {
	return strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")
}

// utf8Boundary returns the largest n <= limit such that b[:n] does not end
// inside a multi-byte rune.
func utf8Boundary(b []byte, limit int) int {
	if limit >= len(b) {
		return len(b)
	}
	if limit <= 0 {
		return 0
	}
	n := limit
	for n > 0 && n > limit-utf8.UTFMax && !utf8.RuneStart(b[n]) {
		n--
	}
	return n
}
