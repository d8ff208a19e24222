// Package shell implements the interactive command shell the
// "forestindex" CLI drives: line reading with history, dispatched to
// dot-commands that build and query point-cloud datasets through
// pkg/editor.
package shell

import (
	"bufio"
	"io"
	"strings"
)

// Shell reads lines from an input stream, tracking a prompt and a bounded
// command history for recall.
type Shell struct {
	reader *bufio.Reader

	output    io.Writer
	errOutput io.Writer

	prompt string

	history      []string
	historyIndex int
	maxHistory   int
}

// NewShell creates a shell reading from input and writing to output. If
// errOutput is nil, errors are written to output.
func NewShell(input io.Reader, output, errOutput io.Writer) *Shell {
	var reader *bufio.Reader
	if input != nil {
		reader = bufio.NewReader(input)
	}
	if errOutput == nil {
		errOutput = output
	}
	return &Shell{
		reader:       reader,
		output:       output,
		errOutput:    errOutput,
		prompt:       "forestindex> ",
		history:      make([]string, 0),
		historyIndex: 0,
		maxHistory:   1000,
	}
}

// SetPrompt changes the prompt string.
func (s *Shell) SetPrompt(prompt string) {
	s.prompt = prompt
}

// ReadLine reads a single line, stripping trailing whitespace, and adds
// non-empty lines to history. The bool return is true on EOF.
func (s *Shell) ReadLine() (string, bool) {
	if s.reader == nil {
		return "", true
	}
	if s.output != nil {
		io.WriteString(s.output, s.prompt)
	}

	line, err := s.reader.ReadString('\n')
	line = strings.TrimRight(line, " \t\r\n")
	eof := err != nil

	trimmed := strings.TrimSpace(line)
	if trimmed != "" {
		s.AddHistory(trimmed)
	}
	return line, eof
}

// AddHistory appends stmt to the command history, skipping consecutive
// duplicates and trimming to maxHistory entries.
func (s *Shell) AddHistory(stmt string) {
	if len(s.history) > 0 && s.history[len(s.history)-1] == stmt {
		return
	}
	s.history = append(s.history, stmt)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.historyIndex = len(s.history)
}

// History returns a copy of the recorded command history.
func (s *Shell) History() []string {
	result := make([]string, len(s.history))
	copy(result, s.history)
	return result
}

// ClearHistory discards all recorded history.
func (s *Shell) ClearHistory() {
	s.history = make([]string, 0)
	s.historyIndex = 0
}
