package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)

	mu   sync.Mutex
	outW io.Writer = os.Stdout
	errW io.Writer = os.Stderr
)

// SetOutput redirects normal and error output. Passing nil keeps the
// current writer. Returns a function restoring the previous writers.
func SetOutput(stdout, stderr io.Writer) (restore func()) {
	mu.Lock()
	defer mu.Unlock()
	prevOut, prevErr := outW, errW
	if stdout != nil {
		outW = stdout
	}
	if stderr != nil {
		errW = stderr
	}
	return func() {
		mu.Lock()
		outW, errW = prevOut, prevErr
		mu.Unlock()
	}
}

func writers() (io.Writer, io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	return outW, errW
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	w, _ := writers()
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(w, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	w, _ := writers()
	fmt.Fprintf(w, format, a...)
}

// Warning prints a warning message in yellow to stderr
func Warning(format string, a ...any) {
	_, w := writers()
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(w, msg)
}

// Error prints a title, an explanation and suggested fixes to stderr and
// returns an error carrying only the title, for Cobra to report.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed between the
// explanation and the suggestions. Keys are printed in sorted order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	_, w := writers()

	red.Fprintf(w, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(w, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(w)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(w, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(w, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
	}

	// Cobra prints nothing more because the root command silences errors
	return fmt.Errorf("%s", title)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	w, _ := writers()
	cyan.Fprintf(w, "→ %s", fmt.Sprintf(format, a...))
}

// Dim prints de-emphasized text, such as system messages in a transcript
func Dim(format string, a ...any) {
	w, _ := writers()
	faint.Fprintf(w, format, a...)
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	w, _ := writers()
	fmt.Fprintln(w, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	w, _ := writers()
	fmt.Fprintf(w, format, a...)
}
