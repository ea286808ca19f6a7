// Package lesson loads the fixed lesson text and turns it into the tutor's system instruction.
package lesson

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Content is the lesson text, or Missing when it could not be read.
type Content string

// Missing is the sentinel returned when the lesson file cannot be loaded.
const Missing Content = "ERROR"

// Ready reports whether c holds usable lesson text.
func (c Content) Ready() bool {
	return c != Missing
}

// Load reads the lesson at path. Any failure is logged and reported as Missing;
// callers check Ready before building a session.
func Load(path string) Content {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Lesson could not be loaded", "path", path, "error", err)
		return Missing
	}
	slog.Info("Lesson loaded", "path", path, "bytes", len(data))
	return Content(data)
}

// Persona names the tutor the model plays.
type Persona struct {
	Name    string
	Academy string
}

// Instruction builds the system instruction for c. The lesson is embedded verbatim.
func Instruction(p Persona, c Content) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are '%s', a tutor at %s.\n", p.Name, p.Academy)
	b.WriteString("Teach only from the [Lesson Material] below.\n")
	fmt.Fprintf(&b, "[Lesson Material] %s\n", string(c))
	b.WriteString("[Rules] 1. Use only the lesson material. ")
	b.WriteString("2. Your students are elementary school children: keep it easy and short. ")
	b.WriteString("3. Always use emoji (they are skipped when read aloud).\n")
	return b.String()
}
