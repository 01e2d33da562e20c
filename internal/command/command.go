// Package command models voice commands: a trigger phrase armed by fuzzy
// matching on transcribed text, the named slots of the resulting document,
// and the render step that writes durable artefacts into the session.
package command

import (
	"github.com/voxworks/dictate/internal/mode"
)

// Slot is one named text field of a command's document. Its timing is given
// only by SilenceMode, the name of the VAD bundle for capturing the slot's
// speech; a slot carries no scale factors relative to the global defaults.
type Slot struct {
	Name        string
	Label       string
	SilenceMode string
}

// RenderFunc writes the document for the filled slots into dir and returns
// the paths it produced. seq is the per-session document counter, starting
// at 1.
type RenderFunc func(slots map[string]string, dir string, seq int) ([]string, error)

// Command is one registered voice command.
type Command struct {
	Name    string
	Trigger string
	Slots   []Slot
	Render  RenderFunc
}

// Registry holds the registered commands and matches transcribed text
// against their triggers.
type Registry struct {
	commands []Command
	matcher  *Matcher
}

// NewRegistry creates a registry with the default matcher and SimpleNote
// registered.
func NewRegistry() *Registry {
	r := &Registry{matcher: NewMatcher()}
	r.Register(SimpleNote())
	return r
}

// Register adds a command. Later registrations are matched after earlier
// ones.
func (r *Registry) Register(c Command) {
	r.commands = append(r.commands, c)
}

// Match returns the first command whose trigger matches text.
func (r *Registry) Match(text string) (Command, bool) {
	for _, c := range r.commands {
		if r.matcher.MatchTrigger(text, c.Trigger) {
			return c, true
		}
	}
	return Command{}, false
}

// SimpleNote is the built-in dictated note: a title captured under normal
// segmentation, then a body captured under long-note segmentation and sealed
// by the long silence.
func SimpleNote() Command {
	return Command{
		Name:    "simple_note",
		Trigger: "start new note",
		Slots: []Slot{
			{Name: "title", Label: "Title", SilenceMode: mode.Normal},
			{Name: "body", Label: "Body", SilenceMode: mode.LongNote},
		},
		Render: renderNote,
	}
}
