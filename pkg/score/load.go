// ABOUTME: YAML score files
// ABOUTME: Reads pre-arranged parts or a flat note list to arrange
package score

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// DefaultVoices is the part count used when a note list does not name one
const DefaultVoices = 3

// file is the on-disk layout
type file struct {
	Title  string    `yaml:"title"`
	Voices int       `yaml:"voices"`
	Parts  [][]Event `yaml:"parts"`
	Notes  []Note    `yaml:"notes"`
}

// Load reads a score file
func Load(path string) (*Score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read score: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a score. Explicit parts win over notes.
func Parse(data []byte) (*Score, error) {
	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("invalid score: %w", err)
	}

	s := &Score{Title: f.Title}
	switch {
	case len(f.Parts) > 0:
		for i, part := range f.Parts {
			for j, e := range part {
				if e.Velocity > MaxLevel {
					return nil, fmt.Errorf("part %d event %d: velocity %d above %d", i, j, e.Velocity, MaxLevel)
				}
			}
			s.Parts = append(s.Parts, MergeRests(part))
		}
	case len(f.Notes) > 0:
		voices := f.Voices
		if voices <= 0 {
			voices = DefaultVoices
		}
		s.Parts = Arrange(f.Notes, voices)
	default:
		return nil, ErrEmptyScore
	}

	return s, nil
}
