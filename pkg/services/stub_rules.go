package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

// StubRulesFile is the on-disk form of a StubClassifier's tables.
//
//	fallback: Interests
//	rules:
//	  band: Music
//	suggestions:
//	  "":
//	    - {name: Music, reason: Favourite artists, type: music}
type StubRulesFile struct {
	Fallback    string                      `yaml:"fallback,omitempty"`
	Rules       map[string]string           `yaml:"rules"`
	Suggestions map[string][]StubSuggestion `yaml:"suggestions,omitempty"`
}

// StubSuggestion is one suggestion entry in a rules file.
type StubSuggestion struct {
	Name   string `yaml:"name"`
	Reason string `yaml:"reason"`
	Type   string `yaml:"type"`
}

// LoadStubClassifier reads keyword rules from a YAML file. Sections left out of
// the file keep the built-in defaults.
func LoadStubClassifier(path string) (*StubClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stub rules: %w", err)
	}
	return ParseStubRules(data)
}

// ParseStubRules builds a StubClassifier from YAML. Rule keywords and
// suggestion keys are lower-cased.
func ParseStubRules(data []byte) (*StubClassifier, error) {
	var file StubRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing stub rules: %w", err)
	}

	stub := NewStubClassifier()
	if file.Fallback != "" {
		stub.Fallback = strings.TrimSpace(file.Fallback)
	}

	if len(file.Rules) > 0 {
		stub.Rules = make(map[string]string, len(file.Rules))
		for keyword, name := range file.Rules {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			name = strings.TrimSpace(name)
			if keyword == "" || name == "" {
				return nil, fmt.Errorf("stub rule %q -> %q: keyword and category are required", keyword, name)
			}
			stub.Rules[keyword] = name
		}
	}

	if len(file.Suggestions) > 0 {
		stub.Suggestions = make(map[string][]models.CategorySuggestion, len(file.Suggestions))
		for parent, entries := range file.Suggestions {
			out := make([]models.CategorySuggestion, 0, len(entries))
			for _, e := range entries {
				if strings.TrimSpace(e.Name) == "" {
					return nil, fmt.Errorf("stub suggestion under %q has no name", parent)
				}
				typ := e.Type
				if typ == "" {
					typ = models.DefaultCategoryType
				}
				out = append(out, models.CategorySuggestion{Name: strings.TrimSpace(e.Name), Reason: e.Reason, Type: typ})
			}
			stub.Suggestions[strings.ToLower(strings.TrimSpace(parent))] = out
		}
	}

	return stub, nil
}
