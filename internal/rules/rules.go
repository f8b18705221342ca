// Package rules loads the free-form review policy text of each account.
package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sevigo/review-pipeline/internal/core"
)

var (
	ErrRulesNotFound = errors.New("rules file not found")
	ErrRulesParsing  = errors.New("rules parsing failed")
)

// AccountRules are the instructions appended to the review prompt.
type AccountRules struct {
	// Custom instructions for the review prompt, one per entry.
	CustomInstructions []string `yaml:"custom_instructions"`
	// When set, the default instructions are not applied.
	ReplaceDefault bool `yaml:"replace_default"`
}

// File is the structure of the rules YAML file.
type File struct {
	Default  AccountRules            `yaml:"default"`
	Accounts map[string]AccountRules `yaml:"accounts"`
}

// Source serves rules from a parsed File.
type Source struct {
	file File
}

var _ core.RulesSource = (*Source)(nil)

// Load reads the rules file at path. A missing file yields an empty Source
// together with ErrRulesNotFound so callers can log and carry on.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Source{}, ErrRulesNotFound
		}
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Source from YAML.
func Parse(data []byte) (*Source, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRulesParsing, err)
	}
	return &Source{file: f}, nil
}

// Rules renders the instructions of accountID as a bullet list. Accounts
// without an entry get the defaults.
func (s *Source) Rules(_ context.Context, accountID string) (string, error) {
	var lines []string
	acct, ok := s.file.Accounts[accountID]
	if !ok || !acct.ReplaceDefault {
		lines = append(lines, s.file.Default.CustomInstructions...)
	}
	if ok {
		lines = append(lines, acct.CustomInstructions...)
	}

	var sb strings.Builder
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
