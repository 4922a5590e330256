// Package content reads lesson metadata from the MDX content tree.
package content

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

var (
	// ErrMissingFrontmatter indicates a lesson file without a leading YAML block.
	ErrMissingFrontmatter = errors.New("content: missing frontmatter")
	// ErrInvalidFrontmatter indicates a frontmatter block that fails to decode or lacks required fields.
	ErrInvalidFrontmatter = errors.New("content: invalid frontmatter")
)

var knownFrontmatterKeys = map[string]struct{}{
	"title":             {},
	"order":             {},
	"parent":            {},
	"moduleBadge":       {},
	"moduleDescription": {},
}

// Frontmatter holds the fixed lesson fields plus every unrecognised key in Extra.
type Frontmatter struct {
	Title             string         `yaml:"title" json:"title"`
	Order             int            `yaml:"order" json:"order"`
	Parent            string         `yaml:"parent" json:"parent,omitempty"`
	ModuleBadge       string         `yaml:"moduleBadge" json:"moduleBadge,omitempty"`
	ModuleDescription string         `yaml:"moduleDescription" json:"moduleDescription,omitempty"`
	Extra             map[string]any `yaml:"-" json:"extra,omitempty"`
}

// ParseDocument splits raw MDX into its frontmatter and body.
func ParseDocument(raw []byte) (Frontmatter, string, error) {
	block, body, err := splitFrontmatter(raw)
	if err != nil {
		return Frontmatter{}, "", err
	}

	var document yaml.Node
	if err := yaml.Unmarshal(block, &document); err != nil {
		return Frontmatter{}, "", fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
	}

	var frontmatter Frontmatter
	if err := document.Decode(&frontmatter); err != nil {
		return Frontmatter{}, "", fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
	}
	var fields map[string]any
	if err := document.Decode(&fields); err != nil {
		return Frontmatter{}, "", fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
	}
	if _, ok := fields["order"]; !ok {
		return Frontmatter{}, "", fmt.Errorf("%w: order is required", ErrInvalidFrontmatter)
	}
	if frontmatter.Title == "" {
		return Frontmatter{}, "", fmt.Errorf("%w: title is required", ErrInvalidFrontmatter)
	}

	for key, value := range fields {
		if _, known := knownFrontmatterKeys[key]; known {
			continue
		}
		if frontmatter.Extra == nil {
			frontmatter.Extra = make(map[string]any)
		}
		frontmatter.Extra[key] = value
	}
	return frontmatter, body, nil
}

func splitFrontmatter(raw []byte) ([]byte, string, error) {
	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	normalized = bytes.TrimPrefix(normalized, []byte("\ufeff"))
	lines := bytes.Split(normalized, []byte("\n"))
	if len(lines) == 0 || string(bytes.TrimSpace(lines[0])) != frontmatterDelimiter {
		return nil, "", ErrMissingFrontmatter
	}
	for index := 1; index < len(lines); index++ {
		if string(bytes.TrimSpace(lines[index])) == frontmatterDelimiter {
			block := bytes.Join(lines[1:index], []byte("\n"))
			body := bytes.Join(lines[index+1:], []byte("\n"))
			return block, string(body), nil
		}
	}
	return nil, "", ErrMissingFrontmatter
}
