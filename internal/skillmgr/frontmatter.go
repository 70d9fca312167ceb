package skillmgr

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter is the SKILL.md YAML header, grounded on the teacher's
// sandbox/legacy.Skill frontmatter fields, trimmed to what this manager
// tracks.
type frontmatter struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Script      string         `yaml:"script,omitempty"`
	Parameters  map[string]any `yaml:"parameters,omitempty"`
}

// parseSkillMD splits a SKILL.md file into its YAML frontmatter and
// markdown body, grounded on legacy.ParseSkillMD's delimiter scan.
func parseSkillMD(data []byte) (frontmatter, string, error) {
	yamlBytes, body, err := extractFrontmatter(data)
	if err != nil {
		return frontmatter{}, "", err
	}
	if len(yamlBytes) == 0 {
		return frontmatter{}, "", fmt.Errorf("skillmgr: missing YAML frontmatter")
	}
	var fm frontmatter
	if err := yaml.Unmarshal(yamlBytes, &fm); err != nil {
		return frontmatter{}, "", fmt.Errorf("skillmgr: parse frontmatter: %w", err)
	}
	fm.Name = strings.TrimSpace(fm.Name)
	fm.Description = strings.TrimSpace(fm.Description)
	fm.Script = strings.TrimSpace(fm.Script)
	if fm.Name == "" {
		return frontmatter{}, "", fmt.Errorf("skillmgr: missing skill name")
	}
	return fm, strings.TrimSpace(body), nil
}

// extractFrontmatter detects a leading "---\n...\n---\n" delimited YAML
// block; anything after the closing delimiter is the markdown body.
func extractFrontmatter(data []byte) ([]byte, string, error) {
	s := string(data)
	if s == "" {
		return nil, "", nil
	}
	firstLineEnd := strings.IndexByte(s, '\n')
	firstLine := s
	restStart := len(s)
	if firstLineEnd >= 0 {
		firstLine = s[:firstLineEnd]
		restStart = firstLineEnd + 1
	}
	firstLine = strings.TrimSpace(strings.TrimSuffix(firstLine, "\r"))
	if firstLine != "---" {
		return nil, "", nil
	}

	rest := s[restStart:]
	closeIdx := strings.Index(rest, "\n---")
	if closeIdx < 0 {
		return nil, "", fmt.Errorf("skillmgr: unterminated frontmatter block")
	}
	yamlBlock := rest[:closeIdx]
	afterClose := rest[closeIdx+len("\n---"):]
	if nl := strings.IndexByte(afterClose, '\n'); nl >= 0 {
		afterClose = afterClose[nl+1:]
	} else {
		afterClose = ""
	}
	return []byte(yamlBlock), afterClose, nil
}
