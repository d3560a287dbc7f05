package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"athome-scraper/models"
)

// LoadRubric returns the default rubric overlaid with the YAML file at path.
// An empty path yields the defaults. Keys absent from the file keep their
// default values; a list present in the file replaces the default list.
func LoadRubric(path string) (models.Rubric, error) {
	rubric := models.DefaultRubric()
	if path == "" {
		return rubric, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Rubric{}, fmt.Errorf("config: read rubric %q: %w", path, err)
	}
	return ParseRubric(raw)
}

// ParseRubric decodes YAML rubric overrides on top of the defaults.
func ParseRubric(raw []byte) (models.Rubric, error) {
	rubric := models.DefaultRubric()
	if err := yaml.Unmarshal(raw, &rubric); err != nil {
		return models.Rubric{}, fmt.Errorf("config: decode rubric: %w", err)
	}
	if err := rubric.Validate(); err != nil {
		return models.Rubric{}, err
	}
	return rubric, nil
}

// ParseGrades parses a comma-separated grade list such as "S,A,B".
func ParseGrades(s string) ([]models.Grade, error) {
	var grades []models.Grade
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		g := models.Grade(part)
		if !g.Valid() {
			return nil, fmt.Errorf("config: unknown grade %q", part)
		}
		grades = append(grades, g)
	}
	return grades, nil
}
