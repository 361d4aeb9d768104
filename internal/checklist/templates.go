package checklist

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"fieldline/internal/domain"
)

type templateFile struct {
	Items []domain.ChecklistItem `yaml:"items"`
}

// ParseTemplates reads checklist templates supplied by the checklist
// generator, either as a bare list or under an items key. JSON is accepted
// since it is valid YAML.
func ParseTemplates(data []byte) ([]domain.ChecklistItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyChecklist
	}
	var items []domain.ChecklistItem
	if data[0] == '[' || data[0] == '-' {
		if err := yaml.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("invalid checklist: %w", err)
		}
	} else {
		var f templateFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("invalid checklist: %w", err)
		}
		items = f.Items
	}
	if len(items) == 0 {
		return nil, ErrEmptyChecklist
	}
	return items, nil
}
