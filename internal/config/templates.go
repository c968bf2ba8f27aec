package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"

	"examgate/internal/models"
)

// WindowTemplate is a named window preset teachers can apply by id when
// saving a schedule instead of spelling out windows by hand.
type WindowTemplate struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Days      []int  `yaml:"days"` // 1=Mon .. 7=Sun
	StartTime string `yaml:"start_time"`
	EndTime   string `yaml:"end_time"`
	Color     string `yaml:"color,omitempty"`
}

// Window expands the template into a concrete schedule window. The window
// keeps the template id so the provenance stays visible in the stored data.
func (t WindowTemplate) Window() models.ScheduleWindow {
	days := make([]int, len(t.Days))
	copy(days, t.Days)
	return models.ScheduleWindow{
		ID:        t.ID,
		Name:      t.Name,
		Days:      days,
		StartTime: t.StartTime,
		EndTime:   t.EndTime,
		Color:     t.Color,
	}
}

type templatesFile struct {
	Templates []WindowTemplate `yaml:"templates"`
}

// TemplateCatalog is a loaded template set. Lookups are safe while a
// watcher swaps in a reloaded catalog via the consumer's setter.
type TemplateCatalog struct {
	mu    sync.RWMutex
	byID  map[string]WindowTemplate
	order []string
}

// LoadTemplateCatalog loads and validates the template catalog from YAML.
func LoadTemplateCatalog(path string) (*TemplateCatalog, error) {
	if path == "" {
		path = "configs/templates.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates config: %w", err)
	}

	var f templatesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates config: %w", err)
	}

	if err := validateTemplates(f.Templates); err != nil {
		return nil, fmt.Errorf("validate templates config: %w", err)
	}

	catalog := &TemplateCatalog{byID: make(map[string]WindowTemplate, len(f.Templates))}
	for _, tpl := range f.Templates {
		catalog.byID[tpl.ID] = tpl
		catalog.order = append(catalog.order, tpl.ID)
	}
	return catalog, nil
}

func validateTemplates(templates []WindowTemplate) error {
	ids := make(map[string]bool)
	for i, tpl := range templates {
		if tpl.ID == "" {
			return fmt.Errorf("template[%d]: id is required", i)
		}
		if ids[tpl.ID] {
			return fmt.Errorf("template[%d]: duplicate id '%s'", i, tpl.ID)
		}
		ids[tpl.ID] = true

		if tpl.Name == "" {
			return fmt.Errorf("template[%d]: name is required", i)
		}
		if len(tpl.Days) == 0 {
			return fmt.Errorf("template[%d]: days are required", i)
		}
		for _, d := range tpl.Days {
			if d < models.DayMonday || d > models.DaySunday {
				return fmt.Errorf("template[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", i, d)
			}
		}

		start, err := models.ParseClock(tpl.StartTime)
		if err != nil {
			return fmt.Errorf("template[%d].start_time: invalid format '%s', expected HH:MM", i, tpl.StartTime)
		}
		end, err := models.ParseClock(tpl.EndTime)
		if err != nil {
			return fmt.Errorf("template[%d].end_time: invalid format '%s', expected HH:MM", i, tpl.EndTime)
		}
		if start >= end {
			return fmt.Errorf("template[%d]: end_time must be after start_time", i)
		}
	}
	return nil
}

// Lookup returns the template with the given id.
func (c *TemplateCatalog) Lookup(id string) (WindowTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tpl, ok := c.byID[id]
	return tpl, ok
}

// All returns the templates in file order.
func (c *TemplateCatalog) All() []WindowTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]WindowTemplate, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of templates.
func (c *TemplateCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
