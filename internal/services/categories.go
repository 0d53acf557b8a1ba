package services

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultCategoryTaxonomyYAML []byte

// CategoryTaxonomy maps service subcategories to their parent categories.
type CategoryTaxonomy struct {
	categories []string
	parents    map[string]string
}

type categoryTaxonomyDocument struct {
	Categories []struct {
		Name          string   `yaml:"name"`
		Subcategories []string `yaml:"subcategories"`
	} `yaml:"categories"`
}

var loadDefaultTaxonomy = sync.OnceValues(func() (*CategoryTaxonomy, error) {
	return ParseCategoryTaxonomy(defaultCategoryTaxonomyYAML)
})

// DefaultCategoryTaxonomy returns the taxonomy embedded in the binary.
func DefaultCategoryTaxonomy() (*CategoryTaxonomy, error) {
	return loadDefaultTaxonomy()
}

// ParseCategoryTaxonomy decodes a YAML taxonomy document.
func ParseCategoryTaxonomy(data []byte) (*CategoryTaxonomy, error) {
	var doc categoryTaxonomyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("category taxonomy: decode: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, errors.New("category taxonomy: no categories defined")
	}

	fold := cases.Fold()
	taxonomy := &CategoryTaxonomy{parents: make(map[string]string)}
	for _, category := range doc.Categories {
		name := strings.TrimSpace(category.Name)
		if name == "" {
			return nil, errors.New("category taxonomy: category name is required")
		}
		taxonomy.categories = append(taxonomy.categories, name)
		for _, sub := range category.Subcategories {
			key := fold.String(strings.TrimSpace(sub))
			if key == "" {
				continue
			}
			if _, exists := taxonomy.parents[key]; !exists {
				taxonomy.parents[key] = name
			}
		}
	}
	return taxonomy, nil
}

// CategoryForSubcategory resolves the parent category, ignoring case and
// surrounding whitespace.
func (t *CategoryTaxonomy) CategoryForSubcategory(subcategory string) (string, bool) {
	if t == nil {
		return "", false
	}
	key := cases.Fold().String(strings.TrimSpace(subcategory))
	if key == "" {
		return "", false
	}
	category, ok := t.parents[key]
	return category, ok
}

// Categories lists category names in declaration order.
func (t *CategoryTaxonomy) Categories() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.categories...)
}
