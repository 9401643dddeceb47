package extract

import (
	"fmt"
	"regexp"
)

// Selector reads text, or an attribute when Attr is set.
type Selector struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr,omitempty"`
}

// FieldRules maps record fields to ordered selector candidates. Fields in
// ListFields collect every match of the winning selector.
type FieldRules struct {
	Fields     map[string][]Selector `json:"fields"`
	ListFields []string              `json:"list_fields"`
}

func (f FieldRules) isList(field string) bool {
	for _, lf := range f.ListFields {
		if lf == field {
			return true
		}
	}
	return false
}

type DOMRules struct {
	FieldRules
	CardSelectors []string `json:"card_selectors"`
	IDAttributes  []string `json:"id_attributes"`
	NextSelectors []string `json:"next_selectors"`
}

type PatternRules struct {
	Card   string              `json:"card"`
	Fields map[string][]string `json:"fields"`
	Next   []string            `json:"next"`
}

type APIRules struct {
	RecordsPath string            `json:"records_path"`
	TotalPath   string            `json:"total_path"`
	PageSize    int               `json:"page_size"`
	LabelKey    string            `json:"label_key"`
	Headers     map[string]string `json:"headers"`
}

// Rules is the site-specific knowledge the strategies run on.
type Rules struct {
	IDPattern string       `json:"id_pattern"`
	API       APIRules     `json:"api"`
	DOM       DOMRules     `json:"dom"`
	Pattern   PatternRules `json:"pattern"`
	Detail    FieldRules   `json:"detail"`
}

// IDRegexp compiles IDPattern, or returns nil when unset.
func (r *Rules) IDRegexp() (*regexp.Regexp, error) {
	if r.IDPattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(r.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("id_pattern: %w", err)
	}
	return re, nil
}
