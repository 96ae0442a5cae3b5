package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Items reads the MapReduce input relative to baseDir and returns the
// work items at the plan's JSONPath, narrowed by its Selection.
func Items(p *MapReducePlan, baseDir string) ([]json.RawMessage, error) {
	path := p.Input
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conductor/workflow: read input %s: %w", path, err)
	}
	items, err := ExtractItems(data, p.JSONPath)
	if err != nil {
		return nil, err
	}
	return p.Select.Apply(items)
}

// ExtractItems selects the item array at jsonPath. The path uses dots
// between keys; a leading "$." is accepted and ignored.
func ExtractItems(data []byte, jsonPath string) ([]json.RawMessage, error) {
	doc, err := gabs.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("conductor/workflow: parse input: %w", err)
	}

	path := strings.TrimPrefix(strings.TrimPrefix(jsonPath, "$"), ".")
	target := doc
	if path != "" {
		if !doc.ExistsP(path) {
			return nil, fmt.Errorf("conductor/workflow: input has no value at %q", jsonPath)
		}
		target = doc.Path(path)
	}

	if _, ok := target.Data().([]any); !ok {
		return nil, fmt.Errorf("conductor/workflow: value at %q is not an array", jsonPath)
	}
	children := target.Children()
	items := make([]json.RawMessage, 0, len(children))
	for _, c := range children {
		items = append(items, json.RawMessage(c.Bytes()))
	}
	return items, nil
}
