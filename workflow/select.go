package workflow

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Selection narrows the extracted MapReduce items. It is applied in a
// fixed order: filter, sort, distinct, offset, max items.
type Selection struct {
	// Filter is an expr-lang boolean. Object fields are top-level names
	// and the whole item is "item". Items it cannot evaluate are dropped.
	Filter string
	// SortBy is a comma-separated list of "field [ASC|DESC]". Missing and
	// null values sort last in either direction.
	SortBy string
	// Distinct keeps the first item for each value of this field.
	Distinct string
	Offset   int
	// MaxItems of zero means no limit.
	MaxItems int

	filter *vm.Program
	keys   []sortKey
}

type sortKey struct {
	path string
	desc bool
}

// CompileSelection validates and compiles the selection options of mr.
// It returns nil when mr selects every item.
func CompileSelection(mr *MapReduce) (*Selection, error) {
	s := &Selection{
		Filter:   strings.TrimSpace(mr.Filter),
		SortBy:   strings.TrimSpace(mr.SortBy),
		Distinct: itemField(mr.Distinct),
		Offset:   mr.Offset,
		MaxItems: mr.MaxItems,
	}
	if s.Filter == "" && s.SortBy == "" && s.Distinct == "" && s.Offset == 0 && s.MaxItems == 0 {
		return nil, nil
	}
	if s.Filter != "" {
		program, err := expr.Compile(s.Filter, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("conductor/workflow: compile filter %q: %w", s.Filter, err)
		}
		s.filter = program
	}
	if s.SortBy != "" {
		keys, err := parseSortBy(s.SortBy)
		if err != nil {
			return nil, err
		}
		s.keys = keys
	}
	return s, nil
}

func parseSortBy(spec string) ([]sortKey, error) {
	var keys []sortKey
	for part := range strings.SplitSeq(spec, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, fmt.Errorf("conductor/workflow: sort_by %q: bad clause %q", spec, strings.TrimSpace(part))
		}
		k := sortKey{path: itemField(fields[0])}
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC":
			case "DESC":
				k.desc = true
			default:
				return nil, fmt.Errorf("conductor/workflow: sort_by %q: unknown direction %q", spec, fields[1])
			}
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// itemField strips an optional "$." or "item." prefix from a field name.
func itemField(f string) string {
	f = strings.TrimSpace(f)
	f = strings.TrimPrefix(strings.TrimPrefix(f, "$"), ".")
	return strings.TrimPrefix(f, "item.")
}

type candidate struct {
	raw json.RawMessage
	doc *gabs.Container
}

// Apply returns the selected items in order. A nil Selection returns
// items unchanged.
func (s *Selection) Apply(items []json.RawMessage) ([]json.RawMessage, error) {
	if s == nil {
		return items, nil
	}
	cands := make([]candidate, 0, len(items))
	for i, raw := range items {
		doc, err := gabs.ParseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("conductor/workflow: item %d: %w", i, err)
		}
		if s.filter != nil && !s.match(doc) {
			continue
		}
		cands = append(cands, candidate{raw: raw, doc: doc})
	}

	if len(s.keys) > 0 {
		slices.SortStableFunc(cands, func(a, b candidate) int {
			for _, k := range s.keys {
				if c := compareField(a.doc, b.doc, k); c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if s.Distinct != "" {
		seen := make(map[string]bool, len(cands))
		kept := cands[:0]
		for _, c := range cands {
			key := "null"
			if v := lookup(c.doc, s.Distinct); v != nil {
				key = string(gabs.Wrap(v).Bytes())
			}
			if !seen[key] {
				seen[key] = true
				kept = append(kept, c)
			}
		}
		cands = kept
	}

	cands = cands[min(s.Offset, len(cands)):]
	if s.MaxItems > 0 && len(cands) > s.MaxItems {
		cands = cands[:s.MaxItems]
	}

	out := make([]json.RawMessage, len(cands))
	for i, c := range cands {
		out[i] = c.raw
	}
	return out, nil
}

// match reports whether doc passes the filter. An item the filter cannot
// evaluate, such as a comparison against a missing field, does not match.
func (s *Selection) match(doc *gabs.Container) bool {
	env := map[string]any{}
	if fields, ok := doc.Data().(map[string]any); ok {
		for k, v := range fields {
			env[k] = v
		}
	}
	env["item"] = doc.Data()
	out, err := expr.Run(s.filter, env)
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}

// lookup returns the value at a dotted path, or nil when it is missing.
func lookup(doc *gabs.Container, path string) any {
	if path == "" {
		return doc.Data()
	}
	if !doc.ExistsP(path) {
		return nil
	}
	return doc.Path(path).Data()
}

func compareField(a, b *gabs.Container, k sortKey) int {
	va, vb := lookup(a, k.path), lookup(b, k.path)
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil:
		return 1
	case vb == nil:
		return -1
	}
	c := compareValues(va, vb)
	if k.desc {
		return -c
	}
	return c
}

// compareValues orders JSON values of the same type naturally and values
// of different types by bool < number < string < array < object.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case []any:
		if y, ok := b.([]any); ok {
			return cmp.Compare(len(x), len(y))
		}
	case map[string]any:
		if y, ok := b.(map[string]any); ok {
			return cmp.Compare(len(x), len(y))
		}
	}
	return cmp.Compare(typeRank(a), typeRank(b))
}

func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}
