package workflow

import (
	"time"

	"github.com/xraph/conductor/retry"
)

// Definition is a decoded workflow file.
type Definition struct {
	Name      string            `mapstructure:"name" validate:"required"`
	Env       map[string]string `mapstructure:"env"`
	Retry     *retry.Policy     `mapstructure:"retry"`
	Steps     []Step            `mapstructure:"steps" validate:"dive"`
	MapReduce *MapReduce        `mapstructure:"mapreduce"`

	// Path is the file the definition was loaded from, if any.
	Path string `mapstructure:"-"`
}

// Step is one declared command.
type Step struct {
	Name    string `mapstructure:"name"`
	Shell   string `mapstructure:"shell"`
	Claude  string `mapstructure:"claude"`
	Capture string `mapstructure:"capture" validate:"omitempty,varname"`
	// When is an expr-lang boolean over workflow variables. The step is
	// skipped when it evaluates false.
	When    string        `mapstructure:"when"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Retry   *retry.Policy `mapstructure:"retry"`
	// OnFailure and Fallback override the matching policy fields.
	OnFailure retry.Action `mapstructure:"on_failure" validate:"omitempty,oneof=stop continue fallback"`
	Fallback  string       `mapstructure:"fallback"`
}

// MapReduce declares a fan-out run over the items of a JSON input.
type MapReduce struct {
	Input string `mapstructure:"input" validate:"required"`
	// JSONPath selects the item array inside the input document. Empty
	// means the document itself is the array.
	JSONPath       string `mapstructure:"json_path"`
	MaxParallel    int    `mapstructure:"max_parallel" default:"10" validate:"gte=1"`
	AbortOnFailure bool   `mapstructure:"abort_on_failure"`
	// Filter, SortBy, Distinct, Offset and MaxItems narrow the extracted
	// items; see Selection.
	Filter   string `mapstructure:"filter"`
	SortBy   string `mapstructure:"sort_by"`
	Distinct string `mapstructure:"distinct"`
	Offset   int    `mapstructure:"offset" validate:"gte=0"`
	MaxItems int    `mapstructure:"max_items" validate:"gte=0"`
	Setup          []Step `mapstructure:"setup" validate:"dive"`
	Agent          []Step `mapstructure:"agent" validate:"min=1,dive"`
	Reduce         []Step `mapstructure:"reduce" validate:"dive"`
}
