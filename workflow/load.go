package workflow

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/retry"
)

var (
	validate   = validator.New()
	varNameRex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

func init() {
	validate.RegisterValidation("varname", func(fl validator.FieldLevel) bool { //nolint:errcheck // tag name is constant
		return varNameRex.MatchString(fl.Field().String())
	})
}

// Load reads and parses a workflow file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conductor/workflow: read %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Path = path
	return def, nil
}

// Parse decodes, defaults and validates a YAML definition.
func Parse(data []byte) (*Definition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", conductor.ErrInvalidWorkflow, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", conductor.ErrInvalidWorkflow)
	}

	def := &Definition{}
	if err := decode(raw, def); err != nil {
		return nil, fmt.Errorf("%w: %w", conductor.ErrInvalidWorkflow, err)
	}
	if err := normalize(def); err != nil {
		return nil, fmt.Errorf("%w: %w", conductor.ErrInvalidWorkflow, err)
	}
	if err := validateDefinition(def); err != nil {
		return nil, fmt.Errorf("%w: %w", conductor.ErrInvalidWorkflow, err)
	}
	return def, nil
}

func decode(raw map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	return decoder.Decode(raw)
}

// normalize fills defaults and generated step names.
func normalize(def *Definition) error {
	if def.Retry == nil {
		def.Retry = retry.DefaultPolicy()
	} else if err := defaults.Set(def.Retry); err != nil {
		return fmt.Errorf("retry defaults: %w", err)
	}
	if def.MapReduce != nil {
		if err := defaults.Set(def.MapReduce); err != nil {
			return fmt.Errorf("mapreduce defaults: %w", err)
		}
	}
	for _, phase := range def.phases() {
		for i := range phase.steps {
			st := &phase.steps[i]
			if st.Name == "" {
				st.Name = fmt.Sprintf("%s-%d", phase.name, i+1)
			}
			if st.Retry != nil {
				if err := defaults.Set(st.Retry); err != nil {
					return fmt.Errorf("step %s retry defaults: %w", st.Name, err)
				}
			}
		}
	}
	return nil
}

type phase struct {
	name  string
	steps []Step
}

func (d *Definition) phases() []phase {
	out := []phase{{name: "step", steps: d.Steps}}
	if mr := d.MapReduce; mr != nil {
		out = append(out,
			phase{name: "setup", steps: mr.Setup},
			phase{name: "agent", steps: mr.Agent},
			phase{name: "reduce", steps: mr.Reduce},
		)
	}
	return out
}

func validateDefinition(def *Definition) error {
	if err := validate.Struct(def); err != nil {
		return formatValidation(err)
	}
	if len(def.Steps) == 0 && def.MapReduce == nil {
		return errors.New("workflow has no steps")
	}
	if err := def.Retry.Validate(); err != nil {
		return err
	}
	for _, ph := range def.phases() {
		seen := make(map[string]bool, len(ph.steps))
		for _, st := range ph.steps {
			if seen[st.Name] {
				return fmt.Errorf("duplicate step name %q", st.Name)
			}
			seen[st.Name] = true
			if err := validateStep(st); err != nil {
				return fmt.Errorf("step %s: %w", st.Name, err)
			}
		}
	}
	return nil
}

func validateStep(st Step) error {
	switch {
	case st.Shell == "" && st.Claude == "":
		return errors.New("one of shell or claude is required")
	case st.Shell != "" && st.Claude != "":
		return errors.New("shell and claude are mutually exclusive")
	}
	if st.Retry != nil {
		if err := st.Retry.Validate(); err != nil {
			return err
		}
	}
	if st.OnFailure == retry.ActionFallback && st.Fallback == "" && (st.Retry == nil || st.Retry.Fallback == "") {
		return errors.New("on_failure fallback needs a fallback command")
	}
	return nil
}

// formatValidation flattens validator errors into one readable error.
func formatValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed validation (rule: %s)", fieldPath(fe), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(fe validator.FieldError) string {
	return strings.TrimPrefix(fe.Namespace(), "Definition.")
}
