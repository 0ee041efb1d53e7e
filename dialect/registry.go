package dialect

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
)

// Renderer renders one bound function call.
type Renderer interface {
	// CheckArity validates the argument count when the call is bound.
	CheckArity(name string, n int) error
	// Render produces SQL for call. arg renders the i-th argument
	// (1-based) and may be called more than once for the same index.
	Render(call *nodes.FunctionCall, arg func(i int) string) (string, error)
}

var folder = cases.Fold()

// NormalizeName is the registry key of a function name: case folded with
// underscores removed, so "Date_Diff", "datediff" and "DATEDIFF" match.
func NormalizeName(name string) string {
	return folder.String(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
}

// Registry maps normalized function names to renderers.
type Registry struct {
	renderers map[string]Renderer
}

func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]Renderer)}
}

// Register adds or replaces the renderer for name.
func (r *Registry) Register(name string, fn Renderer) {
	r.renderers[NormalizeName(name)] = fn
}

// Lookup finds the renderer for name.
func (r *Registry) Lookup(name string) (Renderer, bool) {
	fn, ok := r.renderers[NormalizeName(name)]
	return fn, ok
}

// Names lists the registered keys in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.renderers))
}

func (r *Registry) Clone() *Registry {
	return &Registry{renderers: maps.Clone(r.renderers)}
}

// Func renders NAME(arg, ...). Max < 0 means variadic.
type Func struct {
	Name     string
	Min, Max int
}

func (f Func) CheckArity(name string, n int) error {
	if n < f.Min || (f.Max >= 0 && n > f.Max) {
		return &qerr.ArgumentCountError{Function: name, Expected: arityText(f.Min, f.Max), Got: n}
	}
	return nil
}

func (f Func) Render(call *nodes.FunctionCall, arg func(int) string) (string, error) {
	args := make([]string, len(call.Args))
	for i := range call.Args {
		args[i] = arg(i + 1)
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")", nil
}

func arityText(lo, hi int) string {
	switch {
	case hi < 0:
		return "at least " + strconv.Itoa(lo)
	case lo == hi:
		return strconv.Itoa(lo)
	case hi == lo+1:
		return strconv.Itoa(lo) + " or " + strconv.Itoa(hi)
	}
	return fmt.Sprintf("%d to %d", lo, hi)
}

// Template renders one of several ?N templates chosen by argument count.
type Template struct {
	forms map[int]string
}

// NewTemplate builds a template renderer; each form accepts exactly as
// many arguments as its highest slot.
func NewTemplate(forms ...string) Template {
	t := Template{forms: make(map[int]string, len(forms))}
	for _, f := range forms {
		t.forms[Slots(f)] = f
	}
	return t
}

func (t Template) CheckArity(name string, n int) error {
	if _, ok := t.forms[n]; ok {
		return nil
	}
	counts := slices.Sorted(maps.Keys(t.forms))
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = strconv.Itoa(c)
	}
	return &qerr.ArgumentCountError{Function: name, Expected: strings.Join(parts, " or "), Got: n}
}

func (t Template) Render(call *nodes.FunctionCall, arg func(int) string) (string, error) {
	form, ok := t.forms[len(call.Args)]
	if !ok {
		return "", t.CheckArity(call.Name, len(call.Args))
	}
	return Expand(form, arg), nil
}

// DatePart dispatches on a constant leading date-part argument, such as
// datediff('day', a, b). Parts maps the folded part name to a template
// over the remaining arguments (?2 is the first of them).
type DatePart struct {
	Arity int
	Parts map[string]string
}

func (d DatePart) CheckArity(name string, n int) error {
	if n != d.Arity {
		return &qerr.ArgumentCountError{Function: name, Expected: strconv.Itoa(d.Arity), Got: n}
	}
	return nil
}

func (d DatePart) Render(call *nodes.FunctionCall, arg func(int) string) (string, error) {
	if err := d.CheckArity(call.Name, len(call.Args)); err != nil {
		return "", err
	}
	c, ok := call.Args[0].(*nodes.Constant)
	part, isString := "", false
	if ok {
		part, isString = c.Value.(string)
	}
	if !isString {
		return "", &qerr.UnsupportedOperationError{Operation: call.Name, Message: "date part must be a string constant"}
	}
	tmpl, ok := d.Parts[folder.String(part)]
	if !ok {
		return "", &qerr.UnsupportedOperationError{Operation: call.Name + "(" + part + ")"}
	}
	return Expand(tmpl, arg), nil
}

// NotSupported marks a function the dialect knows it cannot render.
type NotSupported struct {
	Reason string
}

func (n NotSupported) CheckArity(name string, _ int) error {
	return &qerr.UnsupportedOperationError{Operation: name, Message: n.Reason}
}

func (n NotSupported) Render(call *nodes.FunctionCall, _ func(int) string) (string, error) {
	return "", n.CheckArity(call.Name, len(call.Args))
}
