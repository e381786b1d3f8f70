// Package registry keeps the table of user-declared metrics and their
// categories.
package registry

import (
	"fmt"
	"slices"

	"github.com/boristopalov/bca/pkg/core"
)

// Reserved time-field names. They can be fetched like metrics but never
// declared.
const (
	FieldDatetime       = "datetime"
	FieldYear           = "year"
	FieldMonth          = "month"
	FieldDay            = "day"
	FieldHour           = "hour"
	FieldMinute         = "minute"
	FieldZoneTimestep   = "zone_timestep"
	FieldTotalTimesteps = "total_timesteps"
	FieldCallbacks      = "callbacks"
)

// TimeFields lists the reserved time-field names.
var TimeFields = []string{
	FieldDatetime, FieldYear, FieldMonth, FieldDay, FieldHour, FieldMinute,
	FieldZoneTimestep, FieldTotalTimesteps, FieldCallbacks,
}

// IsTimeField reports whether name is a reserved time field.
func IsTimeField(name string) bool {
	return slices.Contains(TimeFields, name)
}

// Registry maps declared names to categories and lookup keys. It is
// append-only during setup and read-only once sealed.
type Registry struct {
	decls      map[string]core.MetricDeclaration
	order      []string
	byCategory map[core.Category][]string
	sealed     bool
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		decls:      make(map[string]core.MetricDeclaration),
		byCategory: make(map[core.Category][]string),
	}
}

// Declare adds a metric. Names are unique across every category, the
// reserved time fields and the category names themselves.
func (r *Registry) Declare(name string, category core.Category, key core.LookupKey) error {
	if r.sealed {
		return fmt.Errorf("%w: registry is sealed, cannot declare %q after setup", core.ErrConfiguration, name)
	}
	if name == "" {
		return fmt.Errorf("%w: metric name must not be empty", core.ErrConfiguration)
	}
	if IsTimeField(name) || core.IsCategoryName(name) {
		return fmt.Errorf("%w: %q is reserved", core.ErrNameCollision, name)
	}
	if prev, exists := r.decls[name]; exists {
		return fmt.Errorf("%w: %q is already declared as %s", core.ErrNameCollision, name, prev.Category)
	}
	switch category {
	case core.Variable, core.InternalVariable, core.Meter, core.Actuator:
	case core.Weather:
		if len(key) != 1 {
			return fmt.Errorf("%w: weather metric %q needs exactly one key, got %s", core.ErrMalformedDeclaration, name, key)
		}
		if !core.IsWeatherMetric(key[0]) {
			return fmt.Errorf("%w: %q is misspelled or not provided by the engine", core.ErrInvalidWeatherMetric, key[0])
		}
	default:
		return fmt.Errorf("%w: unknown category %q for %q", core.ErrConfiguration, category, name)
	}

	r.decls[name] = core.MetricDeclaration{
		Name:     name,
		Category: category,
		Key:      slices.Clone(key),
	}
	r.order = append(r.order, name)
	r.byCategory[category] = append(r.byCategory[category], name)
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.sealed = true
}

func (r *Registry) Sealed() bool {
	return r.sealed
}

// Lookup returns the declaration for name.
func (r *Registry) Lookup(name string) (core.MetricDeclaration, error) {
	d, ok := r.decls[name]
	if !ok {
		return core.MetricDeclaration{}, fmt.Errorf("%w: %q", core.ErrUnknownMetric, name)
	}
	return d, nil
}

// CategoryOf returns the declared category of name.
func (r *Registry) CategoryOf(name string) (core.Category, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return d.Category, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.decls[name]
	return ok
}

// AllNamesFor returns the names declared in category, in declaration order.
func (r *Registry) AllNamesFor(category core.Category) []string {
	return slices.Clone(r.byCategory[category])
}

// Names returns every declared name in declaration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Declarations returns every declaration in declaration order.
func (r *Registry) Declarations() []core.MetricDeclaration {
	out := make([]core.MetricDeclaration, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.decls[n])
	}
	return out
}

// Len returns the number of declared metrics.
func (r *Registry) Len() int {
	return len(r.order)
}

// Expand resolves a request list. A single category name expands to every
// metric of that category; a category name mixed with anything else is an
// error. Individual names are returned unchanged and are not checked here.
func (r *Registry) Expand(names []string) ([]string, bool, error) {
	if len(names) == 1 && core.IsCategoryName(names[0]) {
		return r.AllNamesFor(core.Category(names[0])), true, nil
	}
	for _, n := range names {
		if core.IsCategoryName(n) {
			return nil, false, fmt.Errorf("%w: %q requested together with %v", core.ErrMixedCategoryRequest, n, names)
		}
	}
	return names, false, nil
}
