package backend

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"warf/internal/targets"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Registry struct {
	backends []Backend
}

type RegistryParams struct {
	fx.In

	Logger   *zap.Logger
	Backends []Backend `group:"backends"`
}

func NewRegistry(params RegistryParams) *Registry {
	backends := make([]Backend, 0, len(params.Backends))
	for _, b := range params.Backends {
		v := reflect.ValueOf(b)
		if v.Kind() == reflect.Ptr && v.IsNil() {
			continue // skip nil backend
		}
		backends = append(backends, b)
		params.Logger.Debug("backend registered", zap.String("backend", b.Name()), zap.Strings("aliases", b.Aliases()))
	}
	// group order is not defined by fx
	slices.SortFunc(backends, func(a, b Backend) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return &Registry{backends: backends}
}

// Lookup finds a backend by name or alias, ignoring case.
func (r *Registry) Lookup(name string) (Backend, error) {
	for _, b := range r.backends {
		if strings.EqualFold(b.Name(), name) {
			return b, nil
		}
		for _, alias := range b.Aliases() {
			if strings.EqualFold(alias, name) {
				return b, nil
			}
		}
	}
	suggestion, _ := targets.Suggest(strings.ToLower(name), r.Names())
	return nil, &UnknownBackendError{Name: name, Known: r.Names(), Suggestion: suggestion}
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for _, b := range r.backends {
		names = append(names, b.Name())
	}
	return names
}

type UnknownBackendError struct {
	Name       string
	Known      []string
	Suggestion string
}

func (e *UnknownBackendError) Error() string {
	msg := fmt.Sprintf("unknown fuzzer `%s`, expected one of %s", e.Name, strings.Join(e.Known, ", "))
	if e.Suggestion != "" {
		msg += fmt.Sprintf(". Did you mean `%s`?", e.Suggestion)
	}
	return msg
}
