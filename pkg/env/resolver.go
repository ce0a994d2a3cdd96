package env

import (
	"fmt"
)

// Binding declares how one environment key of a service gets its value.
type Binding struct {
	// Key is the variable name handed to the service.
	Key string
	// Ref names the external variable to read. Empty means the binding never
	// looks at the environment and always takes Default.
	Ref string
	// Default is used when Ref is unset or empty. It may reference other
	// variables with ${VAR} syntax.
	Default    string
	HasDefault bool
	// Required makes an unresolvable binding an error instead of "".
	Required bool
}

// Passthrough forwards the external variable of the same name, empty when unset.
func Passthrough(key string) Binding {
	return Binding{Key: key, Ref: key}
}

// WithDefault reads ref and falls back to def.
func WithDefault(key, ref, def string) Binding {
	return Binding{Key: key, Ref: ref, Default: def, HasDefault: true}
}

// Required reads ref and fails resolution when it is unset or empty.
func Required(key, ref string) Binding {
	return Binding{Key: key, Ref: ref, Required: true}
}

// Fixed always resolves to value.
func Fixed(key, value string) Binding {
	return Binding{Key: key, Default: value, HasDefault: true}
}

type resolveOptions struct {
	vars map[string]string
}

// Option tunes a resolution call.
type Option func(*resolveOptions)

// WithVars adds values visible to ${VAR} references inside defaults, on top of
// the snapshot. Composition uses it to expose already-resolved values such as
// the backend host port.
func WithVars(vars map[string]string) Option {
	return func(o *resolveOptions) {
		if o.vars == nil {
			o.vars = make(map[string]string, len(vars))
		}
		for k, v := range vars {
			o.vars[k] = v
		}
	}
}

// Resolve produces key -> value for every binding, or fails on the first
// binding that cannot be resolved. Keys must be unique.
func Resolve(bindings []Binding, snap Snapshot, opts ...Option) (map[string]string, error) {
	seen := make(map[string]struct{}, len(bindings))
	for _, b := range bindings {
		if b.Key == "" {
			return nil, invalidf("binding with empty key (ref %q)", b.Ref)
		}
		if _, dup := seen[b.Key]; dup {
			return nil, invalidf("duplicate key %q", b.Key)
		}
		seen[b.Key] = struct{}{}
	}

	resolved := make(map[string]string, len(bindings))
	for _, b := range bindings {
		v, err := ResolveValue(b, snap, opts...)
		if err != nil {
			return nil, err
		}
		resolved[b.Key] = v
	}
	return resolved, nil
}

// ResolveValue resolves a single binding.
func ResolveValue(b Binding, snap Snapshot, opts ...Option) (string, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	if b.Ref != "" {
		if v, ok := snap.Get(b.Ref); ok {
			return v, nil
		}
	}

	if b.HasDefault {
		scope := snap
		if len(o.vars) > 0 {
			scope = snap.With(o.vars)
		}
		v, err := scope.Interpolate(b.Default)
		if err != nil {
			return "", fmt.Errorf("failed to interpolate default for %s: %w", b.Key, err)
		}
		if v != "" || !b.Required {
			return v, nil
		}
	}

	if b.Required {
		return "", &MissingRequiredConfigError{Key: b.Key, Ref: b.Ref}
	}
	return "", nil
}
