package modsim

import "fmt"

// Registry maps stable action names to constructors. The simulator
// configuration binds actions by name, so it never needs compile-time
// knowledge of action implementations. Lookup hands out a fresh instance per
// call: two bindings to the same name keep independent private state.
type Registry struct {
	actions map[string]func() Action
}

// NewRegistry returns a registry preloaded with the built-in actions.
func NewRegistry() *Registry {
	return &Registry{actions: map[string]func() Action{
		"write_hr_delay":              func() Action { return &WriteDelay{} },
		"read_hr_always_return_value": func() Action { return ReadReturnValue{} },
	}}
}

// Register adds a named action constructor. Names are unique; registering an
// existing name is a configuration error.
func (r *Registry) Register(name string, newAction func() Action) error {
	if _, ok := r.actions[name]; ok {
		return fmt.Errorf("action already registered: %s", name)
	}
	r.actions[name] = newAction
	return nil
}

// Lookup returns a new instance of the named action.
func (r *Registry) Lookup(name string) (Action, error) {
	newAction, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("unknown action: %s", name)
	}
	return newAction(), nil
}
