package script

// Env is a lexical environment frame with a parent link. Lookups walk
// parent-ward; Define always binds in the receiving frame.
type Env struct {
	parent *Env
	table  map[string]Value
	order  []string
}

// NewEnv creates a new frame with the given parent (which may be nil).
func NewEnv(parent *Env) *Env { return &Env{parent: parent, table: map[string]Value{}} }

// Parent returns the enclosing frame.
func (e *Env) Parent() *Env { return e.parent }

// Define binds name to v in this frame, shadowing any outer binding.
func (e *Env) Define(name string, v Value) {
	if _, ok := e.table[name]; !ok {
		e.order = append(e.order, name)
	}
	e.table[name] = v
}

// Get returns the binding of name in this frame only.
func (e *Env) Get(name string) (Value, bool) {
	v, ok := e.table[name]
	return v, ok
}

// Lookup returns the nearest visible binding of name.
func (e *Env) Lookup(name string) (Value, bool) {
	for f := e; f != nil; f = f.parent {
		if v, ok := f.table[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// Names lists the names bound in this frame in definition order.
func (e *Env) Names() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}
