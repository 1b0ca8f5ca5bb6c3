// Package exports holds the host functions scripts reach through _PY.
package exports

import (
	"fmt"
	"sort"

	"github.com/armon/go-radix"
	lua "github.com/yuin/gopher-lua"
)

type Func struct {
	Name        string
	Category    string
	Description string
	Fn          lua.LGFunction
}

// Installer receives exported functions; *engine.Engine is one.
type Installer interface {
	Register(name string, fn lua.LGFunction)
}

// Registry indexes exports by name. Names sharing a prefix (tcp_, json_)
// form natural groups, so lookups by prefix are cheap.
type Registry struct {
	tree *radix.Tree
}

func NewRegistry() *Registry {
	return &Registry{tree: radix.New()}
}

func (r *Registry) Add(f Func) error {
	if f.Name == "" || f.Fn == nil {
		return fmt.Errorf("export needs a name and a function")
	}
	if _, ok := r.tree.Get(f.Name); ok {
		return fmt.Errorf("export %q already registered", f.Name)
	}
	if f.Category == "" {
		f.Category = "general"
	}
	if f.Description == "" {
		f.Description = "No description available"
	}
	r.tree.Insert(f.Name, f)
	return nil
}

// MustAdd is Add for package-level tables known to be consistent.
func (r *Registry) MustAdd(fs ...Func) {
	for _, f := range fs {
		if err := r.Add(f); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) (Func, bool) {
	v, ok := r.tree.Get(name)
	if !ok {
		return Func{}, false
	}
	return v.(Func), true
}

func (r *Registry) Len() int {
	return r.tree.Len()
}

// All returns every export in name order.
func (r *Registry) All() []Func {
	return r.WithPrefix("")
}

func (r *Registry) WithPrefix(prefix string) []Func {
	var out []Func
	r.tree.WalkPrefix(prefix, func(_ string, v any) bool {
		out = append(out, v.(Func))
		return false
	})
	return out
}

// ByCategory maps each category to its function names, sorted.
func (r *Registry) ByCategory() map[string][]string {
	out := make(map[string][]string)
	r.tree.Walk(func(name string, v any) bool {
		f := v.(Func)
		out[f.Category] = append(out[f.Category], name)
		return false
	})
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

// Install registers every export with dst.
func (r *Registry) Install(dst Installer) {
	r.tree.Walk(func(name string, v any) bool {
		dst.Register(name, v.(Func).Fn)
		return false
	})
}
