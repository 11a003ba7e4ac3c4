package vfs

import (
	"context"
	"fmt"
	"sort"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
)

// Arg holds the named arguments of an execution.
type Arg map[string]any

// ParamType names the accepted type of a parameter
type ParamType string

const (
	TypeAny    ParamType = "any"
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
	TypeBool   ParamType = "boolean"
	TypeList   ParamType = "list"
	TypeObject ParamType = "object"
)

// Param declares one named argument
type Param struct {
	Name     string    `json:"name" yaml:"name" toml:"name"`
	Type     ParamType `json:"type" yaml:"type" toml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required" toml:"required"`
	Default  any       `json:"default,omitempty" yaml:"default" toml:"default"`
}

// Signature declares the arguments an executable accepts.
type Signature struct {
	Params []Param `json:"params" yaml:"params" toml:"params"`
	// Extra allows arguments not named in Params.
	Extra bool `json:"extra,omitempty" yaml:"extra" toml:"extra"`
}

// Validate checks arg against the signature and returns a copy with
// defaults filled in.
func (s Signature) Validate(arg Arg) (Arg, error) {
	out := make(Arg, len(arg))
	known := make(map[string]bool, len(s.Params))

	for _, p := range s.Params {
		known[p.Name] = true

		v, ok := arg[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, fserr.Missing(p.Name)
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		if !p.Type.accepts(v) {
			return nil, fserr.TypeMismatch(string(p.Type), fmt.Sprintf("%T", v))
		}
		out[p.Name] = v
	}

	// sorted so the first rejected key is deterministic
	keys := make([]string, 0, len(arg))
	for k := range arg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if known[k] {
			continue
		}
		if !s.Extra {
			return nil, fserr.Invalid("argument", k)
		}
		out[k] = arg[k]
	}
	return out, nil
}

func (t ParamType) accepts(v any) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case TypeList:
		_, ok := v.([]any)
		if !ok {
			_, ok = v.([]string)
		}
		return ok
	case TypeObject:
		switch v.(type) {
		case map[string]any, map[any]any:
			return true
		}
		return false
	}
	return false
}

// ExecuteFunc runs an executable inside ec. Reads and writes on
// ec.Stdio() are the executable's I/O.
type ExecuteFunc func(ctx context.Context, ec ExecuteContext) (any, error)

// Executable is a node that can be run.
type Executable struct {
	Signature Signature
	Run       ExecuteFunc
}
