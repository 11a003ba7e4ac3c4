package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/stream"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

// Config defines script execution limits
type Config struct {
	Timeout      time.Duration // Execution timeout, zero for none
	MaxCallStack int           // Maximum call stack depth
}

// DefaultConfig returns the limits used by memfs scripts
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxCallStack: 1024,
	}
}

// Compile parses src and returns an executable that runs it.
func Compile(name string, src []byte, sig vfs.Signature, config Config) (*vfs.Executable, error) {
	program, err := goja.Compile(name, string(src), false)
	if err != nil {
		return nil, fserr.Invalid("script", err.Error())
	}

	return &vfs.Executable{
		Signature: sig,
		Run: func(ctx context.Context, ec vfs.ExecuteContext) (any, error) {
			return run(ctx, program, ec, config)
		},
	}, nil
}

func run(ctx context.Context, program *goja.Program, ec vfs.ExecuteContext, config Config) (any, error) {
	vm := goja.New()
	if config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStack)
	}
	if err := setupGlobals(ctx, vm, ec); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if config.Timeout > 0 {
		timer := time.NewTimer(config.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-timeout:
			vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			vm.Interrupt("context cancelled")
		case <-stop:
		}
	}()

	val, err := vm.RunProgram(program)
	if err != nil {
		return nil, scriptError(err)
	}
	return exportValue(val), nil
}

// setupGlobals removes host escape hatches and binds the execution's stdio.
func setupGlobals(ctx context.Context, vm *goja.Runtime, ec vfs.ExecuteContext) error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	stdio := ec.Stdio()
	stdout := vm.NewObject()
	stdout.Set("write", writer(vm, stdio.Stdout))
	stderr := vm.NewObject()
	stderr.Set("write", writer(vm, stdio.Stderr))

	stdin := vm.NewObject()
	stdin.Set("read", func(call goja.FunctionCall) goja.Value {
		v, err := stdio.Stdin.Next(ctx)
		if errors.Is(err, stream.ErrEnded) {
			return goja.Null()
		}
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if b, ok := v.([]byte); ok {
			return vm.ToValue(string(b))
		}
		return vm.ToValue(v)
	})

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if err := stdio.Stdout.Write(strings.Join(parts, " ")+"\n", nil); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	globals := map[string]any{
		"arg":     map[string]any(ec.Arg()),
		"env":     ec.Env(),
		"stdout":  stdout,
		"stderr":  stderr,
		"stdin":   stdin,
		"console": console,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func writer(vm *goja.Runtime, out *stream.Stream) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			if err := out.Write(arg.String(), nil); err != nil {
				panic(vm.NewGoError(err))
			}
		}
		return goja.Undefined()
	}
}

// scriptError maps goja failures onto the error taxonomy.
func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fserr.Runtime(fmt.Sprint(interrupted.Value()))
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		if obj, ok := exception.Value().(*goja.Object); ok {
			if v := obj.Get("value"); v != nil {
				if goErr, ok := v.Export().(error); ok {
					return fserr.From(goErr)
				}
			}
		}
		return fserr.Runtime(exception.Error())
	}
	return fserr.Runtime(err.Error())
}

// exportValue converts a goja value to a Go value
func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
