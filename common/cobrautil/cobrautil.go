package cobrautil

import (
	"context"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"
)

type (
	RunE  = func(c *cobra.Command, args []string) error
	RunEC = func(c *cobra.Command) error
)

var (
	cmdType  = reflect.TypeFor[*cobra.Command]()
	ctxType  = reflect.TypeFor[context.Context]()
	argsType = reflect.TypeFor[[]string]()
	errType  = reflect.TypeFor[error]()
)

// chain runs fs in order, stopping at the first error. nil entries are skipped.
func chain(fs ...RunE) RunE {
	var live []RunE
	for _, f := range fs {
		if f != nil {
			live = append(live, f)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(c *cobra.Command, args []string) error {
		for _, f := range live {
			if err := f(c, args); err != nil {
				return err
			}
		}
		return nil
	}
}

// Cmd builds c from parts:
//
//   - *cobra.Command is added as a subcommand.
//   - func(...) error is an action, appended to c.RunE. Its parameters are
//     filled from c, args, c.Context(), or values put there with Store.
//   - func(*cobra.Command) T is a filter, called now (usually to add flags).
//     If T is itself an action it runs at run time, otherwise the returned
//     value is stored for later actions.
func Cmd(c *cobra.Command, parts ...any) *cobra.Command {
	for _, p := range parts {
		if sub, ok := p.(*cobra.Command); ok {
			c.AddCommand(sub)
			continue
		}
		v := reflect.ValueOf(p)
		switch t := v.Type(); {
		case isAction(t):
			c.RunE = chain(c.RunE, action(v))
		case isFilter(t):
			c.RunE = chain(c.RunE, filter(v, c))
		default:
			panic(fmt.Sprintf("cobrautil: can't use %T in Cmd", p))
		}
	}
	return c
}

func isAction(t reflect.Type) bool {
	return t.Kind() == reflect.Func && t.NumOut() == 1 && t.Out(0) == errType
}

func isFilter(t reflect.Type) bool {
	return t.Kind() == reflect.Func &&
		t.NumIn() == 1 && t.In(0) == cmdType &&
		t.NumOut() <= 1 && (t.NumOut() == 0 || t.Out(0) != errType)
}

func action(v reflect.Value) RunE {
	t := v.Type()
	return func(c *cobra.Command, args []string) error {
		in := make([]reflect.Value, t.NumIn())
		for i := range in {
			switch pt := t.In(i); pt {
			case cmdType:
				in[i] = reflect.ValueOf(c)
			case ctxType:
				in[i] = reflect.ValueOf(c.Context())
			case argsType:
				in[i] = reflect.ValueOf(args)
			default:
				val := c.Context().Value(ckey{t: pt})
				if val == nil {
					return fmt.Errorf("cobrautil: nothing stored for %s", pt)
				}
				in[i] = reflect.ValueOf(val)
			}
		}
		if out := v.Call(in)[0]; !out.IsNil() {
			return out.Interface().(error)
		}
		return nil
	}
}

func filter(v reflect.Value, c *cobra.Command) RunE {
	out := v.Call([]reflect.Value{reflect.ValueOf(c)})
	if len(out) == 0 {
		return nil
	}
	res := out[0]
	if isAction(res.Type()) {
		return action(res)
	}
	return func(c *cobra.Command, _ []string) error {
		c.SetContext(context.WithValue(c.Context(), ckey{t: res.Type()}, res.Interface()))
		return nil
	}
}
