package cobrautil

import (
	"context"
	"reflect"

	"github.com/spf13/cobra"
)

// values are keyed by their static type
type ckey struct{ t reflect.Type }

// Store puts v in c's context for actions that take a T.
func Store[T any](c *cobra.Command, v T) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c.SetContext(context.WithValue(ctx, ckey{t: reflect.TypeFor[T]()}, v))
}
