package cobrautil

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// WithViper returns a filter that adds a --config flag and makes every flag
// of the command also settable from a config file or from environment
// variables named PREFIX_FLAG_NAME. Flags given on the command line win. The
// *viper.Viper is stored in the context for later actions.
func WithViper(prefix string) func(*cobra.Command) RunEC {
	return func(c *cobra.Command) RunEC {
		cfgFile := c.Flags().String("config", "", "config file (yaml, toml or json)")
		return func(c *cobra.Command) error {
			v := viper.New()
			v.SetEnvPrefix(prefix)
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()
			if err := v.BindPFlags(c.Flags()); err != nil {
				return err
			}
			if *cfgFile != "" {
				v.SetConfigFile(*cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return err
				}
			}
			Store(c, v)
			return nil
		}
	}
}
