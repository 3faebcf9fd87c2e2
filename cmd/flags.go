package cmd

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each named flag of fs to its configuration key, so a flag
// set on the command line overrides files and environment.
func bindFlags(fs *pflag.FlagSet, bindings map[string]string) {
	for name, key := range bindings {
		if f := fs.Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}
