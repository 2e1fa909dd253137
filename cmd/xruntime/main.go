// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command xruntime serves and probes handlers which report their
// runtime in the X-Runtime response header.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()

	var (
		cfgPath string
		cfg     Config
	)
	cmd := &cobra.Command{
		Use:           "xruntime",
		Short:         "Serve and probe handlers which report their runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err = loadConfig(v, cfgPath)
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a yaml config file")

	cmd.AddCommand(
		newServeCmd(v, &cfg),
		newProbeCmd(v, &cfg),
	)
	return cmd
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, name string) {
	err := v.BindPFlag(key, cmd.Flags().Lookup(name))
	if err != nil {
		panic(err)
	}
}
