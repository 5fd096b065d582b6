package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/cfshim/internal/engine"
)

func (c *cli) evalCommand() *cobra.Command {
	var (
		engineName string
		domain     string
		userAgent  string
		answer     string
	)

	cmd := &cobra.Command{
		Use:   "eval <file|->",
		Short: "Run a script against the browser shim",
		Long: "Run a script against the browser shim and print its result. " +
			"With --answer the script runs as a challenge page and the answer expression is printed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			name := engineName
			if name == "" {
				name = c.cfg.Engine.Name
			}
			opts := engine.DefaultOptions()
			opts.Sandbox.Timeout = c.cfg.Engine.Timeout
			opts.PoolSize = 1
			opts.Logger = c.logger
			eng, err := engine.New(name, opts)
			if err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(engine.Names(), ", "))
			}
			defer eng.Close()

			var out string
			if answer != "" {
				out, err = eng.Solve(cmd.Context(), engine.Job{
					Domain:     domain,
					UserAgent:  userAgent,
					Scripts:    []string{script},
					AnswerExpr: answer,
				})
			} else {
				out, err = eng.Eval(cmd.Context(), script)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&engineName, "engine", "", "runtime to use ("+strings.Join(engine.Names(), ", ")+")")
	cmd.Flags().StringVar(&domain, "domain", "", "domain the shim reports to the script")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "navigator.userAgent seen by the script")
	cmd.Flags().StringVar(&answer, "answer", "", "expression read after the script and its timers finish")
	return cmd
}
