package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/cfshim/internal/shim"
)

func (c *cli) atobCommand() *cobra.Command {
	var asHex bool

	cmd := &cobra.Command{
		Use:   "atob [input]",
		Short: "Decode base64 the way the challenge shim does",
		Long:  "Decode base64 the way the challenge shim does. Reads stdin when no input is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := argOrStdin(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			decoded := shim.Atob(input)
			if asHex {
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(decoded))
				return nil
			}
			_, err = cmd.OutOrStdout().Write(decoded)
			return err
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "print the decoded bytes as hex")
	return cmd
}

func argOrStdin(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// readSource loads a script from a path, or from stdin when path is "-".
func readSource(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
