package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scrcpy-core/adbcore/config"
	"github.com/scrcpy-core/adbcore/internal/auth"
)

type keygenOptions struct {
	keyDir string
	force  bool
}

// NewKeygenCommand builds the "adbcore keygen" command: generate (or
// reuse) the RSA keypair a device will ask to confirm on first connect.
func NewKeygenCommand() *cobra.Command {
	opts := &keygenOptions{}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the ADB RSA keypair",
		Long:  "Generate (or reuse, unless --force) the 2048-bit RSA keypair used to authenticate with a device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.keyDir, "key-dir", config.GetKeyDir(), "directory holding adbkey/adbkey.pub")
	flags.BoolVar(&opts.force, "force", false, "regenerate even if a keypair already exists")

	return cmd
}

func runKeygen(opts *keygenOptions) error {
	if !opts.force {
		keyPair, err := auth.LoadOrGenerate(opts.keyDir)
		if err != nil {
			return fmt.Errorf("keygen: %w", err)
		}
		color.New(color.FgGreen).Printf("keypair ready in %s\n", opts.keyDir)
		color.New(color.Faint).Println(string(keyPair.PublicKeyMessage()))
		return nil
	}

	keyPair, err := auth.Generate()
	if err != nil {
		return fmt.Errorf("keygen: generate: %w", err)
	}
	if err := keyPair.Save(opts.keyDir); err != nil {
		return fmt.Errorf("keygen: save: %w", err)
	}
	color.New(color.FgGreen).Printf("keypair written to %s\n", opts.keyDir)
	color.New(color.Faint).Println(string(keyPair.PublicKeyMessage()))
	return nil
}
