// Package cmd implements adbcore's command-line front end: keygen,
// connect, and serve, each a thin wrapper over internal/mirror.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrcpy-core/adbcore/internal/logging"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "adbcore",
	Short: "Raw-wire ADB multiplexer and scrcpy v2 stream core",
	Long: `adbcore speaks the ADB transport protocol and scrcpy v2 stream
framing directly, without shelling out to adb or libusb. It is a library
first; this CLI exercises connect, RSA keygen, and a local event-relay
server on top of it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the CLI, returning any error from the selected command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cobra.OnInitialize(func() {
		logging.Init(verbose)
	})

	rootCmd.AddCommand(NewKeygenCommand())
	rootCmd.AddCommand(NewConnectCommand())
	rootCmd.AddCommand(NewServeCommand())
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
