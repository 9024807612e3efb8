package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scrcpy-core/adbcore/config"
	"github.com/scrcpy-core/adbcore/internal/mirror"
)

type connectOptions struct {
	endpoint string
	keyDir   string
	shell    string
}

// NewConnectCommand builds "adbcore connect": complete the ADB
// handshake against a device and optionally run one shell command,
// exercising the multiplexer without scrcpy streaming.
func NewConnectCommand() *cobra.Command {
	opts := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect <host:port>",
		Short: "Connect to a device and complete the ADB handshake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.endpoint = args[0]
			return runConnect(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.keyDir, "key-dir", config.GetKeyDir(), "directory holding the ADB keypair")
	flags.StringVar(&opts.shell, "shell", "", "run a shell command and print its output, then exit")

	return cmd
}

func runConnect(ctx context.Context, opts *connectOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	onWaitAuth := func() {
		color.New(color.FgYellow).Println("waiting for device confirmation...")
	}

	session, err := mirror.Open(ctx, opts.endpoint, opts.keyDir, onWaitAuth)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer session.Close()

	color.New(color.FgGreen).Printf("connected, session %s\n", session.ID)

	if opts.shell != "" {
		localID, err := session.OpenStream("shell:"+opts.shell, false)
		if err != nil {
			return fmt.Errorf("connect: open shell stream: %w", err)
		}
		defer session.StreamClose(localID)

		buf := make([]byte, 4096)
		for {
			n, err := session.StreamRead(localID, buf, -1)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
		return nil
	}

	<-ctx.Done()
	return nil
}
