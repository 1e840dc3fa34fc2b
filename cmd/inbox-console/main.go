package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tm-inbox-console/pkg/config"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", appErrors.Message(err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var a *app
	cmd := &cobra.Command{
		Use:           "inbox-console",
		Short:         "Review candidate translation pairs before they enter the translation memory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err = newApp(cfg, cmd.OutOrStdout())
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a != nil {
				a.close()
			}
		},
	}
	get := func() *app { return a }
	cmd.AddCommand(
		tuiCmd(get),
		listCmd(get),
		reviewCmd(get, "approve"),
		reviewCmd(get, "reject"),
		bulkCmd(get, "approve"),
		bulkCmd(get, "reject"),
		consolidateCmd(get),
		linkCmd(get),
		tagsCmd(get),
		viewsCmd(get),
		exportCmd(get),
		devServerCmd(get),
	)
	return cmd
}
