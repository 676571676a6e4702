package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bmcpi/varstore/internal/firmware/manager"
)

func init() {
	rootCmd.AddCommand(newBootCmd())
}

func newBootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Show the boot manager configuration",
		Long: `The boot command decodes BootOrder, BootNext, BootCurrent, Timeout and
every Boot#### entry of the store.

Example:
  varstore boot --nv RPI_EFI.fd`,
		Args: cobra.NoArgs,
		RunE: runBoot,
	}
}

func runBoot(cmd *cobra.Command, _ []string) error {
	w, err := openWatcher(cmd)
	if err != nil {
		return err
	}
	defer w.Close()

	cfg, err := manager.New(w, w.Log).Summary(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read boot configuration: %w", err)
	}

	return render(cmd.OutOrStdout(), cfg, func(out io.Writer) error {
		fmt.Fprintf(out, "BootOrder:   %s\n", strings.Join(cfg.Order, ","))
		if cfg.Next != "" {
			fmt.Fprintf(out, "BootNext:    %s\n", cfg.Next)
		}
		if cfg.Current != "" {
			fmt.Fprintf(out, "BootCurrent: %s\n", cfg.Current)
		}
		if cfg.Timeout != nil {
			fmt.Fprintf(out, "Timeout:     %ds\n", *cfg.Timeout)
		}
		fmt.Fprintln(out)

		t := newTable(out, "ID", "POS", "ACTIVE", "NAME", "DEVICE PATH")
		for _, e := range cfg.Entries {
			pos := "-"
			if e.Position >= 0 {
				pos = fmt.Sprint(e.Position)
			}
			t.Append([]string{"Boot" + e.ID, pos, fmt.Sprint(e.Enabled), e.Name, e.DevPath})
		}
		t.Render()
		return nil
	})
}
