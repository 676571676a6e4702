package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the visible variables in enumeration order",
		Long: `The list command enumerates the variables the firmware would report through
GetNextVariableName. Deleted and superseded copies are skipped.

Example:
  varstore list --nv RPI_EFI.fd
  varstore list --nv RPI_EFI.fd --hob hob.bin -o json`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
}

func runList(cmd *cobra.Command, _ []string) error {
	w, err := openWatcher(cmd)
	if err != nil {
		return err
	}
	defer w.Close()

	vars, err := w.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list variables: %w", err)
	}

	return render(cmd.OutOrStdout(), efi.MarshalVariableList(vars), func(out io.Writer) error {
		t := newTable(out, "NAME", "GUID", "ATTRIBUTES", "SIZE")
		for _, v := range vars {
			t.Append([]string{v.Name, v.GUID.Name(), v.Attributes.String(), fmt.Sprint(len(v.Data))})
		}
		t.Render()
		return nil
	})
}
