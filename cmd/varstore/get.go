package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

var bootOptionName = regexp.MustCompile(`^(Boot|Driver|SysPrep)[0-9A-F]{4}$`)

func init() {
	rootCmd.AddCommand(newGetCmd())
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name> [guid]",
		Short: "Print the resolved value of a variable",
		Long: `The get command resolves one variable. The vendor GUID defaults to the EFI
global variable GUID. Load options and BootOrder are decoded in text output.

Example:
  varstore get --nv RPI_EFI.fd BootOrder
  varstore get --nv RPI_EFI.fd Boot0001 -o yaml
  varstore get --nv RPI_EFI.fd --root-key 00112233... Secret 11111111-2222-3333-4444-555555555555`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	id, err := parseIdentity(args)
	if err != nil {
		return err
	}
	w, err := openWatcher(cmd)
	if err != nil {
		return err
	}
	defer w.Close()

	v, err := w.Get(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", id, err)
	}

	return render(cmd.OutOrStdout(), v, func(out io.Writer) error {
		fmt.Fprintf(out, "Name:       %s\n", v.Name)
		fmt.Fprintf(out, "GUID:       %s\n", v.GUID.Name())
		fmt.Fprintf(out, "Attributes: %s (0x%x)\n", v.Attributes, uint32(v.Attributes))
		fmt.Fprintf(out, "Size:       %d\n", len(v.Data))
		_, err := fmt.Fprint(out, describe(v))
		return err
	})
}

// describe decodes well known global variables and falls back to a hex dump.
func describe(v *efi.Variable) string {
	if v.GUID == efi.GlobalVariableGUID {
		switch {
		case bootOptionName.MatchString(v.Name):
			if opt, err := efi.ParseLoadOption(v.Data); err == nil {
				return fmt.Sprintf("Option:     %s\n", opt)
			}
		case v.Name == "BootOrder" || v.Name == "DriverOrder":
			if order, err := efi.ParseBootOrder(v.Data); err == nil {
				prefix := strings.TrimSuffix(v.Name, "Order")
				names := make([]string, 0, len(order))
				for _, n := range order {
					names = append(names, fmt.Sprintf("%s%04X", prefix, n))
				}
				return fmt.Sprintf("Order:      %s\n", strings.Join(names, ","))
			}
		}
	}
	return hex.Dump(v.Data)
}
