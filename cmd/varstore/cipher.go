package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCipherInfoCmd())
}

func newCipherInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cipher-info <name> [guid]",
		Short: "Print the cipher header stored with a variable",
		Long: `The cipher-info command decodes the cipher header at the start of a
variable's stored payload without decrypting it.

Example:
  varstore cipher-info --nv RPI_EFI.fd Secret 11111111-2222-3333-4444-555555555555`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runCipherInfo,
	}
}

type cipherOutput struct {
	DataType       string `json:"data_type"`
	HeaderSize     uint32 `json:"header_size"`
	PlainDataSize  uint32 `json:"plain_data_size"`
	CipherDataSize uint32 `json:"cipher_data_size"`
	IV             string `json:"iv"`
}

func runCipherInfo(cmd *cobra.Command, args []string) error {
	id, err := parseIdentity(args)
	if err != nil {
		return err
	}
	w, err := openWatcher(cmd)
	if err != nil {
		return err
	}
	defer w.Close()

	info, err := w.CipherInfo(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to read cipher header of %s: %w", id, err)
	}

	res := cipherOutput{
		DataType:       info.DataType.String(),
		HeaderSize:     info.HeaderSize,
		PlainDataSize:  info.PlainDataSize,
		CipherDataSize: info.CipherDataSize,
		IV:             hex.EncodeToString(info.IV[:]),
	}
	return render(cmd.OutOrStdout(), res, func(out io.Writer) error {
		_, err := fmt.Fprintf(out, "Type:   %s\nHeader: %d\nPlain:  %d\nCipher: %d\nIV:     %s\n",
			res.DataType, res.HeaderSize, res.PlainDataSize, res.CipherDataSize, res.IV)
		return err
	})
}
