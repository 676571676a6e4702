package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bmcpi/varstore/internal/backend"
	"github.com/bmcpi/varstore/internal/firmware/varstore"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Describe the loaded variable stores",
		Long: `The info command prints the header of each store, its record counts, and the
state of its index table after a full enumeration.

Example:
  varstore info --nv RPI_EFI.fd --hob hob.bin`,
		Args: cobra.NoArgs,
		RunE: runInfo,
	}
}

type infoOutput struct {
	Stores []backend.StoreInfo `json:"stores"`
	Stats  varstore.Stats      `json:"stats"`
}

func runInfo(cmd *cobra.Command, _ []string) error {
	w, err := openWatcher(cmd)
	if err != nil {
		return err
	}
	defer w.Close()

	// Enumerate once so the index tables reflect the whole store.
	if _, err := w.List(cmd.Context()); err != nil {
		return fmt.Errorf("failed to enumerate variables: %w", err)
	}
	stores, err := w.Stores(cmd.Context())
	if err != nil {
		return err
	}

	res := infoOutput{Stores: stores, Stats: w.Stats()}
	return render(cmd.OutOrStdout(), res, func(out io.Writer) error {
		t := newTable(out, "STORE", "PATH", "SIGNATURE", "SIZE", "RECORDS", "LIVE", "INDEXED", "COMPLETE")
		for _, s := range stores {
			t.Append([]string{
				s.Type, s.Path, s.Signature, fmt.Sprintf("0x%x", s.Size),
				fmt.Sprint(s.Records), fmt.Sprint(s.Live),
				fmt.Sprintf("%d/%d", s.Index.Entries, s.Index.Capacity), fmt.Sprint(s.Index.GoneThrough),
			})
		}
		t.Render()
		st := res.Stats
		_, err := fmt.Fprintf(out, "\nlookups=%d index_hits=%d tail_walks=%d records_walked=%d shadowed=%d decrypts=%d\n",
			st.Lookups, st.IndexHits, st.TailWalks, st.RecordsWalked, st.Shadowed, st.Decrypts)
		return err
	})
}
