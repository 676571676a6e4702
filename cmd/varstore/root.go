package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bmcpi/varstore/internal/backend/image"
	"github.com/bmcpi/varstore/internal/config"
	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/varstore"
)

var (
	// Global flags
	configPath string
	nvPath     string
	hobPath    string
	rawNv      bool
	rootKeyHex string
	alignment  int
	output     string
	verbose    int

	// fs is where store images and key files are read from.
	fs afero.Fs = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:   "varstore",
	Short: "Read UEFI variable stores",
	Long: `varstore reads the variables of an EDK2 firmware image the way the
firmware's own variable services resolve them: newest copy wins, volatile
HOB variables shadow flash, and protected payloads are decrypted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		switch output {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q", output)
		}
		stdr.SetVerbosity(verbose)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file")
	flags.StringVar(&nvPath, "nv", "", "Firmware image or raw store holding the NV variables")
	flags.StringVar(&hobPath, "hob", "", "Raw store holding the volatile HOB variables")
	flags.BoolVar(&rawNv, "raw", false, "The --nv file is a bare variable store, not a firmware image")
	flags.StringVar(&rootKeyHex, "root-key", "", "Hex encoded root key for protected variables")
	flags.IntVar(&alignment, "alignment", varstore.DefaultAlignment, "Record alignment of the stores")
	flags.StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	flags.CountVarP(&verbose, "verbose", "v", "Increase log verbosity")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() logr.Logger {
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
}

// loadConfig reads --config, if given, and applies the store flags on top.
// With watch set the config file is reloaded on change.
func loadConfig(cmd *cobra.Command, watch bool) (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		c, err := config.NewConfig(configPath, watch)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = &config.Config{
			Address: "0.0.0.0",
			Port:    8080,
			Store: config.StoreConfig{
				NvFormat:      string(varstore.FormatVolume),
				Alignment:     varstore.DefaultAlignment,
				IndexCapacity: varstore.DefaultIndexCapacity,
			},
			Cipher: config.CipherConfig{MaxVariableSize: 65536},
			Log:    newLogger(),
		}
	}

	flags := cmd.Flags()
	if flags.Changed("nv") {
		cfg.Store.NvPath = nvPath
	}
	if flags.Changed("hob") {
		cfg.Store.HobPath = hobPath
	}
	if rawNv {
		cfg.Store.NvFormat = string(varstore.FormatRaw)
	}
	if flags.Changed("alignment") {
		cfg.Store.Alignment = alignment
	}
	if rootKeyHex != "" {
		cfg.Cipher.Enabled = true
		cfg.Cipher.RootKeyHex = rootKeyHex
	}
	if cfg.Store.NvPath == "" && cfg.Store.HobPath == "" {
		return nil, fmt.Errorf("no variable store given, use --nv or --hob")
	}
	return cfg, nil
}

// openWatcher loads the configured stores without watching them.
func openWatcher(cmd *cobra.Command) (*image.Watcher, error) {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return nil, err
	}
	icfg, err := image.FromConfig(cfg, fs)
	if err != nil {
		return nil, err
	}
	return image.NewWatcher(cmd.Context(), cfg.Log, fs, icfg)
}

// parseIdentity reads a variable name and an optional vendor GUID, which
// defaults to the EFI global variable GUID.
func parseIdentity(args []string) (efi.Identity, error) {
	id := efi.Identity{Name: args[0], GUID: efi.GlobalVariableGUID}
	if len(args) > 1 {
		g, err := efi.ParseGUID(args[1])
		if err != nil {
			return efi.Identity{}, err
		}
		id.GUID = g
	}
	return id, nil
}

// newTable returns a borderless table writing to w.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(false)
	t.SetHeaderLine(false)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	return t
}

// render writes v as JSON or YAML, or calls text for the text format.
func render(w io.Writer, v any, text func(io.Writer) error) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}
	return text(w)
}
