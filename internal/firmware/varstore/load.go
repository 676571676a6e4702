package varstore

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

// Format says how a store file is laid out.
type Format string

const (
	// FormatVolume is a firmware image holding an NV data volume.
	FormatVolume Format = "volume"
	// FormatRaw is a bare variable store starting with its header.
	FormatRaw Format = "raw"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatVolume, FormatRaw:
		return Format(s), nil
	case "":
		return FormatVolume, nil
	}
	return "", fmt.Errorf("unknown store format %q", s)
}

// Source names a store file.
type Source struct {
	Type      StoreType
	Path      string
	Format    Format
	Alignment int
}

// LoadStore reads a store file from fs.
func LoadStore(fs afero.Fs, src Source, log logr.Logger) (*Store, error) {
	log.Info("reading variable store", "store", src.Type, "path", src.Path, "format", src.Format)
	data, err := afero.ReadFile(fs, src.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s store: %w", src.Type, err)
	}

	alignment := src.Alignment
	if alignment == 0 {
		alignment = DefaultAlignment
	}

	region := data
	if src.Format != FormatRaw {
		var vol VolumeHeader
		region, vol, err = VolumeStore(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.Path, err)
		}
		log.V(1).Info("firmware volume", "offset", vol.Offset, "length", vol.Length,
			"revision", vol.Revision, "blocks", vol.Blocks, "blockSize", vol.BlockSize)
	}

	s, err := NewStore(src.Type, region, alignment)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Path, err)
	}
	log.Info("variable store range", "store", src.Type, "start", s.Start(), "end", s.End())
	return s, nil
}

// LoadStores reads each source. Sources with an empty path and raw
// (erased) stores are skipped.
func LoadStores(fs afero.Fs, log logr.Logger, sources ...Source) ([]*Store, error) {
	var stores []*Store
	for _, src := range sources {
		if src.Path == "" {
			continue
		}
		s, err := LoadStore(fs, src, log)
		if errors.Is(err, efi.ErrNotFound) {
			log.Info("skipping variable store", "store", src.Type, "path", src.Path, "reason", err.Error())
			continue
		}
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	return stores, nil
}
