package efi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Load option attributes.
const (
	LoadOptionActive      uint32 = 0x00000001
	LoadOptionForceRecon  uint32 = 0x00000002
	LoadOptionHidden      uint32 = 0x00000008
	LoadOptionCategory    uint32 = 0x00001f00
	LoadOptionCategoryApp uint32 = 0x00000100
)

// LoadOption is a decoded EFI_LOAD_OPTION, the payload of Boot#### variables.
type LoadOption struct {
	Attr       uint32
	Title      string
	DevicePath DevicePath
	OptData    []byte
}

// ParseLoadOption decodes an EFI_LOAD_OPTION.
func ParseLoadOption(data []byte) (*LoadOption, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("load option: %d bytes is too short", len(data))
	}

	opt := &LoadOption{Attr: binary.LittleEndian.Uint32(data[0:4])}
	pathSize := int(binary.LittleEndian.Uint16(data[4:6]))

	end := TerminatorIndex(data[6:])
	if end < 0 {
		return nil, fmt.Errorf("load option: unterminated description")
	}
	title, err := DecodeName(data[6 : 6+end+2])
	if err != nil {
		return nil, fmt.Errorf("load option: %w", err)
	}
	opt.Title = title

	pathOffset := 6 + end + 2
	if pathOffset+pathSize > len(data) {
		return nil, fmt.Errorf("load option: device path overruns data")
	}
	opt.DevicePath, err = ParseDevicePath(data[pathOffset : pathOffset+pathSize])
	if err != nil {
		return nil, fmt.Errorf("load option: %w", err)
	}

	if rest := data[pathOffset+pathSize:]; len(rest) > 0 {
		opt.OptData = rest
	}
	return opt, nil
}

// Active reports whether LOAD_OPTION_ACTIVE is set.
func (o *LoadOption) Active() bool {
	return o.Attr&LoadOptionActive != 0
}

// Hidden reports whether LOAD_OPTION_HIDDEN is set.
func (o *LoadOption) Hidden() bool {
	return o.Attr&LoadOptionHidden != 0
}

func (o *LoadOption) String() string {
	s := fmt.Sprintf("title=%q devpath=%s", o.Title, o.DevicePath)
	if o.OptData != nil {
		s += " optdata=" + hex.EncodeToString(o.OptData)
	}
	return s
}

// ParseBootOrder decodes the BootOrder variable, an array of UINT16.
func ParseBootOrder(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("invalid boot order data length %d", len(data))
	}
	order := make([]uint16, len(data)/2)
	for i := range order {
		order[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return order, nil
}
