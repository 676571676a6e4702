package efi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DeviceType represents the type of EFI device path element
type DeviceType uint8

const (
	DevTypeHardware DeviceType = 0x01
	DevTypeAcpi     DeviceType = 0x02
	DevTypeMessage  DeviceType = 0x03
	DevTypeMedia    DeviceType = 0x04
	DevTypeFile     DeviceType = 0x05
	DevTypeEnd      DeviceType = 0x7f
)

// DeviceSubType represents the subtype of EFI device path element
type DeviceSubType uint8

// Hardware subtypes
const (
	DevSubTypePCI      DeviceSubType = 0x01
	DevSubTypeVendorHW DeviceSubType = 0x04
)

// ACPI subtypes
const (
	DevSubTypeACPI DeviceSubType = 0x01
	DevSubTypeGOP  DeviceSubType = 0x03
)

// Message subtypes
const (
	DevSubTypeSCSI  DeviceSubType = 0x02
	DevSubTypeUSB   DeviceSubType = 0x05
	DevSubTypeMAC   DeviceSubType = 0x0b
	DevSubTypeIPv4  DeviceSubType = 0x0c
	DevSubTypeIPv6  DeviceSubType = 0x0d
	DevSubTypeSATA  DeviceSubType = 0x12
	DevSubTypeISCSI DeviceSubType = 0x13
	DevSubTypeURI   DeviceSubType = 0x18
	DevSubTypeDNS   DeviceSubType = 0x1f
)

// Media subtypes
const (
	DevSubTypePartition  DeviceSubType = 0x01
	DevSubTypeFilePath   DeviceSubType = 0x04
	DevSubTypeFVFilename DeviceSubType = 0x06
	DevSubTypeFVName     DeviceSubType = 0x07
)

// ErrDevicePath is returned for a malformed device path.
var ErrDevicePath = errors.New("malformed device path")

// DevicePathElem is a single device path node.
type DevicePathElem struct {
	Type    DeviceType
	SubType DeviceSubType
	Data    []byte
}

// DevicePath is a decoded device path, without its end node.
type DevicePath []DevicePathElem

// ParseDevicePath decodes nodes until the end-of-path node.
func ParseDevicePath(data []byte) (DevicePath, error) {
	var dp DevicePath
	for pos := 0; ; {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated node at %d", ErrDevicePath, pos)
		}
		size := int(binary.LittleEndian.Uint16(data[pos+2:]))
		if size < 4 || pos+size > len(data) {
			return nil, fmt.Errorf("%w: node size %d at %d", ErrDevicePath, size, pos)
		}
		elem := DevicePathElem{
			Type:    DeviceType(data[pos]),
			SubType: DeviceSubType(data[pos+1]),
			Data:    data[pos+4 : pos+size],
		}
		if elem.Type == DevTypeEnd {
			return dp, nil
		}
		if elem.Type < DevTypeHardware || elem.Type > DevTypeFile {
			return nil, fmt.Errorf("%w: unknown node type 0x%x", ErrDevicePath, elem.Type)
		}
		dp = append(dp, elem)
		pos += size
	}
}

func (dp DevicePath) String() string {
	parts := make([]string, 0, len(dp))
	for _, e := range dp {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "/")
}

func (e DevicePathElem) String() string {
	switch e.Type {
	case DevTypeHardware:
		return e.fmtHW()
	case DevTypeAcpi:
		return e.fmtACPI()
	case DevTypeMessage:
		return e.fmtMsg()
	case DevTypeMedia:
		return e.fmtMedia()
	}
	return fmt.Sprintf("Path(%d,%d)", e.Type, e.SubType)
}

func (e DevicePathElem) fmtHW() string {
	switch {
	case e.SubType == DevSubTypePCI && len(e.Data) >= 2:
		return fmt.Sprintf("Pci(0x%x,0x%x)", e.Data[1], e.Data[0])
	case e.SubType == DevSubTypeVendorHW && len(e.Data) >= 16:
		return fmt.Sprintf("VenHw(%s)", ReadGUID(e.Data, 0))
	}
	return fmt.Sprintf("HardwarePath(%d)", e.SubType)
}

func (e DevicePathElem) fmtACPI() string {
	switch {
	case e.SubType == DevSubTypeACPI && len(e.Data) >= 8:
		hid := binary.LittleEndian.Uint32(e.Data[0:4])
		uid := binary.LittleEndian.Uint32(e.Data[4:8])
		if hid == 0x0a0341d0 {
			return fmt.Sprintf("PciRoot(0x%x)", uid)
		}
		return fmt.Sprintf("Acpi(0x%x,0x%x)", hid, uid)
	case e.SubType == DevSubTypeGOP && len(e.Data) >= 4:
		return fmt.Sprintf("AcpiAdr(0x%x)", binary.LittleEndian.Uint32(e.Data[0:4]))
	}
	return fmt.Sprintf("AcpiPath(%d)", e.SubType)
}

func (e DevicePathElem) fmtMsg() string {
	switch e.SubType {
	case DevSubTypeSCSI:
		if len(e.Data) >= 4 {
			return fmt.Sprintf("Scsi(0x%x,0x%x)",
				binary.LittleEndian.Uint16(e.Data[0:2]), binary.LittleEndian.Uint16(e.Data[2:4]))
		}
	case DevSubTypeUSB:
		if len(e.Data) >= 2 {
			return fmt.Sprintf("USB(0x%x,0x%x)", e.Data[0], e.Data[1])
		}
	case DevSubTypeMAC:
		if len(e.Data) >= 6 {
			return fmt.Sprintf("MAC(%s)", net.HardwareAddr(e.Data[0:6]))
		}
	case DevSubTypeIPv4:
		if len(e.Data) >= 8 {
			return fmt.Sprintf("IPv4(%s)", net.IP(e.Data[4:8]))
		}
		return "IPv4()"
	case DevSubTypeIPv6:
		return "IPv6()"
	case DevSubTypeSATA:
		if len(e.Data) >= 2 {
			return fmt.Sprintf("Sata(0x%x)", binary.LittleEndian.Uint16(e.Data[0:2]))
		}
	case DevSubTypeISCSI:
		if len(e.Data) >= 14 {
			return fmt.Sprintf("iSCSI(%s)", strings.TrimRight(string(e.Data[14:]), "\x00"))
		}
	case DevSubTypeURI:
		return fmt.Sprintf("Uri(%s)", string(e.Data))
	case DevSubTypeDNS:
		return "Dns()"
	}
	return fmt.Sprintf("Msg(%d)", e.SubType)
}

func (e DevicePathElem) fmtMedia() string {
	switch e.SubType {
	case DevSubTypePartition:
		if len(e.Data) >= 4 {
			return fmt.Sprintf("HD(%d)", binary.LittleEndian.Uint32(e.Data[0:4]))
		}
	case DevSubTypeFilePath:
		path, err := DecodeName(e.Data)
		if err == nil {
			return path
		}
	case DevSubTypeFVFilename:
		if len(e.Data) >= 16 {
			return fmt.Sprintf("FvFile(%s)", ReadGUID(e.Data, 0))
		}
	case DevSubTypeFVName:
		if len(e.Data) >= 16 {
			return fmt.Sprintf("Fv(%s)", ReadGUID(e.Data, 0))
		}
	}
	return fmt.Sprintf("MediaPath(%d)", e.SubType)
}
