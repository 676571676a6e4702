package efi

import "fmt"

// Status is an EFI_STATUS error code. Only the error half of the code space
// is represented; success is a nil error.
type Status uint64

const errorBit Status = 1 << 63

// Status values surfaced by the variable services.
const (
	ErrInvalidParameter Status = errorBit | 2
	ErrUnsupported      Status = errorBit | 3
	ErrBufferTooSmall   Status = errorBit | 5
	ErrOutOfResources   Status = errorBit | 9
	ErrNotFound         Status = errorBit | 14
	ErrCompromisedData  Status = errorBit | 33
)

var statusText = map[Status]string{
	ErrInvalidParameter: "invalid parameter",
	ErrUnsupported:      "unsupported",
	ErrBufferTooSmall:   "buffer too small",
	ErrOutOfResources:   "out of resources",
	ErrNotFound:         "not found",
	ErrCompromisedData:  "compromised data",
}

func (s Status) Error() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("efi status 0x%x", uint64(s))
}

// Code returns the low bits of the status without the error bit.
func (s Status) Code() uint64 {
	return uint64(s &^ errorBit)
}
