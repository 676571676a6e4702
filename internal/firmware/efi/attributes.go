package efi

import "strings"

// Attributes is the EFI variable attribute bitmask.
type Attributes uint32

const (
	AttrNonVolatile                       Attributes = 0x00000001
	AttrBootserviceAccess                 Attributes = 0x00000002
	AttrRuntimeAccess                     Attributes = 0x00000004
	AttrHardwareErrorRecord               Attributes = 0x00000008
	AttrAuthenticatedWriteAccess          Attributes = 0x00000010
	AttrTimeBasedAuthenticatedWriteAccess Attributes = 0x00000020
	AttrAppendWrite                       Attributes = 0x00000040
	AttrEnhancedAuthenticatedAccess       Attributes = 0x00000080
)

var attrNames = []struct {
	bit  Attributes
	name string
}{
	{AttrNonVolatile, "NV"},
	{AttrBootserviceAccess, "BS"},
	{AttrRuntimeAccess, "RT"},
	{AttrHardwareErrorRecord, "HR"},
	{AttrAuthenticatedWriteAccess, "AW"},
	{AttrTimeBasedAuthenticatedWriteAccess, "AT"},
	{AttrAppendWrite, "AP"},
	{AttrEnhancedAuthenticatedAccess, "EA"},
}

// Has reports whether every bit of want is set.
func (a Attributes) Has(want Attributes) bool {
	return a&want == want
}

// String renders the set bits in the usual short form, e.g. "NV|BS|RT".
func (a Attributes) String() string {
	if a == 0 {
		return "-"
	}
	parts := make([]string, 0, len(attrNames))
	for _, n := range attrNames {
		if a&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
