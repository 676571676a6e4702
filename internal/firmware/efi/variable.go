package efi

import "fmt"

// Identity is the key of a variable: its name and vendor GUID.
type Identity struct {
	Name string
	GUID GUID
}

func (id Identity) String() string {
	return fmt.Sprintf("%s-%s", id.Name, id.GUID)
}

// ParseIdentity parses the "Name:GUID" form used in configuration files.
func ParseIdentity(s string) (Identity, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != ':' {
			continue
		}
		g, err := ParseGUID(s[i+1:])
		if err != nil {
			return Identity{}, err
		}
		if i == 0 {
			return Identity{}, fmt.Errorf("identity %q: empty name", s)
		}
		return Identity{Name: s[:i], GUID: g}, nil
	}
	return Identity{}, fmt.Errorf("identity %q: want Name:GUID", s)
}

// Variable is a resolved variable with a copy of its data.
type Variable struct {
	Name       string
	GUID       GUID
	Attributes Attributes
	Data       []byte
}

// Identity returns the key of v.
func (v *Variable) Identity() Identity {
	return Identity{Name: v.Name, GUID: v.GUID}
}
