package efi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// VariableJSON is the JSON structure for an EFI variable. The layout follows
// the virt-firmware json format, version 2.
type VariableJSON struct {
	Name string `json:"name"`
	GUID string `json:"guid"`
	Attr uint32 `json:"attr"`
	Data string `json:"data"` // hex encoded
}

// VariableListJSON is the JSON structure for a list of EFI variables.
type VariableListJSON struct {
	Version   int            `json:"version"`
	Variables []VariableJSON `json:"variables"`
}

// MarshalJSON implements json.Marshaler.
func (v *Variable) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toJSON())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Variable) UnmarshalJSON(data []byte) error {
	var j VariableJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	guid, err := ParseGUID(j.GUID)
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(j.Data)
	if err != nil {
		return fmt.Errorf("variable %s data: %w", j.Name, err)
	}

	v.Name = j.Name
	v.GUID = guid
	v.Attributes = Attributes(j.Attr)
	v.Data = raw
	return nil
}

func (v *Variable) toJSON() VariableJSON {
	return VariableJSON{
		Name: v.Name,
		GUID: v.GUID.String(),
		Attr: uint32(v.Attributes),
		Data: hex.EncodeToString(v.Data),
	}
}

// MarshalVariableList converts variables to the versioned list form.
func MarshalVariableList(vars []Variable) VariableListJSON {
	out := VariableListJSON{Version: 2, Variables: make([]VariableJSON, 0, len(vars))}
	for i := range vars {
		out.Variables = append(out.Variables, vars[i].toJSON())
	}
	return out
}

// UnmarshalVariableList parses the versioned list form.
func UnmarshalVariableList(data []byte) ([]Variable, error) {
	var list struct {
		Version   int               `json:"version"`
		Variables []json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	if list.Version != 2 {
		return nil, fmt.Errorf("unsupported variable list version: %d", list.Version)
	}

	vars := make([]Variable, 0, len(list.Variables))
	for _, raw := range list.Variables {
		var v Variable
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, nil
}
