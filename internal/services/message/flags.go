package message

import (
	"fmt"
	"strings"
)

// Flags is the set of delivery modifiers attached to a message
type Flags uint8

const (
	// FlagRemoveDelivered removes the message after a confirmed delivery
	// instead of keeping it with the delivered mark.
	FlagRemoveDelivered Flags = 1 << iota
)

var flagNames = map[Flags]string{
	FlagRemoveDelivered: "remove_delivered",
}

// ParseFlags parses the stored comma-joined form. The empty string is the
// empty set; unknown tokens are rejected.
func ParseFlags(s string) (Flags, error) {
	if s == "" {
		return 0, nil
	}
	var flags Flags
	for _, token := range strings.Split(s, ",") {
		flag, err := flagFromName(strings.TrimSpace(token))
		if err != nil {
			return 0, err
		}
		flags |= flag
	}
	return flags, nil
}

// FlagsFromList builds a flag set from caller-supplied tokens, with the same
// parse contract as ParseFlags.
func FlagsFromList(tokens []string) (Flags, error) {
	var flags Flags
	for _, token := range tokens {
		flag, err := flagFromName(strings.TrimSpace(token))
		if err != nil {
			return 0, err
		}
		flags |= flag
	}
	return flags, nil
}

func flagFromName(name string) (Flags, error) {
	for flag, flagName := range flagNames {
		if flagName == name {
			return flag, nil
		}
	}
	return 0, fmt.Errorf("unknown delivery flag %q", name)
}

// Has reports whether every flag in other is set
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// String is the stable serialization: known flag names in bit order,
// comma-joined. The empty set serializes to the empty string.
func (f Flags) String() string {
	var names []string
	for flag := Flags(1); flag != 0 && flag <= f; flag <<= 1 {
		if f.Has(flag) {
			if name, ok := flagNames[flag]; ok {
				names = append(names, name)
			}
		}
	}
	return strings.Join(names, ",")
}
