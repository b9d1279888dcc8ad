package config

const redacted = "[REDACTED]"

// Secret holds credential material. Every formatting and serialization path
// prints a placeholder; only Reveal returns the value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Secret) Empty() bool {
	return s == ""
}

func (s Secret) Reveal() string {
	return string(s)
}
