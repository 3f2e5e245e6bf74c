package contract

import (
	"fmt"
	"os"
	"reflect"
	"strconv"

	"gopkg.in/yaml.v3"
)

// File is a YAML contract file describing types by their display names.
//
//	types:
//	  - type: example.com/shop.Order
//	    asReference: true
//	    members:
//	      - {tag: 1, field: ID}
//	      - {tag: 2, getter: Lines, setter: SetLines, options: "packed"}
//	    subtypes:
//	      - {tag: 5, type: example.com/shop.Refund}
type File struct {
	Types []TypeSpec `yaml:"types"`
}

type TypeSpec struct {
	Type               string        `yaml:"type"`
	Name               string        `yaml:"name,omitempty"`
	AsReference        bool          `yaml:"asReference,omitempty"`
	IgnoreListHandling bool          `yaml:"ignoreListHandling,omitempty"`
	Members            []MemberSpec  `yaml:"members,omitempty"`
	Subtypes           []SubtypeSpec `yaml:"subtypes,omitempty"`
}

type MemberSpec struct {
	Tag     int    `yaml:"tag"`
	Name    string `yaml:"name,omitempty"`
	Field   string `yaml:"field,omitempty"`
	Getter  string `yaml:"getter,omitempty"`
	Setter  string `yaml:"setter,omitempty"`
	Options string `yaml:"options,omitempty"`
	Item    string `yaml:"item,omitempty"`
	Key     string `yaml:"key,omitempty"`
	Default string `yaml:"default,omitempty"`
}

type SubtypeSpec struct {
	Tag    int    `yaml:"tag"`
	Type   string `yaml:"type"`
	Format string `yaml:"format,omitempty"`
}

// Resolver maps a display name to a type.
type Resolver func(name string) (reflect.Type, bool)

// LoadFile reads and parses a YAML contract file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML contract document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for i, ts := range f.Types {
		if ts.Type == "" {
			return nil, fmt.Errorf("%w: types[%d] has no type", ErrInvalid, i)
		}
	}
	return &f, nil
}

// Apply overlays the file entry onto the discovered contract of t. Members and
// subtypes listed in the entry replace the discovered ones.
func (s TypeSpec) Apply(c Type, t reflect.Type, resolve Resolver) (Type, error) {
	if s.Name != "" {
		c.Name = s.Name
	}
	c.AsReferenceDefault = c.AsReferenceDefault || s.AsReference
	c.IgnoreListHandling = c.IgnoreListHandling || s.IgnoreListHandling
	if len(s.Members) > 0 {
		c.Members = nil
		for _, ms := range s.Members {
			m, err := ms.member(t, resolve)
			if err != nil {
				return c, fmt.Errorf("%s: %w", s.Type, err)
			}
			c.Members = append(c.Members, m)
		}
	}
	if len(s.Subtypes) > 0 {
		c.Subtypes = nil
		for _, ss := range s.Subtypes {
			st, ok := resolve(ss.Type)
			if !ok {
				return c, fmt.Errorf("%w: %s: unknown subtype %s", ErrInvalid, s.Type, ss.Type)
			}
			format, err := parseFormat(ss.Format)
			if err != nil {
				return c, err
			}
			c.Subtypes = append(c.Subtypes, Subtype{Tag: ss.Tag, Type: st, Format: format})
		}
	}
	return c, c.Validate()
}

func (ms MemberSpec) member(t reflect.Type, resolve Resolver) (Member, error) {
	spec := strconv.Itoa(ms.Tag)
	if ms.Options != "" {
		spec += "," + ms.Options
	}
	m, err := ParseTag(spec)
	if err != nil {
		return m, err
	}
	m.Name = ms.Name
	switch {
	case ms.Field != "":
		if t.Kind() != reflect.Struct {
			return m, fmt.Errorf("%w: %s has no fields", ErrInvalid, t)
		}
		sf, ok := t.FieldByName(ms.Field)
		if !ok {
			return m, fmt.Errorf("%w: %s has no field %s", ErrInvalid, t, ms.Field)
		}
		m.Field = sf.Index
		if m.Name == "" {
			m.Name = sf.Name
		}
	case ms.Getter != "":
		m.Getter, m.Setter = ms.Getter, ms.Setter
		if m.Name == "" {
			m.Name = ms.Getter
		}
	default:
		return m, fmt.Errorf("%w: member %d needs a field or a getter", ErrInvalid, ms.Tag)
	}
	for _, hint := range []struct {
		name string
		dst  *reflect.Type
	}{{ms.Item, &m.ItemType}, {ms.Key, &m.KeyType}, {ms.Default, &m.DefaultType}} {
		if hint.name == "" {
			continue
		}
		ht, ok := resolve(hint.name)
		if !ok {
			return m, fmt.Errorf("%w: unknown type %s", ErrInvalid, hint.name)
		}
		*hint.dst = ht
	}
	return m, nil
}

func parseFormat(s string) (DataFormat, error) {
	switch s {
	case "", "default":
		return FormatDefault, nil
	case "zigzag":
		return FormatZigZag, nil
	case "fixed":
		return FormatFixed, nil
	}
	return FormatDefault, fmt.Errorf("%w: data format %q", ErrInvalid, s)
}
