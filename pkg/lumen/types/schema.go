package types

// FieldSchema describes one field of a record, or one payload field of an
// enum variant.
type FieldSchema struct {
	Name    string
	Type    *Type
	HasDefault bool
}

// RecordSchema is the resolved shape of a `record` declaration.
type RecordSchema struct {
	Name       string
	TypeParams []string
	Fields     []FieldSchema
}

// FieldIndex returns the index of a field by name, or -1.
func (s *RecordSchema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// VariantSchema is one constructor of an `enum` declaration.
type VariantSchema struct {
	Name   string
	Tag    int
	Fields []FieldSchema
}

// EnumSchema is the resolved shape of an `enum` declaration.
type EnumSchema struct {
	Name       string
	TypeParams []string
	Variants   []VariantSchema
}

// VariantByName looks up a variant by name.
func (s *EnumSchema) VariantByName(name string) (*VariantSchema, bool) {
	for i := range s.Variants {
		if s.Variants[i].Name == name {
			return &s.Variants[i], true
		}
	}
	return nil, false
}
