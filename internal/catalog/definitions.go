package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/customdata/internal/metafield"
)

// Validation names understood by reference metafields.
const (
	ValidationMetaobjectDefinitionID  = "metaobject_definition_id"
	ValidationMetaobjectDefinitionIDs = "metaobject_definition_ids"
)

// Validation is one name/value constraint pair of a metafield definition.
type Validation struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MetafieldDefinition describes one custom field attached to a native type or metaobject.
type MetafieldDefinition struct {
	Key         string       `json:"key"`
	Type        string       `json:"type"`
	Description string       `json:"description,omitempty"`
	Validations []Validation `json:"validations,omitempty"`
	// OwnerType is the native typename owning the field. It is empty for
	// fields of a metaobject definition.
	OwnerType string `json:"ownerType,omitempty"`
}

func (d MetafieldDefinition) IsList() bool {
	return metafield.IsList(d.Type)
}

func (d MetafieldDefinition) IsReference() bool {
	return metafield.IsReference(d.Type)
}

// FieldName is the virtual schema field name for the definition.
func (d MetafieldDefinition) FieldName() string {
	return metafield.FieldName(d.Key)
}

// Validation returns the named validation and whether it exists.
func (d MetafieldDefinition) Validation(name string) (Validation, bool) {
	for _, v := range d.Validations {
		if v.Name == name {
			return v, true
		}
	}
	return Validation{}, false
}

// LinkedMetaobjectIDs decodes the metaobject ids declared by a mixed reference.
func (d MetafieldDefinition) LinkedMetaobjectIDs() ([]string, bool, error) {
	v, ok := d.Validation(ValidationMetaobjectDefinitionIDs)
	if !ok {
		return nil, false, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(v.Value), &ids); err != nil {
		return nil, true, fmt.Errorf("metafield %s: invalid %s value: %w", d.Key, ValidationMetaobjectDefinitionIDs, err)
	}
	return ids, true, nil
}

func (d MetafieldDefinition) clone() MetafieldDefinition {
	c := d
	c.Validations = append([]Validation(nil), d.Validations...)
	return c
}

// MetaobjectDefinition describes a custom record type composed of metafields.
type MetaobjectDefinition struct {
	ID          string                `json:"id"`
	Type        string                `json:"type"`
	Description string                `json:"description,omitempty"`
	Fields      []MetafieldDefinition `json:"fields"`
}

// Typename is the virtual schema object name, recipe -> RecipeMetaobject.
func (d *MetaobjectDefinition) Typename() string {
	return metafield.MetaobjectTypename(d.Type)
}

// ConnectionFieldName is the plural camel-case root field listing records of this type.
func (d *MetaobjectDefinition) ConnectionFieldName() string {
	return metafield.Pluralize(metafield.FieldName(d.Typename()))
}

// Field returns the metaobject's field definition by key.
func (d *MetaobjectDefinition) Field(key string) (MetafieldDefinition, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return MetafieldDefinition{}, false
}

func (d MetaobjectDefinition) clone() *MetaobjectDefinition {
	c := d
	c.Fields = make([]MetafieldDefinition, len(d.Fields))
	for i, f := range d.Fields {
		c.Fields[i] = f.clone()
	}
	return &c
}

// MetaobjectSet is the canonical member set of a mixed reference. Members
// are deduplicated and sorted by id, so equal sets always derive the same
// typename regardless of discovery order.
type MetaobjectSet struct {
	definitions []*MetaobjectDefinition
}

// NewMetaobjectSet canonicalizes the given definitions.
func NewMetaobjectSet(defs []*MetaobjectDefinition) *MetaobjectSet {
	seen := make(map[string]struct{}, len(defs))
	members := make([]*MetaobjectDefinition, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		if _, dup := seen[def.ID]; dup {
			continue
		}
		seen[def.ID] = struct{}{}
		members = append(members, def)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return &MetaobjectSet{definitions: members}
}

// Definitions returns the members in canonical order.
func (s *MetaobjectSet) Definitions() []*MetaobjectDefinition {
	return append([]*MetaobjectDefinition(nil), s.definitions...)
}

// Typename is the synthesized union name, e.g. RecipeTacoMixedMetaobject.
func (s *MetaobjectSet) Typename() string {
	var b strings.Builder
	for _, def := range s.definitions {
		b.WriteString(metafield.PascalCase(def.Type))
	}
	b.WriteString(metafield.MixedMetaobjectSuffix)
	return b.String()
}

// IDs returns the member ids in canonical order.
func (s *MetaobjectSet) IDs() []string {
	ids := make([]string, len(s.definitions))
	for i, def := range s.definitions {
		ids[i] = def.ID
	}
	return ids
}
