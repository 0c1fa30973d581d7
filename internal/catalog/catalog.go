package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrDanglingMetaobjectReference is returned when a reference validation names an unknown metaobject.
var ErrDanglingMetaobjectReference = errors.New("dangling metaobject reference")

// DanglingMetaobjectReferenceError names the metafield and the unresolved id.
// ID is empty when the reference field declares no target validation at all.
type DanglingMetaobjectReferenceError struct {
	Key string
	ID  string
}

func (e *DanglingMetaobjectReferenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: metafield `%s` declares no metaobject definition", ErrDanglingMetaobjectReference, e.Key)
	}
	return fmt.Sprintf("%s: metafield `%s` links unknown metaobject definition `%s`", ErrDanglingMetaobjectReference, e.Key, e.ID)
}

func (e *DanglingMetaobjectReferenceError) Unwrap() error {
	return ErrDanglingMetaobjectReference
}

// Catalog indexes every metafield and metaobject definition of one store.
// It is read-only once built and safe for concurrent use.
type Catalog struct {
	metaobjects []*MetaobjectDefinition
	byID        map[string]*MetaobjectDefinition
	metafields  map[string][]MetafieldDefinition
}

// Snapshot is the serialized form of a catalog.
type Snapshot struct {
	Metaobjects []MetaobjectDefinition `json:"metaobjects"`
	Metafields  []MetafieldDefinition  `json:"metafields"`
}

// New builds a catalog from definitions. Inputs are copied.
func New(metaobjects []MetaobjectDefinition, metafields []MetafieldDefinition) *Catalog {
	c := &Catalog{
		byID:       make(map[string]*MetaobjectDefinition, len(metaobjects)),
		metafields: make(map[string][]MetafieldDefinition),
	}
	for _, mo := range metaobjects {
		if _, dup := c.byID[mo.ID]; dup {
			continue
		}
		def := mo.clone()
		c.metaobjects = append(c.metaobjects, def)
		c.byID[def.ID] = def
	}
	for _, mf := range metafields {
		c.metafields[mf.OwnerType] = append(c.metafields[mf.OwnerType], mf.clone())
	}
	return c
}

// MetafieldsForType returns the metafields owned by a native type, in catalog order.
func (c *Catalog) MetafieldsForType(typename string) []MetafieldDefinition {
	defs := c.metafields[typename]
	if len(defs) == 0 {
		return nil
	}
	return append([]MetafieldDefinition(nil), defs...)
}

// OwnerTypes lists native typenames that own at least one metafield, sorted.
func (c *Catalog) OwnerTypes() []string {
	names := make([]string, 0, len(c.metafields))
	for name, defs := range c.metafields {
		if len(defs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// MetaobjectByID looks up a metaobject definition.
func (c *Catalog) MetaobjectByID(id string) (*MetaobjectDefinition, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// Metaobjects returns every metaobject definition in catalog order.
func (c *Catalog) Metaobjects() []*MetaobjectDefinition {
	return append([]*MetaobjectDefinition(nil), c.metaobjects...)
}

// LinkedMetaobject resolves the single metaobject definition a metaobject_reference points at.
func (c *Catalog) LinkedMetaobject(field MetafieldDefinition) (*MetaobjectDefinition, error) {
	v, ok := field.Validation(ValidationMetaobjectDefinitionID)
	if !ok {
		return nil, &DanglingMetaobjectReferenceError{Key: field.Key}
	}
	def, ok := c.byID[v.Value]
	if !ok {
		return nil, &DanglingMetaobjectReferenceError{Key: field.Key, ID: v.Value}
	}
	return def, nil
}

// LinkedMetaobjectSet resolves the member set a mixed_reference may point at.
func (c *Catalog) LinkedMetaobjectSet(field MetafieldDefinition) (*MetaobjectSet, error) {
	ids, ok, err := field.LinkedMetaobjectIDs()
	if err != nil {
		return nil, err
	}
	if !ok || len(ids) == 0 {
		return nil, &DanglingMetaobjectReferenceError{Key: field.Key}
	}
	defs := make([]*MetaobjectDefinition, 0, len(ids))
	for _, id := range ids {
		def, found := c.byID[id]
		if !found {
			return nil, &DanglingMetaobjectReferenceError{Key: field.Key, ID: id}
		}
		defs = append(defs, def)
	}
	return NewMetaobjectSet(defs), nil
}

// Snapshot copies the catalog into its serializable form.
func (c *Catalog) Snapshot() Snapshot {
	snap := Snapshot{
		Metaobjects: make([]MetaobjectDefinition, 0, len(c.metaobjects)),
	}
	for _, def := range c.metaobjects {
		snap.Metaobjects = append(snap.Metaobjects, *def.clone())
	}
	for _, owner := range c.OwnerTypes() {
		for _, mf := range c.metafields[owner] {
			snap.Metafields = append(snap.Metafields, mf.clone())
		}
	}
	return snap
}

// Encode serializes the catalog to JSON.
func Encode(c *Catalog) ([]byte, error) {
	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	return data, nil
}

// Decode restores a catalog serialized by Encode.
func Decode(data []byte) (*Catalog, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return New(snap.Metaobjects, snap.Metafields), nil
}

// Digest is a stable content hash of the catalog, used to key composed
// schema generations.
func Digest(c *Catalog) (string, error) {
	data, err := Encode(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
