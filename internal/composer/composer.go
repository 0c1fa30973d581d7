package composer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/rpattn/customdata/internal/catalog"
	"github.com/rpattn/customdata/internal/metafield"
)

const (
	// DefaultOwnerInterface is the native interface implemented by every metafield owner.
	DefaultOwnerInterface = "HasMetafields"

	// MetafieldDirective marks synthesized fields with their metafield key and type tag.
	MetafieldDirective = "metafield"
	// MetaobjectsDirective marks root listing fields with the metaobject type tag they page over.
	MetaobjectsDirective = "metaobjects"

	// ExtensionsField is the field added to every metafield owner.
	ExtensionsField = "extensions"

	metaobjectIDField = "id"
)

var (
	// ErrMissingNativeType is returned when the virtual schema needs a type the native schema lacks.
	ErrMissingNativeType = errors.New("missing native type")
	// ErrFieldNameCollision is returned when two metafield keys map to one field name.
	ErrFieldNameCollision = errors.New("field name collision")
)

// MissingNativeTypeError names the absent type and what required it.
type MissingNativeTypeError struct {
	Name     string
	Referrer string
}

func (e *MissingNativeTypeError) Error() string {
	return fmt.Sprintf("%s `%s` required by %s", ErrMissingNativeType, e.Name, e.Referrer)
}

func (e *MissingNativeTypeError) Unwrap() error {
	return ErrMissingNativeType
}

// FieldNameCollisionError names the field and the two keys claiming it.
// Existing is the synthesized field name when the key clashes with one.
type FieldNameCollisionError struct {
	Owner    string
	Field    string
	Existing string
	Key      string
}

func (e *FieldNameCollisionError) Error() string {
	return fmt.Sprintf("%s: `%s.%s` is claimed by keys `%s` and `%s`", ErrFieldNameCollision, e.Owner, e.Field, e.Existing, e.Key)
}

func (e *FieldNameCollisionError) Unwrap() error {
	return ErrFieldNameCollision
}

var source = &ast.Source{Name: "customdata"}

func pos() *ast.Position {
	return &ast.Position{Src: source}
}

// Option configures composition.
type Option func(*composer)

// WithOwnerInterface overrides the interface whose implementors receive extensions.
func WithOwnerInterface(name string) Option {
	return func(c *composer) { c.ownerInterface = name }
}

// WithoutRootListing skips the per-metaobject root connection fields.
func WithoutRootListing() Option {
	return func(c *composer) { c.rootListing = false }
}

// job is one worklist entry. Exactly one of object or set is set for
// metaobject types; neither is set for a native type that only needs a
// connection wrapper.
type job struct {
	typename   string
	object     *catalog.MetaobjectDefinition
	set        *catalog.MetaobjectSet
	connection bool
}

type composer struct {
	base           *ast.Schema
	cat            *catalog.Catalog
	ownerInterface string
	rootListing    bool

	types   map[string]*ast.Definition
	touched map[string]bool
	pending map[string]*job
}

// Compose builds the virtual schema for a catalog on top of the native
// schema. The base schema is left untouched; on error no schema is returned.
func Compose(base *ast.Schema, cat *catalog.Catalog, opts ...Option) (*ast.Schema, error) {
	c := &composer{
		base:           base,
		cat:            cat,
		ownerInterface: DefaultOwnerInterface,
		rootListing:    true,
		types:          make(map[string]*ast.Definition, len(base.Types)),
		touched:        make(map[string]bool),
		pending:        make(map[string]*job),
	}
	for _, opt := range opts {
		opt(c)
	}
	for name, def := range base.Types {
		c.types[name] = def
	}

	if err := c.compose(); err != nil {
		return nil, err
	}
	return c.schema(), nil
}

func (c *composer) compose() error {
	owners, err := c.ownerTypes()
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if err := c.buildExtensions(owner); err != nil {
			return err
		}
	}

	if c.rootListing {
		for _, def := range c.cat.Metaobjects() {
			c.enqueue(&job{typename: def.Typename(), object: def, connection: true})
		}
	}

	if err := c.drain(); err != nil {
		return err
	}

	if c.rootListing {
		if err := c.buildRootListing(); err != nil {
			return err
		}
	}

	return c.resolvePlaceholders()
}

func (c *composer) ownerTypes() ([]*ast.Definition, error) {
	iface, ok := c.base.Types[c.ownerInterface]
	if !ok {
		if len(c.cat.OwnerTypes()) > 0 {
			return nil, &MissingNativeTypeError{Name: c.ownerInterface, Referrer: "metafield owners"}
		}
		return nil, nil
	}

	var owners []*ast.Definition
	for _, def := range c.base.GetPossibleTypes(iface) {
		if def.Kind == ast.Object {
			owners = append(owners, def)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Name < owners[j].Name })
	return owners, nil
}

func (c *composer) buildExtensions(native *ast.Definition) error {
	defs := c.cat.MetafieldsForType(native.Name)
	if len(defs) == 0 {
		return nil
	}

	name := metafield.ExtensionsTypename(native.Name)
	if _, exists := c.types[name]; exists {
		return nil
	}

	ext := c.define(&ast.Definition{
		Kind:        ast.Object,
		Name:        name,
		Description: fmt.Sprintf("Projected metafield extensions for the %s type.", native.Name),
		Position:    pos(),
	})
	fields, err := c.buildFields(name, defs)
	if err != nil {
		return err
	}
	ext.Fields = fields

	owner := c.mutable(native.Name)
	if owner.Fields.ForName(ExtensionsField) == nil {
		owner.Fields = append(owner.Fields, &ast.FieldDefinition{
			Name:        ExtensionsField,
			Description: "Projected metafield extensions.",
			Type:        ast.NonNullNamedType(name, pos()),
			Position:    pos(),
		})
	}
	return nil
}

// buildFields synthesizes one field per definition. Keys that camel-case to
// the same name, or to one of the reserved names, fail composition.
func (c *composer) buildFields(owner string, defs []catalog.MetafieldDefinition, reserved ...string) (ast.FieldList, error) {
	claimed := make(map[string]string, len(defs)+len(reserved))
	for _, name := range reserved {
		claimed[name] = name
	}
	fields := make(ast.FieldList, 0, len(defs))
	for _, def := range defs {
		name := def.FieldName()
		if existing, ok := claimed[name]; ok {
			return nil, &FieldNameCollisionError{Owner: owner, Field: name, Existing: existing, Key: def.Key}
		}
		claimed[name] = def.Key

		field, err := c.buildField(owner, def)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func (c *composer) buildField(owner string, def catalog.MetafieldDefinition) (*ast.FieldDefinition, error) {
	res, err := metafield.Resolve(def.Type, def.Key)
	if err != nil {
		return nil, err
	}

	typ, err := c.fieldType(owner, def, res)
	if err != nil {
		return nil, err
	}

	field := &ast.FieldDefinition{
		Name:        def.FieldName(),
		Description: def.Description,
		Type:        typ,
		Directives:  ast.DirectiveList{metafieldDirective(def)},
		Position:    pos(),
	}
	if metafield.IsConnectionType(typ.Name()) {
		field.Arguments = paginationArguments()
	}
	return field, nil
}

// fieldType maps a metafield onto its virtual schema type through the
// resolution table. Metaobject types are referenced by name only and checked
// once the worklist drains.
func (c *composer) fieldType(owner string, def catalog.MetafieldDefinition, res metafield.Resolution) (*ast.Type, error) {
	referrer := owner + "." + def.FieldName()

	switch {
	case metafield.IsMetaobjectReference(res.Tag):
		target, err := c.cat.LinkedMetaobject(def)
		if err != nil {
			return nil, err
		}
		c.enqueue(&job{typename: target.Typename(), object: target, connection: res.List})
		return c.referenceType(target.Typename(), res.List), nil

	case metafield.IsMixedReference(res.Tag):
		set, err := c.cat.LinkedMetaobjectSet(def)
		if err != nil {
			return nil, err
		}
		c.enqueue(&job{typename: set.Typename(), set: set, connection: res.List})
		return c.referenceType(set.Typename(), res.List), nil

	case res.Category == metafield.CategoryReference:
		if err := c.requireNative(res.Typename, referrer); err != nil {
			return nil, err
		}
		if res.List {
			if _, ok := c.types[metafield.ConnectionTypename(res.Typename)]; !ok {
				c.enqueue(&job{typename: res.Typename, connection: true})
			}
		}
		return c.referenceType(res.Typename, res.List), nil

	case res.Synthesized:
		c.buildMetatype(res.Typename)

	default:
		if err := c.requireNative(res.Typename, referrer); err != nil {
			return nil, err
		}
	}

	if res.List {
		return ast.ListType(ast.NamedType(res.Typename, pos()), pos()), nil
	}
	return ast.NamedType(res.Typename, pos()), nil
}

func (c *composer) referenceType(typename string, list bool) *ast.Type {
	if list {
		return ast.NamedType(metafield.ConnectionTypename(typename), pos())
	}
	return ast.NamedType(typename, pos())
}

func (c *composer) enqueue(j *job) {
	if existing, ok := c.pending[j.typename]; ok {
		existing.connection = existing.connection || j.connection
		return
	}
	c.pending[j.typename] = j
}

// drain processes the worklist round by round until no new entries appear.
// Every step is keyed by typename and skipped when the type exists.
func (c *composer) drain() error {
	for len(c.pending) > 0 {
		round := c.pending
		c.pending = make(map[string]*job)

		names := make([]string, 0, len(round))
		for name := range round {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			j := round[name]
			if _, exists := c.types[name]; !exists {
				var err error
				switch {
				case j.object != nil:
					err = c.buildMetaobject(j.object)
				case j.set != nil:
					err = c.buildMixedMetaobject(j.set)
				}
				if err != nil {
					return err
				}
			}
			if j.connection {
				if err := c.buildConnection(name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *composer) buildMetaobject(def *catalog.MetaobjectDefinition) error {
	name := def.Typename()
	if _, exists := c.types[name]; exists {
		return nil
	}

	obj := c.define(&ast.Definition{
		Kind:        ast.Object,
		Name:        name,
		Description: def.Description,
		Position:    pos(),
	})
	fields, err := c.buildFields(name, def.Fields, metaobjectIDField)
	if err != nil {
		return err
	}
	obj.Fields = append(ast.FieldList{{
		Name:     metaobjectIDField,
		Type:     ast.NonNullNamedType("ID", pos()),
		Position: pos(),
	}}, fields...)
	return nil
}

func (c *composer) buildMixedMetaobject(set *catalog.MetaobjectSet) error {
	name := set.Typename()
	if _, exists := c.types[name]; exists {
		return nil
	}

	union := c.define(&ast.Definition{
		Kind:        ast.Union,
		Name:        name,
		Description: "A mixed metaobject reference.",
		Position:    pos(),
	})
	for _, member := range set.Definitions() {
		if err := c.buildMetaobject(member); err != nil {
			return err
		}
		union.Types = append(union.Types, member.Typename())
	}
	return nil
}

func (c *composer) buildConnection(base string) error {
	name := metafield.ConnectionTypename(base)
	if _, exists := c.types[name]; exists {
		return nil
	}
	if err := c.requireNative("PageInfo", name); err != nil {
		return err
	}

	edge := metafield.EdgeTypename(base)
	if _, exists := c.types[edge]; !exists {
		c.define(&ast.Definition{
			Kind:        ast.Object,
			Name:        edge,
			Description: fmt.Sprintf("An auto-generated type which holds one %s and a cursor during pagination.", base),
			Fields: ast.FieldList{
				{Name: "cursor", Type: ast.NonNullNamedType("String", pos()), Position: pos()},
				{Name: "node", Type: ast.NonNullNamedType(base, pos()), Position: pos()},
			},
			Position: pos(),
		})
	}

	c.define(&ast.Definition{
		Kind:        ast.Object,
		Name:        name,
		Description: fmt.Sprintf("An auto-generated type for paginating through multiple %s.", base),
		Fields: ast.FieldList{
			{Name: "edges", Type: ast.NonNullListType(ast.NonNullNamedType(edge, pos()), pos()), Position: pos()},
			{Name: "nodes", Type: ast.NonNullListType(ast.NonNullNamedType(base, pos()), pos()), Position: pos()},
			{Name: "pageInfo", Type: ast.NonNullNamedType("PageInfo", pos()), Position: pos()},
		},
		Position: pos(),
	})
	return nil
}

func (c *composer) buildMetatype(name string) {
	if _, exists := c.types[name]; exists {
		return
	}

	float := func(field string) *ast.FieldDefinition {
		return &ast.FieldDefinition{Name: field, Type: ast.NamedType("Float", pos()), Position: pos()}
	}
	unit := &ast.FieldDefinition{Name: "unit", Type: ast.NamedType("String", pos()), Position: pos()}

	def := &ast.Definition{Name: name, Position: pos()}
	switch name {
	case metafield.ColorTypename:
		def.Kind = ast.Scalar
		def.Description = "A hexadecimal color code."
	case metafield.RichTextTypename:
		def.Kind = ast.Scalar
		def.Description = "A parsed rich text data structure in JSON format."
	case metafield.DimensionTypename:
		def.Kind = ast.Object
		def.Description = "A dimensional measurement."
		def.Fields = ast.FieldList{unit, float("value")}
	case metafield.VolumeTypename:
		def.Kind = ast.Object
		def.Description = "A volumetric measurement."
		def.Fields = ast.FieldList{unit, float("value")}
	case metafield.RatingTypename:
		def.Kind = ast.Object
		def.Description = "A rating value."
		def.Fields = ast.FieldList{float("max"), float("min"), float("value")}
	default:
		return
	}
	c.define(def)
}

// buildRootListing adds one paginated root field per metaobject definition.
func (c *composer) buildRootListing() error {
	defs := c.cat.Metaobjects()
	if len(defs) == 0 {
		return nil
	}
	if c.base.Query == nil {
		return &MissingNativeTypeError{Name: "query root", Referrer: "metaobject listing fields"}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ConnectionFieldName() < defs[j].ConnectionFieldName() })

	root := c.mutable(c.base.Query.Name)
	for _, def := range defs {
		name := def.ConnectionFieldName()
		if root.Fields.ForName(name) != nil {
			continue
		}
		root.Fields = append(root.Fields, &ast.FieldDefinition{
			Name:        name,
			Description: fmt.Sprintf("Returns a paginated list of `%s` metaobjects.", def.Type),
			Arguments: append(paginationArguments(),
				&ast.ArgumentDefinition{Name: "reverse", Type: ast.NamedType("Boolean", pos()), Position: pos()},
				&ast.ArgumentDefinition{Name: "query", Type: ast.NamedType("String", pos()), Position: pos()},
			),
			Type: ast.NonNullNamedType(metafield.ConnectionTypename(def.Typename()), pos()),
			Directives: ast.DirectiveList{{
				Name: MetaobjectsDirective,
				Arguments: ast.ArgumentList{
					stringArgument("type", def.Type),
				},
				Location: ast.LocationFieldDefinition,
				Position: pos(),
			}},
			Position: pos(),
		})
	}
	return nil
}

// resolvePlaceholders verifies every named type referenced from a
// synthesized or extended definition exists in the composed type map.
func (c *composer) resolvePlaceholders() error {
	names := make([]string, 0, len(c.touched))
	for name := range c.touched {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := c.types[name]
		for _, member := range def.Types {
			if _, ok := c.types[member]; !ok {
				return &MissingNativeTypeError{Name: member, Referrer: name}
			}
		}
		for _, field := range def.Fields {
			if _, ok := c.types[field.Type.Name()]; !ok {
				return &MissingNativeTypeError{Name: field.Type.Name(), Referrer: name + "." + field.Name}
			}
			for _, arg := range field.Arguments {
				if _, ok := c.types[arg.Type.Name()]; !ok {
					return &MissingNativeTypeError{Name: arg.Type.Name(), Referrer: name + "." + field.Name}
				}
			}
		}
	}
	return nil
}

func (c *composer) requireNative(name, referrer string) error {
	if _, ok := c.types[name]; !ok {
		return &MissingNativeTypeError{Name: name, Referrer: referrer}
	}
	return nil
}

func (c *composer) define(def *ast.Definition) *ast.Definition {
	c.types[def.Name] = def
	c.touched[def.Name] = true
	return def
}

// mutable swaps a native definition for a private copy on first write.
func (c *composer) mutable(name string) *ast.Definition {
	if c.touched[name] {
		return c.types[name]
	}
	clone := *c.types[name]
	clone.Fields = append(ast.FieldList(nil), clone.Fields...)
	return c.define(&clone)
}

func (c *composer) schema() *ast.Schema {
	s := *c.base
	s.Types = c.types

	s.Directives = make(map[string]*ast.DirectiveDefinition, len(c.base.Directives)+2)
	for name, def := range c.base.Directives {
		s.Directives[name] = def
	}
	s.Directives[MetafieldDirective] = &ast.DirectiveDefinition{
		Name:        MetafieldDirective,
		Description: "The metafield a synthesized field projects.",
		Arguments: ast.ArgumentDefinitionList{
			{Name: "key", Type: ast.NonNullNamedType("String", pos()), Position: pos()},
			{Name: "type", Type: ast.NonNullNamedType("String", pos()), Position: pos()},
		},
		Locations: []ast.DirectiveLocation{ast.LocationFieldDefinition},
		Position:  pos(),
	}
	s.Directives[MetaobjectsDirective] = &ast.DirectiveDefinition{
		Name:        MetaobjectsDirective,
		Description: "The metaobject type a root listing field pages over.",
		Arguments: ast.ArgumentDefinitionList{
			{Name: "type", Type: ast.NonNullNamedType("String", pos()), Position: pos()},
		},
		Locations: []ast.DirectiveLocation{ast.LocationFieldDefinition},
		Position:  pos(),
	}

	if s.Query != nil {
		s.Query = c.types[s.Query.Name]
	}
	if s.Mutation != nil {
		s.Mutation = c.types[s.Mutation.Name]
	}
	if s.Subscription != nil {
		s.Subscription = c.types[s.Subscription.Name]
	}

	rebuildIndexes(&s)
	return &s
}

// rebuildIndexes recomputes possible types and implementations the same way
// the schema loader derives them, against the composed definitions.
func rebuildIndexes(s *ast.Schema) {
	s.PossibleTypes = make(map[string][]*ast.Definition)
	s.Implements = make(map[string][]*ast.Definition)

	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := s.Types[name]
		switch def.Kind {
		case ast.Union:
			for _, member := range def.Types {
				s.AddPossibleType(def.Name, s.Types[member])
				s.AddImplements(member, def)
			}
		case ast.InputObject, ast.Object:
			for _, iface := range def.Interfaces {
				s.AddPossibleType(iface, def)
				s.AddImplements(def.Name, s.Types[iface])
			}
			s.AddPossibleType(def.Name, def)
		case ast.Interface:
			for _, iface := range def.Interfaces {
				s.AddPossibleType(iface, def)
				s.AddImplements(def.Name, s.Types[iface])
			}
		}
	}
}

func metafieldDirective(def catalog.MetafieldDefinition) *ast.Directive {
	return &ast.Directive{
		Name: MetafieldDirective,
		Arguments: ast.ArgumentList{
			stringArgument("key", def.Key),
			stringArgument("type", def.Type),
		},
		Location: ast.LocationFieldDefinition,
		Position: pos(),
	}
}

func stringArgument(name, value string) *ast.Argument {
	return &ast.Argument{
		Name:     name,
		Value:    &ast.Value{Kind: ast.StringValue, Raw: value, Position: pos()},
		Position: pos(),
	}
}

func paginationArguments() ast.ArgumentDefinitionList {
	return ast.ArgumentDefinitionList{
		{Name: "first", Type: ast.NamedType("Int", pos()), Position: pos()},
		{Name: "last", Type: ast.NamedType("Int", pos()), Position: pos()},
		{Name: "before", Type: ast.NamedType("String", pos()), Position: pos()},
		{Name: "after", Type: ast.NamedType("String", pos()), Position: pos()},
	}
}

// DirectiveArgument reads a string argument of a directive on a field definition.
func DirectiveArgument(field *ast.FieldDefinition, directive, argument string) (string, bool) {
	if field == nil {
		return "", false
	}
	d := field.Directives.ForName(directive)
	if d == nil {
		return "", false
	}
	arg := d.Arguments.ForName(argument)
	if arg == nil || arg.Value == nil {
		return "", false
	}
	return arg.Value.Raw, true
}
