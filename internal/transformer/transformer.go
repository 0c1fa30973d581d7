package transformer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/rpattn/customdata/internal/composer"
	"github.com/rpattn/customdata/internal/metafield"
)

const (
	// TypenameHint is the alias of the hidden typename field added at
	// abstract fragment boundaries.
	TypenameHint = "__typehint"
	// ExtensionsPrefix prefixes every alias emitted for an extensions field.
	ExtensionsPrefix = "__ex_"
	// DefaultNamespace is the metafield namespace extensions are read from.
	DefaultNamespace = "custom"
)

var (
	// ErrReservedAlias is returned when a client alias collides with an internal alias.
	ErrReservedAlias = errors.New("reserved alias")
	// ErrMalformedSelection is returned for selections that cannot be rewritten.
	ErrMalformedSelection = errors.New("malformed selection")
)

type scope int

const (
	scopeNative scope = iota
	scopeExtensions
	scopeMetaobject
)

// walk is the traversal context of one selection set. In extensions scope,
// extensions is the response key of the dissolved `extensions` field.
type walk struct {
	parent     *ast.Definition
	scope      scope
	path       ast.Path
	extensions string
}

func (w walk) child(key string) ast.Path {
	path := make(ast.Path, 0, len(w.path)+1)
	path = append(path, w.path...)
	return append(path, ast.PathName(key))
}

func (w walk) into(parent *ast.Definition, s scope, path ast.Path) walk {
	next := walk{parent: parent, scope: s, path: path}
	if s == scopeExtensions {
		next.extensions = w.extensions
	}
	return next
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithNamespace sets the metafield namespace used in extensions scope.
func WithNamespace(namespace string) Option {
	return func(t *Transformer) {
		if namespace != "" {
			t.namespace = namespace
		}
	}
}

// WithOwnerInterface overrides the interface whose implementors expose `extensions`.
func WithOwnerInterface(name string) Option {
	return func(t *Transformer) { t.ownerInterface = name }
}

// Transformer rewrites client queries written against a virtual schema into
// backend queries. It is immutable and safe for concurrent use.
type Transformer struct {
	schema         *ast.Schema
	namespace      string
	ownerInterface string
	owners         map[string]bool
}

// New creates a transformer for a composed virtual schema.
func New(schema *ast.Schema, opts ...Option) *Transformer {
	t := &Transformer{
		schema:         schema,
		namespace:      DefaultNamespace,
		ownerInterface: composer.DefaultOwnerInterface,
		owners:         make(map[string]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	if iface := schema.Types[t.ownerInterface]; iface != nil {
		for _, def := range schema.GetPossibleTypes(iface) {
			t.owners[def.Name] = true
		}
	}
	return t
}

// Schema returns the virtual schema the transformer was built for.
func (t *Transformer) Schema() *ast.Schema {
	return t.schema
}

// Transform rewrites the selected operation of a validated client document.
// Nothing is returned unless the whole operation rewrites cleanly.
func (t *Transformer) Transform(doc *ast.QueryDocument, operationName string, variables map[string]any) (*Result, error) {
	op, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}
	if err := checkAliases(doc); err != nil {
		return nil, err
	}

	root := rootType(t.schema, op)
	if root == nil {
		return nil, gqlerror.Errorf("schema does not support %s operations", op.Operation)
	}

	req := &request{
		Transformer: t,
		doc:         doc,
		fragments:   make(map[string]*rewrittenFragment),
		aliases:     make(map[string]string),
	}
	sels, node, err := req.selectionSet(walk{parent: root, scope: scopeNative}, op.SelectionSet)
	if err != nil {
		return nil, err
	}

	backend := &ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:           op.Operation,
			Name:                op.Name,
			VariableDefinitions: op.VariableDefinitions,
			Directives:          op.Directives,
			SelectionSet:        sels,
			Position:            op.Position,
		}},
	}
	for _, def := range doc.Fragments {
		if frag, ok := req.fragments[def.Name]; ok {
			backend.Fragments = append(backend.Fragments, frag.def)
		}
	}

	return &Result{
		Document:  backend,
		Map:       &TransformationMap{Root: node},
		schema:    t.schema,
		operation: op,
		fragments: doc.Fragments,
		variables: variables,
	}, nil
}

type rewrittenFragment struct {
	def  *ast.FragmentDefinition
	node *Node
}

// request holds the per-document rewrite state.
type request struct {
	*Transformer
	doc       *ast.QueryDocument
	fragments map[string]*rewrittenFragment
	// aliases maps emitted extensions aliases to the selection they stand for.
	aliases map[string]string
}

func (r *request) selectionSet(w walk, set ast.SelectionSet) (ast.SelectionSet, *Node, error) {
	node := newNode()
	var out ast.SelectionSet

	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			key := responseKey(sel)
			sels, child, err := r.field(w, sel)
			if err != nil {
				return nil, nil, err
			}
			if r.dissolves(w, sel) {
				node.markExtensions(key)
			}
			node.setField(key, child)
			out = append(out, sels...)

		case *ast.InlineFragment:
			fragType := w.parent
			if sel.TypeCondition != "" {
				fragType = r.schema.Types[sel.TypeCondition]
				if fragType == nil {
					return nil, nil, malformed(w.path, "unknown type condition `%s`", sel.TypeCondition)
				}
			}
			sels, err := r.typedScope(w, fragType, node, func(target *Node) (ast.SelectionSet, error) {
				return r.inlineFragment(w, fragType, sel, target)
			})
			if err != nil {
				return nil, nil, err
			}
			out = append(out, sels...)

		case *ast.FragmentSpread:
			def := r.doc.Fragments.ForName(sel.Name)
			if def == nil {
				return nil, nil, malformed(w.path, "unknown fragment `%s`", sel.Name)
			}
			fragType := r.schema.Types[def.TypeCondition]
			if fragType == nil {
				return nil, nil, malformed(w.path, "unknown type condition `%s`", def.TypeCondition)
			}
			if metafield.IsExtensionsType(fragType.Name) {
				// Extensions aliases depend on the enclosing `extensions` key,
				// so these fragments are rewritten at every spread site.
				sels, err := r.inlineFragment(w, fragType, &ast.InlineFragment{
					TypeCondition: def.TypeCondition,
					Directives:    sel.Directives,
					SelectionSet:  def.SelectionSet,
					Position:      sel.Position,
				}, node)
				if err != nil {
					return nil, nil, err
				}
				out = append(out, sels...)
				continue
			}
			sels, err := r.typedScope(w, fragType, node, func(target *Node) (ast.SelectionSet, error) {
				frag, err := r.fragment(def, fragType)
				if err != nil {
					return nil, err
				}
				target.merge(frag.node)
				return ast.SelectionSet{&ast.FragmentSpread{
					Name:       sel.Name,
					Directives: sel.Directives,
					Position:   sel.Position,
				}}, nil
			})
			if err != nil {
				return nil, nil, err
			}
			out = append(out, sels...)
		}
	}

	return dedupeHints(out), node, nil
}

// dissolves reports whether a native `extensions` field is folded into its parent.
func (r *request) dissolves(w walk, f *ast.Field) bool {
	return w.scope == scopeNative && f.Name == composer.ExtensionsField && r.owners[w.parent.Name]
}

func (r *request) field(w walk, f *ast.Field) (ast.SelectionSet, *Node, error) {
	key := responseKey(f)
	path := w.child(key)

	if w.scope != scopeNative {
		return r.metafield(w, f, path)
	}
	if f.Name == "__typename" {
		return ast.SelectionSet{copyField(f, nil)}, newNode(), nil
	}

	def := w.parent.Fields.ForName(f.Name)
	if def == nil {
		return nil, nil, malformed(path, "unknown field `%s` on `%s`", f.Name, w.parent.Name)
	}
	next := r.schema.Types[def.Type.Name()]

	switch {
	case r.dissolves(w, f):
		inner := w.into(next, scopeExtensions, path)
		inner.extensions = key
		sels, child, err := r.selectionSet(inner, f.SelectionSet)
		if err != nil {
			return nil, nil, err
		}
		if len(f.Directives) > 0 {
			return ast.SelectionSet{&ast.InlineFragment{
				Directives:   f.Directives,
				SelectionSet: sels,
				Position:     f.Position,
			}}, child, nil
		}
		return sels, child, nil

	case isListingField(def):
		return r.listing(f, def, next, path)

	case len(f.SelectionSet) > 0:
		if next == nil {
			return nil, nil, malformed(path, "unknown type `%s`", def.Type.Name())
		}
		sels, child, err := r.selectionSet(w.into(next, scopeNative, path), f.SelectionSet)
		if err != nil {
			return nil, nil, err
		}
		return ast.SelectionSet{copyField(f, sels)}, child, nil

	default:
		return ast.SelectionSet{copyField(f, nil)}, newNode(), nil
	}
}

// typedScope wraps a fragment rewrite. At abstract boundaries the fragment's
// breadcrumbs go under a dispatch key and a typename hint is requested.
func (r *request) typedScope(w walk, fragType *ast.Definition, node *Node, fn func(target *Node) (ast.SelectionSet, error)) (ast.SelectionSet, error) {
	hint := r.hintFor(w)
	if hint == HintNone {
		return fn(node)
	}

	branch := newNode()
	sels, err := fn(branch)
	if err != nil {
		return nil, err
	}
	node.setDispatch(dispatchKey(r.schema, fragType), hint, branch)
	return append(sels, hintField(hint)), nil
}

func (r *request) hintFor(w walk) HintKind {
	switch {
	case w.scope == scopeNative && w.parent.IsAbstractType():
		return HintTypename
	case w.scope == scopeMetaobject && w.parent.Kind == ast.Union && metafield.IsMetaobjectType(w.parent.Name):
		return HintMetaobjectType
	default:
		return HintNone
	}
}

func (r *request) inlineFragment(w walk, fragType *ast.Definition, frag *ast.InlineFragment, target *Node) (ast.SelectionSet, error) {
	switch {
	case metafield.IsExtensionsType(fragType.Name):
		sels, child, err := r.selectionSet(w.into(fragType, scopeExtensions, w.path), frag.SelectionSet)
		if err != nil {
			return nil, err
		}
		target.merge(child)
		if len(frag.Directives) > 0 {
			return ast.SelectionSet{&ast.InlineFragment{Directives: frag.Directives, SelectionSet: sels, Position: frag.Position}}, nil
		}
		return sels, nil

	case metafield.IsMetaobjectType(fragType.Name):
		sels, child, err := r.selectionSet(w.into(fragType, scopeMetaobject, w.path), frag.SelectionSet)
		if err != nil {
			return nil, err
		}
		target.merge(child)
		return ast.SelectionSet{&ast.InlineFragment{
			TypeCondition: metafield.NativeMetaobjectTypename,
			Directives:    frag.Directives,
			SelectionSet:  sels,
			Position:      frag.Position,
		}}, nil

	default:
		sels, child, err := r.selectionSet(w.into(fragType, scopeNative, w.path), frag.SelectionSet)
		if err != nil {
			return nil, err
		}
		target.merge(child)
		return ast.SelectionSet{&ast.InlineFragment{
			TypeCondition: fragType.Name,
			Directives:    frag.Directives,
			SelectionSet:  sels,
			Position:      frag.Position,
		}}, nil
	}
}

// fragment rewrites a named fragment once. Its breadcrumbs are kept relative
// to the fragment and grafted at every spread site.
func (r *request) fragment(def *ast.FragmentDefinition, fragType *ast.Definition) (*rewrittenFragment, error) {
	if frag, ok := r.fragments[def.Name]; ok {
		return frag, nil
	}

	s := scopeNative
	condition := fragType.Name
	if metafield.IsMetaobjectType(fragType.Name) {
		s = scopeMetaobject
		condition = metafield.NativeMetaobjectTypename
	}

	w := walk{parent: fragType, scope: s, path: ast.Path{ast.PathName(def.Name)}}
	sels, node, err := r.selectionSet(w, def.SelectionSet)
	if err != nil {
		return nil, err
	}

	frag := &rewrittenFragment{
		def: &ast.FragmentDefinition{
			Name:               def.Name,
			VariableDefinition: def.VariableDefinition,
			TypeCondition:      condition,
			Directives:         def.Directives,
			SelectionSet:       sels,
			Position:           def.Position,
		},
		node: node,
	}
	r.fragments[def.Name] = frag
	return frag, nil
}

// metafield intercepts one field in extensions or metaobject scope.
func (r *request) metafield(w walk, f *ast.Field, path ast.Path) (ast.SelectionSet, *Node, error) {
	if f.Name == "__typename" {
		return r.typename(w, f)
	}

	def := w.parent.Fields.ForName(f.Name)
	if def == nil {
		return nil, nil, malformed(path, "unknown field `%s` on `%s`", f.Name, w.parent.Name)
	}
	key, ok := composer.DirectiveArgument(def, composer.MetafieldDirective, "key")
	if !ok {
		return ast.SelectionSet{copyField(f, r.passthrough(f.SelectionSet))}, newNode(), nil
	}
	tag, _ := composer.DirectiveArgument(def, composer.MetafieldDirective, "type")
	next := r.schema.Types[def.Type.Name()]

	alias := responseKey(f)
	if w.scope == scopeExtensions {
		var err error
		if alias, err = r.extensionsAlias(w, alias, path); err != nil {
			return nil, nil, err
		}
	}

	var (
		node  *Node
		inner *ast.Field
	)
	switch {
	case metafield.IsReference(tag) && metafield.IsList(tag):
		if len(f.SelectionSet) == 0 {
			return nil, nil, malformed(path, "field `%s` of type `%s` must have a selection of subfields", f.Name, def.Type.String())
		}
		node = newNode()
		sels, err := r.connection(next, f.SelectionSet, node, path)
		if err != nil {
			return nil, nil, err
		}
		node.Transform = &FieldTransform{Kind: TransformReferences, Alias: alias, MetafieldType: tag}
		inner = &ast.Field{Name: "references", Arguments: f.Arguments, SelectionSet: sels, Position: f.Position}

	case metafield.IsReference(tag):
		if len(f.SelectionSet) == 0 {
			return nil, nil, malformed(path, "field `%s` of type `%s` must have a selection of subfields", f.Name, def.Type.String())
		}
		sels, child, err := r.reference(next, f.SelectionSet, path)
		if err != nil {
			return nil, nil, err
		}
		node = child
		node.Transform = &FieldTransform{Kind: TransformReference, Alias: alias, MetafieldType: tag}
		inner = &ast.Field{Name: "reference", SelectionSet: sels, Position: f.Position}

	default:
		if metafield.IsValueObject(tag) && len(f.SelectionSet) == 0 {
			return nil, nil, malformed(path, "field `%s` of type `%s` must have a selection of subfields", f.Name, def.Type.String())
		}
		fields, err := r.valueFields(f.SelectionSet, nil)
		if err != nil {
			return nil, nil, err
		}
		node = newNode()
		node.Transform = &FieldTransform{
			Kind:          TransformValue,
			Alias:         alias,
			MetafieldType: tag,
			ValueFields:   fields,
			Typename:      def.Type.Name(),
		}
		inner = &ast.Field{Name: "value", Position: f.Position}
	}

	accessor, lookup := "field", key
	if w.scope == scopeExtensions {
		accessor, lookup = "metafield", r.namespace+"."+key
	}

	return ast.SelectionSet{&ast.Field{
		Alias:        alias,
		Name:         accessor,
		Arguments:    ast.ArgumentList{stringArgument("key", lookup)},
		Directives:   f.Directives,
		SelectionSet: ast.SelectionSet{inner},
		Position:     f.Position,
	}}, node, nil
}

func (r *request) typename(w walk, f *ast.Field) (ast.SelectionSet, *Node, error) {
	key := responseKey(f)
	node := newNode()

	switch w.scope {
	case scopeExtensions:
		alias, err := r.extensionsAlias(w, key, w.child(key))
		if err != nil {
			return nil, nil, err
		}
		node.Transform = &FieldTransform{Kind: TransformExtensionsTypename, Alias: alias}
		return ast.SelectionSet{&ast.Field{Alias: alias, Name: "__typename", Directives: f.Directives, Position: f.Position}}, node, nil
	case scopeMetaobject:
		node.Transform = &FieldTransform{Kind: TransformMetaobjectTypename, Alias: key}
		return ast.SelectionSet{&ast.Field{Alias: key, Name: "type", Directives: f.Directives, Position: f.Position}}, node, nil
	default:
		return ast.SelectionSet{copyField(f, nil)}, node, nil
	}
}

// reference rewrites the selections made on a referenced record.
func (r *request) reference(target *ast.Definition, set ast.SelectionSet, path ast.Path) (ast.SelectionSet, *Node, error) {
	if target == nil {
		return nil, nil, malformed(path, "unresolved reference type")
	}

	s, condition := scopeNative, target.Name
	if metafield.IsMetaobjectType(target.Name) {
		s, condition = scopeMetaobject, metafield.NativeMetaobjectTypename
	}

	sels, node, err := r.selectionSet(walk{parent: target, scope: s, path: path}, set)
	if err != nil {
		return nil, nil, err
	}
	return ast.SelectionSet{&ast.InlineFragment{
		TypeCondition: condition,
		SelectionSet:  sels,
	}}, node, nil
}

// connection rewrites a connection selection. Only `node` and `nodes`
// descend through the reference rewrite; everything else passes through.
func (r *request) connection(connType *ast.Definition, set ast.SelectionSet, node *Node, path ast.Path) (ast.SelectionSet, error) {
	if connType == nil {
		return nil, malformed(path, "unresolved connection type")
	}
	nodeType := r.connectionNodeType(connType)

	var out ast.SelectionSet
	for _, f := range r.flatten(set) {
		key := responseKey(f)
		fieldPath := appendPath(path, key)

		switch f.Name {
		case "edges":
			edgeDef := connType.Fields.ForName("edges")
			edgeType := r.schema.Types[edgeDef.Type.Name()]
			edgeNode := newNode()
			var edgeSels ast.SelectionSet
			for _, ef := range r.flatten(f.SelectionSet) {
				edgeKey := responseKey(ef)
				switch ef.Name {
				case "node":
					sels, child, err := r.reference(nodeType, ef.SelectionSet, appendPath(fieldPath, edgeKey))
					if err != nil {
						return nil, err
					}
					edgeSels = append(edgeSels, copyField(ef, sels))
					edgeNode.setField(edgeKey, child)
				case "__typename":
					edgeSels = append(edgeSels, copyField(ef, nil))
					edgeNode.setField(edgeKey, literalTypename(edgeType.Name))
				default:
					edgeSels = append(edgeSels, copyField(ef, r.passthrough(ef.SelectionSet)))
					edgeNode.setField(edgeKey, newNode())
				}
			}
			out = append(out, copyField(f, edgeSels))
			node.setField(key, edgeNode)

		case "nodes":
			sels, child, err := r.reference(nodeType, f.SelectionSet, fieldPath)
			if err != nil {
				return nil, err
			}
			out = append(out, copyField(f, sels))
			node.setField(key, child)

		case "__typename":
			out = append(out, copyField(f, nil))
			node.setField(key, literalTypename(connType.Name))

		default:
			out = append(out, copyField(f, r.passthrough(f.SelectionSet)))
			node.setField(key, newNode())
		}
	}
	return out, nil
}

func (r *request) connectionNodeType(connType *ast.Definition) *ast.Definition {
	if nodes := connType.Fields.ForName("nodes"); nodes != nil {
		return r.schema.Types[nodes.Type.Name()]
	}
	if edges := connType.Fields.ForName("edges"); edges != nil {
		if edge := r.schema.Types[edges.Type.Name()]; edge != nil {
			if n := edge.Fields.ForName("node"); n != nil {
				return r.schema.Types[n.Type.Name()]
			}
		}
	}
	return nil
}

// listing rewrites a root metaobject listing field into the generic
// backend `metaobjects` connection filtered by type.
func (r *request) listing(f *ast.Field, def *ast.FieldDefinition, connType *ast.Definition, path ast.Path) (ast.SelectionSet, *Node, error) {
	tag, _ := composer.DirectiveArgument(def, composer.MetaobjectsDirective, "type")
	node := newNode()
	sels, err := r.connection(connType, f.SelectionSet, node, path)
	if err != nil {
		return nil, nil, err
	}

	args := append(ast.ArgumentList{stringArgument("type", tag)}, f.Arguments...)
	return ast.SelectionSet{&ast.Field{
		Alias:        responseKey(f),
		Name:         "metaobjects",
		Arguments:    args,
		Directives:   f.Directives,
		SelectionSet: sels,
		Position:     f.Position,
	}}, node, nil
}

// flatten inlines fragments found on a connection or edge type. Those
// types are concrete, so every fragment applies.
func (r *request) flatten(set ast.SelectionSet) []*ast.Field {
	var out []*ast.Field
	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			out = append(out, sel)
		case *ast.InlineFragment:
			out = append(out, r.flatten(sel.SelectionSet)...)
		case *ast.FragmentSpread:
			if def := r.doc.Fragments.ForName(sel.Name); def != nil {
				out = append(out, r.flatten(def.SelectionSet)...)
			}
		}
	}
	return out
}

// passthrough copies a selection the rewrite leaves alone. Named spreads
// are inlined because only rewritten fragments are emitted.
func (r *request) passthrough(set ast.SelectionSet) ast.SelectionSet {
	if len(set) == 0 {
		return nil
	}
	out := make(ast.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			out = append(out, copyField(sel, r.passthrough(sel.SelectionSet)))
		case *ast.InlineFragment:
			out = append(out, &ast.InlineFragment{
				TypeCondition: sel.TypeCondition,
				Directives:    sel.Directives,
				SelectionSet:  r.passthrough(sel.SelectionSet),
				Position:      sel.Position,
			})
		case *ast.FragmentSpread:
			if def := r.doc.Fragments.ForName(sel.Name); def != nil {
				out = append(out, &ast.InlineFragment{
					TypeCondition: def.TypeCondition,
					Directives:    sel.Directives,
					SelectionSet:  r.passthrough(def.SelectionSet),
					Position:      sel.Position,
				})
			}
		}
	}
	return out
}

// extensionsAlias names the backend field of a selection in extensions
// scope. Every `extensions` block dissolves into its parent object, so a
// renamed block folds its own response key into the alias. Two different
// selections that would still share an alias are rejected.
func (r *request) extensionsAlias(w walk, key string, path ast.Path) (string, error) {
	block := w.extensions
	if block == "" {
		block = composer.ExtensionsField
	}
	alias := ExtensionsPrefix + key
	if block != composer.ExtensionsField {
		alias = ExtensionsPrefix + block + "__" + key
	}

	origin := block + "." + key
	if prev, ok := r.aliases[alias]; ok && prev != origin {
		return "", gqlerror.WrapPath(path, fmt.Errorf("%w: `%s` and `%s` both map to `%s`", ErrReservedAlias, prev, origin, alias))
	}
	r.aliases[alias] = origin
	return alias, nil
}

// valueFields collects the `alias:name` selections of a value object.
// Value objects are concrete, so fragments are traversed without type checks.
func (r *request) valueFields(set ast.SelectionSet, acc []string) ([]string, error) {
	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			if alias := responseKey(sel); alias != sel.Name {
				acc = append(acc, alias+":"+sel.Name)
			} else {
				acc = append(acc, sel.Name)
			}
		case *ast.InlineFragment:
			var err error
			if acc, err = r.valueFields(sel.SelectionSet, acc); err != nil {
				return nil, err
			}
		case *ast.FragmentSpread:
			def := r.doc.Fragments.ForName(sel.Name)
			if def == nil {
				return nil, malformed(nil, "unknown fragment `%s`", sel.Name)
			}
			var err error
			if acc, err = r.valueFields(def.SelectionSet, acc); err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}

func isListingField(def *ast.FieldDefinition) bool {
	_, ok := composer.DirectiveArgument(def, composer.MetaobjectsDirective, "type")
	return ok
}

func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) != 1 {
			return nil, gqlerror.Errorf("operation name is required when the document has %d operations", len(doc.Operations))
		}
		return doc.Operations[0], nil
	}
	op := doc.Operations.ForName(name)
	if op == nil {
		return nil, gqlerror.Errorf("operation `%s` not found", name)
	}
	return op, nil
}

func rootType(schema *ast.Schema, op *ast.OperationDefinition) *ast.Definition {
	switch op.Operation {
	case ast.Mutation:
		return schema.Mutation
	case ast.Subscription:
		return schema.Subscription
	default:
		return schema.Query
	}
}

// checkAliases rejects client aliases that collide with internal ones.
func checkAliases(doc *ast.QueryDocument) error {
	var check func(path ast.Path, set ast.SelectionSet) error
	check = func(path ast.Path, set ast.SelectionSet) error {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *ast.Field:
				key := responseKey(sel)
				fieldPath := appendPath(path, key)
				if sel.Alias != "" && sel.Alias != sel.Name {
					switch {
					case strings.HasPrefix(sel.Alias, ExtensionsPrefix):
						return gqlerror.WrapPath(fieldPath, fmt.Errorf("%w: field aliases starting with `%s` are reserved for system use", ErrReservedAlias, ExtensionsPrefix))
					case sel.Alias == TypenameHint:
						return gqlerror.WrapPath(fieldPath, fmt.Errorf("%w: field alias `%s` is reserved for system use", ErrReservedAlias, TypenameHint))
					}
				}
				if err := check(fieldPath, sel.SelectionSet); err != nil {
					return err
				}
			case *ast.InlineFragment:
				if err := check(path, sel.SelectionSet); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, op := range doc.Operations {
		if err := check(nil, op.SelectionSet); err != nil {
			return err
		}
	}
	for _, frag := range doc.Fragments {
		if err := check(ast.Path{ast.PathName(frag.Name)}, frag.SelectionSet); err != nil {
			return err
		}
	}
	return nil
}

func dispatchKey(schema *ast.Schema, def *ast.Definition) string {
	possible := schema.GetPossibleTypes(def)
	names := make([]string, 0, len(possible))
	for _, p := range possible {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func hintField(hint HintKind) *ast.Field {
	name := "__typename"
	if hint == HintMetaobjectType {
		name = "type"
	}
	return &ast.Field{Alias: TypenameHint, Name: name}
}

// dedupeHints drops repeated typename hints from one selection set.
func dedupeHints(set ast.SelectionSet) ast.SelectionSet {
	seen := false
	out := set[:0:0]
	for _, sel := range set {
		if f, ok := sel.(*ast.Field); ok && f.Alias == TypenameHint {
			if seen {
				continue
			}
			seen = true
		}
		out = append(out, sel)
	}
	return out
}

func literalTypename(name string) *Node {
	node := newNode()
	node.Transform = &FieldTransform{Kind: TransformTypename, Typename: name}
	return node
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func copyField(f *ast.Field, sels ast.SelectionSet) *ast.Field {
	return &ast.Field{
		Alias:        f.Alias,
		Name:         f.Name,
		Arguments:    f.Arguments,
		Directives:   f.Directives,
		SelectionSet: sels,
		Position:     f.Position,
	}
}

func stringArgument(name, value string) *ast.Argument {
	return &ast.Argument{
		Name:  name,
		Value: &ast.Value{Kind: ast.StringValue, Raw: value},
	}
}

func appendPath(path ast.Path, key string) ast.Path {
	out := make(ast.Path, 0, len(path)+1)
	out = append(out, path...)
	return append(out, ast.PathName(key))
}

func malformed(path ast.Path, format string, args ...any) error {
	return gqlerror.WrapPath(path, fmt.Errorf("%w: %s", ErrMalformedSelection, fmt.Sprintf(format, args...)))
}
