package transformer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/rpattn/customdata/internal/metafield"
)

// ErrMalformedResponse is returned when backend data cannot be reshaped.
var ErrMalformedResponse = errors.New("malformed response")

// Result is one rewritten operation together with what is needed to turn
// the backend response back into the client's shape.
type Result struct {
	// Document is the backend query document.
	Document *ast.QueryDocument
	// Map records how each client breadcrumb was rewritten.
	Map *TransformationMap

	schema    *ast.Schema
	operation *ast.OperationDefinition
	fragments ast.FragmentDefinitionList
	variables map[string]any
}

// Query prints the backend document.
func (r *Result) Query() string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(r.Document)
	return buf.String()
}

// OperationName is the name of the rewritten operation, if any.
func (r *Result) OperationName() string {
	return r.operation.Name
}

// Reconstruct reshapes backend response data into the shape the client's
// operation asked for.
func (r *Result) Reconstruct(data map[string]any) (*Object, error) {
	if data == nil {
		return nil, nil
	}
	rc := &reconstructor{Result: r}
	root := rootType(r.schema, r.operation)
	return rc.object([]frame{{set: r.operation.SelectionSet, node: r.Map.Root, typ: root}}, data, nil)
}

type frame struct {
	set  ast.SelectionSet
	node *Node
	typ  *ast.Definition
}

// occurrence is one client field contributing to a response key.
type occurrence struct {
	field  *ast.Field
	node   *Node
	parent *Node
	typ    *ast.Definition
}

type fieldGroups struct {
	keys  []string
	byKey map[string][]occurrence
}

func (g *fieldGroups) add(key string, occ occurrence) {
	if _, ok := g.byKey[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.byKey[key] = append(g.byKey[key], occ)
}

type reconstructor struct {
	*Result
}

func (rc *reconstructor) object(frames []frame, raw map[string]any, path ast.Path) (*Object, error) {
	groups := &fieldGroups{byKey: make(map[string][]occurrence)}
	for _, fr := range frames {
		rc.collect(fr, raw, groups)
	}

	out := NewObject()
	for _, key := range groups.keys {
		value, err := rc.fieldValue(groups.byKey[key], raw, appendPath(path, key))
		if err != nil {
			return nil, err
		}
		out.Set(key, value)
	}
	return out, nil
}

func (rc *reconstructor) collect(fr frame, raw map[string]any, groups *fieldGroups) {
	for _, sel := range fr.set {
		switch sel := sel.(type) {
		case *ast.Field:
			if !rc.include(sel.Directives) {
				continue
			}
			key := responseKey(sel)
			groups.add(key, occurrence{field: sel, node: fr.node.Field(key), parent: fr.node, typ: fr.typ})
		case *ast.InlineFragment:
			if rc.include(sel.Directives) {
				rc.collectFragment(fr, sel.TypeCondition, sel.SelectionSet, raw, groups)
			}
		case *ast.FragmentSpread:
			if !rc.include(sel.Directives) {
				continue
			}
			if def := rc.fragments.ForName(sel.Name); def != nil {
				rc.collectFragment(fr, def.TypeCondition, def.SelectionSet, raw, groups)
			}
		}
	}
}

func (rc *reconstructor) collectFragment(fr frame, condition string, set ast.SelectionSet, raw map[string]any, groups *fieldGroups) {
	typ := fr.typ
	if condition != "" {
		if def := rc.schema.Types[condition]; def != nil {
			typ = def
		}
	}

	if branch, ok := fr.node.Dispatch(dispatchKey(rc.schema, typ)); ok {
		if !rc.matches(fr.node.Hint, raw, typ) {
			return
		}
		rc.collect(frame{set: set, node: branch, typ: typ}, raw, groups)
		return
	}
	rc.collect(frame{set: set, node: fr.node, typ: typ}, raw, groups)
}

// matches reports whether the hinted concrete type of raw is one of the
// possible types of typ. Objects without a hint match nothing.
func (rc *reconstructor) matches(hint HintKind, raw map[string]any, typ *ast.Definition) bool {
	concrete, _ := raw[TypenameHint].(string)
	if concrete == "" {
		return false
	}
	if hint == HintMetaobjectType {
		concrete = metafield.MetaobjectTypename(concrete)
	}
	for _, def := range rc.schema.GetPossibleTypes(typ) {
		if def.Name == concrete {
			return true
		}
	}
	return false
}

func (rc *reconstructor) include(directives ast.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil && rc.condition(d) {
		return false
	}
	if d := directives.ForName("include"); d != nil && !rc.condition(d) {
		return false
	}
	return true
}

func (rc *reconstructor) condition(d *ast.Directive) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil || arg.Value == nil {
		return false
	}
	v, err := arg.Value.Value(rc.variables)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (rc *reconstructor) fieldValue(occs []occurrence, raw map[string]any, path ast.Path) (any, error) {
	first := occs[0]
	key := responseKey(first.field)

	for _, occ := range occs {
		if t := occ.node.transform(); t != nil {
			return rc.transformed(t, occs, raw, path)
		}
	}

	fieldType := rc.fieldType(first)
	if first.parent.IsExtensions(key) {
		if fieldType == nil {
			return nil, nil
		}
		return rc.object(rc.childFrames(occs, rc.schema.Types[fieldType.Name()]), raw, path)
	}
	return rc.complete(raw[key], fieldType, occs, path)
}

func (rc *reconstructor) transformed(t *FieldTransform, occs []occurrence, raw map[string]any, path ast.Path) (any, error) {
	switch t.Kind {
	case TransformTypename:
		return t.Typename, nil
	case TransformExtensionsTypename:
		if name, ok := raw[t.Alias].(string); ok {
			return metafield.ExtensionsTypename(name), nil
		}
		return nil, nil
	case TransformMetaobjectTypename:
		if tag, ok := raw[t.Alias].(string); ok {
			return metafield.MetaobjectTypename(tag), nil
		}
		return nil, nil
	}

	mf, ok := raw[t.Alias].(map[string]any)
	if !ok {
		return nil, nil
	}
	switch t.Kind {
	case TransformValue:
		return rc.value(t, mf["value"], path)
	case TransformReference:
		return rc.complete(mf["reference"], rc.fieldType(occs[0]), occs, path)
	case TransformReferences:
		return rc.complete(mf["references"], rc.fieldType(occs[0]), occs, path)
	default:
		return nil, gqlerror.WrapPath(path, fmt.Errorf("%w: unknown transform %s", ErrMalformedResponse, t.Kind))
	}
}

// complete shapes a raw value by the client's declared field type.
func (rc *reconstructor) complete(v any, typ *ast.Type, occs []occurrence, path ast.Path) (any, error) {
	if v == nil || typ == nil {
		return v, nil
	}

	if typ.Elem != nil {
		list, ok := v.([]any)
		if !ok {
			return v, nil
		}
		out := make([]any, len(list))
		for i, item := range list {
			itemPath := append(append(ast.Path(nil), path...), ast.PathIndex(i))
			completed, err := rc.complete(item, typ.Elem, occs, itemPath)
			if err != nil {
				return nil, err
			}
			out[i] = completed
		}
		return out, nil
	}

	def := rc.schema.Types[typ.NamedType]
	if def == nil || !def.IsCompositeType() {
		return v, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, gqlerror.WrapPath(path, fmt.Errorf("%w: expected an object for %s, got %T", ErrMalformedResponse, def.Name, v))
	}
	return rc.object(rc.childFrames(occs, def), m, path)
}

func (rc *reconstructor) childFrames(occs []occurrence, def *ast.Definition) []frame {
	frames := make([]frame, 0, len(occs))
	for _, occ := range occs {
		frames = append(frames, frame{set: occ.field.SelectionSet, node: occ.node, typ: def})
	}
	return frames
}

func (rc *reconstructor) fieldType(occ occurrence) *ast.Type {
	if occ.typ == nil {
		return nil
	}
	if def := occ.typ.Fields.ForName(occ.field.Name); def != nil {
		return def.Type
	}
	return nil
}

// value decodes a raw metafield value string per its type tag.
func (rc *reconstructor) value(t *FieldTransform, v any, path ast.Path) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}

	res, known := metafield.Lookup(t.MetafieldType)
	if !known || !encodedAsJSON(res) {
		return s, nil
	}

	var decoded any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, gqlerror.WrapPath(path, fmt.Errorf("%w: %s value is not valid JSON: %v", ErrMalformedResponse, t.MetafieldType, err))
	}

	if res.Category == metafield.CategoryValueObject {
		return rc.valueObject(t, decoded), nil
	}
	return decoded, nil
}

func encodedAsJSON(res metafield.Resolution) bool {
	if res.List || res.Category == metafield.CategoryValueObject {
		return true
	}
	switch res.Tag {
	case "boolean", "json", "number_decimal", "number_integer", "rich_text_field":
		return true
	}
	return false
}

// valueKeys maps value object fields to the keys stored in metafield values
// where the two differ by more than case.
var valueKeys = map[string]string{
	"currencyCode": "currency_code",
	"max":          "scale_max",
	"min":          "scale_min",
}

func (rc *reconstructor) valueObject(t *FieldTransform, decoded any) any {
	switch d := decoded.(type) {
	case []any:
		out := make([]any, len(d))
		for i, item := range d {
			out[i] = rc.valueObject(t, item)
		}
		return out
	case map[string]any:
		def := rc.schema.Types[t.Typename]
		out := NewObject()
		for _, sel := range t.ValueFields {
			alias, name := sel, sel
			if i := strings.IndexByte(sel, ':'); i >= 0 {
				alias, name = sel[:i], sel[i+1:]
			}
			if name == "__typename" {
				out.Set(alias, t.Typename)
				continue
			}
			out.Set(alias, coerceLeaf(lookupValueKey(d, name), def, name))
		}
		return out
	default:
		return decoded
	}
}

func lookupValueKey(m map[string]any, name string) any {
	if key, ok := valueKeys[name]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := m[name]; ok {
		return v
	}
	return m[snakeCase(name)]
}

// coerceLeaf turns numeric strings into numbers for numeric fields.
func coerceLeaf(v any, def *ast.Definition, name string) any {
	s, ok := v.(string)
	if !ok || def == nil {
		return v
	}
	field := def.Fields.ForName(name)
	if field == nil {
		return v
	}
	switch field.Type.Name() {
	case "Float", "Int":
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return json.Number(s)
		}
	}
	return v
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Object is a JSON object that keeps keys in insertion order, so responses
// follow the client's selection order.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set stores a value, appending the key if it is new.
func (o *Object) Set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

// Len is the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// MarshalJSON encodes the object with keys in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
