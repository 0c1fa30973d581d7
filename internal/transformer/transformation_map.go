package transformer

import "sort"

// TransformKind is the shape change applied to one response field.
type TransformKind int

const (
	// TransformValue unwraps a metafield `value`, decoding it per metafield type.
	TransformValue TransformKind = iota + 1
	// TransformReference descends into a metafield `reference`.
	TransformReference
	// TransformReferences descends into a metafield `references` connection.
	TransformReferences
	// TransformExtensionsTypename relabels a native typename as its extensions type.
	TransformExtensionsTypename
	// TransformMetaobjectTypename relabels a metaobject type tag as its virtual typename.
	TransformMetaobjectTypename
	// TransformTypename reports a fixed typename.
	TransformTypename
)

func (k TransformKind) String() string {
	switch k {
	case TransformValue:
		return "value"
	case TransformReference:
		return "reference"
	case TransformReferences:
		return "references"
	case TransformExtensionsTypename:
		return "extensions_typename"
	case TransformMetaobjectTypename:
		return "metaobject_typename"
	case TransformTypename:
		return "typename"
	default:
		return "unknown"
	}
}

// FieldTransform describes how one raw backend value becomes the client value.
type FieldTransform struct {
	Kind TransformKind
	// Alias is the backend response key the field was emitted under.
	Alias string
	// MetafieldType is the catalog type tag of the intercepted metafield.
	MetafieldType string
	// ValueFields are the `alias:name` selections of a value object.
	ValueFields []string
	// Typename is the literal reported by TransformTypename, or the value
	// object type a TransformValue selection was made on.
	Typename string
}

// HintKind says how a dispatching node reads the concrete type of an object.
type HintKind int

const (
	// HintNone marks a node whose fragments need no type dispatch.
	HintNone HintKind = iota
	// HintTypename reads the native `__typename` requested under the hint alias.
	HintTypename
	// HintMetaobjectType reads the metaobject `type` tag requested under the hint alias.
	HintMetaobjectType
)

// Node is one breadcrumb of the transformation map. Fields are keyed by the
// client's response keys; Types holds fragment branches keyed by the sorted,
// pipe-joined possible types of their type condition.
type Node struct {
	Transform  *FieldTransform
	Fields     map[string]*Node
	Types      map[string]*Node
	Extensions map[string]struct{}
	Hint       HintKind
}

func newNode() *Node {
	return &Node{}
}

// Field returns the child breadcrumb for a response key. It is nil safe.
func (n *Node) Field(key string) *Node {
	if n == nil {
		return nil
	}
	return n.Fields[key]
}

// Dispatch returns the fragment branch for a dispatch key.
func (n *Node) Dispatch(key string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	child, ok := n.Types[key]
	return child, ok
}

// IsExtensions reports whether the client requested `extensions` under key
// on this object.
func (n *Node) IsExtensions(key string) bool {
	if n == nil {
		return false
	}
	_, ok := n.Extensions[key]
	return ok
}

func (n *Node) transform() *FieldTransform {
	if n == nil {
		return nil
	}
	return n.Transform
}

func (n *Node) setField(key string, child *Node) {
	if n.Fields == nil {
		n.Fields = make(map[string]*Node)
	}
	if existing, ok := n.Fields[key]; ok {
		existing.merge(child)
		return
	}
	n.Fields[key] = child
}

func (n *Node) setDispatch(key string, hint HintKind, child *Node) {
	n.Hint = hint
	if n.Types == nil {
		n.Types = make(map[string]*Node)
	}
	if existing, ok := n.Types[key]; ok {
		existing.merge(child)
		return
	}
	n.Types[key] = child
}

func (n *Node) markExtensions(key string) {
	if n.Extensions == nil {
		n.Extensions = make(map[string]struct{})
	}
	n.Extensions[key] = struct{}{}
}

// merge folds src into n. The first transform recorded for a breadcrumb wins.
// Children are copied so memoized fragment subtrees stay untouched.
func (n *Node) merge(src *Node) {
	if src == nil {
		return
	}
	if n.Transform == nil && src.Transform != nil {
		t := *src.Transform
		n.Transform = &t
	}
	if n.Hint == HintNone {
		n.Hint = src.Hint
	}
	for key := range src.Extensions {
		n.markExtensions(key)
	}
	for key, child := range src.Fields {
		n.setField(key, child.clone())
	}
	for key, child := range src.Types {
		if n.Types == nil {
			n.Types = make(map[string]*Node)
		}
		if existing, ok := n.Types[key]; ok {
			existing.merge(child)
			continue
		}
		n.Types[key] = child.clone()
	}
}

func (n *Node) clone() *Node {
	c := newNode()
	c.merge(n)
	return c
}

// TransformationMap is the bookkeeping shared by the request rewrite and
// the response reconstruction of one query.
type TransformationMap struct {
	Root *Node
}

// At walks field breadcrumbs from the root.
func (m *TransformationMap) At(path ...string) *Node {
	node := m.Root
	for _, key := range path {
		node = node.Field(key)
	}
	return node
}

// TransformAt returns the transform recorded at a field breadcrumb, if any.
func (m *TransformationMap) TransformAt(path ...string) *FieldTransform {
	return m.At(path...).transform()
}

// Breadcrumbs lists every field path holding a transform, sorted. Dispatch
// branches appear as `[A|B]` segments.
func (m *TransformationMap) Breadcrumbs() []string {
	var out []string
	var walk func(prefix string, n *Node)
	walk = func(prefix string, n *Node) {
		if n == nil {
			return
		}
		if n.Transform != nil && prefix != "" {
			out = append(out, prefix+" => "+n.Transform.Kind.String())
		}
		for key, child := range n.Fields {
			next := key
			if prefix != "" {
				next = prefix + "." + key
			}
			walk(next, child)
		}
		for key, child := range n.Types {
			walk(prefix+"["+key+"]", child)
		}
	}
	walk("", m.Root)
	sort.Strings(out)
	return out
}
