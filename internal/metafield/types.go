package metafield

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// ListPrefix marks a list-valued metafield type tag, e.g. "list.product_reference".
	ListPrefix = "list."

	ExtensionsTypeSuffix     = "Extensions"
	MetaobjectTypeSuffix     = "Metaobject"
	MixedMetaobjectSuffix    = "MixedMetaobject"
	ConnectionTypeSuffix     = "Connection"
	EdgeTypeSuffix           = "Edge"
	referenceTagSuffix       = "_reference"
	metaobjectReferenceTag   = "metaobject_reference"
	mixedReferenceTag        = "mixed_reference"
	NativeMetaobjectTypename = "Metaobject"
)

// Synthesized value metatypes.
const (
	ColorTypename     = "ColorMetatype"
	DimensionTypename = "DimensionMetatype"
	RatingTypename    = "RatingMetatype"
	RichTextTypename  = "RichTextMetatype"
	VolumeTypename    = "VolumeMetatype"
)

// IsList reports whether the tag is list-wrapped.
func IsList(tag string) bool {
	return strings.HasPrefix(tag, ListPrefix)
}

// Unwrap strips the list prefix from a tag.
func Unwrap(tag string) string {
	return strings.TrimPrefix(tag, ListPrefix)
}

// IsReference reports whether the unwrapped tag names a reference kind:
// metaobject, mixed, or any native entity reference.
func IsReference(tag string) bool {
	return strings.HasSuffix(Unwrap(tag), referenceTagSuffix)
}

func IsMetaobjectReference(tag string) bool {
	return Unwrap(tag) == metaobjectReferenceTag
}

func IsMixedReference(tag string) bool {
	return Unwrap(tag) == mixedReferenceTag
}

// ExtensionsTypename derives the extensions type name for a native type, Product -> ProductExtensions.
func ExtensionsTypename(nativeTypename string) string {
	return nativeTypename + ExtensionsTypeSuffix
}

func IsExtensionsType(typename string) bool {
	return strings.HasSuffix(typename, ExtensionsTypeSuffix) && typename != ExtensionsTypeSuffix
}

// NativeTypename reverses ExtensionsTypename.
func NativeTypename(extensionsTypename string) string {
	return strings.TrimSuffix(extensionsTypename, ExtensionsTypeSuffix)
}

// MetaobjectTypename derives the virtual type name for a metaobject type tag, taco -> TacoMetaobject.
func MetaobjectTypename(tag string) string {
	return PascalCase(tag) + MetaobjectTypeSuffix
}

// IsMetaobjectType reports whether a typename belongs to a synthesized
// metaobject object or mixed metaobject union. The backend's own generic
// Metaobject type is excluded.
func IsMetaobjectType(typename string) bool {
	return strings.HasSuffix(typename, MetaobjectTypeSuffix) && typename != NativeMetaobjectTypename
}

func ConnectionTypename(baseTypename string) string {
	return baseTypename + ConnectionTypeSuffix
}

func EdgeTypename(baseTypename string) string {
	return baseTypename + EdgeTypeSuffix
}

func IsConnectionType(typename string) bool {
	return strings.HasSuffix(typename, ConnectionTypeSuffix)
}

// FieldName converts a metafield key into its virtual field name, featured_recipe -> featuredRecipe.
func FieldName(key string) string {
	words := splitWords(key)
	if len(words) == 0 {
		return key
	}
	var b strings.Builder
	for i, w := range words {
		if i == 0 {
			b.WriteString(lowerFirst(w))
			continue
		}
		b.WriteString(upperFirst(w))
	}
	return b.String()
}

// PascalCase converts a tag into an upper camel name, recipe_card -> RecipeCard.
func PascalCase(tag string) string {
	var b strings.Builder
	for _, w := range splitWords(tag) {
		b.WriteString(upperFirst(w))
	}
	return b.String()
}

// Pluralize applies the small set of english plural rules needed for
// connection field names.
func Pluralize(word string) string {
	switch {
	case word == "":
		return word
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "x"), strings.HasSuffix(word, "z"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "sh"):
		return word + "es"
	case strings.HasSuffix(word, "y") && len(word) > 1 && !strings.ContainsRune("aeiou", rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	default:
		return word + "s"
	}
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
