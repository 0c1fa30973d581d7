package metafield

import (
	"errors"
	"fmt"
)

// ErrUnknownMetafieldType is returned when a catalog type tag has no resolution rule.
var ErrUnknownMetafieldType = errors.New("unknown metafield type")

// UnknownMetafieldTypeError names the offending tag and the field declaring it.
type UnknownMetafieldTypeError struct {
	Type string
	Key  string
}

func (e *UnknownMetafieldTypeError) Error() string {
	return fmt.Sprintf("%s `%s` for metafield `%s`", ErrUnknownMetafieldType, e.Type, e.Key)
}

func (e *UnknownMetafieldTypeError) Unwrap() error {
	return ErrUnknownMetafieldType
}

// Category is the semantic shape of a metafield value.
type Category int

const (
	// CategoryScalar values serialize to a single leaf value.
	CategoryScalar Category = iota
	// CategoryValueObject values are compound measurements (money, dimension, ...)
	// serialized as one JSON object.
	CategoryValueObject
	// CategoryReference values point at another record.
	CategoryReference
)

func (c Category) String() string {
	switch c {
	case CategoryScalar:
		return "scalar"
	case CategoryValueObject:
		return "value_object"
	case CategoryReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Resolution is one row of the type resolution table.
type Resolution struct {
	// Tag is the unwrapped type tag.
	Tag      string
	Category Category
	// Typename is the virtual schema type the tag resolves to. It is empty
	// for metaobject and mixed references, which resolve through the catalog.
	Typename string
	// Synthesized marks value metatypes the composer builds on demand.
	Synthesized bool
	Listable    bool
	// List is set when the looked up tag was list-wrapped.
	List bool
}

// IsListReference reports whether the resolution is a list of references,
// which the virtual schema exposes as a connection.
func (r Resolution) IsListReference() bool {
	return r.List && r.Category == CategoryReference
}

var resolutionTable = map[string]Resolution{
	"boolean":                          {Category: CategoryScalar, Typename: "Boolean"},
	"color":                            {Category: CategoryScalar, Typename: ColorTypename, Synthesized: true, Listable: true},
	"collection_reference":             {Category: CategoryReference, Typename: "Collection", Listable: true},
	"company_reference":                {Category: CategoryReference, Typename: "Company", Listable: true},
	"customer_reference":               {Category: CategoryReference, Typename: "Customer", Listable: true},
	"date_time":                        {Category: CategoryScalar, Typename: "DateTime", Listable: true},
	"date":                             {Category: CategoryScalar, Typename: "Date", Listable: true},
	"dimension":                        {Category: CategoryValueObject, Typename: DimensionTypename, Synthesized: true, Listable: true},
	"file_reference":                   {Category: CategoryReference, Typename: "File", Listable: true},
	"id":                               {Category: CategoryScalar, Typename: "ID"},
	"json":                             {Category: CategoryScalar, Typename: "JSON"},
	"language":                         {Category: CategoryScalar, Typename: "LanguageCode"},
	"link":                             {Category: CategoryValueObject, Typename: "Link", Listable: true},
	"metaobject_reference":             {Category: CategoryReference, Listable: true},
	"mixed_reference":                  {Category: CategoryReference, Listable: true},
	"money":                            {Category: CategoryValueObject, Typename: "MoneyV2"},
	"multi_line_text_field":            {Category: CategoryScalar, Typename: "String"},
	"number_decimal":                   {Category: CategoryScalar, Typename: "Float", Listable: true},
	"number_integer":                   {Category: CategoryScalar, Typename: "Int", Listable: true},
	"order_reference":                  {Category: CategoryReference, Typename: "Order"},
	"page_reference":                   {Category: CategoryReference, Typename: "Page", Listable: true},
	"product_reference":                {Category: CategoryReference, Typename: "Product", Listable: true},
	"product_taxonomy_value_reference": {Category: CategoryReference, Typename: "TaxonomyValue", Listable: true},
	"rating":                           {Category: CategoryValueObject, Typename: RatingTypename, Synthesized: true, Listable: true},
	"rich_text_field":                  {Category: CategoryScalar, Typename: RichTextTypename, Synthesized: true},
	"single_line_text_field":           {Category: CategoryScalar, Typename: "String", Listable: true},
	"url":                              {Category: CategoryScalar, Typename: "URL", Listable: true},
	"variant_reference":                {Category: CategoryReference, Typename: "ProductVariant", Listable: true},
	"volume":                           {Category: CategoryValueObject, Typename: VolumeTypename, Synthesized: true, Listable: true},
	"weight":                           {Category: CategoryValueObject, Typename: "Weight", Listable: true},
}

// Lookup finds the resolution for a tag, honoring list wrapping.
func Lookup(tag string) (Resolution, bool) {
	res, ok := resolutionTable[Unwrap(tag)]
	if !ok {
		return Resolution{}, false
	}
	res.Tag = Unwrap(tag)
	if IsList(tag) {
		if !res.Listable {
			return Resolution{}, false
		}
		res.List = true
	}
	return res, true
}

// Resolve is Lookup that fails with an UnknownMetafieldTypeError naming the field key.
func Resolve(tag, key string) (Resolution, error) {
	res, ok := Lookup(tag)
	if !ok {
		return Resolution{}, &UnknownMetafieldTypeError{Type: tag, Key: key}
	}
	return res, nil
}

// IsValueObject reports whether the tag decomposes into a compound value.
func IsValueObject(tag string) bool {
	res, ok := Lookup(tag)
	return ok && res.Category == CategoryValueObject
}
