package metafield

import (
	"errors"
	"testing"
)

func TestClassifiesListAndReferenceTags(t *testing.T) {
	cases := []struct {
		tag       string
		list      bool
		reference bool
	}{
		{tag: "single_line_text_field"},
		{tag: "list.single_line_text_field", list: true},
		{tag: "metaobject_reference", reference: true},
		{tag: "list.mixed_reference", list: true, reference: true},
		{tag: "list.product_reference", list: true, reference: true},
		{tag: "money"},
	}

	for _, tc := range cases {
		if got := IsList(tc.tag); got != tc.list {
			t.Fatalf("IsList(%q) = %v, want %v", tc.tag, got, tc.list)
		}
		if got := IsReference(tc.tag); got != tc.reference {
			t.Fatalf("IsReference(%q) = %v, want %v", tc.tag, got, tc.reference)
		}
	}
}

func TestDerivesTypenames(t *testing.T) {
	if got := ExtensionsTypename("Product"); got != "ProductExtensions" {
		t.Fatalf("unexpected extensions typename %s", got)
	}
	if got := MetaobjectTypename("recipe_card"); got != "RecipeCardMetaobject" {
		t.Fatalf("unexpected metaobject typename %s", got)
	}
	if got := ConnectionTypename("RecipeMetaobject"); got != "RecipeMetaobjectConnection" {
		t.Fatalf("unexpected connection typename %s", got)
	}
	if got := NativeTypename("ProductExtensions"); got != "Product" {
		t.Fatalf("unexpected native typename %s", got)
	}
	if !IsMetaobjectType("TacoMetaobject") || IsMetaobjectType("Metaobject") {
		t.Fatalf("metaobject type detection should exclude the generic backend type")
	}
	if !IsExtensionsType("ProductExtensions") || IsExtensionsType("Product") {
		t.Fatalf("extensions type detection mismatch")
	}
}

func TestFieldNameCamelizesKeys(t *testing.T) {
	cases := map[string]string{
		"featured_recipe": "featuredRecipe",
		"title":           "title",
		"care-guide":      "careGuide",
		"size_2d":         "size2d",
	}
	for key, want := range cases {
		if got := FieldName(key); got != want {
			t.Fatalf("FieldName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestPluralize(t *testing.T) {
	cases := map[string]string{
		"recipeMetaobject": "recipeMetaobjects",
		"box":              "boxes",
		"category":         "categories",
		"day":              "days",
	}
	for word, want := range cases {
		if got := Pluralize(word); got != want {
			t.Fatalf("Pluralize(%q) = %q, want %q", word, got, want)
		}
	}
}

func TestLookupHonorsListWrapping(t *testing.T) {
	res, ok := Lookup("list.product_reference")
	if !ok {
		t.Fatalf("expected list.product_reference to resolve")
	}
	if !res.IsListReference() || res.Typename != "Product" {
		t.Fatalf("unexpected resolution %+v", res)
	}

	if _, ok := Lookup("list.money"); ok {
		t.Fatalf("money is not listable")
	}
	if !IsValueObject("dimension") || IsValueObject("number_integer") {
		t.Fatalf("value object classification mismatch")
	}
}

func TestResolveUnknownTagNamesField(t *testing.T) {
	_, err := Resolve("hologram", "display")
	if err == nil {
		t.Fatalf("expected unknown type error")
	}
	if !errors.Is(err, ErrUnknownMetafieldType) {
		t.Fatalf("expected ErrUnknownMetafieldType, got %v", err)
	}
	var typed *UnknownMetafieldTypeError
	if !errors.As(err, &typed) || typed.Key != "display" || typed.Type != "hologram" {
		t.Fatalf("expected typed error naming tag and key, got %v", err)
	}
}
