package datastore

import (
	"reflect"
	"strings"
	"time"
	"unicode"
)

// StructToMap converts a struct into a row keyed by snake_case field names.
// Embedded structs are flattened, nil pointers become NULL and times are
// stored as RFC 3339 text.
func StructToMap[T any](value T) map[string]any {
	result := make(map[string]any)
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return result
		}
		v = v.Elem()
	}

	appendStructFields(v, result)
	return result
}

func appendStructFields(v reflect.Value, result map[string]any) {
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		// Exported fields of an unexported embedded struct are still promoted.
		if field.Anonymous && value.Kind() == reflect.Struct {
			appendStructFields(value, result)
			continue
		}
		if !field.IsExported() {
			continue
		}

		key := toSnakeCase(field.Name)
		if tag := field.Tag.Get("db"); tag != "" {
			if tag == "-" {
				continue
			}
			key = tag
		}

		result[key] = normalizeValue(value)
	}
}

func normalizeValue(value reflect.Value) any {
	if !value.IsValid() {
		return nil
	}

	if value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}

	if value.Type() == reflect.TypeOf(time.Time{}) {
		return value.Interface().(time.Time).UTC().Format(time.RFC3339)
	}

	if value.Kind() == reflect.Bool {
		if value.Bool() {
			return 1
		}
		return 0
	}

	return value.Interface()
}

func toSnakeCase(input string) string {
	if input == "" {
		return ""
	}

	runes := []rune(input)
	var builder strings.Builder
	builder.Grow(len(runes) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				var next rune
				var nextNext rune
				if i+1 < len(runes) {
					next = runes[i+1]
				}
				if i+2 < len(runes) {
					nextNext = runes[i+2]
				}
				if unicode.IsLower(prev) || unicode.IsDigit(prev) {
					builder.WriteRune('_')
				} else if unicode.IsUpper(prev) && next != 0 && unicode.IsLower(next) {
					if nextNext == 0 || !unicode.IsUpper(nextNext) {
						builder.WriteRune('_')
					}
				}
			}
			builder.WriteRune(unicode.ToLower(r))
			continue
		}

		builder.WriteRune(unicode.ToLower(r))
	}

	return builder.String()
}
