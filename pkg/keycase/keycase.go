// Package keycase rewrites JSON object keys between the caller convention
// (lowerCamel, "firstName") and the wire convention (snake_case, "first_name").
//
// The rules are deliberately literal so that each direction undoes the other:
// ToSnake turns every ASCII uppercase letter into '_' followed by its lowercase
// form, and ToCamel turns every '_' followed by an ASCII lowercase letter into
// that letter uppercased. Keys that already mix both conventions (a caller key
// holding "_x", a wire key holding an uppercase letter) do not survive a round
// trip; see the edge-case tests.
package keycase

import (
	"sort"
	"strings"
)

const wordSeparator = '_'

// ToSnake converts a caller-convention key to the wire convention.
func ToSnake(key string) string {
	var builder strings.Builder
	builder.Grow(len(key) + 4)
	for index := 0; index < len(key); index++ {
		character := key[index]
		if isUpper(character) {
			builder.WriteByte(wordSeparator)
			builder.WriteByte(character + ('a' - 'A'))
			continue
		}
		builder.WriteByte(character)
	}
	return builder.String()
}

// ToCamel converts a wire-convention key to the caller convention.
func ToCamel(key string) string {
	var builder strings.Builder
	builder.Grow(len(key))
	for index := 0; index < len(key); index++ {
		character := key[index]
		if character == wordSeparator && index+1 < len(key) && isLower(key[index+1]) {
			builder.WriteByte(key[index+1] - ('a' - 'A'))
			index++
			continue
		}
		builder.WriteByte(character)
	}
	return builder.String()
}

// ToWire rewrites every object key in a decoded JSON tree to the wire convention.
func ToWire(value any) any {
	return convertKeys(value, ToSnake)
}

// ToCaller rewrites every object key in a decoded JSON tree to the caller convention.
func ToCaller(value any) any {
	return convertKeys(value, ToCamel)
}

// convertKeys walks maps and slices produced by encoding/json. Scalars are
// returned untouched. Keys are visited in sorted order so that colliding
// renames resolve the same way on every run.
func convertKeys(value any, rename func(string) string) any {
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		converted := make(map[string]any, len(typed))
		for _, key := range keys {
			converted[rename(key)] = convertKeys(typed[key], rename)
		}
		return converted
	case []any:
		converted := make([]any, len(typed))
		for index, item := range typed {
			converted[index] = convertKeys(item, rename)
		}
		return converted
	default:
		return value
	}
}

func isUpper(character byte) bool {
	return character >= 'A' && character <= 'Z'
}

func isLower(character byte) bool {
	return character >= 'a' && character <= 'z'
}
