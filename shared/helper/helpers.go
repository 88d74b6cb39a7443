package helper

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// GetTypedValueOf safely asserts the result of a getter function to the expected type T.
// Returns an error if type assertion fails.
func GetTypedValueOf[T any](getFn func() (any, error)) (T, error) {
	var zero T

	res, err := getFn()
	if err != nil {
		return zero, fmt.Errorf("failed to get value: %w", err)
	}

	val, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type: %T", res)
	}

	return val, nil
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[M ~map[K]V, K cmp.Ordered, V any](m M) []K {
	return slices.Sorted(maps.Keys(m))
}

// Set builds a membership map from the given items.
func Set[K comparable](items ...K) map[K]struct{} {
	s := make(map[K]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}
