package utils

// FindIndex returns the index of the first element equal to item, or -1.
// With an interface T, comparing elements whose dynamic type is not comparable panics, so
// game actions must be comparable values.
func FindIndex[T comparable](slice []T, item T) int {
	for i := range slice {
		if slice[i] == item {
			return i
		}
	}
	return -1
}
