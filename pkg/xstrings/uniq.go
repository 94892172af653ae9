package xstrings

// Unique returns the elements of s without repetitions, keeping the first
// occurrence of each.
func Unique[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	list := make([]T, 0, len(s))
	for _, entry := range s {
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		list = append(list, entry)
	}
	return list
}
