package fileutil

import "sort"

func DedupeStrings(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// SortedUnique dedupes and sorts in one pass; nil stays nil.
func SortedUnique(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := DedupeStrings(items)
	sort.Strings(out)
	return out
}

func MapKeysSorted[V any](values map[string]V) []string {
	out := make([]string, 0, len(values))
	for key := range values {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func ToSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, path := range paths {
		set[path] = true
	}
	return set
}
