package utils

import (
	"sort"

	"github.com/jfcg/sorty/v2"
	"golang.org/x/exp/constraints"
)

// NewIntArray returns the integers in [start, end).
func NewIntArray(start int, end int) []int {
	arr := make([]int, end-start)
	for i := range arr {
		arr[i] = start + i
	}
	return arr
}

func Map[T any, O any](items []T, f func(T) O) []O {
	mapped := make([]O, len(items))
	for i, item := range items {
		mapped[i] = f(item)
	}
	return mapped
}

func Filter[T any](items []T, condition func(T) bool) []T {
	filtered := make([]T, 0, len(items))
	for _, item := range items {
		if condition(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func Find[T any](items []T, f func(T) bool) *T {
	for i := range items {
		if f(items[i]) {
			return &items[i]
		}
	}
	return nil
}

func Contains[T any](items []T, f func(T) bool) bool {
	return Find(items, f) != nil
}

func ContainsElement[T comparable](items []T, element T) bool {
	for _, item := range items {
		if item == element {
			return true
		}
	}
	return false
}

func Count[T any](items []T, f func(T) bool) int {
	n := 0
	for _, item := range items {
		if f(item) {
			n++
		}
	}
	return n
}

func GetKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func GetValues[K comparable, V any](m map[K]V) []V {
	values := make([]V, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	return values
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Mix64 is the splitmix64 finalizer. Used to derive statistically
// independent seeds from a root seed without sharing generator state.
func Mix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Sort sorts items in place with sorty's parallel sort.
func Sort[T any](items []T, less func(T, T) bool) {
	lesswap := func(i, k, r, s int) bool {
		if less(items[i], items[k]) {
			if r != s {
				items[r], items[s] = items[s], items[r]
			}
			return true
		}
		return false
	}
	sorty.Sort(len(items), lesswap)
}

func SortOrdered[T constraints.Ordered](items []T) {
	Sort(items, func(a, b T) bool {
		return a < b
	})
}

// SortStable is a deterministic (stable) sort for small slices where the
// comparison is not a strict weak order over unique keys.
func SortStable[T any](items []T, less func(T, T) bool) {
	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j])
	})
}
