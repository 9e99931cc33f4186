package size

import "fmt"

// Storage metric names.
const (
	Used            = "used"
	Total           = "total"
	UsedOther       = "used_other"
	Limit           = "limit"
	Reserved        = "reserved"
	UsedReduced     = "used_reduced"
	UnavailableFree = "unavailable_free"
	Free            = "free"
	Alloc           = "alloc"
	Real            = "real"
)

// StorageKeys is the fixed set of metrics a Storage aggregate may carry.
var StorageKeys = []string{
	Used, Total, UsedOther, Limit, Reserved, UsedReduced, UnavailableFree, Free, Alloc, Real,
}

// Storage maps metric names to sizes. A missing metric is absent, not zero.
type Storage map[string]Value

// Get returns the metric or zero when absent.
func (s Storage) Get(key string) Value {
	return s[key]
}

// Defaults sets every listed metric that is still absent to zero.
func (s Storage) Defaults(keys ...string) {
	for _, k := range keys {
		if _, ok := s[k]; !ok {
			s[k] = Value{}
		}
	}
}

// Reducer folds the collected values of one metric into a single value.
// Implementations take nothing but their arguments so they can run as
// partial aggregations anywhere.
type Reducer func(key string, values []Value) Value

// ReduceSum adds all values. Empty input yields zero.
func ReduceSum(_ string, values []Value) Value {
	var sum Value
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum
}

// ReduceMinimum returns the smallest value. Empty input yields Unbounded so
// an empty mirror set never depresses a sum elsewhere.
func ReduceMinimum(_ string, values []Value) Value {
	min := Unbounded
	for _, v := range values {
		if v.Cmp(min) < 0 {
			min = v
		}
	}
	return min
}

// ReduceStorage groups the non-empty metrics of all items by name, reduces
// each group and scales the result by mult/div. Nil items are skipped and
// metrics nobody reported are left out of the result.
func ReduceStorage(reducer Reducer, items []Storage, mult, div uint64) (Storage, error) {
	groups := make(map[string][]Value, len(StorageKeys))
	for _, item := range items {
		if item == nil {
			continue
		}
		for _, key := range StorageKeys {
			if v, ok := item[key]; ok && !v.IsZero() {
				groups[key] = append(groups[key], v)
			}
		}
	}

	out := make(Storage, len(groups))
	for _, key := range StorageKeys {
		values := groups[key]
		if len(values) == 0 {
			continue
		}
		scaled, err := reducer(key, values).Scale(mult, div)
		if err != nil {
			return nil, fmt.Errorf("reducing %s: %w", key, err)
		}
		out[key] = scaled
	}
	return out, nil
}
