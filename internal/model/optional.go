package model

// Optional distinguishes a field that was not provided from one that was
// explicitly set to null. Merges never write a missing field.
//
// The zero value is missing.
type Optional[T any] struct {
	state optionalState
	value T
}

type optionalState uint8

const (
	stateMissing optionalState = iota
	stateNull
	stateValue
)

// Missing returns an Optional that was not provided.
func Missing[T any]() Optional[T] {
	return Optional[T]{}
}

// Null returns an Optional explicitly set to null.
func Null[T any]() Optional[T] {
	return Optional[T]{state: stateNull}
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{state: stateValue, value: v}
}

func (o Optional[T]) IsMissing() bool { return o.state == stateMissing }
func (o Optional[T]) IsNull() bool { return o.state == stateNull }
func (o Optional[T]) IsSet() bool { return o.state == stateValue }

// Get returns the value and whether one is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.state == stateValue
}

// Or returns the value, or fallback when none is present.
func (o Optional[T]) Or(fallback T) T {
	if o.state == stateValue {
		return o.value
	}
	return fallback
}
