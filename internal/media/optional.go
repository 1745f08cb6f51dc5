package media

// Optional describes a patch field that can be left untouched, replaced, or cleared.
// The zero value leaves the field untouched.
type Optional[T any] struct {
	set   bool
	value *T
}

// Some returns an Optional that replaces the field with value.
func Some[T any](value T) Optional[T] {
	return Optional[T]{set: true, value: &value}
}

// None returns an Optional that clears the field.
func None[T any]() Optional[T] {
	return Optional[T]{set: true}
}

// IsSet reports whether the patch touches the field at all.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// Value returns the replacement value; ok is false when untouched or cleared.
func (o Optional[T]) Value() (T, bool) {
	if !o.set || o.value == nil {
		var zero T
		return zero, false
	}
	return *o.value, true
}

func (o Optional[T]) applyTo(current *T) *T {
	if !o.set {
		return clonePointer(current)
	}
	return clonePointer(o.value)
}

// documentValue is the value sent to the document store; cleared fields become null.
func (o Optional[T]) documentValue() any {
	if o.value == nil {
		return nil
	}
	return *o.value
}
