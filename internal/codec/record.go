package codec

// Value is one decoded field. Numeric kinds fill Int, Bytes fills Raw.
type Value struct {
	Name string
	Int  int64
	Raw  []byte
}

// Record is a decoded frame, in layout order.
type Record []Value

// Get returns the named field.
func (r Record) Get(name string) (Value, bool) {
	for _, v := range r {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// Int returns the named numeric field, or zero when absent.
func (r Record) Int(name string) int64 {
	v, _ := r.Get(name)
	return v.Int
}

// Raw returns the named byte field, or nil when absent.
func (r Record) Raw(name string) []byte {
	v, _ := r.Get(name)
	return v.Raw
}

// Values returns the field values in layout order, suitable for feeding
// back into EncodeRequest.
func (r Record) Values() []any {
	out := make([]any, len(r))
	for i, v := range r {
		if v.Raw != nil {
			out[i] = v.Raw
		} else {
			out[i] = v.Int
		}
	}
	return out
}
