package decoder

// RegisterCount is the number of addressable one-byte registers in a TD area.
const RegisterCount = 256

// RegisterValue is the stored byte of one written register.
type RegisterValue struct {
	Address uint8 `json:"address"`
	Value   uint8 `json:"value"`
}

// RegisterState is the decoder's shadow copy of the signalling registers.
// The zero value is a fresh state: every register 0 and never written.
type RegisterState struct {
	values  [RegisterCount]uint8
	updated [RegisterCount]bool
}

func (s *RegisterState) Value(address uint8) uint8 {
	return s.values[address]
}

// Updated reports whether address has received at least one value since
// construction or the last Reset.
func (s *RegisterState) Updated(address uint8) bool {
	return s.updated[address]
}

// Set stores v and returns the previous value and whether this was the first
// write to the address.
func (s *RegisterState) Set(address, v uint8) (old uint8, first bool) {
	old = s.values[address]
	first = !s.updated[address]
	s.values[address] = v
	s.updated[address] = true
	return old, first
}

// Bit returns the stored bit. ok is false when the register was never written,
// in which case the value is unknown rather than 0.
func (s *RegisterState) Bit(address, bit uint8) (value, ok bool) {
	if !s.updated[address] {
		return false, false
	}
	return bitOf(s.values[address], bit), true
}

func (s *RegisterState) Reset() {
	*s = RegisterState{}
}

// UpdatedCount returns how many registers have been written.
func (s *RegisterState) UpdatedCount() int {
	n := 0
	for _, u := range s.updated {
		if u {
			n++
		}
	}
	return n
}

// Written returns the value of every register written so far.
func (s *RegisterState) Written() []RegisterValue {
	var out []RegisterValue
	for a, u := range s.updated {
		if u {
			out = append(out, RegisterValue{Address: uint8(a), Value: s.values[a]})
		}
	}
	return out
}

func bitOf(b, bit uint8) bool {
	return (b>>bit)&1 == 1
}
