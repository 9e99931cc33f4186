// Package size implements byte counts that stay exact at multi-exabyte scale.
//
// A Value keeps a sub-petabyte remainder and a separate petabyte counter, so
// aggregates summed across a whole fleet never go through a float64 and never
// lose integer precision past 2^53 bytes.
package size

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/bits"
)

const (
	Kilobyte uint64 = 1 << 10
	Megabyte uint64 = 1 << 20
	Gigabyte uint64 = 1 << 30
	Terabyte uint64 = 1 << 40
	Petabyte uint64 = 1 << 50

	petaShift = 50
)

var (
	Exabyte   = Value{peta: 1 << 10}
	Zettabyte = Value{peta: 1 << 20}
	Yottabyte = Value{peta: 1 << 30}

	// Unbounded is the "no constraint" marker returned by ReduceMinimum on
	// empty input. It compares greater than every other value.
	Unbounded = Value{n: Petabyte - 1, peta: math.MaxUint64}
)

var (
	ErrScaleByZero = errors.New("size: scale by zero")
	ErrOverflow    = errors.New("size: value overflow")
)

// Value is a non-negative byte count. The zero value is zero bytes.
//
// A Value with no petabytes is compact and encodes as a plain JSON number;
// otherwise it encodes as {"n": remainder, "peta": petabytes}.
type Value struct {
	n    uint64 // always < Petabyte
	peta uint64
}

// ToBigInt normalizes a remainder/petabyte pair into canonical form,
// carrying every whole petabyte of n into the petabyte counter.
func ToBigInt(n, peta uint64) Value {
	carry := n >> petaShift
	sum, overflow := bits.Add64(peta, carry, 0)
	if overflow != 0 {
		return Unbounded
	}
	return Value{n: n & (Petabyte - 1), peta: sum}
}

// FromBytes returns the Value for a plain byte count.
func FromBytes(b uint64) Value {
	return ToBigInt(b, 0)
}

// FromFloat truncates the fractional part of f. NaN and negative input map to
// zero. Numbers decoded from JSON arrive this way, so values above 2^53 are
// already as precise as the sender made them.
func FromFloat(f float64) Value {
	if math.IsNaN(f) || f <= 0 {
		return Value{}
	}
	f = math.Floor(f)
	if f < 1<<63 {
		return FromBytes(uint64(f))
	}
	peta := math.Floor(f / float64(Petabyte))
	if peta >= 1<<64 {
		return Unbounded
	}
	rem := f - peta*float64(Petabyte)
	return ToBigInt(uint64(rem), uint64(peta))
}

// N returns the sub-petabyte remainder in bytes.
func (v Value) N() uint64 { return v.n }

// Peta returns the number of whole petabytes.
func (v Value) Peta() uint64 { return v.peta }

// IsCompact reports whether v fits in the plain-number form.
func (v Value) IsCompact() bool { return v.peta == 0 }

func (v Value) IsZero() bool { return v.n == 0 && v.peta == 0 }

func (v Value) IsUnbounded() bool { return v == Unbounded }

// Cmp compares petabytes first, then the remainder.
func (v Value) Cmp(o Value) int {
	switch {
	case v.peta < o.peta:
		return -1
	case v.peta > o.peta:
		return 1
	case v.n < o.n:
		return -1
	case v.n > o.n:
		return 1
	}
	return 0
}

// Add returns v+o, saturating at Unbounded.
func (v Value) Add(o Value) Value {
	if v.IsUnbounded() || o.IsUnbounded() {
		return Unbounded
	}
	peta, carry := bits.Add64(v.peta, o.peta, 0)
	if carry != 0 {
		return Unbounded
	}
	// both remainders are below 2^50, the sum cannot wrap
	return ToBigInt(v.n+o.n, peta)
}

// Scale computes v * mult / div, truncated, without ever leaving integer
// arithmetic. The petabyte component is scaled on its own and its remainder
// is carried down into bytes before the final division.
func (v Value) Scale(mult, div uint64) (Value, error) {
	if div == 0 {
		return Value{}, ErrScaleByZero
	}
	if mult == div {
		return v, nil
	}

	hi, lo := bits.Mul64(v.peta, mult)
	if hi >= div {
		return Value{}, ErrOverflow
	}
	peta, petaMod := bits.Div64(hi, lo, div)

	// bytes = petaMod*Petabyte + n*mult, as a 128-bit number
	h1, l1 := bits.Mul64(petaMod, Petabyte)
	h2, l2 := bits.Mul64(v.n, mult)
	l, c := bits.Add64(l1, l2, 0)
	h, _ := bits.Add64(h1, h2, c)

	qh := h / div
	ql, _ := bits.Div64(h%div, l, div)

	if qh>>petaShift != 0 {
		return Value{}, ErrOverflow
	}
	extra := qh<<(64-petaShift) | ql>>petaShift
	peta, c = bits.Add64(peta, extra, 0)
	if c != 0 {
		return Value{}, ErrOverflow
	}
	return Value{n: ql & (Petabyte - 1), peta: peta}, nil
}

// Scale is the free-function form of Value.Scale.
func Scale(v Value, mult, div uint64) (Value, error) {
	return v.Scale(mult, div)
}

// Uint64 returns v as a plain byte count. ok is false when v does not fit.
func (v Value) Uint64() (b uint64, ok bool) {
	if v.peta > math.MaxUint64>>petaShift {
		return 0, false
	}
	return v.peta<<petaShift | v.n, true
}

// Big returns v as an arbitrary precision integer.
func (v Value) Big() *big.Int {
	b := new(big.Int).SetUint64(v.peta)
	b.Lsh(b, petaShift)
	return b.Or(b, new(big.Int).SetUint64(v.n))
}

// Float64 is lossy above 2^53 bytes. Use it only for gauges and display.
func (v Value) Float64() float64 {
	return float64(v.peta)*float64(Petabyte) + float64(v.n)
}

func (v Value) String() string {
	return v.Big().String()
}

type bigForm struct {
	N    uint64 `json:"n"`
	Peta uint64 `json:"peta"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsCompact() {
		return []byte(fmt.Sprintf("%d", v.n)), nil
	}
	return json.Marshal(bigForm{N: v.n, Peta: v.peta})
}

// UnmarshalJSON accepts either a plain number or the {"n", "peta"} object
// and normalizes the result.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var raw struct {
			N    json.Number `json:"n"`
			Peta json.Number `json:"peta"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decoding size object: %w", err)
		}
		n, err := numberValue(raw.N)
		if err != nil {
			return err
		}
		peta, err := petaCount(raw.Peta)
		if err != nil {
			return err
		}
		*v = Value{peta: peta}.Add(n)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("decoding size: %w", err)
	}
	parsed, err := numberValue(num)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// petaCount decodes the petabyte counter, which spans the full uint64 range.
func petaCount(num json.Number) (uint64, error) {
	if num == "" {
		return 0, nil
	}
	i, ok := new(big.Int).SetString(string(num), 10)
	if !ok {
		return 0, fmt.Errorf("invalid petabyte count %q", num)
	}
	if i.Sign() <= 0 {
		return 0, nil
	}
	if !i.IsUint64() {
		return 0, ErrOverflow
	}
	return i.Uint64(), nil
}

func numberValue(num json.Number) (Value, error) {
	if num == "" {
		return Value{}, nil
	}
	if i, ok := new(big.Int).SetString(string(num), 10); ok {
		if i.Sign() <= 0 {
			return Value{}, nil
		}
		if i.BitLen() > 64+petaShift {
			return Value{}, ErrOverflow
		}
		lo := new(big.Int).And(i, new(big.Int).SetUint64(Petabyte-1))
		hi := new(big.Int).Rsh(i, petaShift)
		return Value{n: lo.Uint64(), peta: hi.Uint64()}, nil
	}
	f, err := num.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("invalid size %q: %w", num, err)
	}
	return FromFloat(f), nil
}
