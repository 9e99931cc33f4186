package size

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"math/rand"
	"testing"
)

func TestRoundTripPrecision(t *testing.T) {
	tests := []uint64{
		0,
		1,
		Petabyte - 1,
		Petabyte,
		Petabyte + 1,
		1<<53 + 1,
		3*Petabyte + 12345,
		1 << 62,
		1<<63 - 1,
		1 << 63,
		math.MaxUint64,
	}
	for _, b := range tests {
		v := FromBytes(b)
		got, ok := v.Uint64()
		if !ok {
			t.Errorf("FromBytes(%d).Uint64() overflowed", b)
			continue
		}
		if got != b {
			t.Errorf("round trip of %d = %d", b, got)
		}
		if v.N() >= Petabyte {
			t.Errorf("FromBytes(%d) remainder %d not normalized", b, v.N())
		}
	}
}

func TestToBigIntCarry(t *testing.T) {
	v := ToBigInt(2*Petabyte+7, 1)
	if v.Peta() != 3 || v.N() != 7 {
		t.Fatalf("expected {7, 3}, got {%d, %d}", v.N(), v.Peta())
	}
	if v.IsCompact() {
		t.Fatal("value with petabytes must not be compact")
	}
	if !FromBytes(Petabyte - 1).IsCompact() {
		t.Fatal("sub-petabyte value should be compact")
	}
}

func TestFromFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want uint64
	}{
		{0, 0},
		{-5, 0},
		{math.NaN(), 0},
		{1.9, 1},
		{float64(Petabyte) + 3.5, Petabyte + 3},
		{1 << 63, 1 << 63},
	}
	for _, tt := range tests {
		got, _ := FromFloat(tt.in).Uint64()
		if got != tt.want {
			t.Errorf("FromFloat(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCmp(t *testing.T) {
	small := ToBigInt(Petabyte-1, 1)
	large := ToBigInt(0, 2)
	if small.Cmp(large) >= 0 {
		t.Fatal("peta should dominate the comparison")
	}
	if large.Cmp(small) <= 0 {
		t.Fatal("expected large > small")
	}
	if small.Cmp(small) != 0 {
		t.Fatal("expected equality")
	}
	if large.Cmp(Unbounded) >= 0 {
		t.Fatal("Unbounded must compare greater than any value")
	}
}

func TestAddCarriesIntoPeta(t *testing.T) {
	v := FromBytes(Petabyte - 1).Add(FromBytes(2))
	if v.Peta() != 1 || v.N() != 1 {
		t.Fatalf("expected {1, 1}, got {%d, %d}", v.N(), v.Peta())
	}
	if !ToBigInt(0, math.MaxUint64).Add(ToBigInt(0, 1)).IsUnbounded() {
		t.Fatal("overflowing add should saturate")
	}
}

func TestScaleIdentity(t *testing.T) {
	values := []Value{
		{},
		FromBytes(100),
		FromBytes(Petabyte + 1),
		ToBigInt(12345, 987654321),
	}
	for _, v := range values {
		for _, k := range []uint64{1, 2, 3, 7, 1 << 20} {
			got, err := v.Scale(k, k)
			if err != nil {
				t.Fatal(err)
			}
			if got != v {
				t.Errorf("Scale(%s, %d, %d) = %s", v, k, k, got)
			}
			// force the general path: multiply then divide back
			up, err := v.Scale(k, 1)
			if err != nil {
				t.Fatal(err)
			}
			down, err := up.Scale(1, k)
			if err != nil {
				t.Fatal(err)
			}
			if down != v {
				t.Errorf("Scale(Scale(%s, %d, 1), 1, %d) = %s", v, k, k, down)
			}
		}
	}
}

func TestScaleMatchesBigArithmetic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		v := ToBigInt(rng.Uint64()%Petabyte, rng.Uint64()>>20)
		mult := uint64(rng.Intn(16) + 1)
		div := uint64(rng.Intn(16) + 1)

		got, err := v.Scale(mult, div)
		if err != nil {
			t.Fatalf("Scale(%s, %d, %d): %v", v, mult, div, err)
		}
		want := new(big.Int).Mul(v.Big(), new(big.Int).SetUint64(mult))
		want.Quo(want, new(big.Int).SetUint64(div))
		if got.Big().Cmp(want) != 0 {
			t.Fatalf("Scale(%s, %d, %d) = %s, want %s", v, mult, div, got, want)
		}
		if got.N() >= Petabyte {
			t.Fatalf("Scale result remainder %d not normalized", got.N())
		}
	}
}

func TestScaleSplitsPetabytes(t *testing.T) {
	v := ToBigInt(5, 3)
	got, err := v.Scale(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Peta() != 1 || got.N() != Petabyte/2+2 {
		t.Fatalf("expected {%d, 1}, got {%d, %d}", Petabyte/2+2, got.N(), got.Peta())
	}
}

func TestScaleByZero(t *testing.T) {
	_, err := FromBytes(10).Scale(1, 0)
	if !errors.Is(err, ErrScaleByZero) {
		t.Fatalf("expected ErrScaleByZero, got %v", err)
	}
}

func TestScaleOverflow(t *testing.T) {
	_, err := ToBigInt(0, math.MaxUint64/2).Scale(4, 1)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(FromBytes(42))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "42" {
		t.Errorf("compact value encoded as %s", data)
	}

	data, err = json.Marshal(ToBigInt(5, 2))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"n":5,"peta":2}` {
		t.Errorf("big value encoded as %s", data)
	}

	tests := []struct {
		in   string
		want Value
	}{
		{`42`, FromBytes(42)},
		{`1.9`, FromBytes(1)},
		{`null`, Value{}},
		{`18446744073709551615`, FromBytes(math.MaxUint64)},
		{`{"n":5,"peta":2}`, ToBigInt(5, 2)},
		{`{"n":1125899906842625,"peta":1}`, ToBigInt(1, 2)},
	}
	for _, tt := range tests {
		var v Value
		if err := json.Unmarshal([]byte(tt.in), &v); err != nil {
			t.Errorf("unmarshal %s: %v", tt.in, err)
			continue
		}
		if v != tt.want {
			t.Errorf("unmarshal %s = %s, want %s", tt.in, v, tt.want)
		}
	}

	var v Value
	if err := json.Unmarshal([]byte(`"abc"`), &v); err == nil {
		t.Error("expected error for string input")
	}
}

func TestJSONTopOfRange(t *testing.T) {
	for _, want := range []Value{
		ToBigInt(7, 1<<50),
		ToBigInt(Petabyte-1, math.MaxUint64-1),
		Unbounded,
	} {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatal(err)
		}
		var got Value
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != want {
			t.Errorf("round trip of %s gave %s", data, got)
		}
	}

	var v Value
	if err := json.Unmarshal([]byte(`{"n":0,"peta":18446744073709551616}`), &v); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow for peta above uint64, got %v", err)
	}
}
