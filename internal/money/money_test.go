package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		input string
		want  int64
		err   error
	}{
		{input: "1000", want: 100000000000},
		{input: "0.00000001", want: 1},
		{input: "1000.82191780", want: 100082191780},
		{input: " 42.5 ", want: 4250000000},
		{input: "-5", want: -500000000},
		{input: "+1", want: 100000000},
		{input: ".5", want: 50000000},
		{input: "1.000000001", err: ErrTooManyDecimals},
		{input: "", err: ErrInvalidAmount},
		{input: "abc", err: ErrInvalidAmount},
		{input: "1.2.3", err: ErrInvalidAmount},
		{input: "1,5", err: ErrInvalidAmount},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.input)
		if tc.err != nil {
			if err != tc.err {
				t.Fatalf("ParseUnits(%q): expected %v, got %v", tc.input, tc.err, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseUnits(%q): unexpected error %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("ParseUnits(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	if got := FormatUnits(100082191780); got != "1000.82191780" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatUnits(0); got != "0.00000000" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatUnits(-1); got != "-0.00000001" {
		t.Fatalf("unexpected format: %s", got)
	}
}

func TestRound8Truncates(t *testing.T) {
	// 6/73 repeats 08219178; the ninth digit would round up under
	// half-away rules, truncation must not.
	value := decimal.RequireFromString("0.8219178082191780821")
	if got := Round8(value).String(); got != "0.8219178" {
		t.Fatalf("unexpected rounding: %s", got)
	}
	if got := ToUnits(value); got != 82191780 {
		t.Fatalf("unexpected units: %d", got)
	}
	negative := decimal.RequireFromString("-0.123456789")
	if got := ToUnits(negative); got != -12345678 {
		t.Fatalf("negative truncation should move toward zero, got %d", got)
	}
}

func TestUnitsRoundTrip(t *testing.T) {
	units := int64(90328767123)
	if got := ToUnits(FromUnits(units)); got != units {
		t.Fatalf("round trip changed value: %d != %d", got, units)
	}
}
