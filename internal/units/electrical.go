package units

import (
	"fmt"
	"math"
)

const (
	SymbolOhm  = "Ω"
	SymbolVolt = "V"
)

// prefixes indexed by exponent/3 + 5 (femto .. tera)
var prefixes = []string{"f", "p", "n", "µ", "m", "", "k", "M", "G", "T"}

const (
	minPrefixExp = -15
	maxPrefixExp = 12
)

// Resistance in ohms.
type Resistance float64

// Voltage in volts.
type Voltage float64

func (r Resistance) Format(precision int) string {
	return FormatSI(float64(r), precision, SymbolOhm)
}

func (r Resistance) String() string {
	return r.Format(2)
}

func (v Voltage) Format(precision int) string {
	return FormatSI(float64(v), precision, SymbolVolt)
}

func (v Voltage) String() string {
	return v.Format(3)
}

// FormatSI renders value with an SI prefix chosen by floor(log10(|value|)),
// banded into groups of three decades. Values outside femto..tera, zero and
// non-finite values are rendered without a prefix.
func FormatSI(value float64, precision int, symbol string) string {
	if precision < 0 {
		precision = 0
	}

	if value == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Sprintf("%.*f%s", precision, value, symbol)
	}

	exp := int(math.Floor(math.Log10(math.Abs(value))))
	band := floorDiv(exp, 3) * 3
	if band < minPrefixExp || band > maxPrefixExp {
		return fmt.Sprintf("%.*f%s", precision, roundTo(value, 0, precision), symbol)
	}

	scaled := roundTo(value, band, precision)
	// 999.999 rounds up to 1000.00; move to the next prefix.
	if math.Abs(scaled) >= 1000 && band+3 <= maxPrefixExp {
		band += 3
		scaled = roundTo(value, band, precision)
	}
	return fmt.Sprintf("%.*f%s%s", precision, scaled, prefixes[band/3+5], symbol)
}

// roundTo scales value by 10^-band and rounds half away from zero to
// precision digits. Scaling straight to an integer count avoids the binary
// representation error of the intermediate mantissa (1234.5 -> 1.235).
func roundTo(value float64, band, precision int) float64 {
	digits := math.Round(value * math.Pow10(precision-band))
	return digits / math.Pow10(precision)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
