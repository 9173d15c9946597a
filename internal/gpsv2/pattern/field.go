package pattern

type kind int

const (
	kindLiteral kind = iota
	kindDigits
	kindHex
	kindChars
	kindText
	kindDate
	kindTime
	kindCoordinate
	kindAlt
	kindOpt
	kindRepeat
	kindAny
)

const unbounded = -1

// CoordFormat selects how a coordinate is laid out on the wire.
type CoordFormat int

const (
	// DEG is a signed decimal degree value, one field.
	DEG CoordFormat = iota
	// DEG_HEM is an unsigned decimal degree value followed by a hemisphere letter.
	DEG_HEM
	// DEG_MIN_HEM is degrees immediately followed by decimal minutes, then a hemisphere letter.
	DEG_MIN_HEM
)

// Field is one element of a grammar. A Field with an empty name matches
// without being captured. Fields are values; modifiers return a copy.
type Field struct {
	kind     kind
	name     string
	text     string
	min      int
	max      int
	signed   bool
	fraction int
	joiner   string
	joinOpt  bool
	suffix   string
	coord    CoordFormat
	count    int
	branches [][]Field
}

const (
	noFraction = iota
	fractionRequired
	fractionOptional
)

// Lit matches text literally.
func Lit(text string) Field {
	return Field{kind: kindLiteral, text: text}
}

// Num matches a run of decimal digits.
func Num(name string) Field {
	return Field{kind: kindDigits, name: name, min: 1, max: unbounded}
}

// HexNum matches a run of hexadecimal digits.
func HexNum(name string) Field {
	return Field{kind: kindHex, name: name, min: 1, max: unbounded}
}

// Chars matches a run of characters taken from set.
func Chars(name, set string) Field {
	return Field{kind: kindChars, name: name, text: set, min: 1, max: unbounded}
}

// Text matches a run of characters up to (not including) any character of stop.
func Text(name, stop string) Field {
	return Field{kind: kindText, name: name, text: stop, min: 1, max: unbounded}
}

// Date matches three captured date components. Supported layouts are
// yyMMdd, ddMMyy, ddMMyyyy and yyyyMMdd.
func Date(layout string) Field {
	return Field{kind: kindDate, name: "date", text: layout}
}

// Time matches hour, minute and second as three captured components (layout HHmmss).
func Time(layout string) Field {
	return Field{kind: kindTime, name: "time", text: layout}
}

// Coord matches a coordinate in the given format. DEG_HEM and DEG_MIN_HEM
// capture the hemisphere letter as a separate field, joined by a comma unless
// Joined says otherwise.
func Coord(name string, format CoordFormat) Field {
	return Field{kind: kindCoordinate, name: name, coord: format, joiner: ","}
}

// Alt matches exactly one of the branches. The first branch that matches wins.
func Alt(name string, branches ...[]Field) Field {
	return Field{kind: kindAlt, name: name, branches: branches}
}

// Opt matches fields as a whole or not at all.
func Opt(name string, fields ...Field) Field {
	return Field{kind: kindOpt, name: name, branches: [][]Field{fields}}
}

// Repeat matches fields exactly n times. Repeated fields cannot be captured.
func Repeat(n int, fields ...Field) Field {
	return Field{kind: kindRepeat, count: n, branches: [][]Field{fields}}
}

// Any matches the rest of anything, including nothing.
func Any() Field {
	return Field{kind: kindAny}
}

// Seq groups fields into one branch of an Alt.
func Seq(fields ...Field) []Field {
	return fields
}

// Len fixes the run length.
func (f Field) Len(n int) Field {
	f.min, f.max = n, n
	return f
}

// Between bounds the run length; max < 0 leaves it unbounded. A zero min
// lets the field match empty text while still being captured.
func (f Field) Between(min, max int) Field {
	f.min, f.max = min, max
	return f
}

// Signed allows a leading minus sign.
func (f Field) Signed() Field {
	f.signed = true
	return f
}

// Decimal requires a fractional part.
func (f Field) Decimal() Field {
	f.fraction = fractionRequired
	return f
}

// Fraction allows an optional fractional part (d+.?d*).
func (f Field) Fraction() Field {
	f.fraction = fractionOptional
	return f
}

// Joined sets the text placed between the components of a date, time or
// coordinate. An optional joiner may be absent on the wire.
func (f Field) Joined(sep string, optional bool) Field {
	f.joiner = sep
	f.joinOpt = optional
	return f
}

// Then appends literal text after the field.
func (f Field) Then(text string) Field {
	f.suffix += text
	return f
}
