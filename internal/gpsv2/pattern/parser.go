package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoMoreFields  = errors.New("no more fields")
	ErrMalformed     = errors.New("malformed field")
	ErrUnknownGroup  = errors.New("unknown group")
	ErrGroupPosition = errors.New("cursor already past group")
)

// DateOrder tells DateTime in which order the date components were captured.
type DateOrder int

const (
	YMD DateOrder = iota
	DMY
)

// Parser is the cursor over one matched sentence. Fields are consumed once,
// in declaration order. It is not safe for concurrent use.
type Parser struct {
	p       *Pattern
	values  []string
	present []bool
	branch  map[string]int
	jumps   map[int]int
	pos     int
	err     error
}

// Parse matches sentence against the pattern and returns a cursor positioned
// on the first captured field.
func (p *Pattern) Parse(sentence string) (*Parser, bool) {
	idx := p.re.FindStringSubmatchIndex(sentence)
	if idx == nil {
		return nil, false
	}
	r := &Parser{
		p:       p,
		values:  make([]string, len(p.fields)),
		present: make([]bool, len(p.fields)),
		branch:  make(map[string]int, len(p.order)),
		jumps:   make(map[int]int),
	}
	for i, f := range p.fields {
		a, b := idx[2*f.sub], idx[2*f.sub+1]
		if a >= 0 {
			r.values[i] = sentence[a:b]
			r.present[i] = true
		}
	}
	for _, g := range p.order {
		r.branch[g.name] = -1
		for k, b := range g.branches {
			if idx[2*b.marker] >= 0 {
				r.branch[g.name] = k
				break
			}
		}
	}
	return r, true
}

// Matches reports whether sentence fits the pattern.
func (p *Pattern) Matches(sentence string) bool {
	return p.re.MatchString(sentence)
}

// Err returns the first error met while reading, if any.
func (r *Parser) Err() error {
	return r.err
}

func (r *Parser) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Parser) step(i int) int {
	return r.settle(i + 1)
}

// settle follows the jumps registered by Branch from index i.
func (r *Parser) settle(i int) int {
	for {
		to, ok := r.jumps[i]
		if !ok {
			return i
		}
		i = to
	}
}

func (r *Parser) next() (string, string, bool) {
	if r.err != nil {
		return "", "", false
	}
	if r.pos >= len(r.values) {
		r.fail(ErrNoMoreFields)
		return "", "", false
	}
	i := r.pos
	r.pos = r.step(i)
	return r.p.fields[i].name, r.values[i], true
}

// Next returns the raw text of the next field. A field that did not take part
// in the match reads as the empty string.
func (r *Parser) Next() string {
	_, v, _ := r.next()
	return v
}

// Present reports whether the next field took part in the match.
func (r *Parser) Present() bool {
	return r.err == nil && r.pos < len(r.values) && r.present[r.pos]
}

// HasNext reports whether the next n fields all took part in the match. When
// they did not, the n fields are skipped so the cursor stays aligned.
func (r *Parser) HasNext(n int) bool {
	if r.err != nil {
		return false
	}
	i := r.pos
	for k := 0; k < n; k++ {
		if i >= len(r.values) || !r.present[i] {
			r.Skip(n)
			return false
		}
		i = r.step(i)
	}
	return true
}

// Skip moves past n fields without reading them.
func (r *Parser) Skip(n int) {
	for k := 0; k < n && r.pos < len(r.values); k++ {
		r.pos = r.step(r.pos)
	}
}

// Remaining counts the captured fields left to read.
func (r *Parser) Remaining() int {
	n := 0
	for i := r.pos; i < len(r.values); i = r.step(i) {
		if r.present[i] {
			n++
		}
	}
	return n
}

// Branch returns the index of the branch that matched in group, or -1 when an
// optional group is absent. The cursor moves onto the first field of that
// branch; once the branch's fields are consumed it continues after the group.
func (r *Parser) Branch(group string) int {
	if r.err != nil {
		return -1
	}
	g, ok := r.p.groups[group]
	if !ok {
		r.fail(fmt.Errorf("%w: %s", ErrUnknownGroup, group))
		return -1
	}
	for r.pos < g.start {
		r.pos = r.step(r.pos)
	}
	if r.pos > g.start {
		r.fail(fmt.Errorf("%w: %s", ErrGroupPosition, group))
		return -1
	}
	k := r.branch[group]
	if k < 0 {
		r.pos = r.settle(g.end)
		return -1
	}
	b := g.branches[k]
	switch {
	case b.start == b.end:
		r.pos = r.settle(g.end)
	case b.end != g.end:
		r.jumps[b.end] = g.end
		r.pos = b.start
	default:
		r.pos = b.start
	}
	return k
}

func (r *Parser) malformed(name, value string, err error) {
	r.fail(fmt.Errorf("%w: %s=%q: %v", ErrMalformed, name, value, err))
}

func (r *Parser) integer(def int64, base int) int64 {
	name, v, ok := r.next()
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, base, 64)
	if err != nil {
		r.malformed(name, v, err)
		return def
	}
	return n
}

// Int reads a decimal integer; an empty field yields def.
func (r *Parser) Int(def int) int {
	return int(r.integer(int64(def), 10))
}

// Int64 reads a decimal integer; an empty field yields def.
func (r *Parser) Int64(def int64) int64 {
	return r.integer(def, 10)
}

// Hex reads a hexadecimal integer; an empty field yields def.
func (r *Parser) Hex(def int64) int64 {
	return r.integer(def, 16)
}

// Bin reads a string of binary digits; an empty field yields def.
func (r *Parser) Bin(def int64) int64 {
	return r.integer(def, 2)
}

// Float reads a floating point number; an empty field yields def.
func (r *Parser) Float(def float64) float64 {
	name, v, ok := r.next()
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.malformed(name, v, err)
		return def
	}
	return f
}

// DateTime reads three date fields in the given order followed by hour,
// minute and second. Two digit years are taken as 20yy. The result is UTC.
func (r *Parser) DateTime(order DateOrder) time.Time {
	var y, mo, d int
	switch order {
	case DMY:
		d, mo, y = r.Int(-1), r.Int(-1), r.Int(-1)
	default:
		y, mo, d = r.Int(-1), r.Int(-1), r.Int(-1)
	}
	h, mi, s := r.Int(-1), r.Int(-1), r.Int(-1)
	if r.err != nil {
		return time.Time{}
	}
	if y >= 0 && y < 100 {
		y += 2000
	}
	if y < 0 || mo < 1 || mo > 12 || d < 1 || d > 31 || h < 0 || h > 23 || mi < 0 || mi > 59 || s < 0 || s > 59 {
		r.fail(fmt.Errorf("%w: date %04d-%02d-%02d %02d:%02d:%02d", ErrMalformed, y, mo, d, h, mi, s))
		return time.Time{}
	}
	t := time.Date(y, time.Month(mo), d, h, mi, s, 0, time.UTC)
	if t.Day() != d {
		r.fail(fmt.Errorf("%w: date %04d-%02d-%02d", ErrMalformed, y, mo, d))
		return time.Time{}
	}
	return t
}

// Coordinate reads a coordinate in the given format and returns signed decimal degrees.
func (r *Parser) Coordinate(format CoordFormat) float64 {
	var v float64
	switch format {
	case DEG:
		return r.Float(0)
	case DEG_HEM:
		v = r.Float(0)
	case DEG_MIN_HEM:
		deg := r.Int(0)
		v = float64(deg) + r.Float(0)/60
	}
	hem := strings.ToUpper(r.Next())
	if hem == "S" || hem == "W" {
		v = -v
	}
	return v
}
