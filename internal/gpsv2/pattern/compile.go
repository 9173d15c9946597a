package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrEmptyGroup      = errors.New("group has no branch")
	ErrUnnamedGroup    = errors.New("group has no name")
	ErrDuplicateGroup  = errors.New("duplicate group name")
	ErrCaptureInRepeat = errors.New("repeated fields cannot be captured")
	ErrBadLayout       = errors.New("unsupported layout")
	ErrBadBounds       = errors.New("invalid run length")
)

type fieldInfo struct {
	name string
	sub  int
}

type branchInfo struct {
	marker int
	start  int
	end    int
}

type groupInfo struct {
	name     string
	optional bool
	start    int
	end      int
	branches []branchInfo
}

// Pattern is a compiled grammar. It holds no mutable state and may be shared
// by any number of goroutines.
type Pattern struct {
	re     *regexp.Regexp
	fields []fieldInfo
	groups map[string]*groupInfo
	order  []*groupInfo
}

type compiler struct {
	b      strings.Builder
	sub    int
	fields []fieldInfo
	groups map[string]*groupInfo
	order  []*groupInfo
	repeat int
}

// Compile turns an ordered field list into a Pattern that matches whole sentences.
func Compile(fields ...Field) (*Pattern, error) {
	c := &compiler{groups: make(map[string]*groupInfo)}
	c.b.WriteString(`\A`)
	if err := c.emit(fields); err != nil {
		return nil, err
	}
	c.b.WriteString(`\z`)
	re, err := regexp.Compile(c.b.String())
	if err != nil {
		return nil, fmt.Errorf("compile grammar: %w", err)
	}
	if re.NumSubexp() != c.sub {
		return nil, fmt.Errorf("compile grammar: expected %d captures, got %d", c.sub, re.NumSubexp())
	}
	return &Pattern{re: re, fields: c.fields, groups: c.groups, order: c.order}, nil
}

// MustCompile is like Compile but panics on error. It is meant for package level grammars.
func MustCompile(fields ...Field) *Pattern {
	p, err := Compile(fields...)
	if err != nil {
		panic(err)
	}
	return p
}

// NumFields returns the number of captured fields across all branches.
func (p *Pattern) NumFields() int {
	return len(p.fields)
}

// Arity returns the number of fields captured by one branch of a group, or -1
// when the group or branch does not exist.
func (p *Pattern) Arity(group string, branch int) int {
	g, ok := p.groups[group]
	if !ok || branch < 0 || branch >= len(g.branches) {
		return -1
	}
	b := g.branches[branch]
	return b.end - b.start
}

func (p *Pattern) String() string {
	return p.re.String()
}

func (c *compiler) emit(fields []Field) error {
	for _, f := range fields {
		if err := c.emitOne(f); err != nil {
			return err
		}
		c.b.WriteString(regexp.QuoteMeta(f.suffix))
	}
	return nil
}

func (c *compiler) emitOne(f Field) error {
	switch f.kind {
	case kindLiteral:
		c.b.WriteString(regexp.QuoteMeta(f.text))
	case kindDigits, kindHex:
		expr, err := numberExpr(f)
		if err != nil {
			return err
		}
		return c.capture(f.name, expr)
	case kindChars:
		q, err := quantifier(f.min, f.max)
		if err != nil {
			return err
		}
		return c.capture(f.name, "["+quoteSet(f.text)+"]"+q)
	case kindText:
		q, err := quantifier(f.min, f.max)
		if err != nil {
			return err
		}
		return c.capture(f.name, "[^"+quoteSet(f.text)+"]"+q)
	case kindDate:
		return c.emitDate(f)
	case kindTime:
		if f.text != "HHmmss" {
			return fmt.Errorf("%w: time %q", ErrBadLayout, f.text)
		}
		return c.components(f, []string{"hour", "minute", "second"}, []string{`\d{2}`, `\d{2}`, `\d{2}`})
	case kindCoordinate:
		return c.emitCoord(f)
	case kindAlt, kindOpt:
		return c.emitGroup(f)
	case kindRepeat:
		if f.count <= 0 {
			return fmt.Errorf("%w: repeat %d", ErrBadBounds, f.count)
		}
		c.b.WriteString("(?:")
		c.repeat++
		if err := c.emit(f.branches[0]); err != nil {
			return err
		}
		c.repeat--
		c.b.WriteString("){" + strconv.Itoa(f.count) + "}")
	case kindAny:
		c.b.WriteString(".*")
	}
	return nil
}

func (c *compiler) capture(name, expr string) error {
	if name == "" {
		c.b.WriteString("(?:" + expr + ")")
		return nil
	}
	if c.repeat > 0 {
		return fmt.Errorf("%w: %s", ErrCaptureInRepeat, name)
	}
	c.sub++
	c.fields = append(c.fields, fieldInfo{name: name, sub: c.sub})
	c.b.WriteString("(" + expr + ")")
	return nil
}

func (c *compiler) joiner(f Field) {
	if f.joiner == "" {
		return
	}
	if f.joinOpt {
		c.b.WriteString("(?:" + regexp.QuoteMeta(f.joiner) + ")?")
	} else {
		c.b.WriteString(regexp.QuoteMeta(f.joiner))
	}
}

func (c *compiler) components(f Field, names, exprs []string) error {
	for i := range names {
		if i > 0 {
			c.joiner(f)
		}
		name := f.name + "." + names[i]
		if f.name == "" {
			name = ""
		}
		if err := c.capture(name, exprs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) emitDate(f Field) error {
	switch f.text {
	case "yyMMdd":
		return c.components(f, []string{"year", "month", "day"}, []string{`\d{2}`, `\d{2}`, `\d{2}`})
	case "ddMMyy":
		return c.components(f, []string{"day", "month", "year"}, []string{`\d{2}`, `\d{2}`, `\d{2}`})
	case "ddMMyyyy":
		return c.components(f, []string{"day", "month", "year"}, []string{`\d{2}`, `\d{2}`, `\d{4}`})
	case "yyyyMMdd":
		// the century and month classes keep this layout from swallowing ddMMyyyy dates
		return c.components(f, []string{"year", "month", "day"}, []string{`20\d{2}`, `0[1-9]|1[0-2]`, `\d{2}`})
	}
	return fmt.Errorf("%w: date %q", ErrBadLayout, f.text)
}

func (c *compiler) emitCoord(f Field) error {
	switch f.coord {
	case DEG:
		return c.capture(f.name, `-?\d+\.\d+`)
	case DEG_HEM:
		return c.components(f, []string{"value", "hemisphere"}, []string{`\d+\.\d+`, `[NSEW]`})
	case DEG_MIN_HEM:
		if err := c.components(Field{name: f.name}, []string{"degrees", "minutes"}, []string{`\d+?`, `\d{2}\.\d+`}); err != nil {
			return err
		}
		c.joiner(f)
		name := f.name + ".hemisphere"
		if f.name == "" {
			name = ""
		}
		return c.capture(name, `[NSEW]`)
	}
	return fmt.Errorf("%w: coordinate %d", ErrBadLayout, f.coord)
}

func (c *compiler) emitGroup(f Field) error {
	if f.name == "" {
		return ErrUnnamedGroup
	}
	if _, ok := c.groups[f.name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGroup, f.name)
	}
	if len(f.branches) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyGroup, f.name)
	}
	if c.repeat > 0 {
		return fmt.Errorf("%w: group %s", ErrCaptureInRepeat, f.name)
	}
	g := &groupInfo{name: f.name, optional: f.kind == kindOpt, start: len(c.fields)}
	c.groups[f.name] = g
	c.order = append(c.order, g)

	c.b.WriteString("(?:")
	for i, branch := range f.branches {
		if i > 0 {
			c.b.WriteString("|")
		}
		c.sub++
		bi := branchInfo{marker: c.sub, start: len(c.fields)}
		c.b.WriteString("(")
		if err := c.emit(branch); err != nil {
			return err
		}
		c.b.WriteString(")")
		bi.end = len(c.fields)
		g.branches = append(g.branches, bi)
	}
	c.b.WriteString(")")
	if g.optional {
		c.b.WriteString("?")
	}
	g.end = len(c.fields)
	return nil
}

func numberExpr(f Field) (string, error) {
	class := `\d`
	if f.kind == kindHex {
		class = `[0-9A-Fa-f]`
	}
	q, err := quantifier(f.min, f.max)
	if err != nil {
		return "", err
	}
	expr := class + q
	switch f.fraction {
	case fractionRequired:
		expr += `\.` + class + "+"
	case fractionOptional:
		expr += `\.?` + class + "*"
	}
	if f.signed {
		expr = "-?" + expr
	}
	return expr, nil
}

func quantifier(min, max int) (string, error) {
	switch {
	case min < 0 || (max >= 0 && max < min) || max == 0:
		return "", fmt.Errorf("%w: {%d,%d}", ErrBadBounds, min, max)
	case min == 1 && max == unbounded:
		return "+", nil
	case min == 0 && max == unbounded:
		return "*", nil
	case max == unbounded:
		return "{" + strconv.Itoa(min) + ",}", nil
	case min == max:
		return "{" + strconv.Itoa(min) + "}", nil
	}
	return "{" + strconv.Itoa(min) + "," + strconv.Itoa(max) + "}", nil
}

func quoteSet(set string) string {
	var b strings.Builder
	for _, r := range set {
		switch r {
		case '\\', ']', '[', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
