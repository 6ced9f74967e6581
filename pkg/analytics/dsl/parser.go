package dsl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of literal dates inside parameter expressions.
const DateLayout = "2006-01-02"

type Unit int

const (
	Days Unit = iota
	Weeks
	Months
	Years
)

func (u Unit) String() string {
	switch u {
	case Weeks:
		return "w"
	case Months:
		return "m"
	case Years:
		return "y"
	default:
		return "d"
	}
}

// Offset shifts a date by a signed amount of one unit.
type Offset struct {
	Amount int
	Unit   Unit
}

// Offsets apply left to right.
type Offsets []Offset

// Apply shifts t by every offset in order. Month and year shifts clamp to the
// last day of the target month, so Mar 31 - 1m is the end of February.
func (o Offsets) Apply(t time.Time) time.Time {
	for _, off := range o {
		switch off.Unit {
		case Days:
			t = t.AddDate(0, 0, off.Amount)
		case Weeks:
			t = t.AddDate(0, 0, 7*off.Amount)
		case Months:
			t = addMonths(t, off.Amount)
		case Years:
			t = addMonths(t, 12*off.Amount)
		}
	}
	return t
}

func (o Offsets) String() string {
	var b strings.Builder
	for _, off := range o {
		if off.Amount >= 0 {
			b.WriteByte('+')
		}
		b.WriteString(strconv.Itoa(off.Amount))
		b.WriteString(off.Unit.String())
	}
	return b.String()
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// ParamExpr is a parsed parameter mapping: a literal, a reference to another
// parameter, or a relative shift of either.
type ParamExpr interface {
	String() string
	isParamExpr()
}

type Literal struct {
	Value interface{}
}

type Ref struct {
	Name string
}

type Relative struct {
	Base    ParamExpr
	Offsets Offsets
}

func (Literal) isParamExpr()  {}
func (Ref) isParamExpr()      {}
func (Relative) isParamExpr() {}

func (l Literal) String() string {
	if t, ok := l.Value.(time.Time); ok {
		return t.Format(DateLayout)
	}
	return fmt.Sprintf("'%v'", l.Value)
}

func (r Ref) String() string { return "${" + r.Name + "}" }

func (r Relative) String() string {
	base := r.Base.String()
	if ref, ok := r.Base.(Ref); ok {
		base = ref.Name
	}
	return "${" + base + r.Offsets.String() + "}"
}

var (
	wrapperRegex = regexp.MustCompile(`^\$\{(.*)\}$`)
	dateRegex    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
	nameRegex    = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_.]*)`)
	quotedRegex  = regexp.MustCompile(`^'([^']*)'$`)
	offsetRegex  = regexp.MustCompile(`^\s*,?\s*([+-])\s*(\d+)\s*(years|year|months|month|weeks|week|days|day|y|m|w|d)\b`)
)

// ParseParam parses expressions such as "${endDate-1m-1d}", "endDate -1 month, -1 day",
// "2023-03-15+2w" or "'loc-7'".
func ParseParam(input string) (ParamExpr, error) {
	expr := strings.TrimSpace(input)
	if match := wrapperRegex.FindStringSubmatch(expr); len(match) == 2 {
		expr = strings.TrimSpace(match[1])
	}
	if expr == "" {
		return nil, fmt.Errorf("parameter expression is empty")
	}
	if match := quotedRegex.FindStringSubmatch(expr); len(match) == 2 {
		return Literal{Value: match[1]}, nil
	}

	var base ParamExpr
	rest := expr
	if match := dateRegex.FindStringSubmatch(expr); len(match) == 2 {
		date, err := time.Parse(DateLayout, match[1])
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", match[1], err)
		}
		base = Literal{Value: date}
		rest = expr[len(match[1]):]
	} else if match := nameRegex.FindStringSubmatch(expr); len(match) == 2 {
		base = Ref{Name: match[1]}
		rest = expr[len(match[1]):]
	} else {
		return nil, fmt.Errorf("parameter expression %q must start with a name or a date", input)
	}

	offsets, err := parseOffsets(rest)
	if err != nil {
		return nil, fmt.Errorf("parameter expression %q: %w", input, err)
	}
	if len(offsets) == 0 {
		return base, nil
	}
	return Relative{Base: base, Offsets: offsets}, nil
}

// ParseOffsets parses a bare offset list such as "-1 month, -1 day" or "+3m".
func ParseOffsets(input string) (Offsets, error) {
	return parseOffsets(input)
}

func parseOffsets(input string) (Offsets, error) {
	var offsets Offsets
	rest := strings.ToLower(input)
	for strings.TrimSpace(rest) != "" {
		match := offsetRegex.FindStringSubmatch(rest)
		if len(match) < 4 {
			return nil, fmt.Errorf("unexpected %q", strings.TrimSpace(rest))
		}
		amount, err := strconv.Atoi(match[2])
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q", match[2])
		}
		if match[1] == "-" {
			amount = -amount
		}
		offsets = append(offsets, Offset{Amount: amount, Unit: unitOf(match[3])})
		rest = rest[len(match[0]):]
	}
	return offsets, nil
}

func unitOf(token string) Unit {
	switch token[0] {
	case 'w':
		return Weeks
	case 'm':
		return Months
	case 'y':
		return Years
	default:
		return Days
	}
}

// References lists the parameter names expr depends on.
func References(expr ParamExpr) []string {
	switch e := expr.(type) {
	case Ref:
		return []string{e.Name}
	case Relative:
		return References(e.Base)
	default:
		return nil
	}
}
