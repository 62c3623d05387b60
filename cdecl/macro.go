package cdecl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/divan/num2words"
	"github.com/ethereum/go-ethereum/log"

	orderedmap "dllbindgen/ordered_map"
)

var (
	lineCommentRe  = regexp.MustCompile(`//.*$`)
	blockCommentRe = regexp.MustCompile(`/\*.*?\*/`)
	intLiteralRe   = regexp.MustCompile(`^(-?)(0[xX][0-9a-fA-F]+|[0-9]+)[uUlL]*$`)
	floatLiteralRe = regexp.MustCompile(`^(-?)([0-9]*\.[0-9]*(?:[eE][-+]?[0-9]+)?|[0-9]+[eE][-+]?[0-9]+)[fFlL]?$`)
	stringLitRe    = regexp.MustCompile(`^"(?:[^"\\]|\\.)*"$`)
	exprTokenRe    = regexp.MustCompile(`^\s*(0[xX][0-9a-fA-F]+[uUlL]*|[0-9]+[uUlL]*|[A-Za-z_][A-Za-z0-9_]*|<<|>>|[-+*/|&()])`)
	identRe        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	wordSepRe      = regexp.MustCompile(`[^a-z0-9]+`)
)

// ParseDefine extracts the replacement text of an object-like macro from a
// single source line. Function-like macros, empty macros and continued lines
// are rejected.
func ParseDefine(line, name string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "#") {
		return "", false
	}
	rest := strings.TrimSpace(line[1:])
	if !strings.HasPrefix(rest, "define") {
		return "", false
	}
	rest = strings.TrimLeft(rest[len("define"):], " \t")
	if !strings.HasPrefix(rest, name) {
		return "", false
	}
	rest = rest[len(name):]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	rest = blockCommentRe.ReplaceAllString(rest, "")
	rest = lineCommentRe.ReplaceAllString(rest, "")
	rest = strings.TrimSpace(rest)
	if rest == "" || strings.HasSuffix(rest, "\\") {
		return "", false
	}
	return rest, true
}

// CleanLiteral normalises a literal macro value to a form Go and C# both
// accept. It reports false when value is not a plain literal.
func CleanLiteral(value string) (string, ConstKind, bool) {
	v := stripParens(strings.TrimSpace(value))
	if stringLitRe.MatchString(v) {
		return v, ConstString, true
	}
	if m := intLiteralRe.FindStringSubmatch(v); m != nil {
		return m[1] + m[2], ConstInt, true
	}
	if m := floatLiteralRe.FindStringSubmatch(v); m != nil && m[2] != "." {
		f := m[2]
		if strings.HasPrefix(f, ".") {
			f = "0" + f
		}
		if strings.HasSuffix(f, ".") {
			f += "0"
		}
		return m[1] + f, ConstFloat, true
	}
	return "", ConstInt, false
}

// stripParens removes balanced parentheses wrapping the whole value.
func stripParens(v string) string {
	for len(v) >= 2 && v[0] == '(' && v[len(v)-1] == ')' {
		depth := 0
		wraps := true
		for i := 0; i < len(v)-1; i++ {
			switch v[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 {
				wraps = false
				break
			}
		}
		if !wraps {
			return v
		}
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

// cPrecedence ranks the binary operators of a macro expression the way C
// does. Go ranks shifts and & above + and -, so emitted expressions
// parenthesise every nested operation.
var cPrecedence = map[string]int{
	"*": 5, "/": 5,
	"+": 4, "-": 4,
	"<<": 3, ">>": 3,
	"&": 2,
	"|": 1,
}

// exprNode is a rendered subexpression. compound is set for binary
// operations, which need parentheses when nested.
type exprNode struct {
	text     string
	compound bool
}

func (n exprNode) operand() string {
	if n.compound {
		return "(" + n.text + ")"
	}
	return n.text
}

type exprParser struct {
	tokens []string
	pos    int
	refs   []string
}

func (p *exprParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *exprParser) binary(minPrec int) (exprNode, bool) {
	lhs, ok := p.unary()
	if !ok {
		return exprNode{}, false
	}
	for {
		op := p.peek()
		prec, isOp := cPrecedence[op]
		if !isOp || prec < minPrec {
			return lhs, true
		}
		p.pos++
		rhs, ok := p.binary(prec + 1)
		if !ok {
			return exprNode{}, false
		}
		lhs = exprNode{text: lhs.operand() + " " + op + " " + rhs.operand(), compound: true}
	}
}

func (p *exprParser) unary() (exprNode, bool) {
	switch tok := p.peek(); tok {
	case "-", "+":
		p.pos++
		n, ok := p.unary()
		if !ok {
			return exprNode{}, false
		}
		text := n.operand()
		if strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+") {
			text = "(" + text + ")"
		}
		return exprNode{text: tok + text}, true
	case "(":
		p.pos++
		n, ok := p.binary(1)
		if !ok || p.peek() != ")" {
			return exprNode{}, false
		}
		p.pos++
		return n, true
	case "":
		return exprNode{}, false
	default:
		p.pos++
		switch {
		case identRe.MatchString(tok):
			p.refs = append(p.refs, tok)
			return exprNode{text: tok}, true
		case tok[0] >= '0' && tok[0] <= '9':
			return exprNode{text: strings.TrimRight(tok, "uUlL")}, true
		}
		return exprNode{}, false
	}
}

// parseIntExpr parses an integer constant expression built from literals,
// other macro names and arithmetic operators with C precedence. It returns
// the expression with nested operations parenthesised, so it evaluates the
// same under Go rules, and the identifiers it references.
func parseIntExpr(value string) (string, []string, bool) {
	var tokens []string
	rest := value
	for strings.TrimSpace(rest) != "" {
		m := exprTokenRe.FindStringSubmatch(rest)
		if m == nil {
			return "", nil, false
		}
		rest = rest[len(m[0]):]
		tokens = append(tokens, m[1])
	}
	if len(tokens) == 0 {
		return "", nil, false
	}
	p := &exprParser{tokens: tokens}
	n, ok := p.binary(1)
	if !ok || p.pos != len(tokens) {
		return "", nil, false
	}
	return n.text, p.refs, true
}

// BuildConstants turns raw macro replacement texts into constants. Literals
// are kept as they are. Integer expressions are kept when every name they
// reference is itself an integer constant. The result is ordered so that a
// constant follows everything it references.
func BuildConstants(raw *orderedmap.OrderedMap[string, string]) []*Constant {
	resolved := orderedmap.NewOrderedMap[string, *Constant]()
	type pending struct {
		expr string
		refs []string
	}
	exprs := orderedmap.NewOrderedMap[string, pending]()

	for _, name := range raw.Keys() {
		value, _ := raw.Get(name)
		if v, kind, ok := CleanLiteral(value); ok {
			resolved.Set(name, &Constant{Name: name, Kind: kind, Value: v})
			continue
		}
		if expr, refs, ok := parseIntExpr(stripParens(value)); ok {
			exprs.Set(name, pending{expr: expr, refs: refs})
			continue
		}
		log.Trace("Skipping macro", "name", name, "value", value)
	}

	// Expressions may reference each other in any order; settle them until
	// nothing changes.
	for changed := true; changed; {
		changed = false
		for _, name := range exprs.Keys() {
			p, _ := exprs.Get(name)
			ok := true
			for _, ref := range p.refs {
				c, known := resolved.Get(ref)
				if !known || c.Kind != ConstInt {
					ok = false
					break
				}
			}
			if ok {
				resolved.Set(name, &Constant{Name: name, Kind: ConstInt, Value: p.expr})
				exprs.Delete(name)
				changed = true
			}
		}
	}
	for _, name := range exprs.Keys() {
		log.Debug("Dropping macro with unresolved references", "name", name)
	}

	// Restore declaration order before sorting by dependency.
	ordered := orderedmap.NewOrderedMap[string, *Constant]()
	for _, name := range raw.Keys() {
		if c, ok := resolved.Get(name); ok {
			ordered.Set(name, c)
		}
	}
	return SortConstants(ordered)
}

// SortConstants orders constants so that dependencies come first. On a
// cycle the declaration order is returned.
func SortConstants(constants *orderedmap.OrderedMap[string, *Constant]) []*Constant {
	if constants.Len() == 0 {
		return []*Constant{}
	}

	var (
		result     []*Constant
		visited    = make(map[string]bool)
		processing = make(map[string]bool)
	)

	var visit func(string) error
	visit = func(name string) error {
		if processing[name] {
			return fmt.Errorf("circular dependency detected for constant: %s", name)
		}
		if visited[name] {
			return nil
		}
		processing[name] = true
		defer func() { processing[name] = false }()

		c, _ := constants.Get(name)
		for _, dep := range ConstantDependencies(c.Value) {
			if constants.Has(dep) {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		visited[name] = true
		result = append(result, c)
		return nil
	}

	for _, name := range constants.Keys() {
		if err := visit(name); err != nil {
			log.Warn("Using declaration order for constants", "err", err)
			return constants.Values()
		}
	}
	return result
}

// ConstantDependencies lists the identifiers referenced by an integer
// constant expression.
func ConstantDependencies(value string) []string {
	if stringLitRe.MatchString(value) {
		return nil
	}
	_, refs, ok := parseIntExpr(value)
	if !ok {
		return nil
	}
	return refs
}

// WordName spells n as an identifier fragment, e.g. 21 -> "twenty_one".
func WordName(n int) string {
	words := strings.ToLower(num2words.Convert(n))
	return strings.Trim(wordSepRe.ReplaceAllString(words, "_"), "_")
}
