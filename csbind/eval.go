package csbind

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
)

// eval folds a constant expression of the intermediate file. Identifiers
// refer to constants declared earlier in the file.
func (m *Module) eval(expr ast.Expr) (constant.Value, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		v := constant.MakeFromLiteral(e.Value, e.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, fmt.Errorf("bad literal %s", e.Value)
		}
		return v, nil
	case *ast.Ident:
		c, ok := m.Consts.Get(e.Name)
		if !ok {
			return nil, fmt.Errorf("unknown constant %s", e.Name)
		}
		return c.Value, nil
	case *ast.ParenExpr:
		return m.eval(e.X)
	case *ast.UnaryExpr:
		x, err := m.eval(e.X)
		if err != nil {
			return nil, err
		}
		switch {
		case e.Op == token.XOR && x.Kind() == constant.Int,
			(e.Op == token.ADD || e.Op == token.SUB) && numeric(x):
			return constant.UnaryOp(e.Op, x, 0), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", e.Op)
	case *ast.BinaryExpr:
		x, err := m.eval(e.X)
		if err != nil {
			return nil, err
		}
		y, err := m.eval(e.Y)
		if err != nil {
			return nil, err
		}
		if !(numeric(x) && numeric(y)) && !(e.Op == token.ADD && x.Kind() == constant.String && y.Kind() == constant.String) {
			return nil, fmt.Errorf("mismatched operands %s %s %s", x, e.Op, y)
		}
		switch e.Op {
		case token.SHL, token.SHR:
			s, ok := constant.Uint64Val(constant.ToInt(y))
			if !ok || x.Kind() != constant.Int {
				return nil, fmt.Errorf("bad shift %s %s %s", x, e.Op, y)
			}
			return constant.Shift(x, e.Op, uint(s)), nil
		case token.QUO:
			if constant.Sign(y) == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			if x.Kind() == constant.Int && y.Kind() == constant.Int {
				return constant.BinaryOp(x, token.QUO_ASSIGN, y), nil
			}
			return constant.BinaryOp(x, e.Op, y), nil
		case token.REM:
			if x.Kind() != constant.Int || y.Kind() != constant.Int {
				return nil, fmt.Errorf("remainder of non-integers")
			}
			if constant.Sign(y) == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return constant.BinaryOp(x, e.Op, y), nil
		case token.ADD, token.SUB, token.MUL:
			return constant.BinaryOp(x, e.Op, y), nil
		case token.AND, token.OR, token.XOR, token.AND_NOT:
			if x.Kind() != constant.Int || y.Kind() != constant.Int {
				return nil, fmt.Errorf("bitwise %s on non-integers", e.Op)
			}
			return constant.BinaryOp(x, e.Op, y), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", e.Op)
	}
	return nil, fmt.Errorf("unsupported constant expression %T", expr)
}

func numeric(v constant.Value) bool {
	return v.Kind() == constant.Int || v.Kind() == constant.Float
}
