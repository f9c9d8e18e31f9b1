package mutation

import (
	"math"
	"math/rand"
	"strconv"

	"ormkit/errors"
	"ormkit/internal/conv"
)

// number 数值运算的中间表示：两个整数操作数保持整数运算
type number struct {
	isInt bool
	i     int64
	f     float64
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func (n number) value() any {
	if n.isInt {
		return n.i
	}
	return n.f
}

func toNumber(v any) (number, bool) {
	if v == nil {
		return number{isInt: true}, true
	}
	if !conv.IsNumber(v) {
		return number{}, false
	}
	if conv.IsIntType(v) {
		if i, ok := conv.ToInt64(v); ok {
			return number{isInt: true, i: i}, true
		}
	}
	f, _ := conv.ToFloat(v)
	return number{f: f}, true
}

func registerNumeric() {
	binary := func(op string, intFn func(a, b int64) (int64, bool), floatFn func(a, b float64) float64) {
		register(func(field string, current, operand any) (any, bool, error) {
			a, b, err := operands(field, op, current, operand)
			if err != nil {
				return nil, false, err
			}
			if a.isInt && b.isInt && intFn != nil {
				if r, ok := intFn(a.i, b.i); ok {
					return r, false, nil
				}
				return nil, false, errors.NewArithmeticError(field, op, "整数溢出")
			}
			return finite(field, op, floatFn(a.float(), b.float()))
		}, op)
	}

	binary("$inc", addInt, func(a, b float64) float64 { return a + b })
	binary("$dec", subInt, func(a, b float64) float64 { return a - b })
	binary("$mul", mulInt, func(a, b float64) float64 { return a * b })

	register(func(field string, current, operand any) (any, bool, error) {
		a, b, err := operands(field, "$pow", current, operand)
		if err != nil {
			return nil, false, err
		}
		if a.isInt && b.isInt && b.i >= 0 {
			if r, ok := powInt(a.i, b.i); ok {
				return r, false, nil
			}
			return nil, false, errors.NewArithmeticError(field, "$pow", "整数溢出")
		}
		return finite(field, "$pow", math.Pow(a.float(), b.float()))
	}, "$pow")

	register(func(field string, current, operand any) (any, bool, error) {
		a, b, err := operands(field, "$div", current, operand)
		if err != nil {
			return nil, false, err
		}
		if b.float() == 0 {
			return nil, false, errors.NewArithmeticError(field, "$div", "除数为 0")
		}
		if a.isInt && b.isInt && b.i != -1 && a.i%b.i == 0 {
			return a.i / b.i, false, nil
		}
		return finite(field, "$div", a.float()/b.float())
	}, "$div")

	register(func(field string, current, operand any) (any, bool, error) {
		a, b, err := operands(field, "$mod", current, operand)
		if err != nil {
			return nil, false, err
		}
		if b.float() == 0 {
			return nil, false, errors.NewArithmeticError(field, "$mod", "除数为 0")
		}
		if a.isInt && b.isInt {
			if b.i == -1 {
				return int64(0), false, nil
			}
			return a.i % b.i, false, nil
		}
		return finite(field, "$mod", math.Mod(a.float(), b.float()))
	}, "$mod")

	// $min/$max 只有在候选值更优时才替换；字段缺失时直接取候选值
	clamp := func(op string, better func(candidate, current float64) bool) {
		register(func(field string, current, operand any) (any, bool, error) {
			b, ok := toNumber(operand)
			if !ok || operand == nil {
				return nil, false, typeError(field, op, "数值操作数", operand)
			}
			if current == nil {
				return b.value(), false, nil
			}
			a, ok := toNumber(current)
			if !ok {
				return nil, false, typeError(field, op, "数值", current)
			}
			if better(b.float(), a.float()) {
				return b.value(), false, nil
			}
			return a.value(), false, nil
		}, op)
	}
	clamp("$min", func(c, cur float64) bool { return c < cur })
	clamp("$max", func(c, cur float64) bool { return c > cur })

	unary := func(op string, fn func(float64) float64, keepInt bool) {
		register(func(field string, current, _ any) (any, bool, error) {
			a, ok := toNumber(current)
			if !ok {
				return nil, false, typeError(field, op, "数值", current)
			}
			if a.isInt && keepInt {
				if op == "$abs" && a.i < 0 {
					if a.i == math.MinInt64 {
						return nil, false, errors.NewArithmeticError(field, op, "整数溢出")
					}
					return -a.i, false, nil
				}
				return a.i, false, nil
			}
			return finite(field, op, fn(a.float()))
		}, op)
	}
	unary("$sqrt", math.Sqrt, false)
	unary("$floor", math.Floor, true)
	unary("$ceil", math.Ceil, true)
	unary("$trunc", math.Trunc, true)
	unary("$abs", math.Abs, true)

	register(applyRound, "$round")
	register(applyRandom, "$random")

	format := func(op string, verb byte, adjust func(digits int) int) {
		register(func(field string, current, operand any) (any, bool, error) {
			a, ok := toNumber(current)
			if !ok {
				return nil, false, typeError(field, op, "数值", current)
			}
			digits, err := digitsOperand(field, op, operand)
			if err != nil {
				return nil, false, err
			}
			if _, _, err := finite(field, op, a.float()); err != nil {
				return nil, false, err
			}
			return strconv.FormatFloat(a.float(), verb, adjust(digits), 64), false, nil
		}, op)
	}
	same := func(d int) int { return d }
	format("$toFixed", 'f', same)
	format("$toExponential", 'e', same)
	format("$toPrecision", 'g', func(d int) int {
		if d <= 0 {
			return -1
		}
		return d
	})
}

func operands(field, op string, current, operand any) (number, number, error) {
	a, ok := toNumber(current)
	if !ok {
		return number{}, number{}, typeError(field, op, "数值", current)
	}
	b, ok := toNumber(operand)
	if !ok || operand == nil {
		return number{}, number{}, typeError(field, op, "数值操作数", operand)
	}
	return a, b, nil
}

// finite 拒绝 NaN 与 ±Inf
func finite(field, op string, f float64) (any, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false, errors.NewArithmeticError(field, op, f)
	}
	return f, false, nil
}

func addInt(a, b int64) (int64, bool) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, false
	}
	return r, true
}

func subInt(a, b int64) (int64, bool) {
	if b == math.MinInt64 {
		if a >= 0 {
			return 0, false
		}
		return a - b, true
	}
	return addInt(a, -b)
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return r, true
}

// powInt 非负整数指数的快速幂
func powInt(a, b int64) (int64, bool) {
	switch a {
	case 0, 1:
		if b == 0 {
			return 1, true
		}
		return a, true
	case -1:
		if b%2 == 0 {
			return 1, true
		}
		return -1, true
	}
	result, base := int64(1), a
	for b > 0 {
		var ok bool
		if b&1 == 1 {
			if result, ok = mulInt(result, base); !ok {
				return 0, false
			}
		}
		b >>= 1
		if b > 0 {
			if base, ok = mulInt(base, base); !ok {
				return 0, false
			}
		}
	}
	return result, true
}

func digitsOperand(field, op string, operand any) (int, error) {
	switch operand.(type) {
	case nil, bool:
		return 0, nil
	}
	n, ok := conv.ToInt64(operand)
	if !ok || n < 0 || n > 100 {
		return 0, typeError(field, op, "0 到 100 的位数", operand)
	}
	return int(n), nil
}

// applyRound 操作数为保留的小数位数（true 表示 0 位）
func applyRound(field string, current, operand any) (any, bool, error) {
	a, ok := toNumber(current)
	if !ok {
		return nil, false, typeError(field, "$round", "数值", current)
	}
	digits, err := digitsOperand(field, "$round", operand)
	if err != nil {
		return nil, false, err
	}
	if a.isInt {
		return a.i, false, nil
	}
	scale := math.Pow(10, float64(digits))
	return finite(field, "$round", math.Round(a.f*scale)/scale)
}

// applyRandom true 生成 [0, 1) 的浮点数；{$min, $max} 在区间内取值，两端均为整数时取整数
func applyRandom(field string, _, operand any) (any, bool, error) {
	m, ok := conv.ToMap(operand)
	if !ok {
		return rand.Float64(), false, nil
	}
	lo, okLo := toNumber(m["$min"])
	hi, okHi := toNumber(m["$max"])
	if !okLo || !okHi || hi.float() < lo.float() {
		return nil, false, typeError(field, "$random", "{$min, $max} 区间", operand)
	}
	if lo.isInt && hi.isInt {
		span := hi.i - lo.i + 1
		if span <= 0 {
			return nil, false, errors.NewArithmeticError(field, "$random", "区间过大")
		}
		return lo.i + rand.Int63n(span), false, nil
	}
	return lo.float() + rand.Float64()*(hi.float()-lo.float()), false, nil
}
