package blocks

import (
	"math"
	"strconv"
)

type interp struct {
	vars   Variables
	custom Lookup
	env    Env
}

// Run 从 root 开始执行语句链，返回第一块的值（表达式积木即表达式的值）
//
// 解释器不会因为畸形的积木树 panic：缺失的输入求值为 undefined，
// 未知类型的积木被跳过。
func Run(root *Block, vars Variables, custom Lookup, env Env) Value {
	if vars == nil {
		vars = Variables{}
	}
	if env == nil {
		env = NopEnv{}
	}
	in := &interp{vars: vars, custom: custom, env: env}
	return in.run(root)
}

// RunWorkspace 依次执行所有顶层积木，共享一张变量表
func RunWorkspace(ws *Workspace, custom Lookup, env Env) Variables {
	vars := Variables{}
	if ws == nil {
		return vars
	}
	for _, b := range ws.Blocks.Blocks {
		Run(b, vars, custom, env)
	}
	return vars
}

func (in *interp) run(b *Block) Value {
	var result Value
	for first := true; b != nil; first = false {
		v := in.eval(b)
		if first {
			result = v
		}
		b = b.NextBlock()
	}
	return result
}

func (in *interp) value(b *Block, slot string) Value {
	return in.run(b.Input(slot))
}

func (in *interp) number(b *Block, slot string) float64 {
	return ToNumber(in.value(b, slot))
}

func (in *interp) eval(b *Block) Value {
	if in.custom != nil {
		if fn, ok := in.custom.Lookup(b.Type); ok {
			return fn(&Call{Block: b, Env: in.env, Vars: in.vars, in: in})
		}
	}

	switch b.Type {
	// 逻辑
	case "controls_if":
		return in.controlsIf(b)
	case "logic_compare":
		return in.compare(b)
	case "logic_operation":
		a := in.value(b, "A")
		if b.FieldString("OP") == "OR" {
			if Truthy(a) {
				return a
			}
			return in.value(b, "B")
		}
		if !Truthy(a) {
			return a
		}
		return in.value(b, "B")
	case "logic_negate":
		return !Truthy(in.value(b, "BOOL"))
	case "logic_boolean":
		return b.FieldString("BOOL") == "TRUE"
	case "logic_null":
		return nil
	case "logic_ternary":
		if Truthy(in.value(b, "IF")) {
			return in.value(b, "THEN")
		}
		return in.value(b, "ELSE")

	// 数学
	case "math_number":
		return fieldNumber(b, "NUM")
	case "math_arithmetic":
		return arithmetic(b.FieldString("OP"), in.number(b, "A"), in.number(b, "B"))
	case "math_single":
		return single(b.FieldString("OP"), in.number(b, "NUM"))
	case "math_trig":
		return trig(b.FieldString("OP"), in.number(b, "NUM"))
	case "math_constant":
		return constant(b.FieldString("CONSTANT"))
	case "math_number_property":
		return in.numberProperty(b)
	case "math_round":
		n := in.number(b, "NUM")
		switch b.FieldString("OP") {
		case "ROUNDUP":
			return math.Ceil(n)
		case "ROUNDDOWN":
			return math.Floor(n)
		}
		return math.Floor(n + 0.5)
	case "math_modulo":
		return math.Mod(in.number(b, "DIVIDEND"), in.number(b, "DIVISOR"))
	case "math_constrain":
		return math.Min(math.Max(in.number(b, "VALUE"), in.number(b, "LOW")), in.number(b, "HIGH"))
	case "math_random_int":
		lo, hi := in.number(b, "FROM"), in.number(b, "TO")
		if lo > hi {
			lo, hi = hi, lo
		}
		if math.IsNaN(lo) || math.IsNaN(hi) {
			return math.NaN()
		}
		return math.Floor(in.env.Rand().Float64()*(math.Floor(hi)-math.Ceil(lo)+1)) + math.Ceil(lo)
	case "math_random_float":
		return in.env.Rand().Float64()

	// 文本
	case "text":
		return b.FieldString("TEXT")
	case "text_join":
		return in.join(b)
	case "text_length":
		v := in.value(b, "VALUE")
		if v == nil {
			return nil
		}
		return float64(textLength(ToText(v)))
	case "text_isEmpty":
		v := in.value(b, "VALUE")
		return v == nil || ToText(v) == ""
	case "text_indexOf":
		v, find := in.value(b, "VALUE"), in.value(b, "FIND")
		if v == nil || find == nil {
			return nil
		}
		return float64(indexOf(ToText(v), ToText(find), b.FieldString("END") == "LAST"))
	case "text_charAt":
		v := in.value(b, "VALUE")
		if v == nil {
			return nil
		}
		return charAt(ToText(v), b.FieldString("WHERE"), in.number(b, "AT"), in.env.Rand())
	case "text_getSubstring":
		v := in.value(b, "STRING")
		if v == nil {
			return nil
		}
		return substring(ToText(v),
			b.FieldString("WHERE1"), in.number(b, "AT1"),
			b.FieldString("WHERE2"), in.number(b, "AT2"))
	case "text_changeCase":
		v := in.value(b, "TEXT")
		if v == nil {
			return nil
		}
		return changeCase(ToText(v), b.FieldString("CASE"))
	case "text_trim":
		v := in.value(b, "TEXT")
		if v == nil {
			return nil
		}
		return trim(ToText(v), b.FieldString("MODE"))
	case "number_with_commas":
		return withCommas(in.number(b, "convert_number_to_text_with_commas"))

	// 变量
	case "variables_get":
		return in.vars[b.variableID()]
	case "variables_set":
		in.vars[b.variableID()] = in.value(b, "VALUE")
		return nil
	case "math_change":
		id := b.variableID()
		cur, ok := asNumber(in.vars[id])
		if !ok {
			cur = 0
		}
		in.vars[id] = cur + in.number(b, "DELTA")
		return nil

	// 游戏
	case "message_broadcaster":
		if v := in.value(b, "input_value"); Truthy(v) {
			in.env.TriggerChannel(ToText(v))
		}
		return nil
	case "current_character_name":
		if a := in.env.Actor(); a != nil {
			return a.Name()
		}
		return nil
	case "current_character_team_number":
		a := in.env.Actor()
		if a == nil {
			return nil
		}
		if n, err := strconv.ParseFloat(a.TeamID(), 64); err == nil {
			return n
		}
		return a.TeamID()
	case "triggering_player_score":
		if a := in.env.Actor(); a != nil {
			return a.Score()
		}
		return nil
	case "get_team_score":
		return in.env.TeamScore(ToText(in.value(b, "TEAM")))
	case "is_a_live_game":
		return in.env.IsLiveGame()
	case "is_an_assignment":
		return false
	case "seconds_into_game":
		return in.env.SecondsIntoGame()
	case "add_activity_feed_item_for_everyone":
		in.feed(b, "add_activity_feed_item_for_everyone", FeedEveryone)
		return nil
	case "add_activity_feed_item_for_triggering_player":
		in.feed(b, "add_activity_feed_item_for_triggering_player", FeedTriggeringPlayer)
		return nil
	case "add_activity_feed_item_for_game_host":
		in.feed(b, "add_activity_feed_item_for_game_host", FeedHost)
		return nil
	case "get_property":
		return in.env.Property(in.propertyName(b))
	case "set_property":
		in.env.SetProperty(in.propertyName(b), in.value(b, "VALUE"))
		return nil
	}
	return nil
}

func (in *interp) controlsIf(b *Block) Value {
	branches := 1 + index(ToNumber(b.extra("elseIfCount")))
	if branches < 1 {
		branches = 1
	}
	for i := 0; i < branches; i++ {
		n := strconv.Itoa(i)
		if Truthy(in.value(b, "IF"+n)) {
			in.value(b, "DO"+n)
			return nil
		}
	}
	hasElse, _ := b.extra("hasElse").(bool)
	if hasElse || b.Input("ELSE") != nil {
		in.value(b, "ELSE")
	}
	return nil
}

func (in *interp) compare(b *Block) Value {
	x, y := in.value(b, "A"), in.value(b, "B")
	op := b.FieldString("OP")
	switch op {
	case "EQ":
		return equal(x, y)
	case "NEQ":
		return !equal(x, y)
	}
	if xs, ok := x.(string); ok {
		if ys, ok := y.(string); ok {
			switch op {
			case "LT":
				return xs < ys
			case "LTE":
				return xs <= ys
			case "GT":
				return xs > ys
			case "GTE":
				return xs >= ys
			}
			return false
		}
	}
	a, c := ToNumber(x), ToNumber(y)
	switch op {
	case "LT":
		return a < c
	case "LTE":
		return a <= c
	case "GT":
		return a > c
	case "GTE":
		return a >= c
	}
	return false
}

func (in *interp) numberProperty(b *Block) Value {
	n := in.number(b, "NUMBER_TO_CHECK")
	switch b.FieldString("PROPERTY") {
	case "EVEN":
		return math.Mod(n, 2) == 0
	case "ODD":
		return math.Mod(n, 2) == 1
	case "PRIME":
		return isPrime(n)
	case "WHOLE":
		return math.Mod(n, 1) == 0
	case "POSITIVE":
		return n > 0
	case "NEGATIVE":
		return n < 0
	case "DIVISIBLE_BY":
		d := in.number(b, "DIVISOR")
		return d != 0 && math.Mod(n, d) == 0
	}
	return false
}

// join 超过两项时跳过 undefined，两项以内 undefined 按文本拼接
func (in *interp) join(b *Block) Value {
	count := 2
	if n, ok := asNumber(b.extra("itemCount")); ok {
		count = index(n)
	}
	out := make([]byte, 0, 16)
	for i := 0; i < count; i++ {
		v := in.value(b, "ADD"+strconv.Itoa(i))
		if v == nil && count > 2 {
			continue
		}
		out = append(out, ToText(v)...)
	}
	return string(out)
}

// feed 只接受文本或数字
func (in *interp) feed(b *Block, slot string, target FeedTarget) {
	v := in.value(b, slot)
	switch v.(type) {
	case string:
	default:
		if _, ok := asNumber(v); !ok {
			return
		}
	}
	in.env.ActivityFeed(target, ToText(v))
}

func (in *interp) propertyName(b *Block) string {
	if name := b.FieldString("PROPERTY"); name != "" {
		return name
	}
	return ToText(in.value(b, "PROPERTY"))
}

func fieldNumber(b *Block, name string) float64 {
	return ToNumber(b.Field(name))
}

func arithmetic(op string, a, b float64) float64 {
	switch op {
	case "ADD":
		return a + b
	case "MINUS":
		return a - b
	case "MULTIPLY":
		return a * b
	case "DIVIDE":
		return a / b
	case "POWER":
		return math.Pow(a, b)
	}
	return math.NaN()
}

func single(op string, n float64) float64 {
	switch op {
	case "ROOT":
		return math.Sqrt(n)
	case "ABS":
		return math.Abs(n)
	case "NEG":
		return -n
	case "LN":
		return math.Log(n)
	case "LOG10":
		return math.Log10(n)
	case "EXP":
		return math.Exp(n)
	case "POW10", "10^":
		return math.Pow(10, n)
	}
	return math.NaN()
}

// trig 参数与结果均为弧度
func trig(op string, n float64) float64 {
	switch op {
	case "SIN":
		return math.Sin(n)
	case "COS":
		return math.Cos(n)
	case "TAN":
		return math.Tan(n)
	case "ASIN":
		return math.Asin(n)
	case "ACOS":
		return math.Acos(n)
	case "ATAN":
		return math.Atan(n)
	}
	return math.NaN()
}

func constant(name string) float64 {
	switch name {
	case "PI":
		return math.Pi
	case "E":
		return math.E
	case "GOLDEN_RATIO":
		return math.Phi
	case "SQRT2":
		return math.Sqrt2
	case "SQRT1_2":
		return math.Sqrt(0.5)
	case "INFINITY":
		return math.Inf(1)
	}
	return math.NaN()
}
