package blocks

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// asNumber 只接受真正的数字类型
func asNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ToNumber 宽松数字转换：undefined 与无法解析的文本得到 NaN，空文本得到 0
func ToNumber(v Value) float64 {
	if n, ok := asNumber(v); ok {
		return n
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		switch s {
		case "Infinity", "+Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

// Truthy 真值判断
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if n, ok := asNumber(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// ToText 文本化，undefined 得到 "undefined"
func ToText(v Value) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	}
	if n, ok := asNumber(v); ok {
		return formatNumber(n)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	case n == 0:
		return "0"
	}
	abs := math.Abs(n)
	if abs >= 1e21 || abs < 1e-6 {
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// equal 比较相等：数字按值，其余要求类型与值都相同
func equal(a, b Value) bool {
	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	if aNum && bNum {
		return na == nb
	}
	if aNum != bNum {
		return false
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// index 把任意数字收敛成可用的下标，NaN 视为 0
func index(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f > 1e9:
		return 1e9
	case f < -1e9:
		return -1e9
	}
	return int(f)
}

var commaPrinter = message.NewPrinter(language.English)

// withCommas 千分位格式，最多保留三位小数
func withCommas(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return formatNumber(n)
	}
	return commaPrinter.Sprint(number.Decimal(n, number.MaxFractionDigits(3)))
}

func isPrime(n float64) bool {
	if n < 2 || n != math.Trunc(n) {
		return false
	}
	if n == 2 || n == 3 {
		return true
	}
	if math.Mod(n, 2) == 0 || math.Mod(n, 3) == 0 {
		return false
	}
	for i := 5.0; i*i <= n; i += 6 {
		if math.Mod(n, i) == 0 || math.Mod(n, i+2) == 0 {
			return false
		}
	}
	return true
}
