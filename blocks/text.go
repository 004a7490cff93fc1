package blocks

import (
	"math/rand"
	"strings"
	"unicode"
	"unicode/utf16"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// units 客户端按 UTF-16 码元计数和下标，表情等字符占两个位置
func units(text string) []uint16 { return utf16.Encode([]rune(text)) }

func unitString(u []uint16) string { return string(utf16.Decode(u)) }

// textLength UTF-16 码元个数
func textLength(text string) int { return len(units(text)) }

// sliceUnits 与脚本语言的 slice 一致：负下标从末尾回绕，越界截断，start >= end 得到空串
func sliceUnits(u []uint16, start, end int) string {
	n := len(u)
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		if i < 0 {
			return 0
		}
		if i > n {
			return n
		}
		return i
	}
	start, end = clamp(start), clamp(end)
	if start >= end {
		return ""
	}
	return unitString(u[start:end])
}

// substring 两端分别按 FROM_START / FROM_END / FIRST / LAST 定位，位置从 1 开始
func substring(text, where1 string, at1 float64, where2 string, at2 float64) string {
	u := units(text)
	n := len(u)

	var start int
	switch where1 {
	case "FIRST":
		start = 0
	case "FROM_END":
		start = n - index(at1)
	default:
		if index(at1) == 0 {
			return ""
		}
		start = index(at1) - 1
	}

	var end int
	switch where2 {
	case "LAST":
		end = n
	case "FROM_END":
		end = n - index(at2) + 1
	default:
		if index(at2) == 0 {
			return ""
		}
		end = index(at2)
	}
	return sliceUnits(u, start, end)
}

// charAt FROM_START 不回绕，FROM_END 的 0 表示首字符、负数从头数
func charAt(text, where string, at float64, rnd *rand.Rand) string {
	u := units(text)
	n := len(u)
	var i int
	switch where {
	case "FIRST":
		i = 0
	case "LAST":
		i = n - 1
	case "RANDOM":
		if n == 0 {
			return ""
		}
		i = rnd.Intn(n)
	case "FROM_END":
		i = -index(at)
		if i < 0 {
			i += n
		}
	default:
		i = index(at) - 1
	}
	if i < 0 || i >= n {
		return ""
	}
	return unitString(u[i : i+1])
}

// indexOf 返回从 1 开始的位置，未找到为 0
func indexOf(text, find string, last bool) int {
	var i int
	if last {
		i = strings.LastIndex(text, find)
	} else {
		i = strings.Index(text, find)
	}
	if i < 0 {
		return 0
	}
	return textLength(text[:i]) + 1
}

var titleCaser = cases.Title(language.English)

func changeCase(text, mode string) string {
	switch mode {
	case "UPPERCASE":
		return strings.ToUpper(text)
	case "LOWERCASE":
		return strings.ToLower(text)
	case "TITLECASE":
		return titleCaser.String(text)
	}
	return text
}

func trim(text, mode string) string {
	switch mode {
	case "LEFT":
		return strings.TrimLeftFunc(text, unicode.IsSpace)
	case "RIGHT":
		return strings.TrimRightFunc(text, unicode.IsSpace)
	}
	return strings.TrimSpace(text)
}
