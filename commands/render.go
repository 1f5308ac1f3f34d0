package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// Render подставляет args вместо {0}, {1}, ... в шаблоне.
// Плейсхолдеры без аргумента остаются как есть.
func Render(tpl string, args ...any) string {
	if tpl == "" || len(args) == 0 {
		return tpl
	}

	pairs := make([]string, 0, len(args)*2)
	for i, a := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", fmt.Sprint(a))
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
