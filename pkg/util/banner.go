package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/common-nighthawk/go-figure"
)

const colorReset = "\x1b[0m"

// palette 颜色名 -> ANSI 码
var palette = map[string]string{
	"ColorRed":    "\x1b[1;31m",
	"ColorGreen":  "\x1b[1;32m",
	"ColorYellow": "\x1b[1;33m",
	"ColorBlue":   "\x1b[1;34m",
	"ColorCyan":   "\x1b[1;36m",
}

// PrintBanner 启动时打印统一颜色的 ASCII banner
func PrintBanner(text string, color string) {
	FprintBanner(os.Stdout, text, color)
}

// FprintBanner 未知颜色名按无色输出，空行省略
func FprintBanner(w io.Writer, text string, color string) {
	code, ok := palette[color]
	if !ok {
		code = colorReset
	}
	for _, line := range figure.NewFigure(text, "", true).Slicify() {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintln(w, code+line+colorReset)
	}
}
