// Package colorize highlights smali listings and flow-detail lines for the
// terminal. Setting SMALIEN_NO_COLOR disables every function here.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether colour output is switched off.
func Disabled() bool {
	return os.Getenv("SMALIEN_NO_COLOR") != ""
}

// getSmaliLexer returns the closest lexer chroma ships for smali.
func getSmaliLexer() chroma.Lexer {
	for _, name := range []string{"smali", "java", "nasm"} {
		if lexer := lexers.Get(name); lexer != nil {
			return chroma.Coalesce(lexer)
		}
	}
	return nil
}

func getStyle() *chroma.Style {
	for _, name := range []string{"smali-dark", "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Smali highlights a block of smali code. It returns the input unchanged
// when colours are off or no lexer is available.
func Smali(code string) (string, error) {
	if Disabled() {
		return code, nil
	}
	lexer := getSmaliLexer()
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getStyle(), iterator); err != nil {
		return code, err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// ListingLine renders one numbered line of a listing. Marked lines get an
// arrow in the gutter.
func ListingLine(num int, text string, marked bool) string {
	gutter := "  "
	if marked {
		gutter = "→ "
	}
	if Disabled() {
		return fmt.Sprintf("%s%5d  %s", gutter, num, text)
	}
	code, err := Smali(text)
	if err != nil {
		code = text
	}
	if marked {
		gutter = "\033[38;2;255;95;135m" + gutter + "\033[0m"
	}
	return fmt.Sprintf("%s\033[38;2;79;79;79m%5d\033[0m  %s", gutter, num, code)
}

var tagColors = map[string]string{
	"[SOURCE]": "\033[38;2;234;205;83m",
	"[SINK]":   "\033[38;2;255;95;135m",
}

// FlowLine colours the tag of a flow-detail line.
func FlowLine(line string) string {
	if Disabled() || !strings.HasPrefix(line, "[") {
		return line
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return line
	}
	tag := line[:end+1]
	color, ok := tagColors[tag]
	if !ok {
		color = "\033[38;2;124;156;157m"
	}
	return color + tag + "\033[0m" + line[end+1:]
}

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

// VisibleWidth counts the characters of s that take up a cell.
func VisibleWidth(s string) int {
	return len([]rune(StripANSI(s)))
}
