package pdf

import (
	"slices"
	"strconv"
	"strings"
)

// Content stream operators, used to skip lines that carry no text
var contentOperators = []string{
	"BT", "ET", "Tf", "Td", "TD", "Tm", "T*", "Tj", "TJ", "'", "\"",
	"q", "Q", "cm", "w", "J", "j", "M", "d", "ri", "i", "gs",
	"CS", "cs", "SC", "SCN", "sc", "scn", "G", "g", "RG", "rg", "K", "k",
	"m", "l", "c", "v", "y", "h", "re", "S", "s", "f", "F", "f*", "B", "B*", "b", "b*", "n",
	"W", "W*", "BX", "EX", "MP", "DP", "BMC", "BDC", "EMC",
}

// Single-byte octal escapes that map to printable characters in PDFDocEncoding
var octalReplacements = map[byte]string{
	0o037: "",
	0o011: "\t",
	0o012: "\n",
	0o015: "\n",
	0o221: "'",
	0o222: "'",
	0o223: "\"",
	0o224: "\"",
	0o226: "-",
	0o227: "-",
	0o231: "'",
	0o240: " ",
	0o251: "©",
	0o256: "®",
	0o260: "°",
}

// TextFromContentStream pulls the strings shown by text operators out of a raw content stream
func TextFromContentStream(content string) string {
	var texts []string
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !showsText(line) {
			continue
		}
		for _, s := range StringsInOperation(line) {
			if strings.TrimSpace(s) != "" {
				texts = append(texts, s)
			}
		}
	}

	if len(texts) == 0 {
		return readableLines(content)
	}
	return tidy(strings.Join(texts, " "))
}

func showsText(line string) bool {
	return strings.HasSuffix(line, "Tj") || strings.HasSuffix(line, "TJ") ||
		strings.HasSuffix(line, "'") || strings.HasSuffix(line, "\"")
}

// StringsInOperation returns the decoded literal strings "(...)" in one content stream operation
func StringsInOperation(op string) []string {
	var out []string
	var current strings.Builder
	depth := 0

	for i := 0; i < len(op); i++ {
		ch := op[i]
		if depth == 0 {
			if ch == '(' {
				depth = 1
				current.Reset()
			}
			continue
		}

		switch ch {
		case '\\':
			if i+1 >= len(op) {
				continue
			}
			i++
			next := op[i]
			switch next {
			case 'n':
				current.WriteByte('\n')
			case 'r':
				current.WriteByte('\n')
			case 't':
				current.WriteByte('\t')
			case 'b', 'f':
			case '(', ')', '\\':
				current.WriteByte(next)
			default:
				if next >= '0' && next <= '7' {
					end := i + 1
					for end < len(op) && end < i+3 && op[end] >= '0' && op[end] <= '7' {
						end++
					}
					value, _ := strconv.ParseUint(op[i:end], 8, 8)
					current.WriteString(decodeOctal(byte(value)))
					i = end - 1
				} else {
					current.WriteByte(next)
				}
			}
		case '(':
			depth++
			current.WriteByte(ch)
		case ')':
			depth--
			if depth == 0 {
				out = append(out, current.String())
			} else {
				current.WriteByte(ch)
			}
		default:
			current.WriteByte(ch)
		}
	}
	return out
}

func decodeOctal(b byte) string {
	if s, ok := octalReplacements[b]; ok {
		return s
	}
	if b >= 32 && b <= 126 {
		return string(rune(b))
	}
	return ""
}

// readableLines is the last resort for streams without text operators
func readableLines(content string) string {
	var lines []string
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isOperatorLine(line) || !isReadable(line) {
			continue
		}
		lines = append(lines, line)
	}
	return tidy(strings.Join(lines, " "))
}

func isOperatorLine(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 {
		return false
	}
	if slices.Contains(contentOperators, words[len(words)-1]) {
		return true
	}

	nonNumeric := 0
	for _, word := range words {
		if _, err := strconv.ParseFloat(word, 64); err != nil {
			nonNumeric++
		}
	}
	return float64(nonNumeric)/float64(len(words)) < 0.3
}

func isReadable(line string) bool {
	if len(line) < 2 {
		return false
	}
	alpha := 0
	for _, r := range line {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alpha++
		}
	}
	return float64(alpha)/float64(len(line)) >= 0.3
}

// tidy drops control characters, collapses spaces and closes up spaces before punctuation
func tidy(text string) string {
	var sb strings.Builder
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t':
			sb.WriteRune(r)
		case r < 32 || r == 0xfffd:
			sb.WriteRune(' ')
		default:
			sb.WriteRune(r)
		}
	}

	text = strings.Join(strings.FieldsFunc(sb.String(), func(r rune) bool { return r == ' ' }), " ")
	for _, p := range []string{".", ",", "!", "?", ";", ":"} {
		text = strings.ReplaceAll(text, " "+p, p)
	}
	return strings.TrimSpace(text)
}
