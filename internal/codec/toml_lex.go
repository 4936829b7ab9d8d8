package codec

import (
	"fmt"
	"strconv"
	"strings"
)

type tomlKind int

const (
	tomlTrivia tomlKind = iota
	tomlTable
	tomlArrayTable
	tomlKeyValue
)

// tomlStmt is one logical line of a TOML document. Key/value statements keep
// their key, value and trailer text separately so a value can be rewritten
// without touching the rest of the line.
type tomlStmt struct {
	kind tomlKind
	text string // trivia and headers: the whole line

	keyText   string
	valueText string
	trailer   string

	path []string // header path, or key path relative to the section
}

func (s *tomlStmt) raw() string {
	if s.kind == tomlKeyValue {
		return s.keyText + s.valueText + s.trailer
	}
	return s.text
}

func (s *tomlStmt) isComment() bool {
	return s.kind == tomlTrivia && strings.HasPrefix(strings.TrimLeft(s.text, " \t"), "#")
}

// lexTOML splits src into statements. src must already be valid TOML; the
// scanner only needs to find boundaries, not validate.
func lexTOML(src string) ([]*tomlStmt, error) {
	var out []*tomlStmt
	pos := 0
	for pos < len(src) {
		end := lineEnd(src, pos)
		line := src[pos:end]
		body := strings.TrimLeft(line, " \t")
		indent := len(line) - len(body)

		switch {
		case strings.TrimSpace(body) == "" || body[0] == '#':
			out = append(out, &tomlStmt{kind: tomlTrivia, text: line})
			pos = end

		case body[0] == '[':
			kind := tomlTable
			start := pos + indent + 1
			if strings.HasPrefix(body, "[[") {
				kind = tomlArrayTable
				start++
			}
			keys, _, err := scanKey(src, start)
			if err != nil {
				return nil, err
			}
			out = append(out, &tomlStmt{kind: kind, text: line, path: keys})
			pos = end

		default:
			keys, eq, err := scanKey(src, pos+indent)
			if err != nil {
				return nil, err
			}
			if eq >= len(src) || src[eq] != '=' {
				return nil, fmt.Errorf("expected '=' after key at offset %d", eq)
			}
			valueStart := skipBlank(src, eq+1)
			valueEnd := scanValue(src, valueStart)
			stop := lineEnd(src, valueEnd)
			out = append(out, &tomlStmt{
				kind:      tomlKeyValue,
				keyText:   src[pos:valueStart],
				valueText: src[valueStart:valueEnd],
				trailer:   src[valueEnd:stop],
				path:      keys,
			})
			pos = stop
		}
	}
	return out, nil
}

// lineEnd returns the offset just past the newline that ends the line
// containing i, or len(src).
func lineEnd(src string, i int) int {
	if n := strings.IndexByte(src[i:], '\n'); n >= 0 {
		return i + n + 1
	}
	return len(src)
}

func skipBlank(src string, i int) int {
	for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	return i
}

// scanKey reads a possibly dotted key starting at i and returns its parts
// and the offset of the first character after it.
func scanKey(src string, i int) ([]string, int, error) {
	var keys []string
	for {
		i = skipBlank(src, i)
		if i >= len(src) {
			return nil, i, fmt.Errorf("unexpected end of input in key")
		}
		switch src[i] {
		case '"':
			j := endBasicString(src, i+1)
			k, err := strconv.Unquote(src[i:j])
			if err != nil {
				return nil, i, fmt.Errorf("invalid quoted key %s: %w", src[i:j], err)
			}
			keys = append(keys, k)
			i = j
		case '\'':
			j := strings.IndexByte(src[i+1:], '\'')
			if j < 0 {
				return nil, i, fmt.Errorf("unterminated literal key")
			}
			keys = append(keys, src[i+1:i+1+j])
			i = i + j + 2
		default:
			j := i
			for j < len(src) && isBareKeyChar(src[j]) {
				j++
			}
			if j == i {
				return nil, i, fmt.Errorf("invalid key character %q at offset %d", src[i], i)
			}
			keys = append(keys, src[i:j])
			i = j
		}
		i = skipBlank(src, i)
		if i < len(src) && src[i] == '.' {
			i++
			continue
		}
		return keys, i, nil
	}
}

func isBareKeyChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// endBasicString returns the offset just past the closing quote of a basic
// string whose body starts at i.
func endBasicString(src string, i int) int {
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return len(src)
}

func endMultiline(src string, i int, delim string, escapes bool) int {
	for i < len(src) {
		if escapes && src[i] == '\\' {
			i += 2
			continue
		}
		if strings.HasPrefix(src[i:], delim) {
			i += len(delim)
			// Up to two quotes may sit directly against the delimiter.
			for n := 0; n < 2 && i < len(src) && src[i] == delim[0]; n++ {
				i++
			}
			return i
		}
		i++
	}
	return len(src)
}

// scanValue returns the offset just past the value starting at i, excluding
// trailing blanks and any comment.
func scanValue(src string, i int) int {
	depth := 0
	last := i
	for i < len(src) {
		c := src[i]
		switch {
		case strings.HasPrefix(src[i:], `"""`):
			i = endMultiline(src, i+3, `"""`, true)
			last = i
		case strings.HasPrefix(src[i:], `'''`):
			i = endMultiline(src, i+3, `'''`, false)
			last = i
		case c == '"':
			i = endBasicString(src, i+1)
			last = i
		case c == '\'':
			if j := strings.IndexByte(src[i+1:], '\''); j >= 0 {
				i = i + j + 2
			} else {
				i = len(src)
			}
			last = i
		case c == '[' || c == '{':
			depth++
			i++
			last = i
		case c == ']' || c == '}':
			depth--
			i++
			last = i
		case c == '#':
			if depth == 0 {
				return last
			}
			i = lineEnd(src, i)
		case c == '\n':
			if depth == 0 {
				return last
			}
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		default:
			i++
			last = i
		}
	}
	return last
}
