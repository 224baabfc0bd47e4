package rule

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuotedIdent
	tokKey
	tokString
	tokNumber
	tokComma
	tokLParen
	tokRParen
	tokOp
	tokAnd
	tokOr
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of rule"
	case tokIdent, tokQuotedIdent:
		return "identifier"
	case tokKey:
		return "clause"
	case tokString:
		return "quoted literal"
	case tokNumber:
		return "number"
	case tokComma:
		return "','"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokOp:
		return "operator"
	case tokAnd, tokOr:
		return "boolean connective"
	default:
		return "token"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) describe() string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return fmt.Sprintf("%s %q at offset %d", t.kind, t.text, t.pos)
}

// lex splits a rule string into tokens. Whitespace only separates tokens;
// quoted literals keep their inner whitespace.
func lex(s string) ([]token, error) {
	var tokens []token
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '\'':
			text, next, err := scanQuoted(runes, i, '\'')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: text, pos: i})
			i = next

		case r == '`':
			text, next, err := scanQuoted(runes, i, '`')
			if err != nil {
				return nil, err
			}
			kind := tokQuotedIdent
			if next < len(runes) && runes[next] == ':' {
				kind = tokKey
				next++
			}
			tokens = append(tokens, token{kind: kind, text: text, pos: i})
			i = next

		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++

		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++

		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++

		case r == '&' || r == '|':
			if i+1 >= len(runes) || runes[i+1] != r {
				return nil, fmt.Errorf("unexpected %q at offset %d", r, i)
			}
			kind := tokAnd
			if r == '|' {
				kind = tokOr
			}
			tokens = append(tokens, token{kind: kind, text: string(runes[i : i+2]), pos: i})
			i += 2

		case r == '=' || r == '!' || r == '<' || r == '>':
			op, width := scanOperator(runes, i)
			if op == "" {
				return nil, fmt.Errorf("unexpected %q at offset %d", r, i)
			}
			tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
			i += width

		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i = scanNumber(runes, i)
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i]), pos: start})

		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			text := string(runes[start:i])
			kind := tokIdent
			if i < len(runes) && runes[i] == ':' {
				kind = tokKey
				i++
			} else if strings.EqualFold(text, "and") {
				kind = tokAnd
			} else if strings.EqualFold(text, "or") {
				kind = tokOr
			}
			tokens = append(tokens, token{kind: kind, text: text, pos: start})

		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", r, i)
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(runes)})
	return tokens, nil
}

func scanQuoted(runes []rune, start int, quote rune) (string, int, error) {
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) && (runes[i+1] == quote || runes[i+1] == '\\') {
				b.WriteRune(runes[i+1])
				i++
				continue
			}
			b.WriteRune(runes[i])
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(runes[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated %c literal starting at offset %d", quote, start)
}

func scanOperator(runes []rune, i int) (string, int) {
	next := rune(0)
	if i+1 < len(runes) {
		next = runes[i+1]
	}
	switch runes[i] {
	case '=':
		if next == '=' {
			return string(OpEq), 2
		}
		return string(OpEq), 1
	case '!':
		if next == '=' {
			return string(OpNe), 2
		}
	case '<':
		switch next {
		case '=':
			return string(OpLe), 2
		case '>':
			return string(OpNe), 2
		}
		return string(OpLt), 1
	case '>':
		if next == '=' {
			return string(OpGe), 2
		}
		return string(OpGt), 1
	}
	return "", 0
}

func scanNumber(runes []rune, i int) int {
	if runes[i] == '-' {
		i++
	}
	for i < len(runes) && unicode.IsDigit(runes[i]) {
		i++
	}
	if i+1 < len(runes) && runes[i] == '.' && unicode.IsDigit(runes[i+1]) {
		i++
		for i < len(runes) && unicode.IsDigit(runes[i]) {
			i++
		}
	}
	if i+1 < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
		j := i + 1
		if runes[j] == '+' || runes[j] == '-' {
			j++
		}
		if j < len(runes) && unicode.IsDigit(runes[j]) {
			i = j
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
		}
	}
	return i
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || r == '.' || unicode.IsDigit(r)
}

// isPlainIdent reports whether name lexes back as a single identifier.
func isPlainIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 && !isIdentStart(r) {
			return false
		}
		if !isIdentPart(r) {
			return false
		}
	}
	lower := strings.ToLower(name)
	return lower != "and" && lower != "or"
}
