package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

const (
	whitespaceToken int = iota
	identToken
	numberToken
	openAngleToken
	closeAngleToken
	openParenToken
	closeParenToken
	openBracketToken
	closeBracketToken
	commaToken
	semicolonToken
)

var (
	whitespaceMatcher   = parsly.NewToken(whitespaceToken, "Whitespace", matcher.NewWhiteSpace())
	identMatcher        = parsly.NewToken(identToken, "Ident", &identifier{})
	numberMatcher       = parsly.NewToken(numberToken, "Number", matcher.NewNumber())
	openAngleMatcher    = parsly.NewToken(openAngleToken, "<", matcher.NewByte('<'))
	closeAngleMatcher   = parsly.NewToken(closeAngleToken, ">", matcher.NewByte('>'))
	openParenMatcher    = parsly.NewToken(openParenToken, "(", matcher.NewByte('('))
	closeParenMatcher   = parsly.NewToken(closeParenToken, ")", matcher.NewByte(')'))
	openBracketMatcher  = parsly.NewToken(openBracketToken, "[", matcher.NewByte('['))
	closeBracketMatcher = parsly.NewToken(closeBracketToken, "]", matcher.NewByte(']'))
	commaMatcher        = parsly.NewToken(commaToken, ",", matcher.NewByte(','))
	semicolonMatcher    = parsly.NewToken(semicolonToken, ";", matcher.NewByte(';'))
)

// identifier matches a possibly path qualified name such as T::Balance.
type identifier struct{}

func (identifier) Match(cursor *parsly.Cursor) (matched int) {
	for i := cursor.Pos; i < cursor.InputSize; i++ {
		c := cursor.Input[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9' && matched > 0:
		case c == ':' && matched > 0:
		default:
			return matched
		}
		matched++
	}
	return matched
}

// typeExpr is a parsed type string.
type typeExpr struct {
	name   string
	args   []*typeExpr
	tuple  bool
	fixed  bool
	length int
}

func (e *typeExpr) String() string {
	switch {
	case e.tuple:
		parts := make([]string, len(e.args))
		for i, a := range e.args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case e.fixed:
		return "[" + e.args[0].String() + "; " + strconv.Itoa(e.length) + "]"
	case len(e.args) > 0:
		parts := make([]string, len(e.args))
		for i, a := range e.args {
			parts[i] = a.String()
		}
		return e.name + "<" + strings.Join(parts, ", ") + ">"
	}
	return e.name
}

// parseTypeString parses expressions like Vec<(AccountId, Balance)>, [u8; 32]
// or <T as Trait>::Balance.
func parseTypeString(input string) (*typeExpr, error) {
	cursor := parsly.NewCursor("", []byte(stripTraitCasts(input)), 0)
	expr, err := expectType(cursor)
	if err != nil {
		return nil, fmt.Errorf("parse type %q: %w", input, err)
	}
	for i := cursor.Pos; i < cursor.InputSize; i++ {
		if c := cursor.Input[i]; c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return nil, fmt.Errorf("parse type %q: unexpected input at %d", input, i)
		}
	}
	return expr, nil
}

func expectType(cursor *parsly.Cursor) (*typeExpr, error) {
	m := cursor.MatchAfterOptional(whitespaceMatcher, identMatcher, openParenMatcher, openBracketMatcher)
	switch m.Code {
	case identToken:
		name := m.Text(cursor)
		if i := strings.LastIndex(name, "::"); i >= 0 {
			name = name[i+2:]
		}
		expr := &typeExpr{name: name}
		if next := cursor.MatchAfterOptional(whitespaceMatcher, openAngleMatcher); next.Code == openAngleToken {
			args, err := expectList(cursor, closeAngleMatcher)
			if err != nil {
				return nil, err
			}
			expr.args = args
		}
		return expr, nil
	case openParenToken:
		args, err := expectList(cursor, closeParenMatcher)
		if err != nil {
			return nil, err
		}
		return &typeExpr{tuple: true, args: args}, nil
	case openBracketToken:
		elem, err := expectType(cursor)
		if err != nil {
			return nil, err
		}
		if sep := cursor.MatchAfterOptional(whitespaceMatcher, semicolonMatcher); sep.Code != semicolonToken {
			return nil, cursor.NewError(semicolonMatcher)
		}
		num := cursor.MatchAfterOptional(whitespaceMatcher, numberMatcher)
		if num.Code != numberToken {
			return nil, cursor.NewError(numberMatcher)
		}
		n, err := strconv.Atoi(num.Text(cursor))
		if err != nil {
			return nil, err
		}
		if end := cursor.MatchAfterOptional(whitespaceMatcher, closeBracketMatcher); end.Code != closeBracketToken {
			return nil, cursor.NewError(closeBracketMatcher)
		}
		return &typeExpr{fixed: true, length: n, args: []*typeExpr{elem}}, nil
	}
	return nil, cursor.NewError(identMatcher, openParenMatcher, openBracketMatcher)
}

// expectList parses comma separated types up to and including the closing token.
func expectList(cursor *parsly.Cursor, closing *parsly.Token) ([]*typeExpr, error) {
	var out []*typeExpr
	if m := cursor.MatchAfterOptional(whitespaceMatcher, closing); m.Code == closing.Code {
		return out, nil
	}
	for {
		expr, err := expectType(cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, expr)
		m := cursor.MatchAfterOptional(whitespaceMatcher, commaMatcher, closing)
		switch m.Code {
		case commaToken:
			if end := cursor.MatchAfterOptional(whitespaceMatcher, closing); end.Code == closing.Code {
				return out, nil
			}
		case closing.Code:
			return out, nil
		default:
			return nil, cursor.NewError(commaMatcher, closing)
		}
	}
}

// stripTraitCasts removes `<T as Trait>::` qualifiers, leaving the associated
// type name.
func stripTraitCasts(s string) string {
	for {
		start := strings.Index(s, "<T as ")
		if start < 0 {
			return strings.TrimSpace(s)
		}
		depth := 0
		end := -1
		for i := start; i < len(s); i++ {
			if s[i] == '<' {
				depth++
			} else if s[i] == '>' {
				depth--
				if depth == 0 {
					end = i
					break
				}
			}
		}
		if end < 0 || !strings.HasPrefix(s[end+1:], "::") {
			return strings.TrimSpace(s)
		}
		s = s[:start] + s[end+3:]
	}
}
