package document

import (
	"unicode"
	"unicode/utf8"
)

// Token is one term produced by analysis.
type Token struct {
	Term []byte
	// PositionIncrement is the distance to the previous token's position.
	// Zero stacks a token on the previous one.
	PositionIncrement int
	StartOffset       int
	EndOffset         int
	Payload           []byte
}

// TokenStream yields the tokens of one field value. Use it like a
// bufio.Scanner: call Next until it returns false, then check Err.
type TokenStream interface {
	Next() bool
	Token() Token
	Err() error
}

// Analyzer turns field text into tokens.
type Analyzer interface {
	TokenStream(field, text string) TokenStream
	// PositionIncrementGap is added between values of a multi-valued field.
	PositionIncrementGap(field string) int
	// OffsetGap is added to offsets between values of a multi-valued field.
	OffsetGap(field string) int
}

// WhitespaceAnalyzer splits on unicode white space and keeps the case.
type WhitespaceAnalyzer struct{}

func (WhitespaceAnalyzer) TokenStream(_ string, text string) TokenStream {
	return &whitespaceStream{text: text}
}

func (WhitespaceAnalyzer) PositionIncrementGap(string) int { return 0 }
func (WhitespaceAnalyzer) OffsetGap(string) int            { return 1 }

type whitespaceStream struct {
	text string
	pos  int
	tok  Token
}

func (s *whitespaceStream) Next() bool {
	for s.pos < len(s.text) {
		r, size := utf8.DecodeRuneInString(s.text[s.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		s.pos += size
	}
	if s.pos >= len(s.text) {
		return false
	}
	start := s.pos
	for s.pos < len(s.text) {
		r, size := utf8.DecodeRuneInString(s.text[s.pos:])
		if unicode.IsSpace(r) {
			break
		}
		s.pos += size
	}
	s.tok = Token{
		Term:              []byte(s.text[start:s.pos]),
		PositionIncrement: 1,
		StartOffset:       start,
		EndOffset:         s.pos,
	}
	return true
}

func (s *whitespaceStream) Token() Token { return s.tok }
func (s *whitespaceStream) Err() error   { return nil }

// KeywordAnalyzer emits the whole text as a single token.
type KeywordAnalyzer struct{}

func (KeywordAnalyzer) TokenStream(_ string, text string) TokenStream {
	return NewCannedTokenStream(Token{Term: []byte(text), PositionIncrement: 1, EndOffset: len(text)})
}

func (KeywordAnalyzer) PositionIncrementGap(string) int { return 0 }
func (KeywordAnalyzer) OffsetGap(string) int            { return 1 }

// CannedTokenStream replays a fixed list of tokens.
type CannedTokenStream struct {
	tokens []Token
	i      int
}

// NewCannedTokenStream returns a stream over tokens.
func NewCannedTokenStream(tokens ...Token) *CannedTokenStream {
	return &CannedTokenStream{tokens: tokens, i: -1}
}

func (s *CannedTokenStream) Next() bool {
	if s.i+1 >= len(s.tokens) {
		s.i = len(s.tokens)
		return false
	}
	s.i++
	return true
}

func (s *CannedTokenStream) Token() Token { return s.tokens[s.i] }
func (s *CannedTokenStream) Err() error   { return nil }
