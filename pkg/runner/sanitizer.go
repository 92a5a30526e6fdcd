package runner

import (
	"fmt"
	"os"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/parley/pkg/domain"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxInputSize bounds the bytes of one inbound message.
const DefaultMaxInputSize = 4096

// EnvMaxInputSize overrides DefaultMaxInputSize when set to a positive integer.
const EnvMaxInputSize = "PARLEY_MAX_INPUT_SIZE"

// Both wrap domain.ErrInvalidTurn, so channels reject the turn instead of failing it.
var (
	ErrInputTooLarge = fmt.Errorf("%w: input exceeds maximum allowed size", domain.ErrInvalidTurn)
	ErrInvalidUTF8   = fmt.Errorf("%w: input contains invalid UTF-8 sequences", domain.ErrInvalidTurn)
)

// SanitizeInput prepares user text for a turn. Oversized and malformed input is
// rejected, never truncated. Control characters other than newline, tab and carriage
// return are dropped, which keeps escape sequences out of logs and terminals, and the
// text is normalised to NFC so recognisers and magic codes compare composed forms.
func SanitizeInput(input string) (string, error) {
	if limit := maxInputSize(); len(input) > limit {
		return "", fmt.Errorf("%w (size=%d limit=%d)", ErrInputTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}
	clean := norm.NFC.String(input)
	for _, r := range clean {
		if unsafeControl(r) {
			return stripControls(clean), nil
		}
	}
	return clean, nil
}

func stripControls(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if !unsafeControl(r) {
			out = append(out, r)
		}
	}
	return string(out)
}

func unsafeControl(r rune) bool {
	switch r {
	case '\n', '\t', '\r':
		return false
	}
	return unicode.IsControl(r)
}

func maxInputSize() int {
	if size, err := strconv.Atoi(os.Getenv(EnvMaxInputSize)); err == nil && size > 0 {
		return size
	}
	return DefaultMaxInputSize
}
