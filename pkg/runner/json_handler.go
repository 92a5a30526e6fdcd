package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// JSONHandler implements IOHandler for JSON-Lines pipes.
//
// Every outbound activity is written as one JSON line. Each input line is either a
// turn object ({"type":"event","name":"tokens/response","value":{...}}), a JSON
// string, or plain text, the last two becoming message turns.
type JSONHandler struct {
	Reader  *bufio.Reader
	Writer  io.Writer
	Encoder *json.Encoder
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Writer:  w,
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Output(ctx context.Context, activities []domain.Activity) error {
	for _, act := range activities {
		if err := h.Encoder.Encode(act); err != nil {
			return err
		}
	}
	return nil
}

// Input reads the next non-empty line. Reads are not interruptible; ctx is checked
// between lines.
func (h *JSONHandler) Input(ctx context.Context) (domain.ConversationTurn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ConversationTurn{}, err
		}
		line, err := h.Reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil {
				return domain.ConversationTurn{}, err
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if err != nil {
			return domain.ConversationTurn{}, err
		}
		return parseLine(line)
	}
}

func parseLine(line string) (domain.ConversationTurn, error) {
	var turn domain.ConversationTurn
	switch {
	case strings.HasPrefix(line, "{"):
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			return domain.ConversationTurn{}, fmt.Errorf("%w: %v", domain.ErrInvalidTurn, err)
		}
		if turn.Type == "" {
			turn.Type = domain.TurnMessage
		}
	case strings.HasPrefix(line, `"`):
		if err := json.Unmarshal([]byte(line), &turn.Text); err != nil {
			return domain.ConversationTurn{}, fmt.Errorf("%w: %v", domain.ErrInvalidTurn, err)
		}
		turn.Type = domain.TurnMessage
	default:
		turn = domain.ConversationTurn{Type: domain.TurnMessage, Text: line}
	}

	clean, err := SanitizeInput(turn.Text)
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	turn.Text = clean
	return turn, nil
}

// SystemOutput emits a {"system": msg} line so consumers can tell it apart from activities.
func (h *JSONHandler) SystemOutput(ctx context.Context, msg string) error {
	return h.Encoder.Encode(map[string]string{"system": msg})
}
