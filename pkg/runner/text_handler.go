package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/parley/pkg/domain"
)

// ContentRenderer transforms reply text before it is printed (e.g. markdown to ANSI).
type ContentRenderer func(string) (string, error)

// TextHandler implements the interactive text interface.
type TextHandler struct {
	Reader   *bufio.Reader
	Writer   io.Writer
	Renderer ContentRenderer
	// Prompt is printed before every read. Defaults to "> ".
	Prompt string

	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption defines configuration for TextHandler.
type TextHandlerOption func(*TextHandler)

// WithTextHandlerRenderer configures the content renderer.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// WithTextHandlerPrompt replaces the input prompt.
func WithTextHandlerPrompt(prompt string) TextHandlerOption {
	return func(h *TextHandler) {
		h.Prompt = prompt
	}
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Reader: bufio.NewReader(r),
		Writer: w,
		Prompt: "> ",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// initPump starts the single goroutine that owns the reader, so Input can honour ctx
// even though a blocked read cannot be interrupted.
func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				close(h.inputChan)
				return
			}
			h.inputChan <- inputResult{err: err}
			// Backoff so a persistent read failure does not spin.
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// Output prints every activity; sign-in cards are printed as a link.
func (h *TextHandler) Output(ctx context.Context, activities []domain.Activity) error {
	for _, act := range activities {
		if act.Text != "" {
			output := act.Text
			if h.Renderer != nil {
				if rendered, err := h.Renderer(act.Text); err == nil {
					output = rendered
				}
			}
			if _, err := fmt.Fprintln(h.Writer, strings.TrimSpace(output)); err != nil {
				return err
			}
		}
		for _, att := range act.Attachments {
			card, ok := signInCard(att)
			if !ok {
				continue
			}
			title := card.Title
			if title == "" {
				title = "Sign in"
			}
			if _, err := fmt.Fprintf(h.Writer, "[%s] %s\n", title, card.URL); err != nil {
				return err
			}
		}
	}
	return nil
}

// Input reads one line. Lines that fail sanitization are rejected and read again.
func (h *TextHandler) Input(ctx context.Context) (domain.ConversationTurn, error) {
	h.initPump()

	for {
		select {
		case <-ctx.Done():
			return domain.ConversationTurn{}, ctx.Err()
		default:
			fmt.Fprint(h.Writer, h.Prompt)
		}

		select {
		case <-ctx.Done():
			return domain.ConversationTurn{}, ctx.Err()
		case res, ok := <-h.inputChan:
			if !ok {
				return domain.ConversationTurn{}, io.EOF
			}
			if res.err != nil {
				return domain.ConversationTurn{}, res.err
			}
			clean, err := SanitizeInput(strings.TrimSpace(res.text))
			if err != nil {
				fmt.Fprintf(h.Writer, "Error: %v. Please try again.\n", err)
				continue
			}
			return domain.ConversationTurn{Type: domain.TurnMessage, Text: clean}, nil
		}
	}
}

// SystemOutput prints a meta-message with a prefix.
func (h *TextHandler) SystemOutput(ctx context.Context, msg string) error {
	_, err := fmt.Fprintf(h.Writer, "[System] %s\n", msg)
	return err
}

// signInCard accepts the card as a value, a pointer or a decoded JSON map.
func signInCard(att domain.Attachment) (domain.SignInCard, bool) {
	if att.ContentType != domain.ContentTypeSignIn {
		return domain.SignInCard{}, false
	}
	switch c := att.Content.(type) {
	case domain.SignInCard:
		return c, true
	case *domain.SignInCard:
		if c == nil {
			return domain.SignInCard{}, false
		}
		return *c, true
	case map[string]any:
		card := domain.SignInCard{}
		card.Title, _ = c["title"].(string)
		card.Text, _ = c["text"].(string)
		card.URL, _ = c["url"].(string)
		card.ConnectionName, _ = c["connectionName"].(string)
		return card, card.URL != ""
	}
	return domain.SignInCard{}, false
}
