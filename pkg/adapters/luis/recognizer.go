// Package luis classifies utterances with a published LUIS v3 prediction endpoint.
package luis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"golang.org/x/text/language"
)

// DefaultSlot is the deployment slot queried when none is set.
const DefaultSlot = "production"

// ErrNoApp is returned when no application is configured for a locale.
var ErrNoApp = errors.New("no LUIS application for locale")

// Recognizer implements ports.Recognizer against LUIS.
type Recognizer struct {
	endpoint  string
	key       string
	slot      string
	threshold float64
	client    *http.Client

	apps    map[language.Tag]string
	tags    []language.Tag
	matcher language.Matcher
}

// Option configures the Recognizer.
type Option func(*Recognizer)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) {
		if c != nil {
			r.client = c
		}
	}
}

// WithSlot selects the deployment slot ("production" or "staging").
func WithSlot(slot string) Option {
	return func(r *Recognizer) {
		if slot != "" {
			r.slot = slot
		}
	}
}

// WithThreshold sets the score below which the top intent is reported as unknown.
func WithThreshold(score float64) Option {
	return func(r *Recognizer) { r.threshold = score }
}

// WithApp adds the application serving locale ("en-US", "es").
// The application given to New serves every locale without one.
func WithApp(locale, appID string) Option {
	return func(r *Recognizer) {
		tag, err := language.Parse(locale)
		if err != nil || appID == "" {
			return
		}
		r.apps[tag] = appID
		r.tags = append(r.tags, tag)
	}
}

// New creates a recognizer for the given endpoint host (e.g. "westus.api.cognitive.microsoft.com"
// or a full URL), default application id and endpoint key.
func New(endpoint, appID, key string, opts ...Option) *Recognizer {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	r := &Recognizer{
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
		slot:     DefaultSlot,
		client:   &http.Client{Timeout: 10 * time.Second},
		apps:     map[language.Tag]string{},
	}
	if appID != "" {
		r.apps[language.Und] = appID
		r.tags = append(r.tags, language.Und)
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.tags) > 0 {
		r.matcher = language.NewMatcher(r.tags)
	}
	return r
}

type predictionResponse struct {
	Query      string `json:"query"`
	Prediction struct {
		TopIntent string `json:"topIntent"`
		Intents   map[string]struct {
			Score float64 `json:"score"`
		} `json:"intents"`
		Entities map[string]any `json:"entities"`
	} `json:"prediction"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Recognizer) app(locale string) (string, error) {
	if len(r.tags) == 0 {
		return "", fmt.Errorf("%w %q", ErrNoApp, locale)
	}
	if locale == "" {
		if id, ok := r.apps[language.Und]; ok {
			return id, nil
		}
		return r.apps[r.tags[0]], nil
	}
	_, idx, confidence := r.matcher.Match(language.Make(locale))
	if confidence == language.No {
		if id, ok := r.apps[language.Und]; ok {
			return id, nil
		}
		return "", fmt.Errorf("%w %q", ErrNoApp, locale)
	}
	return r.apps[r.tags[idx]], nil
}

// Recognize queries the prediction endpoint for utterance.
func (r *Recognizer) Recognize(ctx context.Context, utterance, locale string) (domain.RecognizerResult, error) {
	if strings.TrimSpace(utterance) == "" {
		return domain.RecognizerResult{Intent: domain.IntentUnknown}, nil
	}
	appID, err := r.app(locale)
	if err != nil {
		return domain.RecognizerResult{}, err
	}

	q := url.Values{}
	q.Set("query", utterance)
	q.Set("subscription-key", r.key)
	q.Set("show-all-intents", "false")
	q.Set("verbose", "false")
	u := fmt.Sprintf("%s/luis/prediction/v3.0/apps/%s/slots/%s/predict?%s",
		r.endpoint, url.PathEscape(appID), url.PathEscape(r.slot), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.RecognizerResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.RecognizerResult{}, fmt.Errorf("luis request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.RecognizerResult{}, fmt.Errorf("read luis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			return domain.RecognizerResult{}, fmt.Errorf("luis: %s: %s (status %d)", e.Error.Code, e.Error.Message, resp.StatusCode)
		}
		return domain.RecognizerResult{}, fmt.Errorf("luis: unexpected status %d", resp.StatusCode)
	}

	var pr predictionResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return domain.RecognizerResult{}, fmt.Errorf("decode luis response: %w", err)
	}

	top := pr.Prediction.TopIntent
	score := pr.Prediction.Intents[top].Score
	if top == "" || top == "None" || score < r.threshold {
		return domain.RecognizerResult{Intent: domain.IntentUnknown, Entities: pr.Prediction.Entities}, nil
	}
	return domain.RecognizerResult{
		Intent:     top,
		Confidence: score,
		Entities:   pr.Prediction.Entities,
	}, nil
}
