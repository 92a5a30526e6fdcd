package domain

// ActionKind names an action variant. It is also the discriminator used by file loaders.
type ActionKind string

const (
	KindSendMessage  ActionKind = "send"
	KindIf           ActionKind = "if"
	KindForEach      ActionKind = "foreach"
	KindInvokePrompt ActionKind = "prompt"
	KindRunCallback  ActionKind = "call"
	KindSetProperty  ActionKind = "set"
	KindComplete     ActionKind = "complete"
)

// Action is one step of a rule's action list.
// The set of implementations is closed: only the types in this file satisfy it.
type Action interface {
	Kind() ActionKind
	action()
}

// SendMessage renders a template (by name) or an inline text and emits it.
type SendMessage struct {
	Template string         `json:"template,omitempty" mapstructure:"template"`
	Text     string         `json:"text,omitempty" mapstructure:"text"`
	Args     map[string]any `json:"args,omitempty" mapstructure:"args"`
}

// If evaluates Condition once and executes exactly one branch.
type If struct {
	Condition string   `json:"condition"`
	Then      []Action `json:"then,omitempty"`
	Else      []Action `json:"else,omitempty"`
}

// ForEach iterates a sequence-valued state entry in order.
// The current element is bound to dialog.foreach.value and its index to dialog.foreach.index.
type ForEach struct {
	Items   string   `json:"items"`
	Filter  string   `json:"filter,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

// InvokePrompt starts the prompt registered under PromptID and suspends until it finishes.
type InvokePrompt struct {
	PromptID string `json:"prompt" mapstructure:"prompt"`
}

// RunCallback executes a host-provided command registered by name.
type RunCallback struct {
	Name string `json:"name" mapstructure:"name"`
}

// SetProperty writes the result of an expression into an explicitly scoped property.
type SetProperty struct {
	Property string `json:"property" mapstructure:"property"`
	Value    string `json:"value" mapstructure:"value"`
}

// Complete ends the active dialog, popping it off the stack.
type Complete struct{}

func (SendMessage) Kind() ActionKind  { return KindSendMessage }
func (If) Kind() ActionKind           { return KindIf }
func (ForEach) Kind() ActionKind      { return KindForEach }
func (InvokePrompt) Kind() ActionKind { return KindInvokePrompt }
func (RunCallback) Kind() ActionKind  { return KindRunCallback }
func (SetProperty) Kind() ActionKind  { return KindSetProperty }
func (Complete) Kind() ActionKind     { return KindComplete }

func (SendMessage) action()  {}
func (If) action()           {}
func (ForEach) action()      {}
func (InvokePrompt) action() {}
func (RunCallback) action()  {}
func (SetProperty) action()  {}
func (Complete) action()     {}

// Activity is an outbound message produced by a turn.
type Activity struct {
	ID             string         `json:"id,omitempty"`
	Type           TurnType       `json:"type"`
	ConversationID string         `json:"conversationId"`
	ReplyToID      string         `json:"replyToId,omitempty"`
	Recipient      ChannelAccount `json:"recipient,omitempty"`
	Text           string         `json:"text,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
}

// Attachment carries structured content alongside an activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content,omitempty"`
}

// ContentTypeSignIn identifies a SignInCard attachment.
const ContentTypeSignIn = "application/vnd.parley.signin"

// SignInCard is the sign-in affordance rendered by a token prompt.
type SignInCard struct {
	Title          string `json:"title,omitempty"`
	Text           string `json:"text,omitempty"`
	URL            string `json:"url"`
	ConnectionName string `json:"connectionName"`
}
