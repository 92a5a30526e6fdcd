package domain

// FrameKind identifies what owns a dialog frame.
type FrameKind string

const (
	FrameRoot   FrameKind = "root"
	FrameRule   FrameKind = "rule"
	FramePrompt FrameKind = "prompt"
)

// Branch names the child list a Position descends into.
type Branch string

const (
	BranchThen Branch = "then"
	BranchElse Branch = "else"
	BranchBody Branch = "body"
)

// Position is one step of a resumable cursor path.
// Index addresses the action inside the current list; Branch and Iteration say how to
// descend into it when the action is an If or a ForEach that was suspended mid-way.
type Position struct {
	Index     int    `json:"index" mapstructure:"index"`
	Branch    Branch `json:"branch,omitempty" mapstructure:"branch"`
	Iteration int    `json:"iteration,omitempty" mapstructure:"iteration"`
	// Items is the snapshot of a ForEach sequence taken when the loop began.
	Items []any `json:"items,omitempty" mapstructure:"items"`
}

// PromptState is the bookkeeping of an in-flight prompt.
type PromptState struct {
	PromptID    string     `json:"prompt_id" mapstructure:"prompt_id"`
	Kind        PromptKind `json:"kind" mapstructure:"kind"`
	Attempt     int        `json:"attempt" mapstructure:"attempt"`
	MaxAttempts int        `json:"max_attempts" mapstructure:"max_attempts"`
	// Deadline is a unix millisecond timestamp; zero means no deadline.
	Deadline  int64  `json:"deadline,omitempty" mapstructure:"deadline"`
	Property  string `json:"property" mapstructure:"property"`
	StartedAt int64  `json:"started_at" mapstructure:"started_at"`
}

// Expired reports whether the prompt deadline passed at nowMs.
func (p PromptState) Expired(nowMs int64) bool {
	return p.Deadline > 0 && nowMs >= p.Deadline
}

// DialogFrame is one entry of a conversation's dialog stack.
type DialogFrame struct {
	Kind      FrameKind      `json:"kind" mapstructure:"kind"`
	DialogID  string         `json:"dialog_id,omitempty" mapstructure:"dialog_id"`
	RuleIndex int            `json:"rule_index" mapstructure:"rule_index"`
	Locals    map[string]any `json:"locals,omitempty" mapstructure:"locals"`
	Cursor    []Position     `json:"cursor,omitempty" mapstructure:"cursor"`
	Prompt    *PromptState   `json:"prompt,omitempty" mapstructure:"prompt"`
}

// DialogStack is the ordered list of frames; the last element is the top.
type DialogStack []DialogFrame

// Top returns the active frame, or nil when the stack is empty.
func (s DialogStack) Top() *DialogFrame {
	if len(s) == 0 {
		return nil
	}
	return &s[len(s)-1]
}

// Push appends a frame.
func (s *DialogStack) Push(f DialogFrame) {
	*s = append(*s, f)
}

// Pop removes and returns the top frame.
func (s *DialogStack) Pop() (DialogFrame, bool) {
	n := len(*s)
	if n == 0 {
		return DialogFrame{}, false
	}
	f := (*s)[n-1]
	*s = (*s)[:n-1]
	return f, true
}

// Parent returns the frame just below the top, or nil.
func (s DialogStack) Parent() *DialogFrame {
	if len(s) < 2 {
		return nil
	}
	return &s[len(s)-2]
}

// PendingPrompt returns the state of the prompt awaiting input, if any.
func (s DialogStack) PendingPrompt() *PromptState {
	top := s.Top()
	if top == nil || top.Kind != FramePrompt {
		return nil
	}
	return top.Prompt
}
