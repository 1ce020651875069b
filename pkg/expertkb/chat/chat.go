// Package chat is the natural-language front door: it classifies free-text
// messages, delegates to the store, the reasoner and the explainer, and
// renders their results as text.
package chat

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/cognicore/expertkb/pkg/expertkb/explain"
	"github.com/cognicore/expertkb/pkg/expertkb/inference"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// Role identifies who wrote a message
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Message is one chat history entry. Error is set on failed replies.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Intent    Intent    `json:"intent,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Explainer is the part of explain.Explainer the chat uses.
type Explainer interface {
	Why(target string) explain.WhyExplanation
	How(goal string) explain.HowExplanation
}

// Options configures an Interface
type Options struct {
	Logger       *zap.Logger
	HistoryLimit int // 0 keeps every message
	Clock        func() time.Time
}

// Interface answers chat messages. It is safe for concurrent use; messages
// are processed one at a time.
type Interface struct {
	store     store.Store
	reasoner  inference.Reasoner
	explainer Explainer
	log       *zap.Logger
	now       func() time.Time
	limit     int

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	history []Message
}

// New creates a chat interface over the given components.
func New(st store.Store, r inference.Reasoner, x Explainer, opts Options) *Interface {
	c := &Interface{
		store:     st,
		reasoner:  r,
		explainer: x,
		log:       opts.Logger,
		now:       opts.Clock,
		limit:     opts.HistoryLimit,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Process handles one message and returns the system reply. Both the
// message and the reply are appended to the history.
func (c *Interface) Process(message string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	text := Sanitize(message)
	intent := Classify(text)
	c.append(Message{Role: RoleUser, Content: text, Intent: intent})

	content, err := c.respond(intent, text)
	reply := Message{Role: RoleSystem, Content: content, Intent: intent}
	if err != nil {
		reply.Error = err.Error()
		c.log.Debug("chat message rejected", zap.String("intent", string(intent)), zap.Error(err))
	}
	return c.append(reply)
}

func (c *Interface) append(m Message) Message {
	m.Timestamp = c.now()
	m.ID = ulid.MustNew(ulid.Timestamp(m.Timestamp), c.entropy).String()
	c.history = append(c.history, m)
	if c.limit > 0 && len(c.history) > c.limit {
		c.history = append([]Message(nil), c.history[len(c.history)-c.limit:]...)
	}
	return m
}

// History returns the chat history, oldest first.
func (c *Interface) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

// SetHistory replaces the chat history, e.g. when a saved state is loaded.
func (c *Interface) SetHistory(msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append([]Message(nil), msgs...)
}

// ClearHistory forgets all messages.
func (c *Interface) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

var errNoTarget = errors.New("could not tell what to explain")

// markup matches tags and entities; conditions such as "idade < 18" or
// "a && b" are left alone.
var markup = regexp.MustCompile(`<[a-zA-Z!/][^<>]*>|&(?:[a-zA-Z]+|#[0-9]+|#x[0-9a-fA-F]+);`)

func (c *Interface) respond(intent Intent, text string) (string, error) {
	switch intent {
	case IntentAddRule:
		condition, conclusion, ok := extractRule(text)
		if !ok {
			return ruleUsage, errors.New("rule format not recognised")
		}
		id, err := c.store.AddRule(condition, conclusion, store.RuleOptions{})
		if err != nil {
			return fmt.Sprintf("could not add rule: %v\n\n%s", err, ruleUsage), err
		}
		r, _ := c.store.GetRuleByID(id)
		return fmt.Sprintf("rule added\nid: %s\ncondition: %s\nconclusion: %s", id, r.Condition, r.Conclusion), nil

	case IntentAddFact:
		name, raw, ok := extractFact(text)
		if !ok {
			return factUsage, errors.New("fact format not recognised")
		}
		value, err := store.ParseValue(raw)
		if err != nil {
			return fmt.Sprintf("could not add fact: %v\n\n%s", err, factUsage), err
		}
		id, err := c.store.AddFact(name, value, store.FactOptions{Description: fmt.Sprintf("from chat: %q", text)})
		if err != nil {
			return fmt.Sprintf("could not add fact: %v", err), err
		}
		return fmt.Sprintf("fact added\nid: %s\nname: %s\nvalue: %s", id, name, value), nil

	case IntentQuery:
		q := extractTarget(intent, text)
		if q == "" {
			return "could not understand the question; try \"É verdade que usuário é maior de idade?\"", errNoTarget
		}
		return FormatQuery(c.reasoner.Query(q)), nil

	case IntentWhy, IntentHow:
		target := extractTarget(intent, text)
		if target == "" {
			return "could not tell what to explain; try \"Por que usuário é maior de idade?\" or \"Como obter desconto?\"", errNoTarget
		}
		if intent == IntentWhy {
			return FormatWhy(c.explainer.Why(target)), nil
		}
		return FormatHow(c.explainer.How(target)), nil

	case IntentForward:
		return FormatForward(c.reasoner.Forward(nil)), nil

	case IntentListRules:
		return FormatRules(c.store.GetAllRules()), nil

	case IntentListFacts:
		return FormatFacts(c.store.GetAllFacts()), nil

	case IntentHelp:
		return c.help(), nil
	}

	return fmt.Sprintf("did not understand %q\n\nsuggestions:\n- rephrase the message\n- type \"ajuda\" to list the commands\n- rule example: SE idade >= 18 ENTÃO maior_de_idade\n- question example: É verdade que usuário é premium?", text), nil
}

// Sanitize reduces a message to plain text: markup is dropped, entities are
// decoded and whitespace is collapsed. Script and style content is removed.
func Sanitize(message string) string {
	if !markup.MatchString(message) {
		return strings.Join(strings.Fields(message), " ")
	}

	var buf strings.Builder
	z := html.NewTokenizer(strings.NewReader(message))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return strings.Join(strings.Fields(message), " ")
			}
			return strings.Join(strings.Fields(buf.String()), " ")
		case html.TextToken:
			if skip == 0 {
				buf.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li":
				buf.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li":
				buf.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			buf.WriteByte(' ')
		}
	}
}
