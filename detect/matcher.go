package detect

import (
	"fmt"
	"strings"
	"time"

	"sentinel/core"

	"github.com/dlclark/regexp2"
)

// Field names the event attribute a rule inspects
type Field string

const (
	FieldCommandLine Field = "command_line"
	FieldParentImage Field = "parent_image"
	FieldImage       Field = "image"
	FieldUser        Field = "user"
	FieldHost        Field = "host"
)

// AllFields lists every selectable field
var AllFields = []Field{FieldCommandLine, FieldParentImage, FieldImage, FieldUser, FieldHost}

// IsValid reports whether f names a known event field
func (f Field) IsValid() bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

// Value extracts the field from event
func (f Field) Value(event *core.ProcessEvent) string {
	if event == nil {
		return ""
	}
	switch f {
	case FieldCommandLine:
		return event.CommandLine
	case FieldParentImage:
		return event.ParentImage
	case FieldImage:
		return event.Image
	case FieldUser:
		return event.User
	case FieldHost:
		return event.Host
	default:
		return ""
	}
}

// Matcher is the detection capability of a rule. Implementations must be
// safe for concurrent use.
type Matcher interface {
	Match(event *core.ProcessEvent) (bool, error)
}

// RegexMatcher matches a case-insensitive regexp2 pattern against one field
type RegexMatcher struct {
	field   Field
	pattern string
	re      *regexp2.Regexp
}

// NewRegexMatcher compiles pattern with the given match timeout
func NewRegexMatcher(field Field, pattern string, timeout time.Duration) (*RegexMatcher, error) {
	if !field.IsValid() {
		return nil, fmt.Errorf("unknown event field %q", field)
	}
	re, err := CompilePattern(pattern, timeout)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{field: field, pattern: pattern, re: re}, nil
}

// Match never matches an empty field value
func (m *RegexMatcher) Match(event *core.ProcessEvent) (bool, error) {
	value := m.field.Value(event)
	if value == "" {
		return false, nil
	}
	return MatchPattern(m.re, value)
}

func (m *RegexMatcher) String() string {
	return fmt.Sprintf("%s =~ /%s/i", m.field, m.pattern)
}

// KeywordMatcher matches when any keyword occurs in the field, ignoring case
type KeywordMatcher struct {
	field    Field
	keywords []string
}

// NewKeywordMatcher requires at least one non-blank keyword
func NewKeywordMatcher(field Field, keywords []string) (*KeywordMatcher, error) {
	if !field.IsValid() {
		return nil, fmt.Errorf("unknown event field %q", field)
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if len(lowered) == 0 {
		return nil, fmt.Errorf("keyword matcher requires at least one keyword")
	}
	return &KeywordMatcher{field: field, keywords: lowered}, nil
}

func (m *KeywordMatcher) Match(event *core.ProcessEvent) (bool, error) {
	value := strings.ToLower(m.field.Value(event))
	if value == "" {
		return false, nil
	}
	for _, kw := range m.keywords {
		if strings.Contains(value, kw) {
			return true, nil
		}
	}
	return false, nil
}

func (m *KeywordMatcher) String() string {
	return fmt.Sprintf("%s contains any of [%s]", m.field, strings.Join(m.keywords, ", "))
}

// MatcherFunc adapts a plain function to Matcher
type MatcherFunc func(event *core.ProcessEvent) (bool, error)

func (f MatcherFunc) Match(event *core.ProcessEvent) (bool, error) {
	return f(event)
}
