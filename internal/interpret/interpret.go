// Package interpret turns raw model completions into validated
// nickname-mapping results. Models wrap their output in prose and code
// fences at will, so extraction stays tolerant; everything that fails a
// check degrades to "no result" rather than an error.
package interpret

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// SelfMarker is appended to the bot's own display name when prompts are
// built, and recognized again when the model tries to map a nickname
// onto the bot.
const SelfMarker = "(self)"

// Result is the outcome of interpreting one completion. Found is false
// for every negative outcome: no JSON, bad shape, or all entries
// filtered away.
type Result struct {
	Found   bool
	Mapping map[string]string
}

type Interpreter struct {
	BotDisplayName string
	MinLength      int
	MaxLength      int
	Logger         *slog.Logger
}

func New(botDisplayName string, minLength, maxLength int, logger *slog.Logger) *Interpreter {
	if minLength < 1 {
		minLength = 1
	}
	if maxLength < minLength {
		maxLength = minLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		BotDisplayName: botDisplayName,
		MinLength:      minLength,
		MaxLength:      maxLength,
		Logger:         logger,
	}
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

type rawResult struct {
	IsExist *bool           `json:"is_exist"`
	Data    json.RawMessage `json:"data"`
}

// Interpret parses rawText and applies the domain filters using the
// display names the prompt was built with.
func (i *Interpreter) Interpret(rawText string, displayNameByUserID map[string]string) Result {
	jsonStr, ok := extractJSON(rawText)
	if !ok {
		i.Logger.Debug("no json candidate in model response", "snippet", snippet(rawText))
		return Result{}
	}

	var parsed rawResult
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		i.Logger.Debug("model response json did not parse", "error", err, "snippet", snippet(jsonStr))
		return Result{}
	}
	if parsed.IsExist == nil || !*parsed.IsExist {
		return Result{}
	}

	var data map[string]string
	if len(parsed.Data) == 0 || json.Unmarshal(parsed.Data, &data) != nil || len(data) == 0 {
		i.Logger.Debug("is_exist set but data field missing or malformed")
		return Result{}
	}

	filtered := i.filter(data, displayNameByUserID)
	if len(filtered) == 0 {
		return Result{}
	}
	return Result{Found: true, Mapping: filtered}
}

// extractJSON prefers a fenced code block, then the whole trimmed text
// when it is itself an object, then the first brace-delimited substring.
func extractJSON(rawText string) (string, bool) {
	trimmed := strings.TrimSpace(rawText)
	if trimmed == "" {
		return "", false
	}
	if match := fencedJSONPattern.FindStringSubmatch(trimmed); match != nil {
		return strings.TrimSpace(match[1]), true
	}
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed, true
	}
	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first >= 0 && last > first {
		return strings.TrimSpace(trimmed[first : last+1]), true
	}
	return "", false
}

// filter applies the independent vetoes: the bot itself, blank values,
// and trimmed length outside the configured bounds. Survivors are kept
// trimmed.
func (i *Interpreter) filter(data, displayNameByUserID map[string]string) map[string]string {
	filtered := map[string]string{}
	for userID, name := range data {
		displayName := displayNameByUserID[userID]
		if strings.Contains(displayName, SelfMarker) || (i.BotDisplayName != "" && displayName == i.BotDisplayName) {
			i.Logger.Debug("discarding mapping for the bot itself", "user_id", userID)
			continue
		}
		cleaned := strings.TrimSpace(name)
		if cleaned == "" {
			continue
		}
		if length := utf8.RuneCountInString(cleaned); length < i.MinLength || length > i.MaxLength {
			i.Logger.Debug("discarding out-of-bounds sobriquet", "user_id", userID, "length", length)
			continue
		}
		filtered[userID] = cleaned
	}
	return filtered
}

func snippet(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 200 {
		return trimmed[:200]
	}
	return trimmed
}
