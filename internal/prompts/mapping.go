// Package prompts owns the text sent to the mapping model. The template
// can be overridden from a file and hot-reloaded while the process runs.
package prompts

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	placeholderUserList = "{{user_list}}"
	placeholderHistory  = "{{chat_history}}"
	placeholderReply    = "{{bot_reply}}"
)

const defaultMappingTemplate = `Task: read the chat history and "your latest reply" below and decide whether they contain a nickname that maps clearly and unambiguously to one specific user id.

Known users (id: name):
{{user_list}}

Chat history:
---
{{chat_history}}
---

Your latest reply:
{{bot_reply}}

Rules:
1. Look for words in the chat history and "your latest reply" that could be a user's nickname.
2. Only keep a nickname when the context ties it to exactly one id from the known users list. Strong association only; never guess.
3. Never map a nickname onto yourself (the user whose name carries the "(self)" marker).
   Never output a word identical to a user's known name.
   Never map the names you yourself used for others in "your latest reply"; only analyze what other people call users.
   Never output vague or generic address terms ("buddy", "boss", "that guy") unless context pins them to one specific user.
4. If at least one mapping satisfies every rule, output:
   {"is_exist": true, "data": {"<numeric user id>": "<nickname>"}}
   Include only mappings you are fully certain of. Fewer is better.
   Otherwise output:
   {"is_exist": false}
5. Output only the JSON object, nothing else.

Output:`

// Builder renders mapping prompts from the current template. Safe for
// concurrent use; the watcher swaps templates from another goroutine.
type Builder struct {
	mu       sync.RWMutex
	template string
}

func NewBuilder() *Builder {
	return &Builder{template: defaultMappingTemplate}
}

// Set installs a new template. All three placeholders must be present.
func (b *Builder) Set(template string) error {
	for _, placeholder := range []string{placeholderUserList, placeholderHistory, placeholderReply} {
		if !strings.Contains(template, placeholder) {
			return fmt.Errorf("mapping template missing %s placeholder", placeholder)
		}
	}
	b.mu.Lock()
	b.template = template
	b.mu.Unlock()
	return nil
}

// LoadFile replaces the template with the file's contents.
func (b *Builder) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read mapping template: %w", err)
	}
	return b.Set(string(data))
}

// BuildMappingPrompt renders the analysis prompt for one job.
func (b *Builder) BuildMappingPrompt(chatHistory, botReply string, displayNameByUserID map[string]string) string {
	userIDs := make([]string, 0, len(displayNameByUserID))
	for userID, name := range displayNameByUserID {
		if strings.TrimSpace(userID) == "" || strings.TrimSpace(name) == "" {
			continue
		}
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	userList := "none"
	if len(userIDs) > 0 {
		lines := make([]string, 0, len(userIDs))
		for _, userID := range userIDs {
			lines = append(lines, fmt.Sprintf("- %s: %s", userID, displayNameByUserID[userID]))
		}
		userList = strings.Join(lines, "\n")
	}

	b.mu.RLock()
	template := b.template
	b.mu.RUnlock()

	replacer := strings.NewReplacer(
		placeholderUserList, userList,
		placeholderHistory, chatHistory,
		placeholderReply, botReply,
	)
	return replacer.Replace(template)
}
