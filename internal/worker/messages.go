package worker

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
)

// MessageProvider hands out the outreach text for each dispatch, rotating
// randomly over the loaded pool.
type MessageProvider struct {
	mu       sync.Mutex
	messages []string
}

// NewMessageProvider builds a provider from a fixed message list.
func NewMessageProvider(messages []string) *MessageProvider {
	cleaned := make([]string, 0, len(messages))
	for _, m := range messages {
		if s := strings.TrimSpace(m); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{"Hello!"}
	}
	return &MessageProvider{messages: cleaned}
}

// LoadMessages reads one message per line, skipping blanks and # comments.
func LoadMessages(path string) (*MessageProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var messages []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		messages = append(messages, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read messages file: %w", err)
	}
	return NewMessageProvider(messages), nil
}

// Pick returns one message at random.
func (p *MessageProvider) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[rand.Intn(len(p.messages))]
}
