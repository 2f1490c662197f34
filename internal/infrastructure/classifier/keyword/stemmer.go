package keyword

import (
	"strings"
	"sync"

	"github.com/kljensen/snowball"
)

// Stemmer wraps the snowball stemmer with a read-mostly cache. Labels repeat
// heavily across invoices, so the cache stays small.
type Stemmer struct {
	language string

	mu    sync.RWMutex
	cache map[string]string
}

func NewStemmer(language string) *Stemmer {
	if language == "" {
		language = "english"
	}
	return &Stemmer{language: language, cache: make(map[string]string)}
}

func (s *Stemmer) Stem(word string) string {
	normalized := strings.ToLower(strings.TrimSpace(word))
	if normalized == "" {
		return ""
	}

	s.mu.RLock()
	cached, ok := s.cache[normalized]
	s.mu.RUnlock()
	if ok {
		return cached
	}

	stemmed, err := snowball.Stem(normalized, s.language, true)
	if err != nil || stemmed == "" {
		stemmed = normalized
	}
	s.mu.Lock()
	s.cache[normalized] = stemmed
	s.mu.Unlock()
	return stemmed
}

func (s *Stemmer) StemTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if stem := s.Stem(token); stem != "" {
			out = append(out, stem)
		}
	}
	return out
}

func (s *Stemmer) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
