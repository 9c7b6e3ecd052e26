package trust

import (
	"crypto/x509"
	"sort"
	"sync"
)

// Source accumulates the certificates of successfully synchronised lists.
// Tokens are keyed by identifier, so adding the same certificate twice keeps
// a single entry. Source is safe for concurrent use.
type Source struct {
	mu     sync.Mutex
	tokens map[string]CertificateToken
}

// NewSource creates an empty source.
func NewSource() *Source {
	return &Source{
		tokens: make(map[string]CertificateToken),
	}
}

// Add merges token into the source and reports whether it was new.
func (s *Source) Add(token CertificateToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; ok {
		return false
	}
	s.tokens[token.ID] = token
	return true
}

// AddAll merges tokens and returns how many of them were new.
func (s *Source) AddAll(tokens []CertificateToken) int {
	added := 0
	for _, token := range tokens {
		if s.Add(token) {
			added++
		}
	}
	return added
}

// Len returns the number of distinct certificates.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// All returns a snapshot of the tokens ordered by identifier.
func (s *Source) All() []CertificateToken {
	s.mu.Lock()
	tokens := make([]CertificateToken, 0, len(s.tokens))
	for _, token := range s.tokens {
		tokens = append(tokens, token)
	}
	s.mu.Unlock()

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].ID < tokens[j].ID
	})
	return tokens
}

// IDs returns the identifiers of the tokens in order.
func (s *Source) IDs() []string {
	tokens := s.All()
	ids := make([]string, len(tokens))
	for i, token := range tokens {
		ids[i] = token.ID
	}
	return ids
}

// Certificates returns the certificates ordered by identifier.
func (s *Source) Certificates() []*x509.Certificate {
	tokens := s.All()
	certs := make([]*x509.Certificate, len(tokens))
	for i, token := range tokens {
		certs[i] = token.Certificate
	}
	return certs
}
