package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/canopy/pkg/ports"
)

// KnowledgeBase is the document store retrieval tools search.
type KnowledgeBase interface {
	// Search returns up to limit documents matching every word of query.
	Search(ctx context.Context, collection, query string, limit int) ([]map[string]any, error)
	// All returns every document of a collection.
	All(ctx context.Context, collection string) ([]map[string]any, error)
}

// MemoryKB is an in-process KnowledgeBase.
type MemoryKB struct {
	mu   sync.RWMutex
	docs map[string][]map[string]any
}

// NewMemoryKB creates an empty in-memory knowledge base.
func NewMemoryKB() *MemoryKB {
	return &MemoryKB{docs: make(map[string][]map[string]any)}
}

// Add stores documents in a collection.
func (kb *MemoryKB) Add(collection string, docs ...map[string]any) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.docs[collection] = append(kb.docs[collection], docs...)
}

func (kb *MemoryKB) Search(_ context.Context, collection, query string, limit int) ([]map[string]any, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	words := strings.Fields(strings.ToLower(query))
	var out []map[string]any
	for _, doc := range kb.docs[collection] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if matches(doc, words) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (kb *MemoryKB) All(_ context.Context, collection string) ([]map[string]any, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return append([]map[string]any(nil), kb.docs[collection]...), nil
}

func matches(doc map[string]any, words []string) bool {
	var sb strings.Builder
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%v ", doc[k])
	}
	text := strings.ToLower(sb.String())
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

func knowledgeBase(h ports.Handles) (KnowledgeBase, bool) {
	v, ok := h.Service(KnowledgeBaseHandle)
	if !ok {
		return nil, false
	}
	kb, ok := v.(KnowledgeBase)
	return kb, ok
}
