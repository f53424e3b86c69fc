package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ziadkadry99/askdb/internal/embeddings"
)

const (
	exportFile  = "chromem.gob.gz"
	catalogFile = "catalog.json"
)

// ChromemStore implements Store with one chromem-go collection per kind.
// chromem cannot enumerate a collection, so a catalog of stored items is
// kept alongside it and persisted next to the export.
type ChromemStore struct {
	db        *chromem.DB
	embedFunc chromem.EmbeddingFunc

	mu          sync.RWMutex
	collections map[Kind]*chromem.Collection
	items       map[string]TrainingItem
	order       []string
}

// NewChromemStore creates a new in-memory ChromemStore.
func NewChromemStore(embedder embeddings.Embedder) (*ChromemStore, error) {
	s := &ChromemStore{
		db:          chromem.NewDB(),
		embedFunc:   embeddings.ToChromemFunc(embedder),
		collections: make(map[Kind]*chromem.Collection, len(Kinds)),
		items:       make(map[string]TrainingItem),
	}
	for _, k := range Kinds {
		col, err := s.db.GetOrCreateCollection(string(k), nil, s.embedFunc)
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", k, err)
		}
		s.collections[k] = col
	}
	return s, nil
}

func (s *ChromemStore) collection(kind Kind) (*chromem.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[kind]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", kind)
	}
	return col, nil
}

func (s *ChromemStore) Add(ctx context.Context, kind Kind, content, question string) (string, error) {
	col, err := s.collection(kind)
	if err != nil {
		return "", err
	}

	doc := content
	if kind == KindSQL {
		doc = EncodeQuestionSQL(question, content)
	} else {
		question = ""
	}
	id := NewID(kind, doc)

	if _, err := col.GetByID(ctx, id); err != nil {
		err = col.AddDocument(ctx, chromem.Document{
			ID:       id,
			Content:  doc,
			Metadata: map[string]string{"kind": string(kind), "question": question},
		})
		if err != nil {
			return "", fmt.Errorf("add %s item: %w", kind, err)
		}
	}

	s.mu.Lock()
	if _, ok := s.items[id]; !ok {
		s.order = append(s.order, id)
	}
	s.items[id] = TrainingItem{ID: id, Kind: kind, Question: question, Content: content}
	s.mu.Unlock()

	return id, nil
}

func (s *ChromemStore) GetExactQuestionSQL(_ context.Context, question string) (string, bool) {
	want := normalizeQuestion(question)
	if want == "" {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		item := s.items[id]
		if item.Kind == KindSQL && normalizeQuestion(item.Question) == want {
			return item.Content, true
		}
	}
	return "", false
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func (s *ChromemStore) Query(ctx context.Context, kind Kind, text string, k int) ([]RetrievalResult, error) {
	col, err := s.collection(kind)
	if err != nil {
		return nil, err
	}

	// chromem-go requires 0 < nResults <= collection size.
	count := col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query %s: %w", kind, err)
	}

	out := make([]RetrievalResult, len(results))
	for i, r := range results {
		out[i] = RetrievalResult{
			ID:       r.ID,
			Content:  r.Content,
			Distance: 1 - r.Similarity,
		}
	}
	return out, nil
}

func (s *ChromemStore) Remove(ctx context.Context, id string) (bool, error) {
	kind, ok := KindOfID(id)
	if !ok {
		return false, nil
	}
	col, err := s.collection(kind)
	if err != nil {
		return false, err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}

	s.mu.Lock()
	s.forget(func(item TrainingItem) bool { return item.ID == id })
	s.mu.Unlock()
	return true, nil
}

func (s *ChromemStore) Reset(_ context.Context, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[kind]; !ok {
		return fmt.Errorf("unknown collection %q", kind)
	}
	if err := s.db.DeleteCollection(string(kind)); err != nil {
		return fmt.Errorf("delete collection %s: %w", kind, err)
	}
	col, err := s.db.GetOrCreateCollection(string(kind), nil, s.embedFunc)
	if err != nil {
		return fmt.Errorf("recreate collection %s: %w", kind, err)
	}
	s.collections[kind] = col
	s.forget(func(item TrainingItem) bool { return item.Kind == kind })
	return nil
}

// forget drops catalog entries matching drop. Callers hold s.mu.
func (s *ChromemStore) forget(drop func(TrainingItem) bool) {
	kept := s.order[:0]
	for _, id := range s.order {
		if drop(s.items[id]) {
			delete(s.items, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *ChromemStore) ListTraining(_ context.Context) []TrainingItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TrainingItem, 0, len(s.order))
	for _, k := range Kinds {
		for _, id := range s.order {
			if item := s.items[id]; item.Kind == k {
				out = append(out, item)
			}
		}
	}
	return out
}

func (s *ChromemStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, col := range s.collections {
		total += col.Count()
	}
	return total
}

func (s *ChromemStore) Persist(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.ExportToFile(filepath.Join(dir, exportFile), true, ""); err != nil {
		return fmt.Errorf("export to file: %w", err)
	}

	catalog := make([]TrainingItem, 0, len(s.order))
	for _, id := range s.order {
		catalog = append(catalog, s.items[id])
	}
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, catalogFile), data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

func (s *ChromemStore) Load(ctx context.Context, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.ImportFromFile(filepath.Join(dir, exportFile), ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}

	// Re-acquire collection references after import.
	for _, k := range Kinds {
		col := s.db.GetCollection(string(k), s.embedFunc)
		if col == nil {
			var err error
			col, err = s.db.GetOrCreateCollection(string(k), nil, s.embedFunc)
			if err != nil {
				return fmt.Errorf("recreate collection %s: %w", k, err)
			}
		}
		s.collections[k] = col
	}

	data, err := os.ReadFile(filepath.Join(dir, catalogFile))
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var catalog []TrainingItem
	if err := json.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	s.items = make(map[string]TrainingItem, len(catalog))
	s.order = s.order[:0]
	for _, item := range catalog {
		col, ok := s.collections[item.Kind]
		if !ok {
			continue
		}
		if _, err := col.GetByID(ctx, item.ID); err != nil {
			continue
		}
		if _, dup := s.items[item.ID]; dup {
			continue
		}
		s.items[item.ID] = item
		s.order = append(s.order, item.ID)
	}
	return nil
}

// sortByDistance orders results nearest first, keeping ties stable.
func sortByDistance(results []RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
}
