package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWMaxNeighbors is the M parameter for the HNSW graph.
const HNSWMaxNeighbors = 16

// HNSWIndex wraps an in-memory HNSW graph over student reference embeddings
// for fast identification lookups. The graph is rebuilt from the database at
// startup and updated in place on registration.
type HNSWIndex struct {
	graph       *hnsw.Graph[int64]
	idToStudent map[int64]*Student
	mu          sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToStudent: make(map[int64]*Student),
	}
}

// BuildFromStudents builds the index from students with registered embeddings.
func (h *HNSWIndex) BuildFromStudents(students []Student) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(students) == 0 {
		h.graph = nil
		h.idToStudent = make(map[int64]*Student)
		return nil
	}

	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	h.idToStudent = make(map[int64]*Student, len(students))

	for i := range students {
		student := &students[i]
		if len(student.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(student.ID, student.Embedding))
		h.idToStudent[student.ID] = student
	}

	h.graph = g
	return nil
}

// Upsert adds or replaces a single student's embedding in the index.
func (h *HNSWIndex) Upsert(student *Student) {
	if len(student.Embedding) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		g := hnsw.NewGraph[int64]()
		g.M = HNSWMaxNeighbors
		g.Ml = 1.0 / float64(HNSWMaxNeighbors)
		g.Distance = hnsw.CosineDistance
		h.graph = g
	}

	// Re-registration adds a fresh node for the same key; search results are
	// filtered through idToStudent, so the current embedding wins.
	h.graph.Add(hnsw.MakeNode(student.ID, student.Embedding))
	h.idToStudent[student.ID] = student
}

// Search finds the k nearest students to the query embedding.
// Returns students and their cosine distances, nearest first.
func (h *HNSWIndex) Search(query []float32, k int) ([]Student, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	neighbors := h.graph.Search(query, k)

	students := make([]Student, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		student, ok := h.idToStudent[n.Key]
		if !ok {
			continue
		}
		students = append(students, *student)
		distances = append(distances, float64(hnsw.CosineDistance(query, n.Value)))
	}

	return students, distances, nil
}

// Count returns the number of students in the index.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToStudent)
}
