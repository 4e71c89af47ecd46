package database

import "testing"

func indexedStudents() []Student {
	return []Student{
		{ID: 1, RollNo: 101, Name: "Alice", Embedding: []float32{1, 0, 0}},
		{ID: 2, RollNo: 102, Name: "Bob", Embedding: []float32{0, 1, 0}},
		{ID: 3, RollNo: 103, Name: "Carol", Embedding: []float32{0, 0, 1}},
		{ID: 4, RollNo: 104, Name: "NoFace"}, // no embedding, must be skipped
	}
}

func TestHNSWIndex_BuildAndSearch(t *testing.T) {
	index := NewHNSWIndex()
	if err := index.BuildFromStudents(indexedStudents()); err != nil {
		t.Fatalf("BuildFromStudents failed: %v", err)
	}

	if index.Count() != 3 {
		t.Errorf("expected 3 indexed students, got %d", index.Count())
	}

	students, distances, err := index.Search([]float32{0.9, 0.1, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(students) != 1 {
		t.Fatalf("expected 1 result, got %d", len(students))
	}
	if students[0].ID != 1 {
		t.Errorf("expected student 1 nearest, got %d", students[0].ID)
	}
	if distances[0] < 0 || distances[0] > 0.1 {
		t.Errorf("expected small cosine distance, got %v", distances[0])
	}
}

func TestHNSWIndex_UpsertReplacesEmbedding(t *testing.T) {
	index := NewHNSWIndex()
	if err := index.BuildFromStudents(indexedStudents()); err != nil {
		t.Fatalf("BuildFromStudents failed: %v", err)
	}

	// Re-register student 3 pointing in student 1's old direction.
	index.Upsert(&Student{ID: 3, RollNo: 103, Name: "Carol", Embedding: []float32{1, 0, 0}})

	students, _, err := index.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	found := false
	for _, s := range students {
		if s.ID == 3 {
			found = true
			if s.Embedding[0] != 1 {
				t.Errorf("expected replaced embedding, got %v", s.Embedding)
			}
		}
	}
	if !found {
		t.Error("re-registered student not returned for its new embedding")
	}

	if index.Count() != 3 {
		t.Errorf("upsert must not grow the student count, got %d", index.Count())
	}
}

func TestHNSWIndex_UpsertIntoEmptyIndex(t *testing.T) {
	index := NewHNSWIndex()

	index.Upsert(&Student{ID: 7, Embedding: []float32{0.5, 0.5, 0}})
	if index.Count() != 1 {
		t.Fatalf("expected 1 indexed student, got %d", index.Count())
	}

	students, _, err := index.Search([]float32{0.5, 0.5, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(students) != 1 || students[0].ID != 7 {
		t.Errorf("unexpected search result %v", students)
	}
}

func TestHNSWIndex_SearchEmptyIndexErrors(t *testing.T) {
	index := NewHNSWIndex()
	if _, _, err := index.Search([]float32{1, 0, 0}, 1); err == nil {
		t.Fatal("expected error searching an uninitialized index")
	}
}

func TestHNSWIndex_SkipsStudentsWithoutEmbedding(t *testing.T) {
	index := NewHNSWIndex()
	if err := index.BuildFromStudents([]Student{{ID: 1, Name: "NoFace"}}); err != nil {
		t.Fatalf("BuildFromStudents failed: %v", err)
	}
	if index.Count() != 0 {
		t.Errorf("students without embeddings must not be indexed, got %d", index.Count())
	}
}
