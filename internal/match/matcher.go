// Package match assigns detected face embeddings to enrolled students.
// The matcher is deliberately independent of storage and transport: it works
// on plain embeddings so it can be exercised directly in tests.
package match

// FaceEmbedding is one detected face within a session's photo set.
// PhotoIndex and FaceIndex record where the face came from; faces must be
// passed in detection order across photos in submission order, because the
// greedy assignment below is order dependent.
type FaceEmbedding struct {
	PhotoIndex int
	FaceIndex  int
	Embedding  []float32
}

// Candidate is an enrolled student with a registered reference embedding.
// Students without a reference embedding must not be passed in; they can
// never be matched and default to absent.
type Candidate struct {
	StudentID int64
	Name      string
	Embedding []float32
}

// Assignment maps one detected face to exactly one student.
type Assignment struct {
	StudentID  int64
	PhotoIndex int
	FaceIndex  int
	Score      float64
}

// Match greedily assigns each face to the highest-scoring still-unclaimed
// candidate at or above the threshold. Once a candidate is claimed it leaves
// the pool, so no student can appear in two assignments. Faces that match no
// remaining candidate above the threshold stay unmatched and are dropped.
//
// Ties resolve to the earlier candidate in the given order; callers should
// pass candidates in a stable roster order so reprocessing the same input
// yields the same result.
func Match(faces []FaceEmbedding, candidates []Candidate, threshold float64) []Assignment {
	claimed := make([]bool, len(candidates))
	var assignments []Assignment

	for _, face := range faces {
		if len(face.Embedding) == 0 {
			continue
		}

		best := -1
		bestScore := 0.0
		for i := range candidates {
			if claimed[i] || len(candidates[i].Embedding) == 0 {
				continue
			}
			score := Score(face.Embedding, candidates[i].Embedding)
			if score > bestScore {
				bestScore = score
				best = i
			}
		}

		if best < 0 || bestScore < threshold {
			continue
		}

		claimed[best] = true
		assignments = append(assignments, Assignment{
			StudentID:  candidates[best].StudentID,
			PhotoIndex: face.PhotoIndex,
			FaceIndex:  face.FaceIndex,
			Score:      bestScore,
		})
	}

	return assignments
}
