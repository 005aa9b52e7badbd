package worker

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Chunk is a vectorized slice of ingested content, ready for the vector store.
type Chunk struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	SourceRef string
	Position  int
	Text      string
	Vector    []float32
	CreatedAt time.Time
}

// ChunkID derives a stable object ID from the job and chunk position, so
// re-processing a job overwrites its previous chunks instead of duplicating.
func ChunkID(jobID uuid.UUID, position int) uuid.UUID {
	return uuid.NewSHA1(jobID, []byte(strconv.Itoa(position)))
}
