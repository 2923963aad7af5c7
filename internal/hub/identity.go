package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
)

type MutationOp int

const (
	// OpNoop leaves identity state untouched.
	OpNoop MutationOp = iota
	// OpCreate creates a new person seeded with one face.
	OpCreate
	// OpTouch advances last_seen_at and unions the face into the person.
	OpTouch
)

// PersonMutation is the pure output of an identity decision, applied under
// the per-face lock by the service.
type PersonMutation struct {
	Op       MutationOp
	PersonID uuid.UUID
	FaceID   string
	SeenAt   time.Time
}

// DecideMutation maps a face decision onto the identity change it implies.
// Pure: the hard invariant (one person per face) lives here, isolated from
// I/O. A MATCHED decision whose face is unknown hub-side still creates a
// person, so identity state self-heals after a collection/store divergence.
func DecideMutation(existing *models.Person, d *models.FaceDecision, observedAt time.Time) PersonMutation {
	if !d.Identified() || d.ExternalFaceID == "" {
		return PersonMutation{Op: OpNoop}
	}
	if existing == nil {
		return PersonMutation{
			Op:       OpCreate,
			PersonID: uuid.New(),
			FaceID:   d.ExternalFaceID,
			SeenAt:   observedAt,
		}
	}
	return PersonMutation{
		Op:       OpTouch,
		PersonID: existing.ID,
		FaceID:   d.ExternalFaceID,
		SeenAt:   observedAt,
	}
}

// keyedMutex serializes identity mutation per external face id within this
// process; the person_faces primary key is the cross-process backstop.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
