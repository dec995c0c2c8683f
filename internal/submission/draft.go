package submission

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a [Draft]. Drafts start in [StateIdle]
// and advance through the states below in order; the only backward moves are
// the failure rollbacks (Processing → CollectingInput, Persisting → Finalized)
// and the edit rollback (Finalized → CollectingInput). All moves go through
// the [Engine]; there is no other way to change a draft's state.
type State int

const (
	// StateIdle is a fresh draft with no input entered yet.
	StateIdle State = iota

	// StateCollecting is a draft with at least one field entered and no
	// submit in flight.
	StateCollecting

	// StateProcessing is a draft whose submit is currently running
	// (transcription and/or structuring).
	StateProcessing

	// StateFinalized is a draft with structured text, counts, score and a
	// submission ID assigned, awaiting an explicit persist confirmation.
	StateFinalized

	// StatePersisting is a draft whose store insert is currently running.
	StatePersisting

	// StatePersisted is the terminal state: the record is stored and the
	// session should switch to the fresh draft returned by [Engine.Persist].
	StatePersisted
)

// String returns the snake_case name used in logs, events and API payloads.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting_input"
	case StateProcessing:
		return "processing"
	case StateFinalized:
		return "finalized"
	case StatePersisting:
		return "persisting"
	case StatePersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// Transition describes a single state change of one draft. The engine
// publishes a Transition for every change, including failure rollbacks, via
// the hook installed with [WithTransitionHook].
type Transition struct {
	// DraftID identifies the draft that moved. It is stable for the life of
	// the draft and distinct from the submission ID, which only exists once
	// the draft is finalized.
	DraftID string

	// From and To are the states on either side of the change.
	From, To State

	// Reason is empty for forward moves. For rollbacks it carries the
	// user-presentable failure summary that was also recorded on the draft.
	Reason string

	// At is the time the change took effect.
	At time.Time
}

// Selection is the equipment metadata chosen from the catalog for one
// submission.
type Selection struct {
	Manufacturer    string
	EquipmentType   string
	Model           string
	Specifications2 string
	Specifications3 string
}

// Draft is the mutable in-progress submission owned by exactly one session.
// All mutation goes through [Engine] methods so that validation and state
// guards cannot be bypassed; the exported fields are read directly by the
// presentation layer to render the form.
//
// A Draft is not safe for concurrent use. The session registry serializes
// access per session; the engine's state guards reject re-entrant operations
// that slip past that serialization.
type Draft struct {
	id        string
	state     State
	enteredAt time.Time

	// Identity of the submitting technician.
	UserName string
	Role     string

	// Equipment selection and free-form notes.
	Selection Selection
	Notes     string

	// Input channels. Audio and TypedQA are mutually exclusive at submit
	// time; Manual is an optional attachment on either path.
	Audio         []byte
	AudioFilename string
	Manual        []byte
	TypedQA       string

	// Processing results, populated by Submit. Transcript survives a
	// structuring failure so a retry does not pay for transcription twice;
	// replacing the audio clears it.
	Transcript   string
	QAText       string
	NumQuestions int
	NumAnswers   int
	Score        int

	// SubmissionID is assigned when the draft is finalized and acts as the
	// duplicate-suppression key in the store. It is uuid.Nil before that.
	SubmissionID uuid.UUID

	// LastError is the user-presentable summary of the most recent failure,
	// cleared on the next successful operation.
	LastError string
}

// ID returns the draft's stable identifier, used to route transition events.
func (d *Draft) ID() string { return d.id }

// State returns the draft's current lifecycle state.
func (d *Draft) State() State { return d.state }

// EnteredAt returns the time the draft was created. It becomes the stored
// record's entry timestamp.
func (d *Draft) EnteredAt() time.Time { return d.enteredAt }

// HasAudio reports whether a validated recording is attached.
func (d *Draft) HasAudio() bool { return len(d.Audio) > 0 }

// HasManual reports whether a validated manual PDF is attached.
func (d *Draft) HasManual() bool { return len(d.Manual) > 0 }
