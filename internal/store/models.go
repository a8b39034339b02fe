package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Folder is the top-level, owner-scoped container of spaces. Visibility is
// strictly limited to its owner.
type Folder struct {
	ID        string
	Title     string
	OwnerID   string
	CreatedAt time.Time
}

// Space is a typed study artifact nested under exactly one folder. Its
// effective owner is the parent folder's owner and is never stored on the row.
type Space struct {
	ID        string
	FolderID  string
	Type      string
	Title     string
	CreatedAt time.Time
}

// Message is one turn in a space's conversation. Rows are append-only; seq is
// assigned by the store and defines chronological order within a space.
type Message struct {
	ID        string
	SpaceID   string
	Role      string
	Content   string
	Seq       int64
	CreatedAt time.Time
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	SpaceTypeChat       = "chat"
	SpaceTypeNotes      = "notes"
	SpaceTypeQuiz       = "quiz"
	SpaceTypeFlashcards = "flashcards"
	SpaceTypeStudyGuide = "study-guide"
	SpaceTypeOpenEnded  = "open-ended"
)

var SpaceTypes = map[string]struct{}{
	SpaceTypeChat:       {},
	SpaceTypeNotes:      {},
	SpaceTypeQuiz:       {},
	SpaceTypeFlashcards: {},
	SpaceTypeStudyGuide: {},
	SpaceTypeOpenEnded:  {},
}
