package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"studyhall/api/internal/auth"
	"studyhall/api/internal/authpw"
	"studyhall/api/internal/blob"
	"studyhall/api/internal/completion"
	"studyhall/api/internal/config"
	"studyhall/api/internal/email"
	"studyhall/api/internal/export"
	"studyhall/api/internal/search"
	"studyhall/api/internal/store"
	"studyhall/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListFolders(context.Context, string) ([]store.Folder, error)
	GetFolder(context.Context, string) (store.Folder, error)
	InsertFolder(context.Context, store.Folder) (store.Folder, error)
	ListSpaces(context.Context, string) ([]store.Space, error)
	GetSpace(context.Context, string) (store.Space, error)
	GetSpaceOwner(context.Context, string) (string, error)
	InsertSpace(context.Context, store.Space) (store.Space, error)
	ListMessages(context.Context, string) ([]store.Message, error)
	CreateExchange(context.Context, string, string, func(context.Context, []store.Message) (string, error)) (store.Message, store.Message, error)
	Ping(ctx context.Context) error
}

// refreshSessionStore holds refresh tokens. Redis when configured,
// otherwise the primary store serves as fallback.
type refreshSessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type completer interface {
	Complete(context.Context, []completion.Message) (string, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshSessionStore
	completer completer
	search    *search.Service
	exporter  *export.Service
	blobs     *blob.Store
	authpw    *authpw.Service
	email     *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, completer *completion.Client, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		completer: completer,
		search:    searchService,
		exporter:  export.NewService(dataStore),
		authpw:    authpw.NewService(dataStore, cfg.JWTSecret),
		email:     email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}
}

// NewWithSessionStore builds a service that keeps refresh tokens in the
// given session store instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions refreshSessionStore, completer *completion.Client, searchService *search.Service) *Service {
	svc := New(cfg, dataStore, completer, searchService)
	svc.sessions = sessions
	return svc
}

// SetBlobStore attaches optional object storage for export archival.
func (s *Service) SetBlobStore(b *blob.Store) {
	s.blobs = b
}

// AuthPasswordService exposes the email/password auth service to handlers.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email can be sent.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the verify-email link. No-op when SMTP
// is not configured; the handler falls back to a dev token response.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/verify-email?token=" + token
	go func() {
		if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("email: send verification to %s: %v", to, err)
		}
	}()
}

// SendPasswordResetEmail delivers the reset link.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
	go func() {
		if err := s.email.SendPasswordResetEmail(to, userName, url); err != nil {
			log.Printf("email: send password reset to %s: %v", to, err)
		}
	}()
}

const seedUserEmail = "riley@studyhall.local"

// Bootstrap seeds a demo account with a folder and a couple of spaces
// so a fresh install has something to show. Runs once; subsequent
// starts find the user and return early.
func (s *Service) Bootstrap(ctx context.Context) error {
	if _, err := s.store.GetUserByEmail(ctx, seedUserEmail); err == nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("studyhall-demo"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	owner := store.User{
		ID:              util.NewID("usr"),
		DisplayName:     "Riley",
		Email:           seedUserEmail,
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	}
	if err := s.store.CreateUser(ctx, owner); err != nil {
		return err
	}

	folder, err := s.store.InsertFolder(ctx, store.Folder{
		ID:      util.NewID("fld"),
		Title:   "Biology 101",
		OwnerID: owner.ID,
	})
	if err != nil {
		return err
	}

	spaceSeeds := []struct {
		Type  string
		Title string
	}{
		{Type: store.SpaceTypeChat, Title: "Photosynthesis Q&A"},
		{Type: store.SpaceTypeFlashcards, Title: "Cell Structure Flashcards"},
		{Type: store.SpaceTypeQuiz, Title: "Chapter 4 Quiz"},
	}
	for _, seed := range spaceSeeds {
		sp, err := s.store.InsertSpace(ctx, store.Space{
			ID:       util.NewID("sp"),
			FolderID: folder.ID,
			Type:     seed.Type,
			Title:    seed.Title,
		})
		if err != nil {
			return err
		}
		if s.search != nil {
			s.search.IndexSpace(search.SpaceRecord{
				ID:       sp.ID,
				Title:    sp.Title,
				Type:     sp.Type,
				FolderID: sp.FolderID,
				OwnerID:  owner.ID,
			})
		}
	}
	return nil
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Redis lookups only carry the id; re-read the profile.
	if user.DisplayName == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) ListFolders(ctx context.Context, ownerID string) ([]map[string]any, error) {
	folders, err := s.store.ListFolders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(folders))
	for _, f := range folders {
		items = append(items, folderPayload(f))
	}
	return items, nil
}

func (s *Service) CreateFolder(ctx context.Context, ownerID, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_REQUEST", "title is required", nil)
	}

	folder, err := s.store.InsertFolder(ctx, store.Folder{
		ID:      util.NewID("fld"),
		Title:   title,
		OwnerID: ownerID,
	})
	if err != nil {
		return nil, err
	}
	return folderPayload(folder), nil
}

// resolveFolder loads a folder and enforces the owner scope. A folder
// that exists but belongs to someone else is reported as not found.
func (s *Service) resolveFolder(ctx context.Context, ownerID, folderID string) (store.Folder, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Folder{}, errFolderNotFound()
		}
		return store.Folder{}, err
	}
	if folder.OwnerID != ownerID {
		return store.Folder{}, errFolderNotFound()
	}
	return folder, nil
}

// resolveSpace re-derives ownership through the folder chain on every
// space-scoped operation. Same rule as resolveFolder: wrong owner
// reads as absent.
func (s *Service) resolveSpace(ctx context.Context, ownerID, spaceID string) (store.Space, error) {
	spaceOwner, err := s.store.GetSpaceOwner(ctx, spaceID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Space{}, errSpaceNotFound()
		}
		return store.Space{}, err
	}
	if spaceOwner != ownerID {
		return store.Space{}, errSpaceNotFound()
	}
	return s.store.GetSpace(ctx, spaceID)
}

func (s *Service) ListSpaces(ctx context.Context, ownerID, folderID string) ([]map[string]any, error) {
	if _, err := s.resolveFolder(ctx, ownerID, folderID); err != nil {
		return nil, err
	}
	spaces, err := s.store.ListSpaces(ctx, folderID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(spaces))
	for _, sp := range spaces {
		items = append(items, spacePayload(sp))
	}
	return items, nil
}

func (s *Service) CreateSpace(ctx context.Context, ownerID, folderID, spaceType, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_REQUEST", "title is required", nil)
	}
	spaceType = strings.TrimSpace(spaceType)
	if spaceType == "" {
		spaceType = store.SpaceTypeChat
	}
	if _, ok := store.SpaceTypes[spaceType]; !ok {
		return nil, domainError(http.StatusBadRequest, "INVALID_REQUEST", "unknown space type", map[string]any{"type": spaceType})
	}

	if _, err := s.resolveFolder(ctx, ownerID, folderID); err != nil {
		return nil, err
	}

	space, err := s.store.InsertSpace(ctx, store.Space{
		ID:       util.NewID("sp"),
		FolderID: folderID,
		Type:     spaceType,
		Title:    title,
	})
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexSpace(search.SpaceRecord{
			ID:       space.ID,
			Title:    space.Title,
			Type:     space.Type,
			FolderID: space.FolderID,
			OwnerID:  ownerID,
		})
	}
	return spacePayload(space), nil
}

func (s *Service) GetSpace(ctx context.Context, ownerID, spaceID string) (map[string]any, error) {
	space, err := s.resolveSpace(ctx, ownerID, spaceID)
	if err != nil {
		return nil, err
	}
	return spacePayload(space), nil
}

func (s *Service) ListMessages(ctx context.Context, ownerID, spaceID string) ([]map[string]any, error) {
	if _, err := s.resolveSpace(ctx, ownerID, spaceID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		items = append(items, messagePayload(m))
	}
	return items, nil
}

// SendMessage runs the full exchange: the user turn and the generated
// assistant turn commit together or not at all.
func (s *Service) SendMessage(ctx context.Context, ownerID, spaceID, content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_REQUEST", "content is required", nil)
	}

	space, err := s.resolveSpace(ctx, ownerID, spaceID)
	if err != nil {
		return nil, err
	}

	userMsg, assistantMsg, err := s.store.CreateExchange(ctx, spaceID, content, func(ctx context.Context, history []store.Message) (string, error) {
		prompt := make([]completion.Message, 0, len(history)+1)
		prompt = append(prompt, completion.Message{Role: "system", Content: s.systemPromptFor(space.Type)})
		for _, m := range history {
			prompt = append(prompt, completion.Message{Role: m.Role, Content: m.Content})
		}
		return s.completer.Complete(ctx, prompt)
	})
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) || store.IsNotFound(err) {
			return nil, err
		}
		var genErr *store.GenerateError
		if errors.As(err, &genErr) {
			if errors.Is(genErr.Err, context.DeadlineExceeded) {
				return nil, domainError(http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Completion provider timed out", nil)
			}
			log.Printf("completion failed for space %s: %v", spaceID, err)
			return nil, domainError(http.StatusBadGateway, "UPSTREAM_ERROR", "Completion provider failed", nil)
		}
		// A store failure (begin, insert, commit) stays a generic server
		// error; the exchange rolled back and nothing persisted.
		return nil, err
	}

	if s.search != nil {
		for _, m := range []store.Message{userMsg, assistantMsg} {
			s.search.IndexMessage(search.MessageRecord{
				ID:       m.ID,
				Content:  m.Content,
				Role:     m.Role,
				SpaceID:  m.SpaceID,
				FolderID: space.FolderID,
				OwnerID:  ownerID,
			})
		}
	}

	return map[string]any{
		"userMessage":      messagePayload(userMsg),
		"assistantMessage": messagePayload(assistantMsg),
	}, nil
}

// systemPromptFor tailors the assistant instruction to the space type.
func (s *Service) systemPromptFor(spaceType string) string {
	base := s.cfg.SystemPrompt
	switch spaceType {
	case store.SpaceTypeNotes:
		return base + " Produce well-structured study notes."
	case store.SpaceTypeQuiz:
		return base + " Quiz the student with questions and grade their answers."
	case store.SpaceTypeFlashcards:
		return base + " Respond with flashcards as question/answer pairs."
	case store.SpaceTypeStudyGuide:
		return base + " Build a structured study guide for the topic."
	case store.SpaceTypeOpenEnded:
		return base + " Pose open-ended questions and critique the student's reasoning."
	default:
		return base
	}
}

func (s *Service) Search(ctx context.Context, ownerID string, q search.Query) search.Response {
	q.OwnerID = ownerID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) ExportSpace(ctx context.Context, ownerID, spaceID string, format export.Format) (*export.Result, error) {
	space, err := s.resolveSpace(ctx, ownerID, spaceID)
	if err != nil {
		return nil, err
	}

	result, err := s.exporter.Export(ctx, export.Request{SpaceID: space.ID, Format: format})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, domainError(http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "Export dependencies not installed", nil)
		}
		return nil, err
	}

	if s.blobs != nil {
		data := result.Data
		key := fmt.Sprintf("exports/%s/%s/%s", ownerID, space.ID, result.Filename)
		mime := result.MimeType
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.blobs.Put(ctx, key, data, mime); err != nil {
				log.Printf("blob: archive export %s: %v", key, err)
			}
		}()
	}

	return result, nil
}

func (s *Service) ReindexSearch(ctx context.Context) {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func errFolderNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Folder not found", nil)
}

func errSpaceNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Space not found", nil)
}

func folderPayload(f store.Folder) map[string]any {
	return map[string]any{
		"id":        f.ID,
		"title":     f.Title,
		"ownerId":   f.OwnerID,
		"createdAt": f.CreatedAt,
	}
}

func spacePayload(sp store.Space) map[string]any {
	return map[string]any{
		"id":        sp.ID,
		"folderId":  sp.FolderID,
		"type":      sp.Type,
		"title":     sp.Title,
		"createdAt": sp.CreatedAt,
	}
}

func messagePayload(m store.Message) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"spaceId":   m.SpaceID,
		"role":      m.Role,
		"content":   m.Content,
		"createdAt": m.CreatedAt,
	}
}
