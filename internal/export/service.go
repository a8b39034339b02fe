package export

import (
	"context"
	"fmt"

	"studyhall/api/internal/store"
)

// DataStore is the slice of storage the exporter needs. Ownership is
// checked by the caller before Export is invoked.
type DataStore interface {
	GetSpace(ctx context.Context, id string) (store.Space, error)
	GetFolder(ctx context.Context, id string) (store.Folder, error)
	ListMessages(ctx context.Context, spaceID string) ([]store.Message, error)
}

// Service provides transcript export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders the full message transcript of a space in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	space, err := s.store.GetSpace(ctx, req.SpaceID)
	if err != nil {
		return nil, fmt.Errorf("get space: %w", err)
	}

	folder, err := s.store.GetFolder(ctx, space.FolderID)
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}

	messages, err := s.store.ListMessages(ctx, req.SpaceID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	data := TemplateData{
		Title:       space.Title,
		SpaceType:   space.Type,
		FolderTitle: folder.Title,
		CreatedAt:   space.CreatedAt,
	}
	for _, m := range messages {
		data.Messages = append(data.Messages, TemplateMessage{
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, space.Title)
	case FormatDOCX:
		return exportDOCX(html, space.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
