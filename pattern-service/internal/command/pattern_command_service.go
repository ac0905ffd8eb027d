package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patternvault/backend/shared/apperrors"
	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/events"
	"github.com/patternvault/backend/shared/logging"
	"github.com/patternvault/backend/shared/models"
	"github.com/patternvault/backend/shared/storage"
)

type PatternStore interface {
	Create(ctx context.Context, p *models.Pattern) (*models.PatternView, error)
	Update(ctx context.Context, cmd cqrs.UpdatePatternCommand) (*models.PatternView, error)
	Delete(ctx context.Context, id, userID int64) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

var errInvalidImage = apperrors.NewValidationError(apperrors.FieldError{
	Field:   "image",
	Message: "Upload a valid image. The file you uploaded was either not an image or a corrupted image",
	Type:    "invalid_image",
})

// PatternCommandService owns pattern mutations and the lifecycle of their
// image blobs.
type PatternCommandService struct {
	patterns      PatternStore
	blobs         storage.BlobStore
	publisher     EventPublisher
	log           logging.Logger
	maxImageBytes int64
	now           func() time.Time
}

func NewPatternCommandService(
	patterns PatternStore,
	blobs storage.BlobStore,
	publisher EventPublisher,
	log logging.Logger,
	maxImageBytes int64,
) *PatternCommandService {
	return &PatternCommandService{
		patterns:      patterns,
		blobs:         blobs,
		publisher:     publisher,
		log:           log,
		maxImageBytes: maxImageBytes,
		now:           time.Now,
	}
}

// Create validates the image, stores the blob, then inserts the row. If the
// insert fails the blob is released again so nothing is left behind.
func (s *PatternCommandService) Create(ctx context.Context, cmd cqrs.CreatePatternCommand) (*models.PatternView, error) {
	img := cmd.Image
	if img == nil || img.Content == nil {
		return nil, apperrors.NewValidationError(apperrors.FieldError{
			Field: "image", Message: "No file was submitted", Type: "required",
		})
	}
	if img.Size > s.maxImageBytes {
		return nil, apperrors.ErrPayloadTooLarge
	}
	if img.Size == 0 {
		return nil, apperrors.NewValidationError(apperrors.FieldError{
			Field: "image", Message: "The submitted file is empty", Type: "empty",
		})
	}

	contentType, ext, err := sniffImage(img.Content)
	if err != nil {
		return nil, err
	}

	key := storage.NewKey(s.now(), ext)
	ref, err := s.blobs.Put(ctx, key, io.LimitReader(img.Content, s.maxImageBytes), img.Size, contentType)
	if err != nil {
		return nil, err
	}

	name := models.DefaultPatternName
	if cmd.Name != nil && strings.TrimSpace(*cmd.Name) != "" {
		name = *cmd.Name
	}
	view, err := s.patterns.Create(ctx, &models.Pattern{
		UserID:      cmd.UserID,
		Image:       ref,
		Name:        name,
		Size:        cmd.Size,
		Description: cmd.Description,
		IsFavorite:  cmd.IsFavorite,
	})
	if err != nil {
		s.releaseBlob(context.WithoutCancel(ctx), ref)
		return nil, err
	}

	s.publish(ctx, events.PatternCreated, events.PatternCreatedEvent{
		PatternID: view.ID,
		UserID:    view.UserID,
		Image:     view.Image,
		Size:      view.Size,
	})
	return view, nil
}

func (s *PatternCommandService) Update(ctx context.Context, cmd cqrs.UpdatePatternCommand) (*models.PatternView, error) {
	view, err := s.patterns.Update(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.PatternUpdated, events.PatternUpdatedEvent{
		PatternID:  view.ID,
		UserID:     view.UserID,
		IsFavorite: view.IsFavorite,
	})
	return view, nil
}

// Delete removes the row and hands the blob to the reaper. Without a working
// event stream the blob is released inline.
func (s *PatternCommandService) Delete(ctx context.Context, cmd cqrs.DeletePatternCommand) error {
	ref, err := s.patterns.Delete(ctx, cmd.PatternID, cmd.UserID)
	if err != nil {
		return err
	}

	err = s.publisher.Publish(ctx, events.PatternEventsStream, events.PatternDeleted, events.PatternDeletedEvent{
		PatternID: cmd.PatternID,
		UserID:    cmd.UserID,
		Image:     ref,
	})
	if err != nil {
		if !errors.Is(err, events.ErrDisabled) {
			s.log.Warn(ctx, "failed to publish event; releasing blob inline", "type", events.PatternDeleted, "error", err)
		}
		s.releaseBlob(context.WithoutCancel(ctx), ref)
	}
	return nil
}

// HandlePatternEvent is the blob reaper: it releases the image of every
// deleted pattern. Redelivery is harmless since deleting a missing blob
// succeeds.
func (s *PatternCommandService) HandlePatternEvent(ctx context.Context, event events.Event) error {
	if event.Type != events.PatternDeleted {
		return nil
	}
	var data events.PatternDeletedEvent
	if err := event.Decode(&data); err != nil {
		return err
	}
	if data.Image == "" {
		return nil
	}
	if err := s.blobs.Delete(ctx, data.Image); err != nil {
		return fmt.Errorf("failed to release blob of pattern %d: %w", data.PatternID, err)
	}
	s.log.Debug(ctx, "released blob", "pattern_id", data.PatternID, "ref", data.Image)
	return nil
}

func (s *PatternCommandService) releaseBlob(ctx context.Context, ref string) {
	if err := s.blobs.Delete(ctx, ref); err != nil {
		s.log.Error(ctx, "failed to release blob", "ref", ref, "error", err)
	}
}

func (s *PatternCommandService) publish(ctx context.Context, eventType string, data any) {
	err := s.publisher.Publish(ctx, events.PatternEventsStream, eventType, data)
	if err != nil && !errors.Is(err, events.ErrDisabled) {
		s.log.Warn(ctx, "failed to publish event", "type", eventType, "error", err)
	}
}

// sniffImage checks the leading bytes for a supported image signature and
// rewinds r. The returned extension follows the detected type only.
func sniffImage(r io.ReadSeeker) (contentType, ext string, err error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", "", fmt.Errorf("failed to read upload: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("failed to rewind upload: %w", err)
	}

	contentType = http.DetectContentType(head[:n])
	ext, ok := storage.ExtensionFor(contentType)
	if !ok {
		return "", "", errInvalidImage
	}
	return contentType, ext, nil
}
