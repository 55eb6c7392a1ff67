package app

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"planhub/internal/blob"
	"planhub/internal/model"
	"planhub/internal/util"
)

func attachmentsDisabled() *DomainError {
	return &DomainError{
		Status:  http.StatusServiceUnavailable,
		Code:    "ATTACHMENTS_DISABLED",
		Message: "Attachment storage is not configured",
	}
}

// AttachmentUpload is returned when an attachment is created: the
// client uploads the file bytes directly to the presigned URL.
type AttachmentUpload struct {
	Attachment model.Attachment `json:"attachment"`
	UploadURL  string           `json:"uploadUrl"`
}

// CreateAttachment registers an attachment on the activity and hands
// back a presigned upload URL. File bytes never pass through the API.
func (s *Service) CreateAttachment(ctx context.Context, userID, activityID, fileName string, size int64) (*AttachmentUpload, error) {
	if s.blob == nil {
		return nil, attachmentsDisabled()
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, validation("File name is required", nil)
	}
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, asDomainError(err)
	}
	if _, _, err := s.editPlanner(ctx, activity.PlannerID, userID); err != nil {
		return nil, err
	}
	attachment := model.Attachment{
		ID:         util.NewID("att"),
		FileName:   fileName,
		Size:       size,
		UploadedBy: userID,
		UploadedAt: time.Now().UTC(),
	}
	attachment.ObjectKey = blob.ObjectKey(activityID, attachment.ID, fileName)
	uploadURL, err := s.blob.PresignUpload(ctx, attachment.ObjectKey)
	if err != nil {
		return nil, asDomainError(err)
	}
	attachments := append(append([]model.Attachment(nil), activity.Attachments...), attachment)
	if _, err := s.activities.Update(ctx, activityID, map[string]any{"attachments": attachments}, activity.Version); err != nil {
		return nil, asDomainError(err)
	}
	s.recordAudit(ctx, userID, "attachment.create", "activity", activityID)
	return &AttachmentUpload{Attachment: attachment, UploadURL: uploadURL}, nil
}

// AttachmentDownloadURL presigns a short-lived download link.
func (s *Service) AttachmentDownloadURL(ctx context.Context, userID, activityID, attachmentID string) (string, error) {
	if s.blob == nil {
		return "", attachmentsDisabled()
	}
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return "", asDomainError(err)
	}
	if _, _, err := s.viewPlanner(ctx, activity.PlannerID, userID); err != nil {
		return "", err
	}
	for _, a := range activity.Attachments {
		if a.ID == attachmentID {
			url, err := s.blob.PresignDownload(ctx, a.ObjectKey, a.FileName)
			if err != nil {
				return "", asDomainError(err)
			}
			return url, nil
		}
	}
	return "", notFound("Attachment not found")
}

// DeleteAttachment removes the record from the activity; the stored
// object is deleted best-effort afterwards.
func (s *Service) DeleteAttachment(ctx context.Context, userID, activityID, attachmentID string) error {
	if s.blob == nil {
		return attachmentsDisabled()
	}
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return asDomainError(err)
	}
	if _, _, err := s.editPlanner(ctx, activity.PlannerID, userID); err != nil {
		return err
	}
	var objectKey string
	attachments := make([]model.Attachment, 0, len(activity.Attachments))
	for _, a := range activity.Attachments {
		if a.ID == attachmentID {
			objectKey = a.ObjectKey
			continue
		}
		attachments = append(attachments, a)
	}
	if objectKey == "" {
		return notFound("Attachment not found")
	}
	if _, err := s.activities.Update(ctx, activityID, map[string]any{"attachments": attachments}, activity.Version); err != nil {
		return asDomainError(err)
	}
	if err := s.blob.Delete(ctx, objectKey); err != nil {
		log.Printf("delete attachment object %s: %v", objectKey, err)
	}
	s.recordAudit(ctx, userID, "attachment.delete", "activity", activityID)
	return nil
}
