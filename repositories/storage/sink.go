package storage

import (
	"context"
	"fmt"
	"log/slog"

	"meeting-server/domain/event"
	"meeting-server/repositories"
)

// DiskSink archives chat messages as they are broadcast. Every other
// event kind is transient presence or signaling and is not persisted.
type DiskSink struct {
	archive repositories.IMessageArchive
	log     *slog.Logger
}

func NewDiskSink(archive repositories.IMessageArchive, log *slog.Logger) DiskSink {
	return DiskSink{archive: archive, log: log}
}

func (d DiskSink) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.ChatPosted:
		return d.archive.StoreMessage(toDiskMessage(evt))
	default:
		d.log.Debug(fmt.Sprintf("Not archived event : %s", e.Kind()))
		return nil
	}
}

func toDiskMessage(evt event.ChatPosted) repositories.DiskMessage {
	return repositories.DiskMessage{
		ID:       evt.ID,
		Room:     evt.Room,
		Author:   evt.ParticipantID,
		Name:     evt.ParticipantName,
		Body:     evt.Body,
		Kind:     evt.Message.Kind,
		FileURL:  evt.FileURL,
		FileName: evt.FileName,
		FileSize: evt.FileSize,
		At:       evt.CreatedAt,
	}
}
