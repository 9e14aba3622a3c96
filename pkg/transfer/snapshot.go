package transfer

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotVersion is the current on-disk snapshot format.
const SnapshotVersion = 1

// Snapshot is the persisted form of an upload session.
//
// Only plain fields are stored so the file stays inspectable and independent
// of the in-memory session type. Version must equal SnapshotVersion when read
// back; older or newer files are rejected instead of guessed.
type Snapshot struct {
	Version      int            `json:"version"`
	TransferID   string         `json:"transferId"`
	Name         string         `json:"name"`
	MimeType     string         `json:"mimeType"`
	DeclaredSize int64          `json:"declaredSize"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Source       string         `json:"source"`
	FetchURL     string         `json:"fetchUrl,omitempty"`
	ForeignKey   string         `json:"foreignKey,omitempty"`
	ErrorCode    int            `json:"errorCode"`
	State        string         `json:"state"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Record is the human-oriented metadata file written next to the snapshot.
type Record struct {
	TransferID string         `json:"transferId"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Size       int64          `json:"size"`
	Meta       map[string]any `json:"meta"`
}

// recordFromSnapshot derives the metadata record from a snapshot.
func recordFromSnapshot(s *Snapshot) Record {
	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return Record{
		TransferID: s.TransferID,
		Name:       s.Name,
		Type:       s.MimeType,
		Size:       s.DeclaredSize,
		Meta:       meta,
	}
}
