// Package upload models one transfer of the upload protocol.
//
// A Session is the in-memory view of one staging directory for the duration
// of a single request: it is rehydrated from the transfer store, mutated, and
// persisted again before the response is returned. Sessions are never shared
// between requests.
package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rugalib/ruga-filepond/pkg/transfer"
)

// State is the lifecycle position of a session.
type State int

const (
	StateNew State = iota
	StateReceiving
	StateComplete
	StateReverted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReceiving:
		return "receiving"
	case StateComplete:
		return "complete"
	case StateReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

func parseState(s string) State {
	switch s {
	case "receiving":
		return StateReceiving
	case "complete":
		return StateComplete
	case "reverted":
		return StateReverted
	default:
		return StateNew
	}
}

// Source describes where the bytes of a transfer come from.
type Source int

const (
	SourceNone Source = iota
	SourceUpload
	SourceFetch
	SourceLoad
)

func (s Source) String() string {
	switch s {
	case SourceUpload:
		return "upload"
	case SourceFetch:
		return "fetch"
	case SourceLoad:
		return "load"
	default:
		return "none"
	}
}

func parseSource(s string) Source {
	switch s {
	case "upload":
		return SourceUpload
	case "fetch":
		return SourceFetch
	case "load":
		return SourceLoad
	default:
		return SourceNone
	}
}

// UnknownSize marks a declared size that has not been announced yet.
const UnknownSize int64 = -1

// FilePart describes a multipart file already spooled to disk.
type FilePart struct {
	Name      string
	MimeType  string
	Size      int64
	SpoolPath string
	ErrorCode int
}

// Session is one transfer.
type Session struct {
	store *transfer.Store

	id           string
	name         string
	mimeType     string
	declaredSize int64
	metadata     map[string]any
	source       Source
	fetchURL     string
	foreignKey   string
	errorCode    int
	state        State
	createdAt    time.Time
	updatedAt    time.Time

	// spoolPath is the multipart temp file of an atomic upload. It is only
	// meaningful within the request that received it and is never persisted.
	spoolPath string

	// restored marks a session loaded from the store. Its staging directory
	// is never recreated by Persist.
	restored bool
}

func newSession(store *transfer.Store, source Source, metadata map[string]any) *Session {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Session{
		store:        store,
		id:           transfer.NewID(),
		declaredSize: UnknownSize,
		metadata:     metadata,
		source:       source,
		state:        StateNew,
		createdAt:    now,
		updatedAt:    now,
	}
}

// NewAtomic creates a session for a complete multipart file part.
func NewAtomic(store *transfer.Store, part FilePart, metadata map[string]any) *Session {
	s := newSession(store, SourceUpload, metadata)
	s.name = part.Name
	s.mimeType = normalizeMimeType(part.MimeType)
	s.declaredSize = part.Size
	s.spoolPath = part.SpoolPath
	s.errorCode = part.ErrorCode
	return s
}

// NewChunked creates a session that announces a chunked transfer.
// uploadLength seeds the declared size when positive.
func NewChunked(store *transfer.Store, metadata map[string]any, uploadLength int64) *Session {
	s := newSession(store, SourceUpload, metadata)
	s.SetDeclaredSize(uploadLength)
	return s
}

// NewFetch creates a session for a remote URL. Nothing is staged until the
// remote bytes have been received.
func NewFetch(store *transfer.Store, url string) *Session {
	s := newSession(store, SourceFetch, nil)
	s.fetchURL = url
	return s
}

// NewLoad creates a session for a file resolved through a foreign key.
func NewLoad(store *transfer.Store, foreignKey string) *Session {
	s := newSession(store, SourceLoad, nil)
	s.foreignKey = foreignKey
	return s
}

// Restore rehydrates the session of id from the transfer store.
func Restore(store *transfer.Store, id string) (*Session, error) {
	snap, err := store.Load(id)
	if err != nil {
		return nil, fromStore(id, err)
	}

	metadata := snap.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &Session{
		store:        store,
		id:           snap.TransferID,
		name:         snap.Name,
		mimeType:     snap.MimeType,
		declaredSize: snap.DeclaredSize,
		metadata:     metadata,
		source:       parseSource(snap.Source),
		fetchURL:     snap.FetchURL,
		foreignKey:   snap.ForeignKey,
		errorCode:    snap.ErrorCode,
		state:        parseState(snap.State),
		createdAt:    snap.CreatedAt,
		updatedAt:    snap.UpdatedAt,
		restored:     true,
	}, nil
}

func (s *Session) ID() string               { return s.id }
func (s *Session) Name() string             { return s.name }
func (s *Session) MimeType() string         { return s.mimeType }
func (s *Session) DeclaredSize() int64      { return s.declaredSize }
func (s *Session) Metadata() map[string]any { return s.metadata }
func (s *Session) Source() Source           { return s.source }
func (s *Session) FetchURL() string         { return s.fetchURL }
func (s *Session) ForeignKey() string       { return s.foreignKey }
func (s *Session) ErrorCode() int           { return s.errorCode }
func (s *Session) HasError() bool           { return s.errorCode != 0 }
func (s *Session) State() State             { return s.state }
func (s *Session) CreatedAt() time.Time     { return s.createdAt }
func (s *Session) Store() *transfer.Store   { return s.store }

// IsAtomic reports whether the session holds a spooled multipart file.
func (s *Session) IsAtomic() bool {
	return s.spoolPath != ""
}

// MetadataString returns a string metadata value, or "" when absent.
func (s *Session) MetadataString(key string) string {
	v, ok := s.metadata[key]
	if !ok || v == nil {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return str
}

// SetName sets the client file name. Empty names are ignored.
func (s *Session) SetName(name string) {
	if name == "" {
		return
	}
	s.name = name
}

// SetMimeType sets the MIME type. Empty values are ignored.
func (s *Session) SetMimeType(mimeType string) {
	if mimeType = normalizeMimeType(mimeType); mimeType == "" {
		return
	}
	s.mimeType = mimeType
}

// SetDeclaredSize records the announced size of the transfer.
//
// Non-positive values are ignored and a known positive size is never
// lowered, so a late or repeated header cannot shrink a transfer that is
// already in progress.
func (s *Session) SetDeclaredSize(n int64) {
	if n <= 0 {
		return
	}
	if s.declaredSize > 0 && n < s.declaredSize {
		return
	}
	s.declaredSize = n
}

// SetError flags a transport error with an HTTP-style status.
func (s *Session) SetError(code int) {
	s.errorCode = code
}

// Offset returns the number of bytes staged so far.
func (s *Session) Offset() (int64, error) {
	if s.state == StateComplete {
		size, _, err := s.store.DataSize(s.id)
		return size, fromStore(s.id, err)
	}
	size, err := s.store.AccumulatedSize(s.id)
	return size, fromStore(s.id, err)
}

// AppendChunk appends one chunk at offset.
//
// The chunk is rejected with an OffsetMismatch error unless offset equals
// the number of bytes received so far. A chunk that would grow the transfer
// beyond its declared size is rejected with SizeExceeded and leaves the
// accumulator unchanged.
//
// Returns the accumulated length after the call.
func (s *Session) AppendChunk(ctx context.Context, r io.Reader, offset int64) (int64, error) {
	if s.state == StateComplete {
		return 0, newError(KindOffsetMismatch, transfer.ErrOffsetMismatch,
			"transfer %s is already complete", s.id)
	}

	limit := int64(-1)
	if s.declaredSize > 0 {
		limit = s.declaredSize
	}

	n, err := s.store.AppendChunk(ctx, s.id, offset, r, limit)
	if err != nil {
		if KindOf(err) == KindOffsetMismatch {
			return n, OffsetMismatch(n, offset)
		}
		return n, fromStore(s.id, err)
	}

	s.state = StateReceiving
	s.touch()
	return n, nil
}

// IsComplete reports whether a declared size is known and the relevant file
// holds exactly that many bytes. The relevant file is the spooled part for
// atomic uploads, the data file once finalized, and the accumulator
// otherwise.
func (s *Session) IsComplete() bool {
	if s.declaredSize < 0 {
		return false
	}

	var size int64
	switch {
	case s.spoolPath != "":
		info, err := os.Stat(s.spoolPath)
		if err != nil {
			return false
		}
		size = info.Size()
	case s.HasData():
		dataSize, _, err := s.store.DataSize(s.id)
		if err != nil {
			return false
		}
		size = dataSize
	default:
		accumulated, err := s.store.AccumulatedSize(s.id)
		if err != nil {
			return false
		}
		size = accumulated
	}

	return size == s.declaredSize
}

// Finalize moves the received bytes into the data file position and
// resolves the MIME type from content when it is still unknown.
//
// Finalize refuses incomplete transfers, so a partially received file is
// never reported as complete.
func (s *Session) Finalize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !s.IsComplete() {
		offset, _ := s.Offset()
		return newError(KindOffsetMismatch, transfer.ErrOffsetMismatch,
			"transfer %s incomplete: %d of %d bytes", s.id, offset, s.declaredSize)
	}

	if s.state != StateComplete || s.spoolPath != "" {
		var err error
		if s.spoolPath != "" {
			err = s.store.Import(s.id, s.spoolPath)
		} else {
			err = s.store.Commit(s.id)
		}
		if err != nil {
			return fromStore(s.id, err)
		}
		s.spoolPath = ""
	}

	s.detectMimeType()
	s.state = StateComplete
	s.touch()
	return nil
}

// StoreData writes a complete payload (a fetched or otherwise obtained body)
// as the data file. At most limit bytes are accepted when limit is
// non-negative.
func (s *Session) StoreData(ctx context.Context, r io.Reader, limit int64) (int64, error) {
	n, err := s.store.WriteData(ctx, s.id, r, limit)
	if err != nil {
		return 0, fromStore(s.id, err)
	}

	s.declaredSize = n
	s.detectMimeType()
	s.state = StateComplete
	s.touch()
	return n, nil
}

// HasData reports whether the data file exists.
func (s *Session) HasData() bool {
	_, exists, err := s.store.DataSize(s.id)
	return err == nil && exists
}

// OpenData opens the data file.
func (s *Session) OpenData() (*os.File, error) {
	f, err := s.store.OpenData(s.id)
	if err != nil {
		return nil, fromStore(s.id, err)
	}
	return f, nil
}

// Persist writes the session snapshot and metadata record.
//
// A restored session whose staging directory has been removed in the
// meantime (a concurrent revert) fails with TransferNotFound instead of
// bringing the directory back.
func (s *Session) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.touch()

	var err error
	if s.restored {
		err = s.store.Update(s.Snapshot())
	} else {
		err = s.store.Save(s.Snapshot())
	}
	if err != nil {
		if errors.Is(err, transfer.ErrTransferNotFound) {
			return fromStore(s.id, err)
		}
		return StorageFault(err, "persist transfer %s", s.id)
	}
	return nil
}

// Revert removes the staging directory.
func (s *Session) Revert(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Remove(s.id); err != nil {
		return fromStore(s.id, err)
	}
	s.state = StateReverted
	return nil
}

// Discard removes a spooled multipart file that will not be imported.
func (s *Session) Discard() {
	if s.spoolPath == "" {
		return
	}
	_ = os.Remove(s.spoolPath)
	s.spoolPath = ""
}

// Snapshot returns the persisted form of the session.
func (s *Session) Snapshot() *transfer.Snapshot {
	return &transfer.Snapshot{
		Version:      transfer.SnapshotVersion,
		TransferID:   s.id,
		Name:         s.name,
		MimeType:     s.mimeType,
		DeclaredSize: s.declaredSize,
		Metadata:     s.metadata,
		Source:       s.source.String(),
		FetchURL:     s.fetchURL,
		ForeignKey:   s.foreignKey,
		ErrorCode:    s.errorCode,
		State:        s.state.String(),
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
}

func (s *Session) touch() {
	s.updatedAt = time.Now().UTC()
}

func (s *Session) detectMimeType() {
	if s.mimeType != "" && s.mimeType != "application/octet-stream" {
		return
	}
	mt, err := mimetype.DetectFile(s.store.DataPath(s.id))
	if err != nil {
		return
	}
	s.mimeType = normalizeMimeType(mt.String())
}

// normalizeMimeType drops parameters and lowercases the media type.
func normalizeMimeType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
