// Package transfer implements the staging area for in-flight uploads.
//
// Every transfer owns one directory below the store root, addressed by its
// transfer id:
//
//	<root>/<id>/file            committed data
//	<root>/<id>/file.part       chunk accumulator
//	<root>/<id>/.metadata       JSON record for inspection
//	<root>/<id>/.snapshot.json  versioned session snapshot
//	<root>/<id>/.lock           advisory lock shared by all processes
//
// Multipart bodies are spooled to <root>/.incoming before a transfer is
// created for them.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	dataFileName        = "file"
	accumulatorFileName = "file.part"
	metadataFileName    = ".metadata"
	snapshotFileName    = ".snapshot.json"
	lockFileName        = ".lock"

	// IncomingDirName holds request spool files. It never collides with a
	// transfer id because ids are lowercase hex.
	IncomingDirName = ".incoming"
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NewID returns a fresh, unguessable transfer id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id has the shape produced by NewID.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Store manages staging directories on the local filesystem.
//
// Thread Safety:
// Mutations of a single transfer (append, commit, import, save, remove) are
// serialized by an advisory lock on the .lock file of its staging directory,
// so several processes may share one staging root. Within a process a
// per-transfer mutex is taken first, so goroutines queue in memory instead of
// on the file. Reads are not locked; the data file only ever appears through
// an atomic rename, so readers see either no file or a complete one.
type Store struct {
	basePath string

	locksMu sync.Mutex
	locks   map[string]*idLock
}

// idLock is the in-process mutex of one transfer. It is dropped from the
// lock table once no goroutine holds or waits for it, so two goroutines can
// never hold different mutexes for the same id.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// Entry describes one staging directory for listing purposes.
type Entry struct {
	ID      string
	ModTime time.Time

	// Size is only filled for spool files.
	Size int64
}

// NewStore creates the staging root (and its spool directory) if needed.
//
// Parameters:
//   - ctx: Context for cancellation
//   - basePath: Root directory for staging directories
//
// Returns:
//   - *Store: Initialized store
//   - error: If the directories cannot be created or ctx is cancelled
func NewStore(ctx context.Context, basePath string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if basePath == "" {
		return nil, fmt.Errorf("staging path is required")
	}

	if err := os.MkdirAll(filepath.Join(basePath, IncomingDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &Store{basePath: basePath, locks: make(map[string]*idLock)}, nil
}

// BasePath returns the staging root.
func (s *Store) BasePath() string {
	return s.basePath
}

// IncomingDir returns the spool directory for request bodies.
func (s *Store) IncomingDir() string {
	return filepath.Join(s.basePath, IncomingDirName)
}

// Dir returns the staging directory of a transfer.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.basePath, id)
}

// DataPath returns the committed data file path of a transfer.
func (s *Store) DataPath(id string) string {
	return filepath.Join(s.basePath, id, dataFileName)
}

func (s *Store) accumulatorPath(id string) string {
	return filepath.Join(s.basePath, id, accumulatorFileName)
}

func (s *Store) lockLocal(id string) *idLock {
	s.locksMu.Lock()
	l, exists := s.locks[id]
	if !exists {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Store) unlockLocal(id string, l *idLock) {
	l.mu.Unlock()

	s.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
	s.locksMu.Unlock()
}

// lock takes the exclusive lock of an existing transfer and returns its
// release function. ErrTransferNotFound is returned when the staging
// directory is missing, including when it was removed while waiting.
func (s *Store) lock(id string) (func(), error) {
	l := s.lockLocal(id)

	if !s.Exists(id) {
		s.unlockLocal(id, l)
		return nil, fmt.Errorf("transfer %s: %w", id, ErrTransferNotFound)
	}

	fl := flock.New(filepath.Join(s.Dir(id), lockFileName))
	if err := fl.Lock(); err != nil {
		s.unlockLocal(id, l)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("transfer %s: %w", id, ErrTransferNotFound)
		}
		return nil, fmt.Errorf("failed to lock transfer %s: %w", id, err)
	}

	release := func() {
		_ = fl.Unlock()
		s.unlockLocal(id, l)
	}

	// Another process may have removed the directory while we waited.
	if !s.Exists(id) {
		release()
		return nil, fmt.Errorf("transfer %s: %w", id, ErrTransferNotFound)
	}
	return release, nil
}

// lockedCount returns the number of transfers with an in-process lock held
// or awaited.
func (s *Store) lockedCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

func (s *Store) checkID(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("transfer %q: %w", id, ErrTransferNotFound)
	}
	return nil
}

// Exists reports whether the staging directory of id exists.
func (s *Store) Exists(id string) bool {
	if !ValidID(id) {
		return false
	}
	info, err := os.Stat(s.Dir(id))
	return err == nil && info.IsDir()
}

// Prepare creates the staging directory of id.
func (s *Store) Prepare(id string) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir(id), 0755); err != nil {
		return fmt.Errorf("failed to create transfer directory: %w", err)
	}
	return nil
}

// AccumulatedSize returns the number of chunk bytes received so far.
// A missing accumulator counts as zero.
func (s *Store) AccumulatedSize(id string) (int64, error) {
	if err := s.checkID(id); err != nil {
		return 0, err
	}
	return fileSize(s.accumulatorPath(id))
}

// DataSize returns the committed data size and whether a data file exists.
func (s *Store) DataSize(id string) (int64, bool, error) {
	if err := s.checkID(id); err != nil {
		return 0, false, err
	}
	info, err := os.Stat(s.DataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to stat data file: %w", err)
	}
	return info.Size(), true, nil
}

// AppendChunk appends r to the accumulator of id at offset.
//
// The append is rejected with ErrOffsetMismatch unless offset equals the
// current accumulator length, so chunks must arrive in order and without gaps
// or overlap. When limit is non-negative the accumulator may not grow beyond
// limit bytes; an overflowing chunk is rolled back and ErrChunkOverflow is
// returned.
//
// Parameters:
//   - ctx: Context for cancellation (checked before taking the lock)
//   - id: Transfer id (staging directory must exist)
//   - offset: Expected current accumulator length
//   - r: Chunk bytes
//   - limit: Maximum total accumulator size, or -1 for no limit
//
// Returns:
//   - int64: Accumulator length after the call (unchanged on error)
//   - error: ErrTransferNotFound, ErrOffsetMismatch, ErrChunkOverflow or I/O errors
func (s *Store) AppendChunk(ctx context.Context, id string, offset int64, r io.Reader, limit int64) (int64, error) {
	// ========================================================================
	// Step 1: Validate and serialize on the transfer
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.checkID(id); err != nil {
		return 0, err
	}

	release, err := s.lock(id)
	if err != nil {
		return 0, err
	}
	defer release()

	// ========================================================================
	// Step 2: Check the offset against the accumulator
	// ========================================================================

	if _, committed, err := s.DataSize(id); err != nil {
		return 0, err
	} else if committed {
		return 0, fmt.Errorf("transfer %s: already committed: %w", id, ErrOffsetMismatch)
	}

	current, err := fileSize(s.accumulatorPath(id))
	if err != nil {
		return 0, err
	}
	if current != offset {
		return current, fmt.Errorf("transfer %s: expected offset %d, got %d: %w",
			id, current, offset, ErrOffsetMismatch)
	}

	// ========================================================================
	// Step 3: Append, rolling back on failure or overflow
	// ========================================================================

	f, err := os.OpenFile(s.accumulatorPath(id), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return current, fmt.Errorf("failed to open accumulator: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(current, io.SeekStart); err != nil {
		return current, fmt.Errorf("failed to seek accumulator: %w", err)
	}

	src := r
	if limit >= 0 {
		src = io.LimitReader(r, limit-current+1)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		_ = f.Truncate(current)
		return current, fmt.Errorf("failed to write chunk: %w", err)
	}
	if limit >= 0 && current+n > limit {
		_ = f.Truncate(current)
		return current, fmt.Errorf("transfer %s: %w", id, ErrChunkOverflow)
	}

	if err := f.Sync(); err != nil {
		return current, fmt.Errorf("failed to sync accumulator: %w", err)
	}

	return current + n, nil
}

// Commit atomically moves the accumulator into the data file position.
func (s *Store) Commit(id string) error {
	if err := s.checkID(id); err != nil {
		return err
	}

	release, err := s.lock(id)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Rename(s.accumulatorPath(id), s.DataPath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("transfer %s: %w", id, ErrNoData)
		}
		return fmt.Errorf("failed to commit accumulator: %w", err)
	}
	return nil
}

// Import moves an already complete file (usually a request spool file) into
// the data file position of id. A rename across filesystems falls back to
// copy and remove.
func (s *Store) Import(id, src string) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	if err := s.Prepare(id); err != nil {
		return err
	}

	release, err := s.lock(id)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Rename(src, s.DataPath(id)); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open upload file: %w", err)
	}
	defer in.Close()

	if _, err := s.writeAtomic(id, dataFileName, in, -1); err != nil {
		return err
	}
	_ = os.Remove(src)
	return nil
}

// WriteData streams r into the data file of id, creating the staging
// directory. At most limit bytes are accepted when limit is non-negative.
func (s *Store) WriteData(ctx context.Context, id string, r io.Reader, limit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.Prepare(id); err != nil {
		return 0, err
	}

	release, err := s.lock(id)
	if err != nil {
		return 0, err
	}
	defer release()

	return s.writeAtomic(id, dataFileName, r, limit)
}

// OpenData opens the committed data file of id for reading.
func (s *Store) OpenData(id string) (*os.File, error) {
	if err := s.checkID(id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.DataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			if !s.Exists(id) {
				return nil, fmt.Errorf("transfer %s: %w", id, ErrTransferNotFound)
			}
			return nil, fmt.Errorf("transfer %s: %w", id, ErrNoData)
		}
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	return f, nil
}

// Save writes the snapshot and the metadata record of a transfer, creating
// its staging directory if needed. Both files are replaced atomically.
//
// Save is meant for transfers created by the current request. Use Update for
// a transfer loaded from the store, so that a concurrent Remove is not undone.
func (s *Store) Save(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if err := s.Prepare(snap.TransferID); err != nil {
		return err
	}
	return s.Update(snap)
}

// Update rewrites the snapshot and metadata record of an existing transfer.
// It fails with ErrTransferNotFound when the staging directory is gone.
func (s *Store) Update(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if err := s.checkID(snap.TransferID); err != nil {
		return err
	}
	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	record, err := json.Marshal(recordFromSnapshot(snap))
	if err != nil {
		return fmt.Errorf("failed to encode metadata record: %w", err)
	}

	release, err := s.lock(snap.TransferID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.writeAtomic(snap.TransferID, snapshotFileName, bytes.NewReader(data), -1); err != nil {
		return err
	}
	if _, err := s.writeAtomic(snap.TransferID, metadataFileName, bytes.NewReader(record), -1); err != nil {
		return err
	}
	return nil
}

// Load reads the snapshot of id.
func (s *Store) Load(id string) (*Snapshot, error) {
	if err := s.checkID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(id), snapshotFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("transfer %s: %w", id, ErrTransferNotFound)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("transfer %s: version %d: %w", id, snap.Version, ErrSnapshotVersion)
	}
	if snap.TransferID != id {
		return nil, fmt.Errorf("transfer %s: snapshot belongs to %q", id, snap.TransferID)
	}
	return &snap, nil
}

// Remove deletes the whole staging directory of id.
func (s *Store) Remove(id string) error {
	if err := s.checkID(id); err != nil {
		return err
	}

	release, err := s.lock(id)
	if err != nil {
		return err
	}
	defer release()

	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return fmt.Errorf("failed to remove transfer directory: %w", err)
	}
	return nil
}

// List returns every staging directory with its last modification time.
// The time is the newest of the directory and its snapshot.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging directory: %w", err)
	}

	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !ValidID(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		modTime := info.ModTime()
		if snapInfo, err := os.Stat(filepath.Join(s.Dir(e.Name()), snapshotFileName)); err == nil {
			if snapInfo.ModTime().After(modTime) {
				modTime = snapInfo.ModTime()
			}
		}

		result = append(result, Entry{ID: e.Name(), ModTime: modTime})
	}
	return result, nil
}

// Spool creates a new spool file below the incoming directory.
func (s *Store) Spool() (*os.File, error) {
	f, err := os.CreateTemp(s.IncomingDir(), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	return f, nil
}

// ListIncoming returns spool files with their modification times.
func (s *Store) ListIncoming() ([]Entry, error) {
	entries, err := os.ReadDir(s.IncomingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list incoming directory: %w", err)
	}

	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		result = append(result, Entry{ID: e.Name(), ModTime: info.ModTime(), Size: info.Size()})
	}
	return result, nil
}

// Usage returns the number of bytes held by the staging directory of id.
func (s *Store) Usage(id string) (int64, error) {
	if err := s.checkID(id); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(s.Dir(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("transfer %s: %w", id, ErrTransferNotFound)
		}
		return 0, fmt.Errorf("failed to read transfer directory: %w", err)
	}

	var total int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !info.IsDir() {
			total += info.Size()
		}
	}
	return total, nil
}

// RemoveIncoming deletes one spool file by name.
func (s *Store) RemoveIncoming(name string) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid spool file name %q", name)
	}
	err := os.Remove(filepath.Join(s.IncomingDir(), name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spool file: %w", err)
	}
	return nil
}

// writeAtomic copies r into a temp file in the transfer directory and renames
// it to name. Callers hold the transfer lock when required.
func (s *Store) writeAtomic(id, name string, r io.Reader, limit int64) (int64, error) {
	tmp, err := os.CreateTemp(s.Dir(id), "."+name+"-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	src := r
	if limit >= 0 {
		src = io.LimitReader(r, limit+1)
	}

	n, err := io.Copy(tmp, src)
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if limit >= 0 && n > limit {
		return 0, fmt.Errorf("transfer %s: %w", id, ErrChunkOverflow)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.Dir(id), name)); err != nil {
		return 0, fmt.Errorf("failed to rename %s: %w", name, err)
	}

	committed = true
	return n, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat %s: %w", filepath.Base(path), err)
	}
	return info.Size(), nil
}
