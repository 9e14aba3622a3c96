package router

import (
	"context"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/rugalib/ruga-filepond/pkg/transfer"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxRevertBody bounds the DELETE body, which only carries a transfer id.
const maxRevertBody = 4096

// Resolver builds or rehydrates the sessions an operation works on.
type Resolver struct {
	store *transfer.Store
}

func NewResolver(store *transfer.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the sessions for op.
//
//   - Upload: one atomic session per file part, or one chunk-init session
//     per protocol field when no file was posted
//   - Revert, Restore, Patch: the rehydrated session of the transfer id from
//     the body, the restore value or the patch value
//   - FetchRemote, LoadLocal: a new session for the URL or foreign key
//   - Unknown, RemoveLocal: no sessions
//
// A transfer id that does not resolve yields a TransferNotFound error.
func (r *Resolver) Resolve(ctx context.Context, op Operation, req *Request) ([]*upload.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch op {
	case Upload:
		return r.resolveUpload(req)

	case Revert:
		id, err := readTransferID(req.Body)
		if err != nil {
			return nil, err
		}
		return r.restore(id)

	case Restore:
		return r.restore(strings.TrimSpace(req.Query.Get(QueryRestore)))

	case Patch:
		return r.restore(strings.TrimSpace(req.Query.Get(QueryPatch)))

	case FetchRemote:
		url := strings.TrimSpace(req.Query.Get(QueryFetch))
		if url == "" {
			return nil, upload.MalformedRequest("fetch url is empty")
		}
		return []*upload.Session{upload.NewFetch(r.store, url)}, nil

	case LoadLocal:
		key := strings.TrimSpace(req.Query.Get(QueryLoad))
		if key == "" {
			return nil, upload.MalformedRequest("load key is empty")
		}
		return []*upload.Session{upload.NewLoad(r.store, key)}, nil

	default:
		return nil, nil
	}
}

func (r *Resolver) resolveUpload(req *Request) ([]*upload.Session, error) {
	if len(req.Files) > 0 {
		metadata, err := firstMetadata(req.Fields)
		if err != nil {
			return nil, err
		}

		sessions := make([]*upload.Session, 0, len(req.Files))
		for _, part := range req.Files {
			sessions = append(sessions, upload.NewAtomic(r.store, part, copyMetadata(metadata)))
		}
		return sessions, nil
	}

	sessions := make([]*upload.Session, 0, len(req.Fields))
	for _, field := range req.Fields {
		metadata, err := ParseMetadata(field)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, upload.NewChunked(r.store, metadata, req.UploadLength()))
	}
	return sessions, nil
}

func (r *Resolver) restore(id string) ([]*upload.Session, error) {
	if id == "" {
		return nil, upload.TransferNotFound(id, transfer.ErrTransferNotFound)
	}
	s, err := upload.Restore(r.store, id)
	if err != nil {
		return nil, err
	}
	return []*upload.Session{s}, nil
}

// ParseMetadata decodes the JSON metadata the widget posts in the protocol
// field. An empty value yields an empty map.
func ParseMetadata(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, upload.MalformedRequest("invalid metadata: %v", err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, nil
}

func firstMetadata(fields []string) (map[string]any, error) {
	for _, field := range fields {
		if strings.TrimSpace(field) != "" {
			return ParseMetadata(field)
		}
	}
	return map[string]any{}, nil
}

func copyMetadata(m map[string]any) map[string]any {
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}

func readTransferID(body io.Reader) (string, error) {
	if body == nil {
		return "", upload.TransferNotFound("", transfer.ErrTransferNotFound)
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxRevertBody))
	if err != nil {
		return "", upload.MalformedRequest("failed to read request body: %v", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
