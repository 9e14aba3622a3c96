package upload

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rugalib/ruga-filepond/pkg/catalog"
	"github.com/rugalib/ruga-filepond/pkg/content"
	"github.com/rugalib/ruga-filepond/pkg/transfer"
)

// Kind classifies protocol errors.
type Kind int

const (
	KindInternal Kind = iota
	KindMalformedRequest
	KindTransferNotFound
	KindOffsetMismatch
	KindSizeExceeded
	KindTypeRejected
	KindPermissionDenied
	KindUpstreamFetchFailed
	KindStorageFault
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindMalformedRequest:
		return "MalformedRequest"
	case KindTransferNotFound:
		return "TransferNotFound"
	case KindOffsetMismatch:
		return "OffsetMismatch"
	case KindSizeExceeded:
		return "SizeExceeded"
	case KindTypeRejected:
		return "TypeRejected"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindUpstreamFetchFailed:
		return "UpstreamFetchFailed"
	case KindStorageFault:
		return "StorageFault"
	case KindNotImplemented:
		return "NotImplemented"
	default:
		return "Internal"
	}
}

// Status returns the default HTTP status of the kind.
func (k Kind) Status() int {
	switch k {
	case KindMalformedRequest:
		return http.StatusBadRequest
	case KindTransferNotFound:
		return http.StatusNotFound
	case KindOffsetMismatch:
		return http.StatusConflict
	case KindSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case KindTypeRejected:
		return http.StatusUnsupportedMediaType
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindUpstreamFetchFailed:
		return http.StatusBadGateway
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Error is a protocol error carrying the status to answer with.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, v ...any) *Error {
	return &Error{
		Kind:   kind,
		Status: kind.Status(),
		Msg:    fmt.Sprintf(format, v...),
		Err:    err,
	}
}

func MalformedRequest(format string, v ...any) *Error {
	return newError(KindMalformedRequest, nil, format, v...)
}

func TransferNotFound(id string, err error) *Error {
	return newError(KindTransferNotFound, err, "transfer %q not found", id)
}

// NotFound reports a missing resource that is not a transfer, such as an
// unknown plugin alias or foreign key.
func NotFound(format string, v ...any) *Error {
	return newError(KindTransferNotFound, nil, format, v...)
}

func OffsetMismatch(expected, got int64) *Error {
	return newError(KindOffsetMismatch, transfer.ErrOffsetMismatch,
		"expected offset %d, got %d", expected, got)
}

func SizeExceeded(format string, v ...any) *Error {
	return newError(KindSizeExceeded, nil, format, v...)
}

func TypeRejected(mimeType string) *Error {
	return newError(KindTypeRejected, nil, "file type %q not allowed", mimeType)
}

func PermissionDenied(action string) *Error {
	return newError(KindPermissionDenied, nil, "%s not allowed", action)
}

// UpstreamFetchFailed reports a failed remote fetch. A status in the
// client/server error range is mirrored, anything else becomes 502.
func UpstreamFetchFailed(status int, err error) *Error {
	e := newError(KindUpstreamFetchFailed, err, "remote fetch failed")
	if status >= 400 && status < 600 {
		e.Status = status
		e.Msg = fmt.Sprintf("remote fetch failed with status %d", status)
	}
	return e
}

func StorageFault(err error, format string, v ...any) *Error {
	return newError(KindStorageFault, err, format, v...)
}

// InsufficientStorage reports that the staging area has too little free
// space left to accept a transfer.
func InsufficientStorage(free, required uint64) *Error {
	e := newError(KindStorageFault, nil,
		"insufficient staging space: %d bytes free, %d required", free, required)
	e.Status = http.StatusInsufficientStorage
	return e
}

func NotImplemented(format string, v ...any) *Error {
	return newError(KindNotImplemented, nil, format, v...)
}

// StatusCode maps err to the HTTP status a client should see.
//
// A protocol Error contributes its own status when it lies in 400..599.
// Well-known sentinels of the storage layers are mapped to their kind.
// Anything else is an internal fault.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var perr *Error
	if errors.As(err, &perr) {
		if perr.Status >= 400 && perr.Status < 600 {
			return perr.Status
		}
		return http.StatusInternalServerError
	}

	return KindOf(err).Status()
}

// KindOf returns the kind of err, looking through wrapping.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}

	switch {
	case errors.Is(err, transfer.ErrTransferNotFound),
		errors.Is(err, transfer.ErrNoData),
		errors.Is(err, content.ErrContentNotFound),
		errors.Is(err, catalog.ErrDocumentNotFound):
		return KindTransferNotFound
	case errors.Is(err, transfer.ErrOffsetMismatch):
		return KindOffsetMismatch
	case errors.Is(err, transfer.ErrChunkOverflow):
		return KindSizeExceeded
	case errors.Is(err, content.ErrInvalidID):
		return KindMalformedRequest
	default:
		return KindInternal
	}
}

// fromStore converts a transfer store error into a protocol error.
func fromStore(id string, err error) error {
	if err == nil {
		return nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return err
	}

	switch KindOf(err) {
	case KindTransferNotFound:
		return TransferNotFound(id, err)
	case KindOffsetMismatch:
		return newError(KindOffsetMismatch, err, "chunk rejected")
	case KindSizeExceeded:
		return newError(KindSizeExceeded, err, "chunk rejected")
	default:
		return StorageFault(err, "transfer %s", id)
	}
}
