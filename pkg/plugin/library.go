package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/pkg/catalog"
	"github.com/rugalib/ruga-filepond/pkg/content"
	"github.com/rugalib/ruga-filepond/pkg/router"
	"github.com/rugalib/ruga-filepond/pkg/upload"
)

const (
	// DefaultLibraryAlias is the path segment the library plugin is
	// usually registered under.
	DefaultLibraryAlias = "library"

	// HeaderDocumentID carries the id of the stored document.
	HeaderDocumentID = "X-Document-Id"

	// Metadata keys read from the client and stamped on load sessions.
	MetaLinkTo       = "linkTo"
	MetaDocumentType = "documentType"
	MetaLibrary      = "library"
	MetaContentID    = "contentId"
)

type libraryKey struct{}

// WithLibrary returns a context carrying the library of the request.
func WithLibrary(ctx context.Context, library string) context.Context {
	return context.WithValue(ctx, libraryKey{}, library)
}

// LibraryFromContext returns the library stored by WithLibrary, or "".
func LibraryFromContext(ctx context.Context) string {
	library, _ := ctx.Value(libraryKey{}).(string)
	return library
}

// LibraryConfig configures the library plugin.
type LibraryConfig struct {
	// DefaultLibrary is used when the request path names no library.
	DefaultLibrary string `mapstructure:"default_library"`

	// MaxUploadSize limits the size of one transfer in bytes. 0 means
	// unlimited.
	MaxUploadSize int64 `mapstructure:"max_upload_size"`

	// AllowedTypes is a MIME allow-list. Entries may use a "type/*"
	// wildcard. Empty allows every type.
	AllowedTypes []string `mapstructure:"allowed_types"`

	// RequireLinkTo rejects uploads without a linkTo metadata value.
	RequireLinkTo bool `mapstructure:"require_link_to"`

	// AllowedFetchHosts restricts remote fetches to these host names.
	// Empty allows every host.
	AllowedFetchHosts []string `mapstructure:"allowed_fetch_hosts"`
}

// Library hands finished uploads over to a document library.
//
// A completed upload is copied into the content store and recorded as a
// catalog document; its staging directory is removed afterwards. The
// library of a request is the second path segment:
//
//	POST /library/contracts   -> library "contracts"
//	POST /library             -> the default library
//
// Loading a document through its id is only allowed from the library it was
// stored in.
type Library struct {
	NoOp

	cfg          LibraryConfig
	content      content.Store
	catalog      catalog.Catalog
	allowedTypes mapset.Set
	allowedHosts mapset.Set
}

var _ Hooks = (*Library)(nil)

// NewLibrary creates a library plugin over the given destination stores.
func NewLibrary(cfg LibraryConfig, contentStore content.Store, cat catalog.Catalog) (*Library, error) {
	if contentStore == nil {
		return nil, fmt.Errorf("library plugin requires a content store")
	}
	if cat == nil {
		return nil, fmt.Errorf("library plugin requires a catalog")
	}
	if cfg.DefaultLibrary == "" {
		cfg.DefaultLibrary = "default"
	}
	if strings.Contains(cfg.DefaultLibrary, ":") {
		return nil, fmt.Errorf("invalid default library %q", cfg.DefaultLibrary)
	}
	if cfg.MaxUploadSize < 0 {
		return nil, fmt.Errorf("max_upload_size must not be negative")
	}

	allowedTypes := mapset.NewSet()
	for _, t := range cfg.AllowedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			allowedTypes.Add(t)
		}
	}

	allowedHosts := mapset.NewSet()
	for _, h := range cfg.AllowedFetchHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowedHosts.Add(h)
		}
	}

	return &Library{
		cfg:          cfg,
		content:      contentStore,
		catalog:      cat,
		allowedTypes: allowedTypes,
		allowedHosts: allowedHosts,
	}, nil
}

// PreProcess resolves the library of the request.
func (l *Library) PreProcess(ctx context.Context, req *router.Request) (context.Context, error) {
	library := req.Segment(1)
	if library == "" {
		library = l.cfg.DefaultLibrary
	}
	if strings.Contains(library, ":") {
		return ctx, upload.MalformedRequest("invalid library %q", library)
	}
	return WithLibrary(ctx, library), nil
}

func (l *Library) library(ctx context.Context) string {
	if library := LibraryFromContext(ctx); library != "" {
		return library
	}
	return l.cfg.DefaultLibrary
}

func (l *Library) IsUploadSizeAllowed(ctx context.Context, contentLength, uploadLength int64) bool {
	if l.cfg.MaxUploadSize == 0 {
		return true
	}
	return contentLength <= l.cfg.MaxUploadSize && uploadLength <= l.cfg.MaxUploadSize
}

// IsFileTypeAllowed matches the session type against the allow-list. A type
// that is not known yet (chunk announcement) passes; it is checked again once
// bytes have arrived.
func (l *Library) IsFileTypeAllowed(ctx context.Context, s *upload.Session) bool {
	if l.allowedTypes.Cardinality() == 0 {
		return true
	}

	mimeType := strings.ToLower(s.MimeType())
	if mimeType == "" {
		return true
	}
	if l.allowedTypes.Contains(mimeType) || l.allowedTypes.Contains("*/*") {
		return true
	}
	if i := strings.Index(mimeType, "/"); i > 0 {
		return l.allowedTypes.Contains(mimeType[:i] + "/*")
	}
	return false
}

func (l *Library) IsUploadAllowed(ctx context.Context, s *upload.Session) bool {
	if l.cfg.RequireLinkTo && s.MetadataString(MetaLinkTo) == "" {
		logger.Debug("library: rejecting upload %s without %s", s.ID(), MetaLinkTo)
		return false
	}
	return true
}

func (l *Library) IsFetchURLAllowed(ctx context.Context, s *upload.Session, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if l.allowedHosts.Cardinality() == 0 {
		return true
	}
	return l.allowedHosts.Contains(strings.ToLower(u.Hostname()))
}

// IsLoadAllowed only serves documents of the request's library.
func (l *Library) IsLoadAllowed(ctx context.Context, s *upload.Session) bool {
	return s.MetadataString(MetaLibrary) == l.library(ctx)
}

// UploadComplete stores the finished transfer as a document.
//
// The response body becomes the document id, which the client keeps as the
// server id of the file. A 204 response keeps its empty body and only gains
// the document id header.
func (l *Library) UploadComplete(ctx context.Context, s *upload.Session, resp *upload.Response) (*upload.Response, error) {
	// ========================================================================
	// Step 1: Copy the data file into the content store
	// ========================================================================

	docID := strings.ReplaceAll(uuid.NewString(), "-", "")
	library := l.library(ctx)
	contentID := path.Join(library, docID)

	f, err := s.OpenData()
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, upload.StorageFault(err, "stat data file of %s", s.ID())
	}

	size, err := l.content.Put(ctx, contentID, f, info.Size())
	_ = f.Close()
	if err != nil {
		return nil, upload.StorageFault(err, "store content of %s", s.ID())
	}

	// ========================================================================
	// Step 2: Record the document
	// ========================================================================

	documentType := s.MetadataString(MetaDocumentType)
	if documentType == "" {
		documentType = catalog.DefaultDocumentType
	}

	doc := &catalog.Document{
		ID:           docID,
		Library:      library,
		Name:         s.Name(),
		MimeType:     s.MimeType(),
		Size:         size,
		ContentID:    contentID,
		DocumentType: documentType,
		LinkTo:       s.MetadataString(MetaLinkTo),
		Metadata:     s.Metadata(),
		CreatedAt:    time.Now().UTC(),
	}

	if err := l.catalog.Put(ctx, doc); err != nil {
		if delErr := l.content.Delete(ctx, contentID); delErr != nil {
			logger.Warn("library: failed to remove orphaned content %s: %v", contentID, delErr)
		}
		return nil, upload.StorageFault(err, "record document of %s", s.ID())
	}

	// ========================================================================
	// Step 3: Release the staging directory
	// ========================================================================

	if err := s.Revert(ctx); err != nil {
		logger.Warn("library: document %s stored but staging of %s not removed: %v", docID, s.ID(), err)
	}

	logger.Info("library: stored %s (%d bytes) as document %s in %q", s.Name(), size, docID, library)

	if resp == nil {
		resp = upload.NewResponse(http.StatusCreated)
	}
	if resp.Status == http.StatusNoContent {
		resp.Header.Set(HeaderDocumentID, docID)
		return resp, nil
	}

	status := resp.Status
	_ = resp.Close()
	out := upload.NewTextResponse(status, docID)
	out.Header.Set(HeaderDocumentID, docID)
	return out, nil
}

// LoadFileInformation resolves the foreign key as a document id.
func (l *Library) LoadFileInformation(ctx context.Context, s *upload.Session) error {
	doc, err := l.catalog.Get(ctx, s.ForeignKey())
	if err != nil {
		return fmt.Errorf("load %q: %w", s.ForeignKey(), err)
	}

	s.SetName(doc.Name)
	s.SetMimeType(doc.MimeType)
	s.SetDeclaredSize(doc.Size)

	meta := s.Metadata()
	meta[MetaLibrary] = doc.Library
	meta[MetaContentID] = doc.ContentID
	if doc.LinkTo != "" {
		meta[MetaLinkTo] = doc.LinkTo
	}
	return nil
}

// OpenForeign streams the document content.
func (l *Library) OpenForeign(ctx context.Context, s *upload.Session) (io.ReadCloser, error) {
	contentID := s.MetadataString(MetaContentID)
	if contentID == "" {
		if err := l.LoadFileInformation(ctx, s); err != nil {
			return nil, err
		}
		contentID = s.MetadataString(MetaContentID)
	}
	return l.content.Open(ctx, contentID)
}
