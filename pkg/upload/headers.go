package upload

// Wire header names. These are part of the protocol contract.
const (
	HeaderUploadOffset = "Upload-Offset"
	HeaderUploadLength = "Upload-Length"
	HeaderUploadName   = "Upload-Name"

	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderContentDisposition = "Content-Disposition"
	HeaderTransferID         = "X-Content-Transfer-Id"
	HeaderExposeHeaders      = "Access-Control-Expose-Headers"
)

// contentExposeHeaders lists the headers a browser may read from content
// responses.
const contentExposeHeaders = HeaderContentType + ", " + HeaderContentLength + ", " +
	HeaderContentDisposition + ", " + HeaderTransferID

const offsetExposeHeaders = HeaderUploadOffset
