package router

// Operation is the protocol action a request asks for.
type Operation int

const (
	Unknown Operation = iota
	Upload
	Revert
	Patch
	Restore
	FetchRemote
	LoadLocal

	// RemoveLocal is reserved. No request classifies to it and dispatching
	// it fails with NotImplemented.
	RemoveLocal
)

func (o Operation) String() string {
	switch o {
	case Upload:
		return "upload"
	case Revert:
		return "revert"
	case Patch:
		return "patch"
	case Restore:
		return "restore"
	case FetchRemote:
		return "fetch"
	case LoadLocal:
		return "load"
	case RemoveLocal:
		return "remove"
	default:
		return "unknown"
	}
}

// Operations lists every operation, for metrics label pre-registration.
func Operations() []Operation {
	return []Operation{Unknown, Upload, Revert, Patch, Restore, FetchRemote, LoadLocal, RemoveLocal}
}
