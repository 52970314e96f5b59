package batch

// Message types
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Commands
const (
	CmdCheck   = "check"   // is this archive a duplicate?
	CmdReindex = "reindex" // drop and rebuild the index records of an archive
	CmdRetire  = "retire"  // purge, then delete or quarantine
	CmdCancel  = "cancel"  // stop an in-flight request by id
)

// Event types
const (
	EventStarted = "started"
	EventError   = "error"
)

// Error codes
const (
	CodeParse          = "PARSE_ERROR"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeContentRead    = "CONTENT_READ"
	CodeIndexQuery     = "INDEX_QUERY"
	CodeIndexWrite     = "INDEX_WRITE"
	CodeHashing        = "HASHING"
	CodeFileSystem     = "FILESYSTEM"
	CodeCancelled      = "CANCELLED"
	CodeInternal       = "INTERNAL"
)

// Message wraps all communication
type Message struct {
	Type    string      `json:"type"`
	Command string      `json:"command,omitempty"`
	ID      string      `json:"id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// CheckRequest asks for a duplicate verdict. Mode, Filters and Distance fall
// back to the server defaults.
type CheckRequest struct {
	Path     string   `json:"path"`
	Mode     string   `json:"mode,omitempty"`
	Filters  []string `json:"filters,omitempty"`
	Distance *int     `json:"distance,omitempty"`
}

// CheckResult is the verdict of a check
type CheckResult struct {
	Path        string              `json:"path"`
	Mode        string              `json:"mode"`
	Unique      bool                `json:"unique"`
	DuplicateOf string              `json:"duplicate_of,omitempty"`
	Matches     map[string][]string `json:"matches,omitempty"`
}

// PathRequest names the archive for reindex
type PathRequest struct {
	Path string `json:"path"`
}

// RetireRequest retires an archive; MoveTo overrides the default quarantine
type RetireRequest struct {
	Path   string `json:"path"`
	MoveTo string `json:"move_to,omitempty"`
}

// RetireResult reports where a retired archive went
type RetireResult struct {
	Path    string `json:"path"`
	MovedTo string `json:"moved_to,omitempty"`
	Deleted bool   `json:"deleted"`
}

// ReindexResult acknowledges a reindex
type ReindexResult struct {
	Path string `json:"path"`
}

// CancelRequest names the request to stop
type CancelRequest struct {
	ID string `json:"id"`
}

// ErrorData is the payload of an error event
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
