// Package remote exposes the hash index and hashing service over JSON/HTTP so
// several machines can share one index.
package remote

import (
	"fmt"

	"github.com/pdxmph/archdedup/pkg/duplicate"
)

const (
	pathExact     = "/v1/exact"
	pathNear      = "/v1/near"
	pathPaths     = "/v1/paths"
	pathHash      = "/v1/hash"
	pathHashExact = "/v1/hash/exact"
	pathArchives  = "/v1/archives"
)

// recordsResponse carries lookup results
type recordsResponse struct {
	Records []duplicate.HashRecord `json:"records"`
}

// hashRequest asks the server to hash one entry
type hashRequest struct {
	OwnerPath string `json:"owner_path,omitempty"`
	Entry     string `json:"entry,omitempty"`
	Content   []byte `json:"content"`
}

type exactResponse struct {
	Hash string `json:"hash"`
}

type archiveRequest struct {
	Path string `json:"path"`
}

// errorResponse is the body of every non-2xx reply
type errorResponse struct {
	Error string `json:"error"`
}

// StatusError is returned by the client for non-2xx replies
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}
