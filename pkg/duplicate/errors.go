package duplicate

import "fmt"

// ContentReadError means an archive entry could not be read
type ContentReadError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *ContentReadError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("read archive %s: %v", e.Archive, e.Err)
	}
	return fmt.Sprintf("read %s in %s: %v", e.Entry, e.Archive, e.Err)
}

func (e *ContentReadError) Unwrap() error { return e.Err }

// IndexQueryError wraps a failed hash index lookup
type IndexQueryError struct {
	Op  string
	Err error
}

func (e *IndexQueryError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexQueryError) Unwrap() error { return e.Err }

// IndexWriteError wraps a failed hash index mutation
type IndexWriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// HashingServiceError wraps a failed hashing call
type HashingServiceError struct {
	Path string
	Err  error
}

func (e *HashingServiceError) Error() string {
	return fmt.Sprintf("hash %s: %v", e.Path, e.Err)
}

func (e *HashingServiceError) Unwrap() error { return e.Err }

// FileSystemError wraps a failed stat, remove or rename
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }
