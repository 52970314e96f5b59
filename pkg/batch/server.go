// Package batch drives checks, re-indexing and retirement from a stream of
// JSON lines, so other tools can feed archives to a long running process.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pdxmph/archdedup/pkg/duplicate"
	"github.com/pdxmph/archdedup/pkg/lifecycle"
)

// maxLine bounds a single request line
const maxLine = 1 << 20

// Lifecycle is what the server needs from lifecycle.Manager
type Lifecycle interface {
	Check(ctx context.Context, req lifecycle.CheckRequest) (lifecycle.Verdict, error)
	Reindex(ctx context.Context, archPath string) error
	Retire(ctx context.Context, archPath, quarantineDir string) (string, error)
}

// Options are the defaults applied to requests that leave them out
type Options struct {
	Mode          duplicate.Mode
	Filters       []string
	Distance      int
	QuarantineDir string
	Jobs          int
}

// Server handles the batch protocol
type Server struct {
	input   io.Reader
	output  io.Writer
	opts    Options
	manager Lifecycle
	logger  zerolog.Logger

	mu      sync.Mutex // guards encoder
	encoder *json.Encoder

	// In-flight requests
	inflight sync.Map // request id -> context.CancelFunc
}

// NewServer creates a batch server
func NewServer(input io.Reader, output io.Writer, manager Lifecycle, opts Options, logger zerolog.Logger) *Server {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	return &Server{
		input:   input,
		output:  output,
		opts:    opts,
		manager: manager,
		logger:  logger.With().Str("component", "batch").Logger(),
		encoder: json.NewEncoder(output),
	}
}

// Run reads requests until input ends or ctx is done. At most Options.Jobs
// requests run at once; the rest wait for a slot without holding up the
// reader, so a cancel always reaches queued and running requests alike. Run
// returns once all of them finished.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	slots := semaphore.NewWeighted(int64(s.opts.Jobs))

	scanner := bufio.NewScanner(s.input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		if err := gctx.Err(); err != nil {
			break
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.sendError("", fmt.Sprintf("Invalid JSON: %v", err), CodeParse)
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}

		if msg.Command == CmdCancel {
			s.handleCancel(&msg)
			continue
		}

		reqCtx, cancel := context.WithCancel(gctx)
		s.inflight.Store(msg.ID, cancel)
		g.Go(func() error {
			defer func() {
				s.inflight.Delete(msg.ID)
				cancel()
			}()

			if err := slots.Acquire(reqCtx, 1); err != nil {
				s.fail(msg.ID, err)
				return nil
			}
			defer slots.Release(1)

			if err := reqCtx.Err(); err != nil {
				s.fail(msg.ID, err)
				return nil
			}
			s.handleMessage(reqCtx, &msg)
			return nil
		})
	}

	waitErr := g.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	if waitErr != nil {
		return waitErr
	}
	return ctx.Err()
}

// handleMessage routes messages to appropriate handlers
func (s *Server) handleMessage(ctx context.Context, msg *Message) {
	switch msg.Command {
	case CmdCheck:
		s.handleCheck(ctx, msg)
	case CmdReindex:
		s.handleReindex(ctx, msg)
	case CmdRetire:
		s.handleRetire(ctx, msg)
	default:
		s.sendError(msg.ID, fmt.Sprintf("Unknown command: %s", msg.Command), CodeUnknownCommand)
	}
}

func (s *Server) handleCheck(ctx context.Context, msg *Message) {
	var req CheckRequest
	if err := decodeData(msg.Data, &req); err != nil || req.Path == "" {
		s.sendError(msg.ID, "Invalid check request", CodeInvalidRequest)
		return
	}

	mode := s.opts.Mode
	if req.Mode != "" {
		m, err := duplicate.ParseMode(req.Mode)
		if err != nil {
			s.sendError(msg.ID, err.Error(), CodeInvalidRequest)
			return
		}
		mode = m
	}

	filters := s.opts.Filters
	if req.Filters != nil {
		filters = req.Filters
	}

	distance := s.opts.Distance
	if req.Distance != nil {
		distance = *req.Distance
	}

	s.sendEvent(EventStarted, msg.ID, PathRequest{Path: req.Path})

	verdict, err := s.manager.Check(ctx, lifecycle.CheckRequest{
		Path:     req.Path,
		Mode:     mode,
		Filters:  filters,
		Distance: distance,
	})
	if err != nil {
		s.fail(msg.ID, err)
		return
	}

	res := CheckResult{
		Path:        verdict.Path,
		Mode:        string(verdict.Mode),
		Unique:      verdict.Unique,
		DuplicateOf: verdict.DuplicateOf,
	}
	if !verdict.Matches.Empty() {
		res.Matches = make(map[string][]string, len(verdict.Matches))
		for _, p := range verdict.Matches.Paths() {
			res.Matches[p] = verdict.Matches.Entries(p)
		}
	}
	s.sendResponse(msg.ID, res)
}

func (s *Server) handleReindex(ctx context.Context, msg *Message) {
	var req PathRequest
	if err := decodeData(msg.Data, &req); err != nil || req.Path == "" {
		s.sendError(msg.ID, "Invalid reindex request", CodeInvalidRequest)
		return
	}

	s.sendEvent(EventStarted, msg.ID, req)
	if err := s.manager.Reindex(ctx, req.Path); err != nil {
		s.fail(msg.ID, err)
		return
	}
	s.sendResponse(msg.ID, ReindexResult{Path: req.Path})
}

func (s *Server) handleRetire(ctx context.Context, msg *Message) {
	var req RetireRequest
	if err := decodeData(msg.Data, &req); err != nil || req.Path == "" {
		s.sendError(msg.ID, "Invalid retire request", CodeInvalidRequest)
		return
	}

	dir := s.opts.QuarantineDir
	if req.MoveTo != "" {
		dir = req.MoveTo
	}

	s.sendEvent(EventStarted, msg.ID, PathRequest{Path: req.Path})
	dst, err := s.manager.Retire(ctx, req.Path, dir)
	if err != nil {
		s.fail(msg.ID, err)
		return
	}
	s.sendResponse(msg.ID, RetireResult{Path: req.Path, MovedTo: dst, Deleted: dst == ""})
}

// handleCancel cancels an in-flight request
func (s *Server) handleCancel(msg *Message) {
	var req CancelRequest
	if err := decodeData(msg.Data, &req); err != nil || req.ID == "" {
		s.sendError(msg.ID, "Invalid cancel request", CodeInvalidRequest)
		return
	}

	v, ok := s.inflight.Load(req.ID)
	if !ok {
		s.sendError(msg.ID, "Request not found", CodeNotFound)
		return
	}
	v.(context.CancelFunc)()
	s.sendResponse(msg.ID, req)
}

// Helper methods

func (s *Server) fail(id string, err error) {
	code := errorCode(err)
	if code == CodeCancelled {
		s.logger.Info().Str("id", id).Msg("request cancelled")
	} else {
		s.logger.Error().Err(err).Str("id", id).Str("code", code).Msg("request failed")
	}
	s.sendError(id, err.Error(), code)
}

func (s *Server) send(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(msg); err != nil {
		s.logger.Error().Err(err).Msg("failed to write message")
	}
}

func (s *Server) sendResponse(id string, data interface{}) {
	s.send(&Message{Type: TypeResponse, ID: id, Data: data})
}

func (s *Server) sendEvent(eventType, id string, data interface{}) {
	s.send(&Message{Type: TypeEvent, Command: eventType, ID: id, Data: data})
}

func (s *Server) sendError(id, message, code string) {
	s.sendEvent(EventError, id, ErrorData{Message: message, Code: code})
}

// errorCode classifies an error for protocol clients
func errorCode(err error) string {
	var (
		readErr  *duplicate.ContentReadError
		queryErr *duplicate.IndexQueryError
		writeErr *duplicate.IndexWriteError
		hashErr  *duplicate.HashingServiceError
		fsErr    *duplicate.FileSystemError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	case errors.As(err, &readErr):
		return CodeContentRead
	case errors.As(err, &queryErr):
		return CodeIndexQuery
	case errors.As(err, &writeErr):
		return CodeIndexWrite
	case errors.As(err, &hashErr):
		return CodeHashing
	case errors.As(err, &fsErr):
		return CodeFileSystem
	default:
		return CodeInternal
	}
}

func decodeData(data interface{}, target interface{}) error {
	// Re-encode and decode to handle interface{} -> struct conversion
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
