package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/rosterd/internal/observability"
	"github.com/danmuck/rosterd/internal/protocol"
	"github.com/danmuck/rosterd/internal/protocol/option"
	"github.com/danmuck/rosterd/internal/protocol/record"
	"github.com/danmuck/rosterd/internal/protocol/session"
	"github.com/danmuck/rosterd/internal/roster"
	"github.com/rs/zerolog/log"
)

var _ session.Handler = (*Server)(nil)

// HandleRequest applies the options of req to the roster in canonical order.
// A miss on update or delete sets StatusNotFound and leaves the roster
// untouched; the remaining options still run. An add that would push the file
// past its size limit refuses the whole request before anything is applied.
// Other store errors are returned and end Serve, since the file may be half
// rewritten.
func (s *Server) HandleRequest(c *session.Conn, req option.Request) (protocol.DBResponse, error) {
	resp := protocol.DBResponse{Status: protocol.StatusOK}
	start := time.Now()
	before := s.store.Rewrites()

	if req.Add != nil {
		err := s.store.Add(*req.Add)
		if errors.Is(err, roster.ErrFileTooLarge) {
			return resp, fmt.Errorf("%w: add %q: %w", session.ErrRejected, req.Add.Name, err)
		}
		if err != nil {
			return resp, fmt.Errorf("add %q: %w", req.Add.Name, err)
		}
		observability.RecordOption(option.KindAdd.String(), true)
		log.Debug().Int("fd", c.FD()).Str("name", req.Add.Name).Msg("employee added")
	}
	if req.Update != nil {
		found, err := s.store.Update(req.Update.Name, req.Update.Hours)
		if err != nil {
			return resp, fmt.Errorf("update %q: %w", req.Update.Name, err)
		}
		if !found {
			resp.Status = protocol.StatusNotFound
		}
		observability.RecordOption(option.KindUpdate.String(), found)
		log.Debug().Int("fd", c.FD()).Str("name", req.Update.Name).Bool("found", found).Msg("employee update")
	}
	if req.Delete != nil {
		found, err := s.store.Delete(req.Delete.Name)
		if err != nil {
			return resp, fmt.Errorf("delete %q: %w", req.Delete.Name, err)
		}
		if !found {
			resp.Status = protocol.StatusNotFound
		}
		observability.RecordOption(option.KindDelete.String(), found)
		log.Debug().Int("fd", c.FD()).Str("name", req.Delete.Name).Bool("found", found).Msg("employee delete")
	}
	if req.List {
		list := s.store.List()
		size := 0
		for _, e := range list {
			size += record.Size(e)
		}
		b := protocol.NewBuffer(size)
		if err := record.AppendAll(b, list); err != nil {
			return resp, fmt.Errorf("list: %w", err)
		}
		resp.Data = b.Bytes()
		observability.RecordOption(option.KindList.String(), true)
	}

	if after := s.store.Rewrites(); after != before {
		s.rewrites.Add(after - before)
		s.employees.Store(int64(s.store.Len()))
		observability.RecordRewrite(s.store.Len(), time.Since(start))
	}
	observability.RecordRequest(resp.Status.String())
	return resp, nil
}

func (s *Server) HandshakeDone(c *session.Conn, flag protocol.HandshakeFlag) {
	result := flag.String()
	observability.RecordHandshake(result)
	event := log.Info()
	if flag != protocol.HandshakeAccepted {
		event = log.Warn()
	}
	event.Int("fd", c.FD()).Str("remote", c.Remote()).Str("result", result).Msg("handshake")
}

func (s *Server) Rejected(c *session.Conn, err error) {
	observability.RecordRejected()
	log.Warn().Int("fd", c.FD()).Str("remote", c.Remote()).Str("state", c.State().String()).Err(err).Msg("invalid request")
}
