package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/shopfloor/mtcagent/internal/assembler"
	"github.com/shopfloor/mtcagent/internal/metrics"
)

// streamCurrent delivers a fresh current document every interval over a
// multipart/x-mixed-replace response until the client disconnects.
func (s *Server) streamCurrent(w http.ResponseWriter, r *http.Request, uuids []string, q *query) {
	s.stream(w, r, q, func() (*etree.Document, error) {
		return s.cfg.Assembler.Current(uuids, q.selection, nil)
	})
}

// streamSample delivers successive sample windows every interval, advancing
// the cursor past each delivered window so no observation is repeated.
func (s *Server) streamSample(w http.ResponseWriter, r *http.Request, uuids []string, q *query) {
	from := q.from
	s.stream(w, r, q, func() (*etree.Document, error) {
		doc, next, err := s.cfg.Assembler.Sample(uuids, q.selection, from, q.count)
		if err != nil {
			return nil, err
		}
		from = next
		return doc, nil
	})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, q *query, produce func() (*etree.Document, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	metrics.StreamingClients.Inc()
	defer metrics.StreamingClients.Dec()

	boundary := strings.ReplaceAll(uuid.NewString(), "-", "")
	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace;boundary=%s", boundary))
	w.WriteHeader(http.StatusOK)

	interval := time.Duration(*q.interval) * time.Millisecond
	ctx := r.Context()

	for {
		doc, err := produce()
		if err != nil {
			var reqErr *assembler.RequestError
			if errors.As(err, &reqErr) {
				_ = s.writePart(w, flusher, boundary, s.cfg.Assembler.Errors(reqErr))
			} else {
				s.log.Error("stream assembly failed", "error", err)
			}
			s.closeStream(w, boundary)
			return
		}
		if err := s.writePart(w, flusher, boundary, doc); err != nil {
			s.log.Debug("streaming client went away", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			s.closeStream(w, boundary)
			return
		case <-s.cfg.Clock.After(interval):
		}
	}
}

// writePart frames one document as a multipart chunk and flushes it so the
// client sees it without waiting for the next one.
func (s *Server) writePart(w http.ResponseWriter, flusher http.Flusher, boundary string, doc *etree.Document) error {
	doc.Indent(2)
	body, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-type: text/xml\r\nContent-length: %d\r\n\r\n", boundary, len(body)); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) closeStream(w http.ResponseWriter, boundary string) {
	_, _ = fmt.Fprintf(w, "--%s--\r\n", boundary)
}
