// Package rest exposes the MTConnect HTTP surface: probe, current, sample,
// and asset queries, including interval-based multipart streaming.
package rest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"

	"github.com/shopfloor/mtcagent/internal/assembler"
	"github.com/shopfloor/mtcagent/internal/metrics"
	"github.com/shopfloor/mtcagent/internal/schema"
	"github.com/shopfloor/mtcagent/internal/store"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Registry  *schema.Registry
	Store     *store.Store
	Assembler *assembler.Assembler
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Assembler == nil {
		return errors.New("assembler is required")
	}
	return nil
}

type Server struct {
	log *slog.Logger
	cfg *Config
}

func NewServer(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Server{log: cfg.Logger, cfg: cfg}, nil
}

// Serve runs the HTTP listener until the context is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler routes MTConnect request paths:
//
//	/               probe, all devices
//	/probe          probe, all devices
//	/current        current, all devices
//	/sample         sample, all devices
//	/asset[/<ids>]  asset retrieval (ids separated by ;)
//	/<devices>[/probe|current|sample]   devices separated by ;
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.route)
	return mux
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = nil
	}

	var deviceFilter, kind string
	switch len(segments) {
	case 0:
		kind = "probe"
	case 1:
		switch segments[0] {
		case "probe", "current", "sample":
			kind = segments[0]
		case "asset", "assets":
			s.handleAssets(w, r, nil)
			return
		default:
			deviceFilter, kind = segments[0], "probe"
		}
	case 2:
		if segments[0] == "asset" || segments[0] == "assets" {
			s.handleAssets(w, r, strings.Split(segments[1], ";"))
			return
		}
		deviceFilter = segments[0]
		kind = segments[1]
		switch kind {
		case "probe", "current", "sample":
		default:
			s.writeError(w, &assembler.RequestError{
				Code:    assembler.CodeInvalidRequest,
				Message: fmt.Sprintf("Unknown request %q", kind),
			})
			return
		}
	default:
		s.writeError(w, &assembler.RequestError{
			Code:    assembler.CodeInvalidRequest,
			Message: fmt.Sprintf("Unknown request path %q", r.URL.Path),
		})
		return
	}

	metrics.HTTPRequests.WithLabelValues(kind).Inc()

	uuids, reqErr := s.resolveDevices(deviceFilter)
	if reqErr != nil {
		s.writeError(w, reqErr)
		return
	}

	switch kind {
	case "probe":
		s.handleProbe(w, uuids)
	case "current":
		s.handleCurrent(w, r, uuids)
	case "sample":
		s.handleSample(w, r, uuids)
	}
}

// resolveDevices expands a ;-separated device segment into uuids, or every
// registered device when the segment is empty.
func (s *Server) resolveDevices(segment string) ([]string, *assembler.RequestError) {
	if segment == "" {
		devices := s.cfg.Registry.Devices()
		uuids := make([]string, len(devices))
		for i, d := range devices {
			uuids[i] = d.UUID
		}
		return uuids, nil
	}
	var uuids []string
	for _, name := range strings.Split(segment, ";") {
		uuid, ok := s.cfg.Registry.DeviceUUID(name)
		if !ok {
			return nil, &assembler.RequestError{
				Code:    assembler.CodeNoDevice,
				Message: fmt.Sprintf("Could not find device %s", name),
			}
		}
		uuids = append(uuids, uuid)
	}
	return uuids, nil
}

func (s *Server) handleProbe(w http.ResponseWriter, uuids []string) {
	doc, err := s.cfg.Assembler.Probe(uuids)
	if err != nil {
		s.writeAssemblyError(w, err)
		return
	}
	s.writeDocument(w, doc)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request, uuids []string) {
	q, errs := parseQuery(r, kindCurrent, s.cfg.Store)
	if sel, selErr := s.buildSelection(q, uuids); selErr != nil {
		errs = append(errs, selErr)
	} else {
		q.selection = sel
	}
	if len(errs) > 0 {
		s.writeErrors(w, errs)
		return
	}

	if q.interval != nil {
		s.streamCurrent(w, r, uuids, q)
		return
	}

	doc, err := s.cfg.Assembler.Current(uuids, q.selection, q.at)
	if err != nil {
		s.writeAssemblyError(w, err)
		return
	}
	s.writeDocument(w, doc)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request, uuids []string) {
	q, errs := parseQuery(r, kindSample, s.cfg.Store)
	if sel, selErr := s.buildSelection(q, uuids); selErr != nil {
		errs = append(errs, selErr)
	} else {
		q.selection = sel
	}
	if len(errs) > 0 {
		s.writeErrors(w, errs)
		return
	}

	if q.interval != nil {
		s.streamSample(w, r, uuids, q)
		return
	}

	doc, _, err := s.cfg.Assembler.Sample(uuids, q.selection, q.from, q.count)
	if err != nil {
		s.writeAssemblyError(w, err)
		return
	}
	s.writeDocument(w, doc)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request, ids []string) {
	metrics.HTTPRequests.WithLabelValues("asset").Inc()

	if len(ids) > 0 {
		doc, err := s.cfg.Assembler.AssetsByID(ids)
		if err != nil {
			s.writeAssemblyError(w, err)
			return
		}
		s.writeDocument(w, doc)
		return
	}

	assetType := r.URL.Query().Get("type")
	count, errs := parseAssetCount(r)
	if len(errs) > 0 {
		s.writeErrors(w, errs)
		return
	}
	s.writeDocument(w, s.cfg.Assembler.Assets(assetType, count))
}

// buildSelection applies the path= parameter across the device scope.
func (s *Server) buildSelection(q *query, uuids []string) (assembler.Selection, *assembler.RequestError) {
	if q.pathErr != nil {
		return nil, q.pathErr
	}
	if q.path == nil {
		return nil, nil
	}
	sel := make(assembler.Selection)
	total := 0
	for _, uuid := range uuids {
		items, err := s.cfg.Registry.Filter(q.path, uuid)
		if err != nil {
			continue
		}
		set := make(map[string]bool, len(items))
		for id := range items {
			set[id] = true
		}
		sel[uuid] = set
		total += len(items)
	}
	if total == 0 {
		return nil, &assembler.RequestError{
			Code:    assembler.CodeUnsupported,
			Message: fmt.Sprintf("The path %s does not select any data items", q.path),
		}
	}
	return sel, nil
}

func (s *Server) writeDocument(w http.ResponseWriter, doc *etree.Document) {
	doc.Indent(2)
	body, err := doc.WriteToBytes()
	if err != nil {
		s.log.Error("failed to serialize document", "error", err)
		http.Error(w, "serialization failure", http.StatusInternalServerError)
		return
	}
	sum := md5.Sum(body)
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Content-MD5", hex.EncodeToString(sum[:]))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.log.Debug("failed to write response", "error", err)
	}
}

// writeAssemblyError renders assembly failures: request errors become
// MTConnectError documents, anything else is an internal failure.
func (s *Server) writeAssemblyError(w http.ResponseWriter, err error) {
	var reqErr *assembler.RequestError
	if errors.As(err, &reqErr) {
		s.writeError(w, reqErr)
		return
	}
	s.log.Error("response assembly failed", "error", err)
	http.Error(w, "internal failure", http.StatusInternalServerError)
}

func (s *Server) writeError(w http.ResponseWriter, reqErr *assembler.RequestError) {
	s.writeErrors(w, []*assembler.RequestError{reqErr})
}

// writeErrors emits an MTConnectError document with HTTP 200, per the
// MTConnect convention.
func (s *Server) writeErrors(w http.ResponseWriter, errs []*assembler.RequestError) {
	for _, e := range errs {
		metrics.HTTPErrors.WithLabelValues(string(e.Code)).Inc()
	}
	s.writeDocument(w, s.cfg.Assembler.Errors(errs...))
}
