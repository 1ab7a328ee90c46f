package logserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"

	"teemux/internal/presence"
	"teemux/internal/render"
)

// LogPayload is the body of POST /log.
type LogPayload struct {
	Name      string   `json:"name"`
	Line      *string  `json:"line"`
	Type      string   `json:"type,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// EventPayload is the body of POST /event.
type EventPayload struct {
	Name      string   `json:"name"`
	Event     string   `json:"event"`
	PID       int      `json:"pid"`
	Code      *int     `json:"code,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// InjectPayload is the body of POST /inject. An event field selects a
// lifecycle event; otherwise message is logged.
type InjectPayload struct {
	Name    string  `json:"name"`
	Message *string `json:"message,omitempty"`
	Event   string  `json:"event,omitempty"`
	PID     *int    `json:"pid,omitempty"`
	Code    *int    `json:"code,omitempty"`
	Stream  string  `json:"stream,omitempty"`
}

// ingest is a validated request to store something: a lineIngest or an
// eventIngest.
type ingest interface {
	apply(s *Server)
}

type lineIngest struct {
	name   string
	text   string
	stream render.Stream
	ts     float64
}

func (in lineIngest) apply(s *Server) {
	s.AppendLine(in.name, in.text, in.stream, in.ts)
}

type eventIngest struct {
	name string
	kind render.EventKind
	pid  int
	code *int
	ts   float64
}

func (in eventIngest) apply(s *Server) {
	var msg string
	switch in.kind {
	case render.EventStart:
		msg = render.StartMessage(in.pid)
	case render.EventExit:
		msg = render.ExitMessage(in.code)
	}
	s.appendLifecycle(presence.Source{
		Name:      in.name,
		Event:     string(in.kind),
		PID:       in.pid,
		Code:      in.code,
		Timestamp: in.ts,
	}, msg, in.kind == render.EventExit)
}

var errInvalidPayload = errors.New("invalid payload")

func parseStream(v string) (render.Stream, error) {
	switch render.Stream(strings.TrimSpace(v)) {
	case "", render.StreamStdout:
		return render.StreamStdout, nil
	case render.StreamStderr:
		return render.StreamStderr, nil
	}
	return "", errInvalidPayload
}

func parseEventKind(v string) (render.EventKind, error) {
	switch k := render.EventKind(strings.TrimSpace(v)); k {
	case render.EventStart, render.EventExit:
		return k, nil
	}
	return "", errInvalidPayload
}

func parseName(v string) (string, error) {
	name := strings.TrimSpace(v)
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return "", errInvalidPayload
	}
	return name, nil
}

func (s *Server) timestamp(ts *float64) (float64, error) {
	if ts == nil {
		return s.now(), nil
	}
	if math.IsNaN(*ts) || math.IsInf(*ts, 0) || *ts < 0 {
		return 0, errInvalidPayload
	}
	return *ts, nil
}

func (s *Server) decodeLog(body []byte) (ingest, error) {
	var p LogPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	name, err := parseName(p.Name)
	if err != nil {
		return nil, err
	}
	if p.Line == nil {
		return nil, errInvalidPayload
	}
	stream, err := parseStream(p.Type)
	if err != nil {
		return nil, err
	}
	ts, err := s.timestamp(p.Timestamp)
	if err != nil {
		return nil, err
	}
	return lineIngest{name: name, text: *p.Line, stream: stream, ts: ts}, nil
}

func (s *Server) decodeEvent(body []byte) (ingest, error) {
	var p EventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	name, err := parseName(p.Name)
	if err != nil {
		return nil, err
	}
	kind, err := parseEventKind(p.Event)
	if err != nil {
		return nil, err
	}
	ts, err := s.timestamp(p.Timestamp)
	if err != nil {
		return nil, err
	}
	return eventIngest{name: name, kind: kind, pid: p.PID, code: p.Code, ts: ts}, nil
}

func (s *Server) decodeInject(body []byte) (ingest, error) {
	var p InjectPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	name, err := parseName(p.Name)
	if err != nil {
		return nil, err
	}
	ts := s.now()
	if strings.TrimSpace(p.Event) != "" {
		kind, err := parseEventKind(p.Event)
		if err != nil {
			return nil, err
		}
		ev := eventIngest{name: name, kind: kind, ts: ts}
		if p.PID != nil {
			ev.pid = *p.PID
		}
		if kind == render.EventExit {
			code := 0
			if p.Code != nil {
				code = *p.Code
			}
			ev.code = &code
		}
		return ev, nil
	}
	if p.Message == nil {
		return nil, errInvalidPayload
	}
	stream, err := parseStream(p.Stream)
	if err != nil {
		return nil, err
	}
	return lineIngest{name: name, text: *p.Message, stream: stream, ts: ts}, nil
}

// ingestHandler reads and applies one payload. Bad payloads are dropped and
// the sender still gets 200.
func (s *Server) ingestHandler(decode func([]byte) (ingest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes))
		if err == nil {
			if in, derr := decode(body); derr == nil {
				in.apply(s)
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	s.ingestHandler(s.decodeLog)(w, r)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	s.ingestHandler(s.decodeEvent)(w, r)
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	s.ingestHandler(s.decodeInject)(w, r)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.Clear()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	s.logf("shutdown requested by %s", r.RemoteAddr)
	go func() { _ = s.Stop(context.Background()) }()
}
