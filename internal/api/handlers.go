package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ternarybob/lumen/pkg/lumen/compiler"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

var errUnknownProgram = errors.New("api: unknown program id")

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "lumen-service"})
}

// CompileRequest is the body of POST /v1/compile.
type CompileRequest struct {
	Path     string `json:"path"`
	Source   string `json:"source"`
	RunID    string `json:"run_id,omitempty"`
	Register bool   `json:"register"`
}

// CompileResponse is the response to a successful compile.
type CompileResponse struct {
	ProgramID     string `json:"program_id,omitempty"`
	Deterministic bool   `json:"deterministic"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Path == "" {
		req.Path = "request.lm"
	}

	var traceBuf bytes.Buffer
	prog, err := compiler.Compile(req.Path, []byte(req.Source), compiler.Options{
		RunID:       req.RunID,
		TraceWriter: &traceBuf,
		Logger:      s.log,
	})
	if err != nil {
		if cerr, ok := err.(*compiler.CompileError); ok {
			writeJSON(w, http.StatusUnprocessableEntity, diagnosticsResponse(cerr))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := CompileResponse{Deterministic: prog.Deterministic()}
	if req.Register {
		resp.ProgramID = s.programs.Put(prog, &traceBuf)
	}
	writeJSON(w, http.StatusOK, resp)
}

type diagnosticResponse struct {
	Message string `json:"message"`
}

func diagnosticsResponse(cerr *compiler.CompileError) struct {
	Diagnostics []diagnosticResponse `json:"diagnostics"`
} {
	out := struct {
		Diagnostics []diagnosticResponse `json:"diagnostics"`
	}{}
	for _, d := range cerr.Diags {
		out.Diagnostics = append(out.Diagnostics, diagnosticResponse{Message: d.String()})
	}
	return out
}

// RunRequest is the body of POST /v1/run. Either ProgramID (a program
// compiled earlier by /v1/compile with "register": true) or a fresh
// Path/Source pair must be given.
type RunRequest struct {
	ProgramID string        `json:"program_id,omitempty"`
	Path      string        `json:"path,omitempty"`
	Source    string        `json:"source,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	Cell      string        `json:"cell"`
	Args      []json.Number `json:"args,omitempty"`
}

type RunResponse struct {
	Result string `json:"result"`
	Trace  string `json:"trace,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Cell == "" {
		req.Cell = "main"
	}

	var prog *compiler.Program
	var traceBuf *bytes.Buffer
	var ok bool

	if req.ProgramID != "" {
		prog, traceBuf, ok = s.programs.Get(req.ProgramID)
		if !ok {
			writeError(w, http.StatusNotFound, errUnknownProgram)
			return
		}
	} else {
		var buf bytes.Buffer
		traceBuf = &buf
		var err error
		prog, err = compiler.Compile(req.Path, []byte(req.Source), compiler.Options{
			RunID:       req.RunID,
			TraceWriter: traceBuf,
			Logger:      s.log,
		})
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}

	args := make([]vm.Value, 0, len(req.Args))
	for _, n := range req.Args {
		if f, err := n.Float64(); err == nil {
			args = append(args, vm.Float(f))
		}
	}

	result, err := prog.Run(req.Cell, args)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Result: result.String(), Trace: traceBuf.String()})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "programID")
	_, traceBuf, ok := s.programs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownProgram)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Write(traceBuf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
