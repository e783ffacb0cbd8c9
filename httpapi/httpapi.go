// Package httpapi is the thin HTTP wrapper around InvocationService and
// Orchestrator: it decodes requests, calls the core, and encodes the
// terminal or pending response shape. No business logic lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/wishub/skillhub/errcode"
	"github.com/wishub/skillhub/execstore"
	"github.com/wishub/skillhub/invocation"
	"github.com/wishub/skillhub/log"
	"github.com/wishub/skillhub/skill"
	"github.com/wishub/skillhub/workflow"
)

var apiLog = log.Named("httpapi")

// Server wires the HTTP-shaped surface from §6.2, plus the registration
// and discovery surface supplementing it, onto the core services.
type Server struct {
	invoker      *invocation.Service
	orchestrator *workflow.Orchestrator
	catalog      skill.Catalog
	registrar    *skill.Registrar
	router       *mux.Router
}

// New builds a Server and registers its routes.
func New(invoker *invocation.Service, orchestrator *workflow.Orchestrator, catalog skill.Catalog, registrar *skill.Registrar) *Server {
	s := &Server{invoker: invoker, orchestrator: orchestrator, catalog: catalog, registrar: registrar, router: mux.NewRouter()}
	s.router.HandleFunc("/invoke", s.handleInvoke).Methods(http.MethodPost)
	s.router.HandleFunc("/task/{task_id}", s.handleGetTask).Methods(http.MethodGet)
	s.router.HandleFunc("/orchestrate", s.handleOrchestrate).Methods(http.MethodPost)
	s.router.HandleFunc("/workflow/{execution_id}", s.handleGetWorkflow).Methods(http.MethodGet)
	s.router.HandleFunc("/skill/register", s.handleRegister).Methods(http.MethodPost)
	s.router.HandleFunc("/skill/discovery", s.handleDiscovery).Methods(http.MethodPost)
	return s
}

// Handler returns the CORS-wrapped handler suitable for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

type invokeRequest struct {
	SkillID      string         `json:"skill_id"`
	SkillVersion string         `json:"skill_version,omitempty"`
	Inputs       map[string]any `json:"inputs"`
	Timeout      int            `json:"timeout"`
	IsAsync      bool           `json:"is_async"`
}

type invokeResponse struct {
	Status        execstore.TaskStatus `json:"status"`
	TaskID        string               `json:"task_id,omitempty"`
	Outputs       map[string]any       `json:"outputs,omitempty"`
	ExecutionTime float64              `json:"execution_time,omitempty"`
	Message       string               `json:"message,omitempty"`
	Error         *errorPayload        `json:"error,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Details string `json:"details"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, invokeResponse{
			Status: execstore.TaskError,
			Error:  &errorPayload{Code: string(errcode.SkillExecutionError), Details: "malformed request body"},
		})
		return
	}

	result, err := s.invoker.Invoke(r.Context(), req.SkillID, req.SkillVersion, req.Inputs, time.Duration(req.Timeout)*time.Second, req.IsAsync)
	if err != nil {
		writeJSON(w, http.StatusOK, invokeResponse{Status: execstore.TaskError, Error: toErrorPayload(err)})
		return
	}

	writeJSON(w, http.StatusOK, invokeResponse{
		Status:        result.Status,
		TaskID:        result.TaskID,
		Outputs:       result.Outputs,
		ExecutionTime: result.ExecutionTime.Seconds(),
		Message:       result.ErrorMessage,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	row, err := s.invoker.GetTask(r.Context(), taskID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, invokeResponse{Status: execstore.TaskError, Error: toErrorPayload(err)})
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{
		Status:        row.Status,
		TaskID:        row.TaskID,
		Outputs:       row.Outputs,
		ExecutionTime: row.ExecutionTimeSeconds,
		Message:       row.ErrorMessage,
	})
}

type orchestrateRequest struct {
	WorkflowID    string              `json:"workflow_id"`
	Workflow      workflow.Definition `json:"workflow"`
	ExecutionMode workflow.Mode       `json:"execution_mode"`
	Timeout       int                 `json:"timeout"`
}

type orchestrateResponse struct {
	Status        execstore.WorkflowStatus          `json:"status"`
	ExecutionID   string                            `json:"execution_id,omitempty"`
	Results       map[string]execstore.StepOutcome `json:"results,omitempty"`
	ExecutionTime float64                            `json:"execution_time,omitempty"`
	Message       string                             `json:"message,omitempty"`
	Error         *errorPayload                      `json:"error,omitempty"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, orchestrateResponse{
			Status: execstore.WorkflowError,
			Error:  &errorPayload{Code: string(errcode.WorkflowOrchestration), Details: "malformed request body"},
		})
		return
	}

	def := req.Workflow
	row, err := s.orchestrator.Run(r.Context(), req.WorkflowID, &def, req.ExecutionMode, time.Duration(req.Timeout)*time.Second)
	if row == nil {
		writeJSON(w, http.StatusOK, orchestrateResponse{Status: execstore.WorkflowError, Error: toErrorPayload(err)})
		return
	}

	resp := orchestrateResponse{
		Status:        row.Status,
		ExecutionID:   row.ExecutionID,
		Results:       row.Results,
		ExecutionTime: row.ExecutionTimeSeconds,
		Message:       row.ErrorMessage,
	}
	if err != nil {
		resp.Error = toErrorPayload(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["execution_id"]
	row, err := s.orchestrator.GetExecution(r.Context(), executionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, orchestrateResponse{Status: execstore.WorkflowError, Error: toErrorPayload(err)})
		return
	}
	writeJSON(w, http.StatusOK, orchestrateResponse{
		Status:        row.Status,
		ExecutionID:   row.ExecutionID,
		Results:       row.Results,
		ExecutionTime: row.ExecutionTimeSeconds,
		Message:       row.ErrorMessage,
	})
}

type registerRequest struct {
	SkillID               string         `json:"skill_id"`
	Version               string         `json:"version"`
	Language              skill.Language `json:"language"`
	Code                  string         `json:"code"`
	Ext                   string         `json:"ext"`
	Dependencies          []string       `json:"dependencies,omitempty"`
	DefaultTimeoutSeconds int            `json:"default_timeout_seconds"`
	Metadata              skill.Metadata `json:"metadata"`
}

type registerResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, registerResponse{
			Status: "error",
			Error:  &errorPayload{Code: string(errcode.SkillInvalidEncoding), Details: "malformed request body"},
		})
		return
	}

	_, err := s.registrar.Register(r.Context(), skill.RegisterRequest{
		SkillID:               req.SkillID,
		Version:                req.Version,
		Language:              req.Language,
		EncodedCode:           req.Code,
		Ext:                   req.Ext,
		Dependencies:          req.Dependencies,
		DefaultTimeoutSeconds: req.DefaultTimeoutSeconds,
		Metadata:              req.Metadata,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, registerResponse{Status: "error", Error: toErrorPayload(err)})
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Status: "success"})
}

type discoveryRequest struct {
	Query    string         `json:"query,omitempty"`
	Category string         `json:"category,omitempty"`
	Language skill.Language `json:"language,omitempty"`
	Author   string         `json:"author,omitempty"`
	Offset   int            `json:"offset,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

type discoveryResponse struct {
	Status  string         `json:"status"`
	Skills  []*skill.Skill `json:"skills,omitempty"`
	Total   int            `json:"total"`
	Message string         `json:"message,omitempty"`
	Error   *errorPayload  `json:"error,omitempty"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, discoveryResponse{
			Status: "error",
			Error:  &errorPayload{Code: string(errcode.SkillDiscoveryFailed), Details: "malformed request body"},
		})
		return
	}

	skills, err := s.catalog.List(r.Context(), skill.DiscoveryFilter{
		Query:    req.Query,
		Category: req.Category,
		Language: req.Language,
		Author:   req.Author,
		Offset:   req.Offset,
		Limit:    req.Limit,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, discoveryResponse{
			Status: "error",
			Error:  &errorPayload{Code: string(errcode.SkillDiscoveryFailed), Details: "search failed"},
		})
		return
	}
	writeJSON(w, http.StatusOK, discoveryResponse{Status: "success", Skills: skills, Total: len(skills)})
}

// toErrorPayload sanitizes err into {code, details}, never leaking an
// internal stack frame or a raw driver error through details, per the
// propagation policy in §7.
func toErrorPayload(err error) *errorPayload {
	var ce *errcode.Error
	if errors.As(err, &ce) {
		return &errorPayload{Code: string(ce.Code), Details: ce.Details}
	}
	return &errorPayload{Code: string(errcode.WorkflowOrchestration), Details: "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		apiLog.Warnf("failed to encode response: %v", err)
	}
}
