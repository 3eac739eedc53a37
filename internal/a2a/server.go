package a2a

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Handler executes one delivered task on the receiving side and returns the
// outbound artifact.
type Handler func(req *DeliveryRequest) (Payload, error)

// Server is the receiving end of the A2A transport. It verifies the
// caller's bearer token, executes the task through the registered handler,
// and caches responses by task UID so retried deliveries are idempotent.
type Server struct {
	jwtSecret string
	handler   Handler

	mu   sync.Mutex
	seen map[string]*DeliveryResponse
}

// NewServer creates a Server with the given signing secret and handler.
func NewServer(jwtSecret string, handler Handler) *Server {
	return &Server{
		jwtSecret: jwtSecret,
		handler:   handler,
		seen:      make(map[string]*DeliveryResponse),
	}
}

// Router returns the chi router serving the A2A endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/a2a/tasks", s.handleDeliver)
	return r
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	caller, err := s.authenticate(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskUID == "" {
		writeJSONError(w, http.StatusBadRequest, "task_uid is required")
		return
	}
	if caller != req.FromAgent {
		writeJSONError(w, http.StatusForbidden, "token subject does not match from_agent")
		return
	}

	// Retried delivery of a known task UID returns the recorded response
	// without re-executing.
	s.mu.Lock()
	if resp, ok := s.seen[req.TaskUID]; ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.mu.Unlock()

	resp := &DeliveryResponse{TaskUID: req.TaskUID, Status: "completed"}
	out, err := s.handler(&req)
	if err != nil {
		log.Printf("[a2a] task %s handler failed: %v", req.TaskUID, err)
		resp.Status = "failed"
		resp.Error = err.Error()
	} else {
		resp.Artifact = &out
	}

	s.mu.Lock()
	s.seen[req.TaskUID] = resp
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// authenticate verifies the bearer token and returns its subject.
func (s *Server) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("bearer token required")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", errors.New("invalid token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
