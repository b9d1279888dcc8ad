// Package catalysttest provides an in-memory catalyst content server for tests.
package catalysttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"catalyst-migrator/pkg/types"

	"github.com/go-chi/chi/v5"
)

// Deployment is a deployment received by the fake server.
type Deployment struct {
	EntityID  types.ContentHash
	AuthChain types.AuthChain
	Files     map[types.ContentHash][]byte
}

// EntityFile decodes the uploaded entity file.
func (d Deployment) EntityFile() (types.Entity, error) {
	var e types.Entity
	data, ok := d.Files[d.EntityID]
	if !ok {
		return e, fmt.Errorf("entity file %s not uploaded", d.EntityID)
	}
	err := json.Unmarshal(data, &e)
	return e, err
}

// Server is a fake catalyst. Zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	entities    []types.Entity
	collections map[string][]types.Entity
	contents    map[types.ContentHash][]byte
	deployments []Deployment
	calls       map[string]int

	// RejectDeploy, when set, rejects deployments for which it returns a
	// non-empty message.
	RejectDeploy func(d Deployment) string
}

func New() *Server {
	s := &Server{
		collections: make(map[string][]types.Entity),
		contents:    make(map[types.ContentHash][]byte),
		calls:       make(map[string]int),
	}

	r := chi.NewRouter()
	r.Post("/content/entities/active", s.handleActive)
	r.Get("/content/entities/active/collections/{urn}", s.handleCollection)
	r.Get("/content/contents/{hash}", s.handleContent)
	r.Post("/content/entities", s.handleDeploy)

	s.Server = httptest.NewServer(r)
	return s
}

// AddEntity registers an active entity.
func (s *Server) AddEntity(e types.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, e)
}

// AddCollection registers the entities of an off-chain collection.
func (s *Server) AddCollection(urn string, entities ...types.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[urn] = append(s.collections[urn], entities...)
}

// AddContent stores a blob served under hash.
func (s *Server) AddContent(hash types.ContentHash, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[hash] = data
}

func (s *Server) Deployments() []Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Deployment(nil), s.deployments...)
}

// Calls returns how many requests hit the named route: "active",
// "collection", "content" or "deploy".
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) count(route string) {
	s.mu.Lock()
	s.calls[route]++
	s.mu.Unlock()
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	s.count("active")
	var req struct {
		Pointers []string `json:"pointers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	wanted := make(map[string]bool, len(req.Pointers))
	for _, p := range req.Pointers {
		wanted[p] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.Entity{}
	for _, e := range s.entities {
		for _, p := range e.Pointers {
			if wanted[p] {
				out = append(out, e)
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	s.count("collection")
	urn := chi.URLParam(r, "urn")

	s.mu.Lock()
	entities := append([]types.Entity{}, s.collections[urn]...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	s.count("content")
	hash := types.ContentHash(chi.URLParam(r, "hash"))

	s.mu.Lock()
	data, ok := s.contents[hash]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	s.count("deploy")
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{err.Error()}})
		return
	}

	d := Deployment{
		EntityID: types.ContentHash(r.FormValue("entityId")),
		Files:    make(map[types.ContentHash][]byte),
	}
	for i := 0; ; i++ {
		prefix := "authChain[" + strconv.Itoa(i) + "]"
		linkType := r.FormValue(prefix + "[type]")
		if linkType == "" {
			break
		}
		d.AuthChain = append(d.AuthChain, types.AuthLink{
			Type:      types.AuthLinkType(linkType),
			Payload:   r.FormValue(prefix + "[payload]"),
			Signature: r.FormValue(prefix + "[signature]"),
		})
	}
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{err.Error()}})
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{err.Error()}})
				return
			}
			d.Files[types.ContentHash(field)] = data
		}
	}

	if _, ok := d.Files[d.EntityID]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"entity file not uploaded"}})
		return
	}
	if s.RejectDeploy != nil {
		if msg := s.RejectDeploy(d); msg != "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{msg}})
			return
		}
	}

	s.mu.Lock()
	s.deployments = append(s.deployments, d)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int64{"creationTimestamp": 1700000000000})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
