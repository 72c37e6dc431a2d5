// Package klaptest provides an in-process KLAP device for tests.
package klaptest

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaProtocol"
)

// Handler answers one decrypted request. A non-zero code is sent as error_code.
type Handler func(method string, params map[string]any) (result any, code int)

type Server struct {
	*httptest.Server

	authHash []byte
	handler  Handler

	mu         sync.Mutex
	pending    map[string][2][]byte
	sessions   map[string]*kasaProtocol.KlapSession
	methods    []string
	handshakes int
	expire     bool
}

func NewServer(creds kasaProtocol.Credentials, handler Handler) *Server {
	s := &Server{
		authHash: kasaProtocol.AuthHash(creds),
		handler:  handler,
		pending:  map[string][2][]byte{},
		sessions: map[string]*kasaProtocol.KlapSession{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/app/handshake1", s.handshake1)
	mux.HandleFunc("/app/handshake2", s.handshake2)
	mux.HandleFunc("/app/request", s.request)
	s.Server = httptest.NewServer(mux)
	return s
}

// Host returns host:port as expected by the transport.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// Methods lists the methods received so far, control_child requests as
// "control_child/<inner method>".
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// ExpireSessions makes the next request fail with 403.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire = true
}

func hash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (s *Server) handshake1(w http.ResponseWriter, r *http.Request) {
	localSeed, _ := io.ReadAll(r.Body)
	remoteSeed := make([]byte, 16)
	rand.Read(remoteSeed)
	cookie := make([]byte, 8)
	rand.Read(cookie)
	id := hex.EncodeToString(cookie)

	s.mu.Lock()
	s.pending[id] = [2][]byte{localSeed, remoteSeed}
	s.handshakes++
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "TP_SESSIONID", Value: id})
	w.Write(append(remoteSeed, hash(localSeed, remoteSeed, s.authHash)...))
}

func (s *Server) handshake2(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie("TP_SESSIONID")
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	seeds, ok := s.pending[c.Value]
	if !ok || !bytes.Equal(body, hash(seeds[1], seeds[0], s.authHash)) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	delete(s.pending, c.Value)
	s.sessions[c.Value] = kasaProtocol.NewKlapSession(seeds[0], seeds[1], s.authHash)
}

func (s *Server) request(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie("TP_SESSIONID")
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	seq, err := strconv.ParseInt(r.URL.Query().Get("seq"), 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	session, ok := s.sessions[c.Value]
	if s.expire {
		s.expire = false
		delete(s.sessions, c.Value)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	body, _ := io.ReadAll(r.Body)
	plain, err := session.Open(body, int32(seq))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	req := struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}{}
	json.Unmarshal(plain, &req)

	name := req.Method
	if req.Method == "control_child" {
		if inner, ok := req.Params["requestData"].(map[string]any); ok {
			name += "/" + inner["method"].(string)
		}
	}
	s.mu.Lock()
	s.methods = append(s.methods, name)
	s.mu.Unlock()

	result, code := s.handler(req.Method, req.Params)
	res := map[string]any{"error_code": code}
	if result != nil {
		res["result"] = result
	}
	payload, _ := json.Marshal(res)
	sealed, err := session.Seal(payload, int32(seq))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write(sealed)
}
