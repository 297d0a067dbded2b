package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"github.com/gorilla/mux"
)

// routes builds the REST API served next to the gRPC endpoint.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/connections/{phone}", s.connectionStatusHTTP).Methods(http.MethodGet)
	api.HandleFunc("/connections/{phone}/block", s.blockHTTP(true)).Methods(http.MethodPost)
	api.HandleFunc("/connections/{phone}/block", s.blockHTTP(false)).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{contactPhone}", s.historyHTTP).Methods(http.MethodGet)
	api.HandleFunc("/messages/{contactPhone}", s.deleteChatHTTP).Methods(http.MethodDelete)
	api.HandleFunc("/chats", s.chatsHTTP).Methods(http.MethodGet)
	return r
}

// requireAuth verifies the bearer token and stores its claims on the request.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		claims, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": s.presence.OnlineCount()})
}

func (s *Server) connectionStatusHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())
	view, err := s.chat.ConnectionStatus(r.Context(), claims.Phone, mux.Vars(r)["phone"])
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusViewPayload(view))
}

func (s *Server) blockHTTP(block bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := getClaimsFromContext(r.Context())
		view, err := s.chat.SetBlocked(r.Context(), claims.Phone, mux.Vars(r)["phone"], block)
		if err != nil {
			writeChatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statusViewPayload(view))
	}
}

func (s *Server) historyHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())
	limit := queryLimit(r, 0)
	msgs, err := s.chat.History(r.Context(), claims.Phone, mux.Vars(r)["contactPhone"], limit)
	if err != nil {
		writeChatError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, events.Message(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteChatHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())
	res, err := s.chat.DeleteChat(r.Context(), claims.Phone, mux.Vars(r)["contactPhone"])
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "chat deleted",
		"connections": res.Connections,
		"messages":    res.Messages,
	})
}

func (s *Server) chatsHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())
	partners, err := s.chat.RecentChats(r.Context(), claims.Phone, queryLimit(r, 0))
	if err != nil {
		writeChatError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(partners))
	for _, p := range partners {
		out = append(out, partnerPayload(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// queryLimit reads ?limit=, falling back to def for missing or bad values.
func queryLimit(r *http.Request, def int64) int64 {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func httpStatus(code chat.Code) int {
	switch code {
	case chat.CodeWaitForAcceptance, chat.CodeCannotMessage, chat.CodeRespondFirst, chat.CodeInvalidTransition:
		return http.StatusConflict
	case chat.CodeNoPendingRequest, chat.CodeNotFound:
		return http.StatusNotFound
	case chat.CodeInvalidRequest:
		return http.StatusBadRequest
	case chat.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeChatError(w http.ResponseWriter, err error) {
	code := chat.ErrorCode(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]any{"code": string(code), "error": chat.PublicMessage(err)})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
