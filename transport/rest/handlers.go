// Package rest is the HTTP API through which clients obtain rooms and credentials.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/usecase"
)

const (
	clientIDHeader = "X-Client-ID"
	sessionCookie  = "user_session"

	sessionLifetime = 24 * time.Hour
	maxBodyBytes    = 1 << 12
)

type roomManager interface {
	Allocate(ctx context.Context, clientID string) (*usecase.Allocation, error)
	Join(ctx context.Context, clientID, roomID string) (*usecase.Allocation, error)
	Resume(ctx context.Context, clientID string) (*usecase.Allocation, error)
	MyRoom(ctx context.Context, clientID string) (string, error)
	Leave(ctx context.Context, clientID string) error
}

type allocationRequest struct {
	ClientID string `json:"clientId"`
}

type myRoomResponse struct {
	RoomID *string `json:"roomId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type RoomHandler struct {
	logger *slog.Logger
	rooms  roomManager
}

func NewRoomHandler(logger *slog.Logger, rooms roomManager) *RoomHandler {
	return &RoomHandler{
		logger: logger.With("component", "rest"),
		rooms:  rooms,
	}
}

func (that *RoomHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		that.logger.Warn("failed to write pong", "error", err)
	}
}

// Allocate - POST /rooms.
func (that *RoomHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Allocate")

	clientID, ok := that.requestIdentity(w, r)
	if !ok {
		return
	}

	allocation, err := that.rooms.Allocate(r.Context(), clientID)
	if err != nil {
		that.writeError(w, log, err)
		return
	}

	that.writeAllocation(w, http.StatusCreated, allocation)
}

// Join - POST /rooms/{roomID}/join.
func (that *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Join")

	clientID, ok := that.requestIdentity(w, r)
	if !ok {
		return
	}

	allocation, err := that.rooms.Join(r.Context(), clientID, chi.URLParam(r, "roomID"))
	if err != nil {
		that.writeError(w, log, err)
		return
	}

	that.writeAllocation(w, http.StatusOK, allocation)
}

// Resume - POST /rooms/resume.
func (that *RoomHandler) Resume(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Resume")

	clientID, ok := that.requestIdentity(w, r)
	if !ok {
		return
	}

	allocation, err := that.rooms.Resume(r.Context(), clientID)
	if err != nil {
		that.writeError(w, log, err)
		return
	}

	that.writeAllocation(w, http.StatusOK, allocation)
}

// MyRoom - GET /rooms/mine. Read only.
func (that *RoomHandler) MyRoom(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "MyRoom")

	roomID, err := that.rooms.MyRoom(r.Context(), identity(r))
	if err != nil {
		that.writeError(w, log, err)
		return
	}

	response := myRoomResponse{}
	if roomID != "" {
		response.RoomID = &roomID
	}

	writeJSON(w, http.StatusOK, response)
}

// Leave - POST /rooms/leave.
func (that *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Leave")

	if err := that.rooms.Leave(r.Context(), identity(r)); err != nil {
		that.writeError(w, log, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// requestIdentity prefers the session cookie and falls back to the body, then the header. An empty id is allowed.
func (that *RoomHandler) requestIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	var request allocationRequest

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&request)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return "", false
	}

	if clientID := sessionIdentity(r); clientID != "" {
		return clientID, true
	}

	if request.ClientID != "" {
		return request.ClientID, true
	}

	return r.Header.Get(clientIDHeader), true
}

// identity reads the client id from the session cookie or the header.
// Client ids are opaque and unverified; the cookie wins so a browser session cannot be
// steered by a forged body or header.
func identity(r *http.Request) string {
	if clientID := sessionIdentity(r); clientID != "" {
		return clientID
	}

	return r.Header.Get(clientIDHeader)
}

func sessionIdentity(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}

	return cookie.Value
}

func (that *RoomHandler) writeAllocation(w http.ResponseWriter, status int, allocation *usecase.Allocation) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    allocation.ClientID,
		Path:     "/",
		Expires:  time.Now().Add(sessionLifetime),
		HttpOnly: true,
	})

	writeJSON(w, status, allocation)
}

func (that *RoomHandler) writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	} else {
		log.Debug("request rejected", "error", err)
	}

	writeJSON(w, status, errorResponse{Error: messageOf(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrAllocationExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperror.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageOf keeps internal details out of responses.
func messageOf(err error) string {
	for _, known := range []error{
		apperror.ErrNotFound,
		apperror.ErrUnauthorized,
		apperror.ErrAllocationExhausted,
		apperror.ErrUpstreamUnavailable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}

	return "internal server error"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
