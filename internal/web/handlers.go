package web

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/louisbranch/rekey/internal/platform/errors"
	"github.com/louisbranch/rekey/internal/recovery"
)

type optionsRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type completeRequest struct {
	Email    string          `json:"email"`
	Token    string          `json:"token"`
	Response json.RawMessage `json:"response"`
	Unique   bool            `json:"unique"`
}

type requestTokenRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message    string `json:"message"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

type validationResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func (s *Server) handleRecoveryOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, messageResponse{Message: "method not allowed"})
		return
	}
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid request body"})
		return
	}

	options, err := s.recoverer.BeginRecovery(r.Context(), req.Email, req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(options)
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, messageResponse{Message: "method not allowed"})
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid request body"})
		return
	}

	attached, err := s.recoverer.CompleteRecovery(r.Context(), recovery.CompleteParams{
		Email:    req.Email,
		Token:    req.Token,
		Response: req.Response,
		Unique:   req.Unique,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    attached.Session.Token,
		Path:     "/",
		Expires:  attached.Session.Session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, messageResponse{
		Message:    "recovery complete",
		RedirectTo: s.redirectTo,
	})
}

// handleRecoveryRequest answers 202 whether or not the email is known, so the
// endpoint cannot be used to enumerate accounts. Token delivery happens
// out-of-band.
func (s *Server) handleRecoveryRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, messageResponse{Message: "method not allowed"})
		return
	}
	var req requestTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid request body"})
		return
	}

	if _, err := s.recoverer.IssueToken(r.Context(), req.Email); err != nil {
		switch apperrors.GetCode(err) {
		case apperrors.CodeInvalidArgument:
			writeError(w, err)
			return
		case apperrors.CodeNotFound:
			// Fall through to the uniform accepted response.
		default:
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, messageResponse{Message: "recovery requested"})
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	switch status {
	case http.StatusUnprocessableEntity:
		writeJSON(w, status, validationResponse{
			Message: err.Error(),
			Errors:  map[string][]string{"email": {err.Error()}},
		})
	case http.StatusInternalServerError:
		log.Printf("recovery handler: %v", err)
		writeJSON(w, status, messageResponse{Message: "internal error"})
	default:
		writeJSON(w, status, messageResponse{Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
