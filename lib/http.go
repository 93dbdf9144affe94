package lib

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/uvensys/formcaptcha/internal"
	"github.com/uvensys/formcaptcha/lib/challenge"
	"github.com/uvensys/formcaptcha/lib/localization"
)

type issueResponse struct {
	ID     string `json:"id"`
	Image  string `json:"image"`
	Alt    string `json:"alt"`
	Prompt string `json:"prompt"`
}

type validateResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// IssueHandler serves a fresh challenge as JSON. The image is a standard
// base64 PNG payload without a data URI prefix.
func (s *Server) IssueHandler(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)

	id, image, err := s.IssueChallenge(r.Context())
	if err != nil {
		lg.Error("can't issue challenge", "err", err)
		s.respondWithError(w, r, localizer.T("internal_server_error"))
		return
	}

	lg.Debug("challenge issued", "challenge", internal.FastHash(id))

	s.respondJSON(w, r, http.StatusOK, issueResponse{
		ID:     id,
		Image:  image,
		Alt:    localizer.T("captcha_alt"),
		Prompt: localizer.T("captcha_prompt"),
	})
}

// ValidateHandler checks the id and answer form fields. The challenge is
// used up whatever the outcome.
func (s *Server) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	// The localizer reads the lang form value, which parses the form and
	// drops any error, so parse it here first.
	if err := r.ParseForm(); err != nil {
		lg.Debug("can't parse form", "err", err)
		s.respondWithStatus(w, r, localization.GetLocalizer(r).T("invalid_request"), http.StatusBadRequest)
		return
	}

	localizer := localization.GetLocalizer(r)

	id := r.PostFormValue("id")
	lg = lg.With("challenge", internal.FastHash(id))

	err := s.ValidateChallenge(r.Context(), id, r.PostFormValue("answer"))

	var cerr *challenge.Error
	switch {
	case err == nil:
		lg.Debug("challenge passed")
		s.respondJSON(w, r, http.StatusOK, validateResponse{
			OK:      true,
			Message: localizer.T("captcha_passed"),
		})
	case errors.As(err, &cerr):
		lg.Debug("challenge failed", "err", err, "result", challenge.Result(err))
		s.respondWithStatus(w, r, localizer.T(cerr.PublicReason), cerr.StatusCode)
	default:
		lg.Error("can't validate challenge", "err", err)
		s.respondWithError(w, r, localizer.T("internal_server_error"))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, message string) {
	s.respondWithStatus(w, r, message, http.StatusInternalServerError)
}

func (s *Server) respondWithStatus(w http.ResponseWriter, r *http.Request, msg string, status int) {
	s.respondJSON(w, r, status, errorResponse{Error: msg})
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		internal.GetRequestLogger(r).Error("failed to encode response", "err", err)
	}
}
