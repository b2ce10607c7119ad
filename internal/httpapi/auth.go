package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"tablestore/internal/auth"
	"tablestore/internal/model"
	"tablestore/internal/session"
)

type contextKey string

const ctxIdentity contextKey = "identity"

func identityFromContext(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(ctxIdentity).(*auth.Identity)
	return id
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	GoogleID string `json:"googleId"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

type profileRequest struct {
	Name     *string `json:"name"`
	Username *string `json:"username"`
	Bio      *string `json:"bio"`
	Avatar   *string `json:"avatar"`
}

type authResponse struct {
	Success bool          `json:"success"`
	User    model.Account `json:"user"`
	Token   string        `json:"token"`
}

// requireAuth resolves the caller from the session cookie or a bearer token
// and stores the identity in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r.Context(), s.sessionID(r), bearerToken(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxIdentity, id)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) sessionID(r *http.Request) string {
	c, err := r.Cookie(s.cfg.Session.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// clientIP is the peer address. Forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Session.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Session.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) writeGrant(w http.ResponseWriter, g *auth.Grant) {
	s.setSessionCookie(w, g.Session)
	writeJSON(w, http.StatusOK, authResponse{Success: true, User: g.Account, Token: g.Token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	g, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Email:           req.Email,
		Password:        req.Password,
		Name:            req.Name,
		Username:        req.Username,
		PreviousSession: s.sessionID(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeGrant(w, g)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	g, err := s.auth.Login(r.Context(), auth.LoginInput{
		Email:           req.Email,
		Password:        req.Password,
		ClientIP:        clientIP(r),
		PreviousSession: s.sessionID(r),
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.log.Info(r.Context(), "login failed", "request_id", r.Header.Get(requestIDHeader))
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.writeGrant(w, g)
}

// handleGoogleLogin trusts the identity fields posted by the client; token
// verification against the provider happens upstream.
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	g, err := s.auth.LoginFederated(r.Context(), auth.FederatedInput{
		ProviderID:      req.GoogleID,
		Email:           req.Email,
		Name:            req.Name,
		Avatar:          req.Avatar,
		PreviousSession: s.sessionID(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeGrant(w, g)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": id.Account})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	user, err := s.auth.UpdateProfile(r.Context(), identityFromContext(r.Context()), auth.ProfilePatch{
		Name:     req.Name,
		Username: req.Username,
		Avatar:   req.Avatar,
		Bio:      req.Bio,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), s.sessionID(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
