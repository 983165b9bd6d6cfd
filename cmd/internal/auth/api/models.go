package authapi

import (
	"time"

	"fms/cmd/internal/auth"
	"fms/cmd/internal/auth/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	PrincipalID      string    `json:"principal_id"`
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

type sessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

func toTokenResponse(res auth.Result) tokenResponse {
	return tokenResponse{
		PrincipalID:      res.PrincipalID,
		TokenType:        "Bearer",
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}
}

func toSessionsResponse(rows []session.Row) sessionsResponse {
	out := sessionsResponse{Sessions: make([]sessionResponse, 0, len(rows))}
	for _, r := range rows {
		s := sessionResponse{
			SessionID: r.ID,
			CreatedAt: r.CreatedAt,
			ExpiresAt: r.ExpiresAt,
			UserAgent: r.Meta.UserAgent,
		}
		if r.Meta.IP.IsValid() {
			s.IP = r.Meta.IP.String()
		}
		out.Sessions = append(out.Sessions, s)
	}
	return out
}
