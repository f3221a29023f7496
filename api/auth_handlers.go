package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/eishaa-e/flowboard/domain"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	Message string      `json:"message"`
	User    domain.User `json:"user"`
	Token   string      `json:"token,omitempty"`
}

func (s *server) signup(c echo.Context) error {
	var req signupRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return badRequest(c, "missing fields")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return s.fail(c, err)
	}
	u, err := timed(c, func(ctx context.Context) (domain.User, error) {
		return s.store.CreateUser(ctx, domain.User{Name: req.Name, Email: req.Email, PasswordHash: string(hash)})
	})
	if errors.Is(err, domain.ErrConflict) {
		return reject(c, CodeConflict, "user already exists")
	}
	if err != nil {
		return s.fail(c, err)
	}
	s.events.Send(newEvent(domain.UserCreated, "user", u.ID, "", u.ID, nil))
	return c.JSON(http.StatusCreated, userResponse{Message: "User created successfully", User: u})
}

func (s *server) login(c echo.Context) error {
	var req loginRequest
	if err := decode(c, &req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "missing credentials")
	}
	u, err := timed(c, func(ctx context.Context) (domain.User, error) {
		return s.store.UserByEmail(ctx, req.Email)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return s.invalidCredentials(c)
	}
	if err != nil {
		return s.fail(c, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return s.invalidCredentials(c)
	}
	token, err := s.auth.IssueToken(u.ID, u.Email)
	if err != nil {
		return s.fail(c, err)
	}
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, userResponse{Message: "Login successful", User: u, Token: token})
}

func (s *server) invalidCredentials(c echo.Context) error {
	metricsFrom(c).SetErrorStage("auth")
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
}

func (s *server) logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, messageResponse{Message: "Logged out"})
}

func (s *server) me(c echo.Context) error {
	u, err := timed(c, func(ctx context.Context) (domain.User, error) {
		return s.store.UserByID(ctx, currentUser(c))
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, u)
}
