package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/sudo-init-do/mkopo/internal/apperr"
)

const RoleAdmin = "admin"

var ErrInvalidCredentials = errors.New("invalid credentials")

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Admin holds the single operator account configured through the environment.
type Admin struct {
	Username     string
	PasswordHash string
	Secret       []byte
	TTL          time.Duration
	now          func() time.Time
}

func NewAdmin(username, passwordHash, secret string) *Admin {
	return &Admin{
		Username:     username,
		PasswordHash: passwordHash,
		Secret:       []byte(secret),
		TTL:          12 * time.Hour,
		now:          time.Now,
	}
}

// Enabled reports whether an admin password has been configured.
func (a *Admin) Enabled() bool {
	return a.PasswordHash != "" && len(a.Secret) > 0
}

// HashPassword returns the bcrypt hash to put in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Authenticate checks credentials and issues a signed token.
func (a *Admin) Authenticate(username, password string) (LoginResponse, error) {
	if !a.Enabled() {
		return LoginResponse{}, ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password))
	if !userOK || passErr != nil {
		return LoginResponse{}, ErrInvalidCredentials
	}
	return a.IssueToken(username)
}

func (a *Admin) IssueToken(subject string) (LoginResponse, error) {
	exp := a.now().Add(a.TTL)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": RoleAdmin,
		"exp":  exp.Unix(),
		"iat":  a.now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.Secret)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{Token: signed, ExpiresAt: exp.UTC()}, nil
}

// Login handles POST /admin/login.
func (a *Admin) Login(c echo.Context) error {
	req := new(LoginRequest)
	if err := c.Bind(req); err != nil || req.Username == "" || req.Password == "" {
		return apperr.InvalidInput("username and password are required")
	}
	resp, err := a.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return apperr.Unauthorized("invalid credentials")
		}
		return apperr.Internal(err)
	}
	return c.JSON(200, echo.Map{"success": true, "token": resp.Token, "expires_at": resp.ExpiresAt})
}
