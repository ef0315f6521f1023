package auth

import (
	"fmt"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is key used in context.Context containing the Claims
const Context ContextKey = "authContext"

// Environment is the type for defining the running environment
type Environment string

// define constants
const (
	EnvDevelopment Environment = "Dev"
	EnvProduction  Environment = "Prod"
)

// RoleBilling marks tokens that may use the privileged cancellation endpoint
const RoleBilling = "billing"

// Claims is the struct for the jwt token issued by the identity service
type Claims struct {
	jwt.StandardClaims
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// HasRole reports whether the token carries the given role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Auth validates identity tokens issued by the external auth service
type Auth struct {
	Options
	jwtKey []byte
}

// Options provides initialization parameters for Auth
type Options struct {
	Logger *zap.Logger

	JWTSigningKey string

	Environment Environment
}

func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("nil option is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if len(o.JWTSigningKey) < 16 {
		return fmt.Errorf("jwt signing key must be longer than 16 characters")
	}
	if o.Environment == "" {
		o.Environment = EnvDevelopment
	}
	return nil
}

// New will return a new instance of Auth for token validation
func New(option Options) (*Auth, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}
	return &Auth{
		Options: option,
		jwtKey:  []byte(option.JWTSigningKey),
	}, nil
}
