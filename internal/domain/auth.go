package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims: полезная нагрузка токена, выданного внешним IdP.
// Role и Name привязывают действие к личности вместо значений из тела запроса.
type CustomClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Actor собирает участника согласования из claims.
func (c *CustomClaims) Actor() Actor {
	name := c.Name
	if name == "" {
		name = c.UserID
	}
	return Actor{Role: c.Role, Name: name}
}
