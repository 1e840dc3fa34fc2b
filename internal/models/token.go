package models

import "github.com/golang-jwt/jwt/v5"

// ReviewerClaims is the payload of the bearer token sent to the inbox service.
type ReviewerClaims struct {
	Reviewer string `json:"reviewer"`
	jwt.RegisteredClaims
}
