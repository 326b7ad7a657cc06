package store

import (
	"context"
	"time"
)

type APIKey struct {
	ID        int64     `json:"id"`
	Value     string    `json:"value"`
	CreatedOn time.Time `json:"created_on"`
}

type APIKeyStore interface {
	CreateAPIKey(context.Context, string) (*APIKey, error)
	ReadAPIKeyByID(context.Context, int64) (*APIKey, error)
	ReadAPIKeyByValue(context.Context, string) (*APIKey, error)
	DeleteAPIKey(context.Context, int64) error
}
