package repository

import (
	"fmt"
	"strings"
)

// DynamoDBAPI is the DynamoDB surface DynamoStore needs. *dynamodb.Client
// satisfies it.
type DynamoDBAPI = dynamodbAPI

// StoreConfig selects and configures a Store implementation.
type StoreConfig struct {
	Backend   string
	Path      string
	DynamoDB  DynamoDBAPI
	TableName string
}

// NewStore creates the store named by cfg.Backend: "memory", "file" or
// "dynamodb".
func NewStore(cfg StoreConfig, opts ...Option) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "memory":
		return NewMemoryStore(opts...), nil
	case "file", "":
		s, err := NewFileStore(cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "dynamodb":
		s, err := NewDynamoStore(cfg.DynamoDB, cfg.TableName, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("repository: unknown backend %q", cfg.Backend)
	}
}
