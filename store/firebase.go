package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// FirebaseBackend speaks to the remote realtime database through the vendor
// SDK. The SDK handles optimistic retries inside Transaction itself.
type FirebaseBackend struct {
	client *db.Client
}

// OpenFirebase initializes the SDK from a service-account credentials file.
func OpenFirebase(ctx context.Context, projectID, databaseURL, credentialsFile string) (*FirebaseBackend, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   projectID,
		DatabaseURL: databaseURL,
	}, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &FirebaseBackend{client: client}, nil
}

func (b *FirebaseBackend) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var v any
	if err := b.client.NewRef(path).Get(ctx, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (b *FirebaseBackend) Set(ctx context.Context, path string, value any) error {
	return b.client.NewRef(path).Set(ctx, value)
}

func (b *FirebaseBackend) Update(ctx context.Context, path string, fields map[string]any) error {
	return b.client.NewRef(path).Update(ctx, fields)
}

func (b *FirebaseBackend) Push(ctx context.Context, path string, value any) (string, error) {
	ref, err := b.client.NewRef(path).Push(ctx, value)
	if err != nil {
		return "", err
	}
	return ref.Key, nil
}

func (b *FirebaseBackend) Delete(ctx context.Context, path string) error {
	return b.client.NewRef(path).Delete(ctx)
}

func (b *FirebaseBackend) Transact(ctx context.Context, path string, fn TxnFunc) (bool, error) {
	err := b.client.NewRef(path).Transaction(ctx, func(node db.TransactionNode) (any, error) {
		var cur any
		if err := node.Unmarshal(&cur); err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if cur != nil {
			r, err := json.Marshal(cur)
			if err != nil {
				return nil, err
			}
			raw = r
		}
		return fn(raw)
	})
	if errors.Is(err, ErrTxAbort) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
