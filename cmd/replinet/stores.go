package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/mattn/go-sqlite3"

	"github.com/replinet/replinet/internal/config"
	"github.com/replinet/replinet/internal/errors"
	"github.com/replinet/replinet/pkg/snapshot"
)

// openStore opens the checkpoint store selected by cfg. It returns nil
// when checkpoints are disabled.
func openStore(ctx context.Context, cfg config.SnapshotConfig) (snapshot.Store, error) {
	switch cfg.Store {
	case config.StoreNone:
		return nil, nil
	case config.StoreMemory:
		return snapshot.NewMemoryStore(), nil
	case config.StoreSQLite:
		return openSQLiteStore(ctx, cfg)
	case config.StoreS3:
		return snapshot.NewS3Store(newS3Client(cfg), cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		return nil, errors.New("E107").WithDetail(fmt.Sprintf("Unknown store %q.", cfg.Store))
	}
}

func openSQLiteStore(ctx context.Context, cfg config.SnapshotConfig) (*snapshot.SQLStore, error) {
	db, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err != nil {
		return nil, errors.New("E202").WithDetail(cfg.SQLitePath).Wrap(err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := snapshot.NewSQLStore(db, snapshot.WithSQLTableName(cfg.Table))
	if err := store.CreateTable(ctx); err != nil {
		_ = db.Close()
		return nil, errors.New("E202").WithDetail(cfg.SQLitePath).Wrap(err)
	}
	return store, nil
}

// newS3Client builds an S3 client from the config and the standard AWS
// environment variables.
func newS3Client(cfg config.SnapshotConfig) *s3.Client {
	region := cfg.S3Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	opts := s3.Options{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "environment",
			}, nil
		}),
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}
