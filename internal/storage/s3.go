package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ParseOutputLocation splits an s3://bucket/key result address into its
// bucket and key parts.
func ParseOutputLocation(location string) (string, string, error) {
	trimmed, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 location: %q", location)
	}
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 location: %q", location)
	}
	return bucket, key, nil
}

// DownloadToFile fetches an object into a local file at path, creating or
// truncating it. The file is removed again when the download fails.
func DownloadToFile(ctx context.Context, client manager.DownloadAPIClient, bucket, key, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	downloader := manager.NewDownloader(client)
	_, err = downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := f.Close()
	if err != nil {
		Remove(path)
		return err
	}
	if closeErr != nil {
		Remove(path)
		return fmt.Errorf("close %s: %w", path, closeErr)
	}
	return nil
}

// Remove deletes a local result file. A file that is already gone is fine.
func Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("No local result file to remove", "path", path)
		} else {
			slog.Warn("Failed to remove local result file", "path", path, "error", err)
		}
	}
}

// IsNotFound reports whether err is the storage service telling us the
// object does not exist (the result has not been exported yet).
func IsNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
