package utils

import (
	"context"

	"propscraper/internal/log"
)

// Fail aborts the process on unrecoverable bootstrap errors.
func Fail(ctx context.Context, err error, msg string) {
	if err != nil {
		log.FromContext(ctx).Fatalf("%s: %v", msg, err)
	}
}
