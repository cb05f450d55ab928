package firestore

import (
	"fmt"
	"time"

	"github.com/flightline-academy/api/internal/platform/pagination"
)

// Catalog and org listings page by the normalised name so results stay
// alphabetical across pages; audit listings page by timestamp.

func encodeNameListToken(nameKey string, docID string) string {
	return pagination.EncodeToken(pagination.Cursor{NameKey: nameKey, DocID: docID})
}

func decodeNameListToken(token string) (string, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return "", "", err
	}
	if cursor.NameKey == "" {
		return "", "", fmt.Errorf("%w: missing name key", pagination.ErrInvalidPageToken)
	}
	return cursor.NameKey, cursor.DocID, nil
}

func encodeTimeListToken(at time.Time, docID string) string {
	ts := at.UTC()
	return pagination.EncodeToken(pagination.Cursor{At: &ts, DocID: docID})
}

func decodeTimeListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if cursor.At == nil {
		return time.Time{}, "", fmt.Errorf("%w: missing timestamp", pagination.ErrInvalidPageToken)
	}
	return cursor.At.UTC(), cursor.DocID, nil
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	cloned := make([]string, len(values))
	copy(cloned, values)
	return cloned
}

func cloneMetadata(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := value.UTC()
	return &cloned
}

func normalisePageSize(size int) (limit int, fetchLimit int) {
	if size < 0 {
		size = 0
	}
	limit = size
	fetchLimit = size
	if size > 0 {
		fetchLimit = size + 1
	}
	return limit, fetchLimit
}
