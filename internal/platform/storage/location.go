package storage

import (
	"errors"
	"fmt"
	"strings"
)

const gcsScheme = "gs://"

// Location identifies a configuration object either on local disk or in Cloud Storage.
type Location struct {
	Bucket string
	Object string
	Path   string
}

// IsGCS reports whether the location refers to a Cloud Storage object.
func (l Location) IsGCS() bool {
	return l.Bucket != ""
}

// String renders the location in the form it was parsed from.
func (l Location) String() string {
	if l.IsGCS() {
		return gcsScheme + l.Bucket + "/" + l.Object
	}
	return l.Path
}

// ParseLocation accepts "gs://bucket/path/to/object" or a filesystem path.
func ParseLocation(raw string) (Location, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Location{}, errors.New("storage: location is empty")
	}
	if !strings.HasPrefix(trimmed, gcsScheme) {
		return Location{Path: trimmed}, nil
	}
	rest := strings.TrimPrefix(trimmed, gcsScheme)
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok {
		return Location{}, fmt.Errorf("storage: %q is missing an object name", raw)
	}
	bucket = strings.TrimSpace(bucket)
	object = strings.Trim(strings.TrimSpace(object), "/")
	if err := validateBucket(bucket); err != nil {
		return Location{}, err
	}
	if object == "" {
		return Location{}, fmt.Errorf("storage: %q is missing an object name", raw)
	}
	if strings.Contains(object, "..") {
		return Location{}, fmt.Errorf("storage: object %q must not contain '..'", object)
	}
	return Location{Bucket: bucket, Object: object}, nil
}

func validateBucket(bucket string) error {
	if len(bucket) < 3 || len(bucket) > 222 {
		return fmt.Errorf("storage: invalid bucket name %q", bucket)
	}
	for _, r := range bucket {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("storage: invalid bucket name %q", bucket)
		}
	}
	return nil
}
