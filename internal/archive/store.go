// Package archive keeps one columnar dataset per float and merges new
// cycles into it copy-on-write.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
)

var ErrObjectNotFound = errors.New("object_not_found")

// ObjectStore is a flat key/value blob store. Put must make the new value
// visible atomically: readers see either the old or the new object.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

const (
	rootPrefix    = "profiles"
	canonicalName = "data.parquet"
	versionDir    = "v"
)

// CanonicalKey is the pointer object readers load for a float.
func CanonicalKey(floatID int64) string {
	return path.Join(rootPrefix, strconv.FormatInt(floatID, 10), canonicalName)
}

// VersionKey names an immutable dataset version.
func VersionKey(floatID int64, version string) string {
	return path.Join(rootPrefix, strconv.FormatInt(floatID, 10), versionDir, fmt.Sprintf("%s.parquet", version))
}

func versionPrefix(floatID int64) string {
	return path.Join(rootPrefix, strconv.FormatInt(floatID, 10), versionDir) + "/"
}
