package revision

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/reviewdeck/pkg/models"
)

const provisionalPrefix = "PROV_"

// ClientFileId is how a client refers to a file: either a durable FileId
// assigned by the server, or a provisional old/new path pair for a file the
// client has only seen in a diff. A persistent and a provisional reference
// are never equal, even when they point at the same file.
//
// The string encoding crosses the client/server boundary and must round-trip
// exactly: persistent ids serialize as the raw uuid, provisional ids as
// "PROV_" + base64(oldPath + NUL + newPath).
type ClientFileId struct {
	PersistentID    uuid.UUID       `json:"persistent_id"`
	ProvisionalPath models.PathPair `json:"provisional_path"`
}

// PersistentFileId wraps a durable file id.
func PersistentFileId(id uuid.UUID) ClientFileId {
	return ClientFileId{PersistentID: id}
}

// ProvisionalFileId wraps an old/new path pair.
func ProvisionalFileId(path models.PathPair) ClientFileId {
	return ClientFileId{ProvisionalPath: path}
}

// IsProvisional reports whether the id carries a path pair instead of a
// durable id.
func (c ClientFileId) IsProvisional() bool {
	return c.PersistentID == uuid.Nil && (c.ProvisionalPath.OldPath != "" || c.ProvisionalPath.NewPath != "")
}

// ParseClientFileId decodes the wire form. Fails with ErrFormat on anything
// that is neither a "PROV_"-tagged payload nor a uuid.
func ParseClientFileId(s string) (ClientFileId, error) {
	if rest, ok := strings.CutPrefix(s, provisionalPrefix); ok {
		raw, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return ClientFileId{}, fmt.Errorf("%w: bad provisional file id %q: %v", ErrFormat, s, err)
		}
		oldPath, newPath, found := strings.Cut(string(raw), "\x00")
		if !found {
			return ClientFileId{}, fmt.Errorf("%w: provisional file id %q has no path separator", ErrFormat, s)
		}
		return ProvisionalFileId(models.MakePathPair(oldPath, newPath)), nil
	}

	id, err := uuid.Parse(s)
	if err != nil {
		return ClientFileId{}, fmt.Errorf("%w: %q is not a file id: %v", ErrFormat, s, err)
	}
	return PersistentFileId(id), nil
}

func (c ClientFileId) String() string {
	if c.IsProvisional() {
		payload := c.ProvisionalPath.OldPath + "\x00" + c.ProvisionalPath.NewPath
		return provisionalPrefix + base64.StdEncoding.EncodeToString([]byte(payload))
	}
	return c.PersistentID.String()
}

// MarshalText implements encoding.TextMarshaler for URL/query usage.
func (c ClientFileId) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClientFileId) UnmarshalText(text []byte) error {
	parsed, err := ParseClientFileId(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
