package revision

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewdeck/pkg/models"
)

func TestClientFileIdRoundTripProvisional(t *testing.T) {
	pairs := []models.PathPair{
		models.MakePathPair("old/name.txt", "new/name.txt"),
		models.MakePath("same.txt"),
		models.MakePathPair("with\nnewline", "and spaces here"),
	}

	for _, pair := range pairs {
		id := ProvisionalFileId(pair)
		parsed, err := ParseClientFileId(id.String())
		require.NoError(t, err, "pair %v", pair)
		assert.Equal(t, id, parsed)
		assert.True(t, parsed.IsProvisional())
	}
}

func TestClientFileIdRoundTripPersistent(t *testing.T) {
	id := PersistentFileId(uuid.New())

	parsed, err := ParseClientFileId(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.False(t, parsed.IsProvisional())
}

func TestClientFileIdPersistentAndProvisionalNeverEqual(t *testing.T) {
	persistent := PersistentFileId(uuid.New())
	provisional := ProvisionalFileId(models.MakePath("file1.txt"))

	assert.NotEqual(t, persistent, provisional)
}

func TestParseClientFileIdRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-uuid", "PROV_!!!", "PROV_" /* empty payload, no NUL */} {
		_, err := ParseClientFileId(s)
		assert.ErrorIs(t, err, ErrFormat, "input %q", s)
	}
}

func TestClientFileIdTextMarshalling(t *testing.T) {
	id := ProvisionalFileId(models.MakePathPair("a.txt", "b.txt"))

	text, err := id.MarshalText()
	require.NoError(t, err)

	var decoded ClientFileId
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, id, decoded)
}
