package drive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFolderRef(t *testing.T) {
	const id = "1AbCdEfGhIjKlMnOpQrStUvWxYz_-12"

	valid := []string{
		id,
		"  " + id + "  ",
		"https://drive.google.com/drive/folders/" + id,
		"https://drive.google.com/drive/folders/" + id + "?usp=sharing",
		"https://drive.google.com/drive/u/1/folders/" + id,
		"https://drive.google.com/open?id=" + id,
	}
	for _, ref := range valid {
		t.Run(ref, func(t *testing.T) {
			got, err := ParseFolderRef(ref)
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}

	invalid := []string{
		"",
		"short",
		"https://drive.google.com/drive/my-drive",
		"not a url at all",
		"https://example.com/open?id=bad id",
	}
	for _, ref := range invalid {
		t.Run("invalid "+ref, func(t *testing.T) {
			_, err := ParseFolderRef(ref)
			assert.ErrorIs(t, err, ErrInvalidFolderRef)
		})
	}
}
