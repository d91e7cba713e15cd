package images

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

func TestDecodeBase64(t *testing.T) {
	raw := encodePNG(t, 2, 2)
	encoded := base64.StdEncoding.EncodeToString(raw)

	decoded, err := DecodeBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	decoded, err = DecodeBase64("data:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = DecodeBase64("")
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeBase64("not valid base64!")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNormalize(t *testing.T) {
	data, contentType, err := Normalize(encodePNG(t, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)

	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, _, err = Normalize([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNormalizeCapsDimensions(t *testing.T) {
	data, _, err := Normalize(encodePNG(t, 2000, 1000))
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), maxDimension)
	assert.LessOrEqual(t, img.Bounds().Dy(), maxDimension)
}
