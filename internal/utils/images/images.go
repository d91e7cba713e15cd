package images

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/disintegration/imaging"
)

const maxDimension = 1280

var ErrInvalidPayload = errors.New("invalid base64 image payload")

// DecodeBase64 accepts either a bare base64 string or a data URL
// ("data:image/png;base64,....") and returns the decoded bytes.
func DecodeBase64(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrInvalidPayload
	}
	if idx := strings.Index(payload, ";base64,"); idx != -1 {
		payload = payload[idx+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return raw, nil
}

// Normalize re-encodes an uploaded image as JPEG, capping its dimensions so
// oversized uploads do not land in the bucket as-is.
func Normalize(raw []byte) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", ErrInvalidPayload
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxDimension || bounds.Dy() > maxDimension {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}
