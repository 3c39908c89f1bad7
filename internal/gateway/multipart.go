package gateway

import (
	"bytes"
	"mime/multipart"
)

// newMultipartBody writes the media upload form into buf and returns the
// writer and boundary. Returns a nil writer on failure.
func newMultipartBody(buf *bytes.Buffer, media OutboundMedia) (*multipart.Writer, string) {
	writer := multipart.NewWriter(buf)

	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return nil, ""
	}
	if err := writer.WriteField("type", media.Mime); err != nil {
		return nil, ""
	}

	part, err := writer.CreateFormFile("file", media.Filename)
	if err != nil {
		return nil, ""
	}
	if _, err := part.Write(media.Data); err != nil {
		return nil, ""
	}
	if err := writer.Close(); err != nil {
		return nil, ""
	}

	return writer, writer.Boundary()
}
