package webodm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"odmclient/internal/fault"
)

// sniffLen is how much of an image is inspected to pick its content type
const sniffLen = 3072

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadImage streams one image into a partial task and returns the name the
// server acknowledged. size must be the exact number of bytes body yields.
func (c *Client) UploadImage(ctx context.Context, projectID int, taskID, name string, body io.Reader, size int64) (string, error) {
	op := "upload " + name

	br := bufio.NewReaderSize(body, sniffLen)
	head, _ := br.Peek(sniffLen)
	contentType := mimetype.Detect(head).String()

	prefix, suffix, boundary, err := multipartFrame(name, contentType)
	if err != nil {
		return "", fault.New(fault.KindLocalIO, op, err)
	}

	payload := io.MultiReader(bytes.NewReader(prefix), io.LimitReader(br, size), bytes.NewReader(suffix))
	req, err := c.newRequest(ctx, http.MethodPost, taskPath(projectID, taskID)+"upload/", payload, true)
	if err != nil {
		return "", wrapRequestError(op, err)
	}
	req.ContentLength = int64(len(prefix)) + size + int64(len(suffix))
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	resp, err := c.send(op, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var ack struct {
		Success  bool           `json:"success"`
		Uploaded map[string]any `json:"uploaded"`
		Error    string         `json:"error"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &fault.Error{Kind: fault.KindNetwork, Op: op, Err: err}
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return "", &fault.Error{Kind: fault.KindRejected, Op: op, Status: resp.StatusCode, Detail: "unexpected response", Err: err}
	}
	if !ack.Success {
		return "", &fault.Error{Kind: fault.KindRejected, Op: op, Status: resp.StatusCode, Detail: ack.Error}
	}

	if _, ok := ack.Uploaded[name]; !ok && len(ack.Uploaded) == 1 {
		// The server may have normalised the file name.
		for uploaded := range ack.Uploaded {
			return uploaded, nil
		}
	}
	return name, nil
}

// multipartFrame renders the bytes that surround a single "images" part so
// the request can be streamed with a known length.
func multipartFrame(name, contentType string) (prefix, suffix []byte, boundary string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)
	if _, err := mw.CreatePart(h); err != nil {
		return nil, nil, "", fmt.Errorf("failed to build multipart header: %w", err)
	}
	prefix = bytes.Clone(buf.Bytes())

	buf.Reset()
	if err := mw.Close(); err != nil {
		return nil, nil, "", fmt.Errorf("failed to build multipart trailer: %w", err)
	}
	suffix = bytes.Clone(buf.Bytes())

	return prefix, suffix, mw.Boundary(), nil
}
