package rets

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// MinObjectBytes is the smallest payload accepted as a real image.
const MinObjectBytes = 100

// Object is a binary media payload returned by GetObject.
type Object struct {
	Data        []byte
	ContentType string
}

// GetObject fetches photo number index of a listing. It returns nil and no
// error when the server has no such photo: a non-success status, a textual
// content type (RETS error bodies), or a payload under MinObjectBytes.
// Transport failures and a 401 that survives one refresh are errors.
func (c *Client) GetObject(ctx context.Context, listingID string, index int) (*Object, error) {
	var obj *Object
	err := c.withSession(ctx, "getobject", func(s *Session) error {
		u := s.URL(CapGetObject)
		if u == "" {
			return &ProtocolError{Op: "getobject", ReplyText: "no GetObject capability URL in login response"}
		}
		params := url.Values{
			"Type":     {"Photo"},
			"Resource": {"Property"},
			"ID":       {listingID + ":" + strconv.Itoa(index)},
		}
		resp, body, err := c.tr.get(ctx, "getobject", u, params, s.Cookie, maxObjectBody)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return errUnauthorized
		}
		obj = objectFrom(resp, body)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.RecordPhoto(obj != nil)
	if obj == nil {
		c.log.Debug("[rets] No photo %s:%d", listingID, index)
	}
	return obj, nil
}

func objectFrom(resp *http.Response, body []byte) *Object {
	if !isSuccess(resp.StatusCode) {
		return nil
	}
	ct := resp.Header.Get("Content-Type")
	if isTextual(ct) {
		return nil
	}
	if len(body) < MinObjectBytes {
		return nil
	}
	if ct == "" {
		ct = "image/jpeg"
	}
	return &Object{Data: body, ContentType: ct}
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "html") ||
		strings.Contains(ct, "json")
}
