package fetchstate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Decoder turns a response body into a payload.
type Decoder[T any] func(body []byte) (T, error)

// JSON decodes the body into T. An empty body yields the zero value.
func JSON[T any]() Decoder[T] {
	return func(body []byte) (T, error) {
		var v T
		if len(bytes.TrimSpace(body)) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(body, &v); err != nil {
			return v, err
		}
		return v, nil
	}
}

// Text returns the body as a string.
func Text() Decoder[string] {
	return func(body []byte) (string, error) { return string(body), nil }
}

// Bytes returns a copy of the raw body.
func Bytes() Decoder[[]byte] {
	return func(body []byte) ([]byte, error) {
		return append([]byte(nil), body...), nil
	}
}

// HTML parses the body into a goquery document.
func HTML() Decoder[*goquery.Document] {
	return func(body []byte) (*goquery.Document, error) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
		return doc, nil
	}
}

// Any erases the payload type so heterogeneous states can share one container type.
func Any[T any](d Decoder[T]) Decoder[any] {
	return func(body []byte) (any, error) {
		v, err := d(body)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}
