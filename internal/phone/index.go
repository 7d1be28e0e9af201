// SPDX-License-Identifier: AGPL-3.0-only
package phone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrFileTooLarge = errors.New("phone file exceeds the size limit")
	ErrInvalidFile  = errors.New("invalid phone file")
)

// Index answers point lookups from user id to phone number.
type Index interface {
	Lookup(ctx context.Context, userID string) (phone string, ok bool, err error)
	Backend() string
}

var (
	idKeys    = []string{"id", "uid", "user_id", "userId"}
	phoneKeys = []string{"phone", "phone_number", "mobile"}
)

// decodeEntries streams user id / phone pairs out of r. Two shapes are
// accepted: an object mapping ids to phones, or an array of objects that
// carry one of the id keys and one of the phone keys. Array entries missing
// either are skipped.
func decodeEntries(r io.Reader, fn func(userID, phone string) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	switch tok {
	case json.Delim('{'):
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidFile, err)
			}
			key, _ := keyTok.(string)

			var v any
			if err := dec.Decode(&v); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidFile, err)
			}
			if err := emit(fn, key, scalarString(v)); err != nil {
				return err
			}
		}
	case json.Delim('['):
		for dec.More() {
			var entry map[string]any
			if err := dec.Decode(&entry); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidFile, err)
			}
			if err := emit(fn, firstField(entry, idKeys), firstField(entry, phoneKeys)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: expected an object or an array", ErrInvalidFile)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return nil
}

func emit(fn func(string, string) error, userID, phone string) error {
	userID = strings.TrimSpace(userID)
	phone = strings.TrimSpace(phone)
	if userID == "" || phone == "" {
		return nil
	}
	return fn(userID, phone)
}

func firstField(entry map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := entry[k]; ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
