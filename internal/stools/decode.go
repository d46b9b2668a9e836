package stools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxBytesError represents an error when the payload exceeds the maximum allowed size
type MaxBytesError struct {
	Message string
}

func (e *MaxBytesError) Error() string {
	return e.Message
}

// MalformedJSONError represents an error when the payload contains malformed JSON
type MalformedJSONError struct {
	Message string
}

func (e *MalformedJSONError) Error() string {
	return e.Message
}

// MaxPayloadBytes caps how much submission JSON we are willing to parse.
const MaxPayloadBytes = 1048576 // 1MB

// DecodeJSONPayload decodes a JSON submission payload into the provided
// struct. It enforces the size cap, rejects unknown fields, and maps the
// common decode failures to typed errors so callers can report the exact
// problem back to the submitting agent.
func DecodeJSONPayload(data []byte, dst interface{}) error {
	if len(data) > MaxPayloadBytes {
		return &MaxBytesError{
			Message: fmt.Sprintf("Payload must not be larger than %d bytes", MaxPayloadBytes),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var invalidUnmarshalError *json.InvalidUnmarshalError

		switch {
		case errors.As(err, &syntaxError):
			return &MalformedJSONError{
				Message: fmt.Sprintf("Payload contains malformed JSON (at position %d)", syntaxError.Offset),
			}

		case errors.Is(err, io.ErrUnexpectedEOF):
			return &MalformedJSONError{
				Message: "Payload contains malformed JSON",
			}

		case errors.As(err, &unmarshalTypeError):
			return &MalformedJSONError{
				Message: fmt.Sprintf("Payload contains an invalid value for the %q field (at position %d)", unmarshalTypeError.Field, unmarshalTypeError.Offset),
			}

		case strings.HasPrefix(err.Error(), "json: unknown field "):
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return &MalformedJSONError{
				Message: fmt.Sprintf("Payload contains unknown field %s", fieldName),
			}

		case errors.Is(err, io.EOF):
			return &MalformedJSONError{
				Message: "Payload must not be empty",
			}

		case errors.As(err, &invalidUnmarshalError):
			// This is likely a developer error, like passing a non-pointer to Decode
			return fmt.Errorf("invalid unmarshal error: %w", err)

		default:
			return fmt.Errorf("error decoding JSON: %w", err)
		}
	}

	// Check if there are any additional values in the JSON that were not used
	err = dec.Decode(&struct{}{})
	if err != io.EOF {
		return &MalformedJSONError{
			Message: "Payload must only contain a single JSON object",
		}
	}

	return nil
}
