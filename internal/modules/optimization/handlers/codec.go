package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/x-msgpack"

	maxBodyBytes = 4 << 20
)

// isMsgpack reports whether a Content-Type or Accept value selects msgpack
func isMsgpack(header string) bool {
	for _, part := range strings.Split(header, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if mediaType == contentTypeMsgpack || mediaType == "application/msgpack" {
			return true
		}
	}
	return false
}

// decodeBody decodes the request body into v. msgpack when the request says
// so, JSON otherwise.
func decodeBody(r *http.Request, v interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)

	if isMsgpack(r.Header.Get("Content-Type")) {
		if err := msgpack.NewDecoder(body).Decode(v); err != nil {
			return fmt.Errorf("invalid msgpack body: %w", err)
		}
		return nil
	}

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// decodeBatch splits a batch body into its undecoded elements
func decodeBatch(r *http.Request, msgpackBody bool) ([][]byte, error) {
	body := io.LimitReader(r.Body, maxBodyBytes)

	if msgpackBody {
		var items []msgpack.RawMessage
		if err := msgpack.NewDecoder(body).Decode(&items); err != nil {
			return nil, fmt.Errorf("invalid msgpack body: %w", err)
		}
		out := make([][]byte, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out, nil
	}

	var items []json.RawMessage
	if err := json.NewDecoder(body).Decode(&items); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out, nil
}

// unmarshalItem decodes one element of a batch in the body's encoding
func unmarshalItem(msgpackBody bool, data []byte, v interface{}) error {
	if msgpackBody {
		return msgpack.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// writeResponse encodes data in the encoding the client accepts
func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if isMsgpack(r.Header.Get("Accept")) {
		h.writeMsgpack(w, status, data)
		return
	}
	h.writeJSON(w, status, data)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeMsgpack(w http.ResponseWriter, status int, data interface{}) {
	body, err := msgpack.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode msgpack response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.log.Error().Err(err).Msg("Failed to write msgpack response")
	}
}
