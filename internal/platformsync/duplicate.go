package platformsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	registeredPhrases = []string{"already registered", "sudah terdaftar"}
	existsPhrases     = []string{"already exists", "already exist", "sudah ada"}
)

// IsAlreadyRegistered reports whether err is the platform refusing a contact
// it already knows.
func IsAlreadyRegistered(err error) bool {
	return apiMessageContains(err, registeredPhrases)
}

// IsAlreadyExists reports whether err is the platform refusing a transaction
// it already recorded.
func IsAlreadyExists(err error) bool {
	return apiMessageContains(err, existsPhrases)
}

func apiMessageContains(err error, phrases []string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	text := strings.ToLower(apiErr.Message)
	if text == "" {
		text = strings.ToLower(string(apiErr.Body))
	}
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

var idKeys = []string{"id", "id_donatur", "donor_id", "id_transaksi", "transaction_id"}

var digitsRe = regexp.MustCompile(`\d+`)

// ExtractID finds the platform-assigned id in a response body: data.<key>,
// then top-level <key>, then the first number in the message.
func ExtractID(body []byte, message string) string {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err == nil {
		if data, ok := doc["data"].(map[string]any); ok {
			if id := firstID(data); id != "" {
				return id
			}
		}
		if id := firstID(doc); id != "" {
			return id
		}
	}
	return digitsRe.FindString(message)
}

func firstID(m map[string]any) string {
	for _, k := range idKeys {
		switch v := m[k].(type) {
		case json.Number:
			return v.String()
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}
