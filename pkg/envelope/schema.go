package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// wireSchema constrains the envelope wire shape before any signature
// work: exact version, all fields present with the right JSON types, and
// a closed content-type set.
const wireSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": [
    "version", "messageId", "senderPublicKey", "communityId", "chatId",
    "topic", "timestampMs", "nonce", "contentType", "payload", "signature"
  ],
  "properties": {
    "version": {"const": 1},
    "messageId": {"type": "string"},
    "senderPublicKey": {"type": "string"},
    "communityId": {"type": "string"},
    "chatId": {"type": "string"},
    "topic": {"type": "string"},
    "timestampMs": {"type": "number"},
    "nonce": {"type": "string"},
    "contentType": {"enum": ["text/plain", "audio/ogg", "application/json"]},
    "payload": {"type": "string"},
    "signature": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("envelope.json", wireSchema)

// Decode parses and shape-validates an envelope from its JSON wire form.
// A syntactically or structurally invalid payload returns an error; the
// subscriber treats that as a non-fatal warning, since malformed traffic
// on a shared pub/sub substrate is routine.
func Decode(data []byte) (Envelope, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return Envelope{}, fmt.Errorf("envelope: malformed payload JSON: %w", err)
	}

	if err := compiledSchema.Validate(generic); err != nil {
		return Envelope{}, fmt.Errorf("envelope: payload shape invalid: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode failed: %w", err)
	}
	return env, nil
}
