package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/biocypher/biochatter-server/pkg/vectorstore"
)

// ragConfigSchema constrains the caller-supplied retrieval parameters
const ragConfigSchema = `{
	"type": "object",
	"properties": {
		"splitByChar": {"type": "boolean"},
		"chunkSize": {"type": "integer", "minimum": 1},
		"overlapSize": {"type": "integer", "minimum": 0},
		"resultNum": {"type": "integer", "minimum": 1},
		"docIdsWorkspace": {"type": "array", "items": {"type": "string"}},
		"connectionArgs": {
			"type": "object",
			"properties": {
				"host": {"type": "string"},
				"port": {"type": ["string", "integer"]},
				"user": {"type": "string"},
				"password": {"type": "string"}
			}
		}
	}
}`

// parseRagConfig validates and decodes a caller-supplied ragConfig document.
// Missing fields keep their defaults.
func parseRagConfig(raw []byte) (vectorstore.RagConfig, error) {
	cfg := vectorstore.DefaultRagConfig()
	if len(raw) == 0 {
		return cfg, nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(ragConfigSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return cfg, fmt.Errorf("invalid ragConfig: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return cfg, fmt.Errorf("invalid ragConfig: %v", errs)
	}

	// connectionArgs.port may arrive as a number; decode it separately
	var rawPort struct {
		ConnectionArgs struct {
			Port json.RawMessage `json:"port"`
		} `json:"connectionArgs"`
	}
	_ = json.Unmarshal(raw, &rawPort)

	if err := json.Unmarshal(normalizePort(raw, rawPort.ConnectionArgs.Port), &cfg); err != nil {
		return cfg, fmt.Errorf("invalid ragConfig: %w", err)
	}
	return cfg, nil
}

// parseRagConfigField decodes the chat-request ragConfig field, which may be
// either an object or a JSON string wrapping an object.
func parseRagConfigField(raw json.RawMessage) (vectorstore.RagConfig, error) {
	if len(raw) == 0 {
		return vectorstore.DefaultRagConfig(), nil
	}

	// string-wrapped config: unwrap first
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return vectorstore.DefaultRagConfig(), fmt.Errorf("invalid ragConfig: %w", err)
		}
		return parseRagConfig([]byte(inner))
	}
	return parseRagConfig(raw)
}

// normalizePort rewrites a numeric connectionArgs.port to its string form so
// the typed decode succeeds.
func normalizePort(raw, port json.RawMessage) []byte {
	if len(port) == 0 || port[0] == '"' {
		return raw
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(doc["connectionArgs"], &args); err != nil {
		return raw
	}

	quoted, _ := json.Marshal(string(port))
	args["port"] = quoted
	rewritten, err := json.Marshal(args)
	if err != nil {
		return raw
	}
	doc["connectionArgs"] = rewritten

	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}
