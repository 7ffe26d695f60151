package tokens

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// EncodeData serializes v as YAML for use as a token's Data payload.
// Decode it again with domain.Token.DecodeData.
func EncodeData(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token data: %w", err)
	}
	return data, nil
}
