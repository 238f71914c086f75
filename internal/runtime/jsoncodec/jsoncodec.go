package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

var (
	defaultConfig = sonic.ConfigStd

	// payloadConfig leaves <, > and & unescaped so published records carry the
	// device's text byte for byte.
	payloadConfig = sonic.Config{
		CompactMarshaler: true,
		CopyString:       true,
		ValidateString:   true,
	}.Froze()

	// numberConfig keeps JSON numbers as json.Number literals so the coercer sees
	// exactly what the producer wrote.
	numberConfig = sonic.Config{
		EscapeHTML:       true,
		SortMapKeys:      true,
		CompactMarshaler: true,
		CopyString:       true,
		ValidateString:   true,
		UseNumber:        true,
	}.Froze()
)

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

// MarshalPayload encodes v without HTML escaping.
func MarshalPayload(v any) ([]byte, error) {
	return payloadConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalUseNumber decodes data, representing numbers as json.Number.
func UnmarshalUseNumber(data []byte, v any) error {
	return numberConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// ObjectKeys returns the top-level keys of the JSON object in data in the
// order they appear. Repeated keys are reported once, at their first position.
func ObjectKeys(data []byte) ([]string, error) {
	root, err := sonic.Get(data)
	if err != nil {
		return nil, err
	}

	var keys []string
	seen := map[string]struct{}{}
	err = root.ForEach(func(path ast.Sequence, _ *ast.Node) bool {
		if path.Key == nil {
			return true
		}
		if _, ok := seen[*path.Key]; !ok {
			seen[*path.Key] = struct{}{}
			keys = append(keys, *path.Key)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
