// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// FlattenParameters turns nested parameter maps into one level with
// dotted keys: {"optimizer": {"lr": 0.1}} becomes {"optimizer.lr": 0.1}.
func FlattenParameters(parameters map[string]any) map[string]any {
	flat := make(map[string]any)
	flattenInto(flat, "", parameters)
	return flat
}

func flattenInto(flat map[string]any, prefix string, parameters map[string]any) {
	for key, value := range parameters {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenInto(flat, name, nested)
			continue
		}
		flat[name] = value
	}
}

// SubstituteParameters replaces every {{name}} placeholder in command
// with the JSON encoding of the flattened parameter. A string command
// is substituted as a whole; a list command element by element. Keys
// are applied in sorted order so the result does not depend on map
// iteration.
func SubstituteParameters(command schema.Script, parameters map[string]any) (schema.Script, error) {
	if len(parameters) == 0 {
		return command, nil
	}
	flat := FlattenParameters(parameters)
	replacements := make([]string, 0, 2*len(flat))
	for _, key := range slices.Sorted(maps.Keys(flat)) {
		encoded, err := json.Marshal(flat[key])
		if err != nil {
			return schema.Script{}, fmt.Errorf("encoding parameter %q: %w", key, err)
		}
		replacements = append(replacements, "{{"+key+"}}", string(encoded))
	}
	replacer := strings.NewReplacer(replacements...)

	if command.IsList() {
		lines := make([]string, len(command.Lines))
		for i, line := range command.Lines {
			lines[i] = replacer.Replace(line)
		}
		return schema.Script{Lines: lines}, nil
	}
	return schema.Script{Line: replacer.Replace(command.Line)}, nil
}
