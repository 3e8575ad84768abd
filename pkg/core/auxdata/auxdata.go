//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package auxdata loads operator data for extension rules from a directory of
// files.  When mounted from a Kubernetes ConfigMap, each key in the ConfigMap
// becomes a file in the directory, so a quarantine list or an approved-vendor
// list can change without touching the rego.
//
// The loaded data is merged into the extension input under the "auxdata" key,
// making it accessible to rego as input.auxdata.<filename>.
package auxdata

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Key is the extension input field auxdata is merged under.
const Key = "auxdata"

// LoadAuxData reads all files in the given directory and returns a map
// where each key is the filename (without path) and each value is the
// file's content as a string. Hidden files (starting with ".") are skipped.
//
// Returns nil if path is empty (auxdata not configured).
// Returns an error if the directory cannot be read or any file fails to read.
func LoadAuxData(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read auxdata directory %s", path)
	}

	result := make(map[string]interface{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		// ConfigMap mounts carry ..data symlinks and similar metadata
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(path, name)) // #nosec G304 -- intentionally reads from configured path
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read auxdata file %s", name)
		}

		result[name] = string(data)
	}

	return result, nil
}

// MergeAuxData merges auxdata into the given input map under [Key].
// If auxdata is nil or empty, the input is returned unchanged.
// For inputs other than map[string]interface{}, the input is returned unchanged.
func MergeAuxData(input interface{}, auxdata map[string]interface{}) interface{} {
	if len(auxdata) == 0 {
		return input
	}

	if m, ok := input.(map[string]interface{}); ok {
		m[Key] = auxdata
		return m
	}

	return input
}
