//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"fmt"
	"io"
	"os"
)

// readInput returns the contents of path, or of stdin when path is '-' or empty.
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(stdin)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- CLI tool intentionally reads user-provided paths
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}
