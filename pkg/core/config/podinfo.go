//
//  Copyright © Manetu Inc. All rights reserved.
//

package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	labels     map[string]string
	labelsOnce sync.Once
)

func resetPodinfo() {
	labels = nil
	labelsOnce = sync.Once{}
}

// parseDownwardAPIFile reads a Kubernetes Downward API file of key="value"
// lines.  A missing file yields nil.
func parseDownwardAPIFile(path string) (map[string]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is constructed from trusted config + fixed filenames
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	result := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		result[key] = strings.Trim(value, "\"")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// podLabels returns the pod labels published through the Downward API, read
// once per configuration load.
func podLabels() map[string]string {
	labelsOnce.Do(func() {
		p := filepath.Join(VConfig.GetString(AuditPodinfo), "labels")
		l, err := parseDownwardAPIFile(p)
		if err != nil {
			logger.SysWarnf("failed to read pod labels from %s: %v", p, err)
			return
		}
		labels = l
	})
	return labels
}
