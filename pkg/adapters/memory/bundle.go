package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrelauto/kestrel/pkg/job"
	"github.com/kestrelauto/kestrel/pkg/notify"
)

// runBundle loads a resource bundle directory: every *.json, *.yaml and
// *.yml file underneath it, in sorted path order, merged into the node
// table as an override document. The bundle hash is the hex sha256 over
// the file contents in load order.
func (e *Engine) runBundle(item workItem) {
	e.setStatus(item.id, job.StatusRunning)

	payload := notify.ResourceLoadingDetail{ResID: item.id, Path: item.path}
	e.emit(notify.PrefixResourceLoading+notify.SuffixStarting, payload)

	hash, err := e.loadBundle(item.path)
	if err != nil {
		e.log.Warn("bundle load failed", "path", item.path, "err", err)
		e.emit(notify.PrefixResourceLoading+notify.SuffixFailed, payload)
		e.setStatus(item.id, job.StatusFailed)
		return
	}

	e.mu.Lock()
	e.hash = hash
	e.mu.Unlock()

	payload.Hash = hash
	e.emit(notify.PrefixResourceLoading+notify.SuffixSucceeded, payload)
	e.setStatus(item.id, job.StatusSucceeded)
}

func (e *Engine) loadBundle(root string) (string, error) {
	files, err := bundleFiles(root)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("bundle %s: no pipeline files", root)
	}

	sum := sha256.New()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		sum.Write(data)

		doc, err := toOverride(path, data)
		if err != nil {
			return "", err
		}
		if err := e.table.Override(doc); err != nil {
			return "", fmt.Errorf("%s: %w", path, err)
		}
		e.log.Debug("bundle file loaded", "path", path)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func bundleFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// toOverride normalizes one bundle file to a JSON override document. YAML
// files re-encode through JSON so the table sees a single wire format.
func toOverride(path string, data []byte) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return data, nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
