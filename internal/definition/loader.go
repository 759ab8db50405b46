// Package definition turns definition files into validated, immutable
// application definitions and serves them from a swappable registry.
package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/eapp/model"
)

var definitionExts = []string{".yaml", ".yml", ".json"}

// Loader reads definition files. JSON goes through the YAML decoder, which
// accepts it unchanged.
type Loader struct {
	parallelism int
}

func NewLoader() *Loader {
	return &Loader{parallelism: runtime.GOMAXPROCS(0)}
}

// LoadAll parses every definition file under directories, recursing into
// subdirectories. Files parse in parallel but the result follows walk order,
// so a later file for the same product still wins in the registry.
func (l *Loader) LoadAll(directories []string) ([]model.ApplicationDefinition, error) {
	var paths []string
	for _, root := range directories {
		found, err := definitionFiles(root)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}

	defs := make([]model.ApplicationDefinition, len(paths))
	var g errgroup.Group
	g.SetLimit(max(l.parallelism, 1))
	for i := range paths {
		g.Go(func() (err error) {
			defs[i], err = l.LoadFile(paths[i])
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return defs, nil
}

func definitionFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.Type().IsRegular() && slices.Contains(definitionExts, strings.ToLower(filepath.Ext(path))):
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("definition: scan %s: %w", root, err)
	}
	return paths, nil
}

// LoadFile parses one definition file and stamps it with the SHA-256 of
// its bytes.
func (l *Loader) LoadFile(path string) (model.ApplicationDefinition, error) {
	var def model.ApplicationDefinition

	raw, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("definition: %w", err)
	}
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return model.ApplicationDefinition{}, fmt.Errorf("definition: parse %s: %w", path, err)
	}

	sum := sha256.Sum256(raw)
	def.Checksum = hex.EncodeToString(sum[:])
	def.SourceFile = path
	return def, nil
}
