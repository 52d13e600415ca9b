// Package artifact reads compiled contract artifacts (hardhat layout) so that
// resources can be deployed without generated bindings.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrNotFound = errors.New("artifact not found")

type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

type hardhatArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// Parse decodes a single artifact document.
func Parse(name string, buf []byte) (*Artifact, error) {
	var raw hardhatArtifact
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact %s: %w", name, err)
	}
	if raw.ContractName != "" {
		name = raw.ContractName
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw.ABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse abi of %s: %w", name, err)
	}
	code, err := hexutil.Decode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bytecode of %s: %w", name, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("artifact %s has no bytecode", name)
	}
	return &Artifact{Name: name, ABI: parsed, Bytecode: code}, nil
}

// Store finds artifacts by contract name below a root directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Load(name string) (*Artifact, error) {
	var found string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name+".json" {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search artifacts at %s: %w", s.root, err)
	}
	if found == "" {
		return nil, fmt.Errorf("%w: %s under %s", ErrNotFound, name, s.root)
	}
	buf, err := os.ReadFile(found)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact at %s: %w", found, err)
	}
	return Parse(name, buf)
}
