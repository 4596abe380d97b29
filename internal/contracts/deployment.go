package contracts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Deployment records where the factory contract lives on chain.
type Deployment struct {
	Address    string    `json:"address"`
	ChainID    int64     `json:"chainId,omitempty"`
	Deployer   string    `json:"deployer,omitempty"`
	TxHash     string    `json:"txHash,omitempty"`
	DeployedAt time.Time `json:"deployedAt,omitempty"`
}

// ReadDeployment loads a deployed-instance record.
func ReadDeployment(path string) (*Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Deployment
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode deployment %s: %w", path, err)
	}
	if !common.IsHexAddress(d.Address) {
		return nil, fmt.Errorf("deployment %s: invalid address %q", path, d.Address)
	}
	return &d, nil
}

// WriteDeployment replaces the record file at path, creating its directory if
// needed. Other files next to it are left alone.
func WriteDeployment(path string, d Deployment) error {
	blob, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(append(blob, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
