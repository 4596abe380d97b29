package contracts

import (
	"bytes"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Artifact names produced by compiling src/Campaign.sol.
const (
	CampaignName = "Campaign"
	FactoryName  = "CampaignFactory"
)

var ErrNoBytecode = errors.New("artifact has no creation bytecode, run `crowdcoin compile`")

//go:embed build/*.json
var buildFS embed.FS

// Descriptor mirrors the compiler artifact: the ABI plus the creation bytecode.
type Descriptor struct {
	Name string          `json:"-"`
	ABI  json.RawMessage `json:"abi"`
	EVM  struct {
		Bytecode struct {
			Object string `json:"object"`
		} `json:"bytecode"`
	} `json:"evm"`
}

// ParseABI decodes the interface section of the artifact.
func (d *Descriptor) ParseABI() (abi.ABI, error) {
	if len(d.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("%s: artifact has no abi", d.Name)
	}
	parsed, err := abi.JSON(bytes.NewReader(d.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("%s: parse abi: %w", d.Name, err)
	}
	return parsed, nil
}

// Bytecode returns the hex-decoded creation code.
func (d *Descriptor) Bytecode() ([]byte, error) {
	object := strings.TrimPrefix(strings.TrimSpace(d.EVM.Bytecode.Object), "0x")
	if object == "" {
		return nil, fmt.Errorf("%s: %w", d.Name, ErrNoBytecode)
	}
	code, err := hex.DecodeString(object)
	if err != nil {
		return nil, fmt.Errorf("%s: decode bytecode: %w", d.Name, err)
	}
	return code, nil
}

// Load returns the artifact embedded at build time.
func Load(name string) (*Descriptor, error) {
	raw, err := buildFS.ReadFile("build/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", name, err)
	}
	return decode(name, raw)
}

// LoadDir reads an artifact from a compile output directory. An empty dir
// falls back to the embedded artifacts.
func LoadDir(dir, name string) (*Descriptor, error) {
	if dir == "" {
		return Load(name)
	}
	raw, err := os.ReadFile(filepath.Join(dir, name+".json"))
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", name, err)
	}
	return decode(name, raw)
}

// MustLoad is Load for package-level initialisation and tests.
func MustLoad(name string) *Descriptor {
	d, err := Load(name)
	if err != nil {
		panic(err)
	}
	return d
}

func decode(name string, raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", name, err)
	}
	d.Name = name
	return &d, nil
}
