package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Files inside an image directory.
const (
	IDsFile      = "ids"
	ManifestFile = "manifest.yaml"
	ChecksumFile = "manifest.sum"
	CRIUConfFile = "criu.conf"
	DumpLogFile  = "dump.log"
	RestoreLog   = "restore.log"
	RestoredFile = "restored"

	// InventoryFile is written by CRIU as the last step of a dump.
	InventoryFile = "inventory.img"
)

const manifestVersion = 1

// CRIUSettings are the snapshot tool options recorded at checkpoint time and
// reused on restore.
type CRIUSettings struct {
	LogLevel       int    `yaml:"logLevel"`
	LeaveRunning   bool   `yaml:"leaveRunning"`
	ShellJob       bool   `yaml:"shellJob"`
	TCPEstablished bool   `yaml:"tcpEstablished"`
	FileLocks      bool   `yaml:"fileLocks"`
	ExtUnixSk      bool   `yaml:"extUnixSk"`
	BinaryPath     string `yaml:"binaryPath,omitempty"`
	LibDir         string `yaml:"libDir,omitempty"`
}

// Manifest describes an image. It is written when the image is created,
// before the process is frozen.
type Manifest struct {
	Version     int          `yaml:"version"`
	ID          string       `yaml:"id"`
	Phase       string       `yaml:"phase"`
	PID         int          `yaml:"pid"`
	CreatedAt   time.Time    `yaml:"createdAt"`
	FeatureHash string       `yaml:"featureHash,omitempty"`
	Host        string       `yaml:"host,omitempty"`
	Build       string       `yaml:"build,omitempty"`
	CRIU        CRIUSettings `yaml:"criu"`
}

func writeManifest(dir string, m *Manifest) (string, error) {
	content, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("image: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), content, 0600); err != nil {
		return "", fmt.Errorf("image: write manifest: %w", err)
	}

	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])
	if err := os.WriteFile(filepath.Join(dir, ChecksumFile), []byte(checksum+"\n"), 0600); err != nil {
		return "", fmt.Errorf("image: write checksum: %w", err)
	}
	return checksum, nil
}

func readManifest(dir string) (*Manifest, string, error) {
	content, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("image: read manifest: %w", err)
	}

	expected, err := os.ReadFile(filepath.Join(dir, ChecksumFile))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
	}
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])
	if !bytes.Equal(bytes.TrimSpace(expected), []byte(checksum)) {
		return nil, "", ErrChecksumMismatch
	}

	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, "", fmt.Errorf("image: unmarshal manifest: %w", err)
	}
	return &m, checksum, nil
}

func readIDs(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, IDsFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
