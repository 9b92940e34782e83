package ipcfallback

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sigilforge/sigilforge/internal/credential"
)

// fileSchema is the on-disk shape of the fallback TOML file: nested
// tables service.account.type = "value".
type fileSchema map[string]map[string]map[string]string

// FileSource reads static credential values from a TOML file with
// nested tables service.account.type = "value". The file is read once
// at construction; later edits require reconstructing the source.
type FileSource struct {
	data fileSchema
}

// LoadFileSource reads and parses the TOML file at path. A missing
// file is not an error — it yields an empty, always-missing source, so
// the fallback chain degrades gracefully when no file is configured.
func LoadFileSource(path string) (*FileSource, error) {
	if path == "" {
		return &FileSource{data: fileSchema{}}, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &FileSource{data: fileSchema{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading fallback file: %w", err)
	}

	var data fileSchema
	if err := toml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing fallback file: %w", err)
	}
	return &FileSource{data: data}, nil
}

// Lookup reads the static value for (service, account, type).
func (f *FileSource) Lookup(service, account string, credType credential.Type) (string, bool) {
	byAccount, ok := f.data[service]
	if !ok {
		return "", false
	}
	byType, ok := byAccount[account]
	if !ok {
		return "", false
	}
	if value, ok := byType[credType.String()]; ok {
		return value, true
	}
	if credType == credential.AccessToken {
		if value, ok := byType["token"]; ok {
			return value, true
		}
	}
	return "", false
}
