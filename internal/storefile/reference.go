package storefile

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Reference points a daughter region's store at half of a parent file.
type Reference struct {
	ParentRegion string `json:"parent_region"`
	FileID       uint64 `json:"file_id"`
	SplitKey     []byte `json:"split_key"`
	Range        Range  `json:"range"`
}

func writeReference(path string, ref Reference) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return errors.Wrap(err, "encode reference")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write reference %s", path)
	}
	return nil
}

func readReference(path string) (Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Reference{}, errors.Wrapf(err, "read reference %s", path)
	}
	var ref Reference
	if err := json.Unmarshal(data, &ref); err != nil {
		return Reference{}, errors.Wrapf(err, "decode reference %s", path)
	}
	return ref, nil
}
