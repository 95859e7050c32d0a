package storefile

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// UnknownSequenceID marks a file whose info record could not be read.
const UnknownSequenceID int64 = -1

func writeInfo(path string, seq int64) error {
	buf := binary.BigEndian.AppendUint64(nil, uint64(seq))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return errors.Wrapf(err, "write info %s", path)
	}
	return nil
}

// readInfo never fails: a missing or damaged record is reported as
// UnknownSequenceID, which asks for no extra replay.
func readInfo(path string) int64 {
	buf, err := os.ReadFile(path)
	if err != nil || len(buf) != 8 {
		log.Warn().Err(err).Str("path", path).Msg("unreadable info record, treating sequence id as unknown")
		return UnknownSequenceID
	}
	return int64(binary.BigEndian.Uint64(buf))
}
