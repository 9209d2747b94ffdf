package transfer

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// MaxBlocks is the largest number of blocks one commit may name.
const MaxBlocks = 50000

const blockPrefix = "block-"

// BlockID returns the opaque identifier of the block at index:
// base64("block-" + five-digit zero-padded index).
func BlockID(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s%05d", blockPrefix, index)))
}

// BlockIndex decodes an identifier produced by BlockID.
func BlockIndex(id string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return 0, fmt.Errorf("decode block id %q: %w", id, err)
	}
	s := string(raw)
	if !strings.HasPrefix(s, blockPrefix) {
		return 0, fmt.Errorf("block id %q: missing %q prefix", id, blockPrefix)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, blockPrefix))
	if err != nil {
		return 0, fmt.Errorf("block id %q: %w", id, err)
	}
	return n, nil
}

// sequence hands out ordered block ids for a single upload.
type sequence struct {
	next int
	ids  []string
}

func (s *sequence) Next() (string, error) {
	if s.next >= MaxBlocks {
		return "", fmt.Errorf("asset exceeds %d blocks", MaxBlocks)
	}
	id := BlockID(s.next)
	s.next++
	s.ids = append(s.ids, id)
	return id, nil
}

func (s *sequence) IDs() []string { return s.ids }
