// Package checksums loads the optional checksums.asc manifest placed next
// to the zowed binary, used to populate the ready message's data.checksums
// field.
package checksums

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Load reads "<execDir>/checksums.asc" and returns a filename -> checksum
// map. Each line has the form "<hex_checksum> <filename>". A file that
// cannot be opened is not an error: it returns (nil, nil), the expected
// state for dev builds that were never stamped with checksums. A file with
// no well-formed line also returns (nil, nil); an error while reading an
// opened file is returned.
func Load(execDir string, logger *slog.Logger) (map[string]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(execDir, "checksums.asc")

	f, err := os.Open(path)
	if err != nil {
		logger.Debug("checksums file not found, expected for dev builds", "path", path)
		return nil, nil
	}
	defer f.Close()

	result := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		checksum, filename := fields[0], fields[1]
		result[filename] = checksum
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}
